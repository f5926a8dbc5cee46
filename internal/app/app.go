package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petems/meetrec/internal/audio"
	"github.com/petems/meetrec/internal/config"
	"github.com/petems/meetrec/internal/sidecar"
	"github.com/petems/meetrec/internal/store"
)

var (
	ErrUnknownRecording  = errors.New("no meeting or audio file")
	ErrMeetingInProgress = errors.New("meeting is still being recorded")
	ErrUnknownModel      = errors.New("unknown model")
)

// settingModel overrides sidecar.model_size when set.
const settingModel = "model_size"

// Recorder captures one recording at a time.
type Recorder interface {
	Start(dest, selector string) (<-chan error, error)
	Stop() (string, error)
	IsRecording() bool
	Elapsed() time.Duration
}

// Transcriber drives the external transcription engine.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, modelSize string, language *string) (*sidecar.TranscriptionResult, error)
	StartStreaming(source, modelSize string, language *string, onUpdate sidecar.UpdateFunc) (*sidecar.Relay, error)
	StopStreaming(ctx context.Context) error
}

type Config struct {
	Host        audio.Host
	Recorder    Recorder
	Transcriber Transcriber
	Store       *store.Store
	Config      *config.Config
	Logger      zerolog.Logger
}

// TranscribeOptions override the configured engine settings for one call.
type TranscribeOptions struct {
	Model    string
	Language *string
}

// App owns the capture session and the streaming session for the
// lifetime of the process.
type App struct {
	host  audio.Host
	rec   Recorder
	stt   Transcriber
	store *store.Store
	cfg   *config.Config
	log   zerolog.Logger

	mu        sync.Mutex
	meetingID string
	audioPath string
	relay     *sidecar.Relay
}

func New(cfg Config) *App {
	return &App{
		host:  cfg.Host,
		rec:   cfg.Recorder,
		stt:   cfg.Transcriber,
		store: cfg.Store,
		cfg:   cfg.Config,
		log:   cfg.Logger,
	}
}

func (a *App) ListDevices() []audio.AudioDevice {
	return audio.ListDevices(a.host, a.log)
}

// SetDevice makes id the capture device used when none is given and
// saves the config. An empty id selects the system default input.
func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.meetingID != "" {
		return fmt.Errorf("%w: cannot change device", audio.ErrAlreadyRecording)
	}

	if id != "" {
		found := false
		for _, d := range a.ListDevices() {
			if d.ID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", audio.ErrNoDeviceFound, id)
		}
	}

	a.cfg.Audio.DeviceID = id
	if err := a.cfg.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	a.log.Info().Str("device", id).Msg("Capture device set")
	return nil
}

// StartRecording begins capturing a new meeting. The returned channel
// reports a capture failure that happens after recording has started.
func (a *App) StartRecording(selector, title string) (string, <-chan error, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.meetingID != "" {
		return "", nil, audio.ErrAlreadyRecording
	}

	if selector == "" {
		selector = a.cfg.Audio.DeviceID
	}
	if title == "" {
		title = "Meeting " + time.Now().Format("2006-01-02 15:04")
	}

	dir := a.cfg.RecordingsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("%w: create %s: %v", audio.ErrFile, dir, err)
	}

	id := uuid.NewString()
	path := filepath.Join(dir, id+".wav")

	errs, err := a.rec.Start(path, selector)
	if err != nil {
		return "", nil, err
	}

	if _, err := a.store.CreateMeeting(id, title, path); err != nil {
		if _, stopErr := a.rec.Stop(); stopErr != nil {
			a.log.Warn().Err(stopErr).Msg("Failed to stop recorder after store error")
		}
		// No meeting row refers to the file
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			a.log.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove orphaned recording")
		}
		return "", nil, fmt.Errorf("save meeting: %w", err)
	}

	a.meetingID = id
	a.audioPath = path
	a.log.Info().Str("meeting", id).Str("title", title).Msg("Meeting recording started")
	return id, errs, nil
}

// StopRecording ends the active recording, stopping any live
// transcription first, and marks the meeting recorded.
func (a *App) StopRecording(ctx context.Context) (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.meetingID == "" {
		return "", "", audio.ErrNotRecording
	}

	a.stopLiveLocked(ctx)

	elapsed := a.rec.Elapsed()
	path, err := a.rec.Stop()
	if err != nil {
		return "", "", err
	}

	id := a.meetingID
	a.meetingID = ""
	a.audioPath = ""

	if err := a.store.FinishRecording(id, path, elapsed); err != nil {
		return id, path, fmt.Errorf("save meeting: %w", err)
	}

	a.log.Info().Str("meeting", id).Dur("duration", elapsed).Msg("Meeting recording stopped")
	return id, path, nil
}

// Recording returns the active meeting id, if any.
func (a *App) Recording() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meetingID, a.meetingID != ""
}

// StartLive streams partial transcripts of the active recording to onUpdate.
func (a *App) StartLive(onUpdate sidecar.UpdateFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.meetingID == "" {
		return audio.ErrNotRecording
	}
	if a.relay != nil {
		return sidecar.ErrAlreadyStreaming
	}

	relay, err := a.stt.StartStreaming(a.audioPath, a.Model(), a.cfg.Sidecar.Language, onUpdate)
	if err != nil {
		return err
	}
	a.relay = relay
	return nil
}

// StopLive ends live transcription. It is a no-op when none is running.
func (a *App) StopLive(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLiveLocked(ctx)
}

func (a *App) stopLiveLocked(ctx context.Context) {
	if a.relay == nil {
		return
	}
	if err := a.stt.StopStreaming(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Failed to stop live transcription")
	}
	a.relay = nil
}

// Live reports whether live transcription is running.
func (a *App) Live() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.relay != nil
}

// Transcribe runs a one-shot transcription of ref, which is either a
// meeting id or an audio file path. Results for meetings are stored.
func (a *App) Transcribe(ctx context.Context, ref string, opts TranscribeOptions) (*sidecar.TranscriptionResult, error) {
	var meetingID, path string

	m, err := a.store.GetMeeting(ref)
	switch {
	case err == nil:
		if active, ok := a.Recording(); ok && active == m.ID {
			return nil, fmt.Errorf("%w: %s", ErrMeetingInProgress, m.ID)
		}
		meetingID, path = m.ID, m.AudioPath
	case errors.Is(err, store.ErrNotFound):
		if _, statErr := os.Stat(ref); statErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRecording, ref)
		}
		path = ref
	default:
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = a.Model()
	}
	language := opts.Language
	if language == nil {
		language = a.cfg.Sidecar.Language
	}

	result, err := a.stt.Transcribe(ctx, path, model, language)
	if err != nil {
		return nil, err
	}

	if meetingID != "" {
		if _, err := a.store.SaveTranscription(meetingID, result); err != nil {
			return result, fmt.Errorf("save transcription: %w", err)
		}
	}
	return result, nil
}

// Model returns the effective model size.
func (a *App) Model() string {
	if v, ok, err := a.store.GetSetting(settingModel); err == nil && ok {
		return v
	} else if err != nil {
		a.log.Warn().Err(err).Msg("Failed to read model setting")
	}
	if a.cfg.Sidecar.ModelSize != "" {
		return a.cfg.Sidecar.ModelSize
	}
	return sidecar.DefaultModel
}

// SetModel stores the model size used when none is given explicitly.
func (a *App) SetModel(model string) error {
	if !sidecar.KnownModel(model) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return a.store.SetSetting(settingModel, model)
}

func (a *App) Meetings() ([]store.Meeting, error) {
	return a.store.ListMeetings()
}

func (a *App) LatestTranscription(meetingID string) (*store.Transcription, error) {
	return a.store.LatestTranscription(meetingID)
}

// Shutdown stops live transcription and any active recording.
func (a *App) Shutdown(ctx context.Context) error {
	if _, ok := a.Recording(); !ok {
		a.StopLive(ctx)
		return nil
	}
	if _, _, err := a.StopRecording(ctx); err != nil && !errors.Is(err, audio.ErrNotRecording) {
		return err
	}
	return nil
}
