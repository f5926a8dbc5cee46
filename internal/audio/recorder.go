package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultStopTimeout = 2 * time.Second

// Recorder owns at most one capture session at a time.
type Recorder struct {
	host        Host
	log         zerolog.Logger
	stopTimeout time.Duration

	// recording is read by the capture callback without locking
	recording atomic.Bool

	mu      sync.Mutex
	session *session
}

type session struct {
	path    string
	sink    *Sink
	started time.Time
	stop    chan struct{}
	done    chan struct{}
}

// NewRecorder creates a recorder over host. A zero stopTimeout uses 2s.
func NewRecorder(host Host, log zerolog.Logger, stopTimeout time.Duration) *Recorder {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Recorder{
		host:        host,
		log:         log,
		stopTimeout: stopTimeout,
	}
}

// Start begins recording into dest. It returns once the session is
// active, without waiting for the hardware stream. Failures that happen
// later in the capture worker are sent on the returned channel, which is
// closed when the worker exits.
func (r *Recorder) Start(dest string, selector string) (<-chan error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return nil, ErrAlreadyRecording
	}

	dev, loopback, err := resolveDevice(r.host, selector)
	if err != nil {
		return nil, err
	}

	format, err := dev.DefaultFormat(loopback)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceConfig, err)
	}
	if err := format.validate(); err != nil {
		return nil, err
	}

	sink, err := NewSink(dest, format)
	if err != nil {
		return nil, err
	}

	s := &session{
		path:    dest,
		sink:    sink,
		started: time.Now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	errs := make(chan error, 1)

	r.session = s
	r.recording.Store(true)

	r.log.Info().
		Str("device", dev.Name()).
		Bool("loopback", loopback).
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Stringer("encoding", format.Encoding).
		Str("path", dest).
		Msg("Recording started")

	go r.run(s, dev, loopback, format, errs)

	return errs, nil
}

// run drives the hardware stream until the session's stop channel closes.
func (r *Recorder) run(s *session, dev HostDevice, loopback bool, format Format, errs chan<- error) {
	defer close(s.done)
	defer close(errs)

	report := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	defer func() {
		if err := s.sink.Finalize(); err != nil {
			r.log.Error().Err(err).Str("path", s.path).Msg("Failed to finalize recording")
			report(err)
		}
	}()

	onData := func(buf Buffer) {
		if !r.recording.Load() {
			return
		}
		// Write errors are kept by the sink and surface from Finalize
		_ = s.sink.Write(buf)
	}

	stream, err := r.host.OpenStream(dev, loopback, format, onData)
	if err != nil {
		r.fail(report, fmt.Errorf("failed to open capture stream: %w", err), dev)
		return
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		r.fail(report, fmt.Errorf("failed to start capture stream: %w", err), dev)
		return
	}

	<-s.stop

	if err := stream.Stop(); err != nil {
		r.log.Warn().Err(err).Msg("Failed to stop capture stream")
	}
}

func (r *Recorder) fail(report func(error), err error, dev HostDevice) {
	r.log.Error().Err(err).Str("device", dev.Name()).Msg("Capture stream failed")
	r.recording.Store(false)
	report(err)
}

// Stop ends the active session and returns the recorded file path once
// the sink is finalized or the stop timeout elapses.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil {
		return "", ErrNotRecording
	}
	r.session = nil
	r.recording.Store(false)
	close(s.stop)

	timer := time.NewTimer(r.stopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-timer.C:
		r.log.Warn().Dur("timeout", r.stopTimeout).Msg("Capture worker did not exit in time, finalizing from stop path")
		if err := s.sink.Finalize(); err != nil {
			r.log.Error().Err(err).Str("path", s.path).Msg("Failed to finalize recording")
		}
	}

	format := s.sink.Format()
	r.log.Info().
		Str("path", s.path).
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Int64("frames", s.sink.Frames()).
		Dur("elapsed", time.Since(s.started)).
		Msg("Recording stopped")

	return s.path, nil
}

// IsRecording reports whether samples are currently being captured.
func (r *Recorder) IsRecording() bool {
	return r.recording.Load()
}

// Path returns the destination of the active session, if any.
func (r *Recorder) Path() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return "", false
	}
	return r.session.path, true
}

// Elapsed returns how long the active session has been running.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return 0
	}
	return time.Since(r.session.started)
}
