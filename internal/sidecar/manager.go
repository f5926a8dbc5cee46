package sidecar

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultStopGrace = 2 * time.Second

// Config describes how to launch the transcription engine.
type Config struct {
	// Command is the executable, e.g. the Python interpreter of the venv.
	Command string
	// Args are passed before any request is written, e.g. the script path.
	Args []string
	// Dir is the working directory. If empty, uses the current directory.
	Dir string
	// Env is additional environment variables (key=value). Merged with os.Environ.
	Env []string
	// StopGrace is how long a stopping engine may take to exit on its own
	// before it is killed. Defaults to 2 seconds if zero.
	StopGrace time.Duration
}

// Manager spawns engine processes. It owns at most one streaming session.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	session *streamingSession
}

type streamingSession struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	relay *Relay

	waitOnce sync.Once
	waitErr  error
}

// reap waits for the process exactly once. It must only run after the
// relay has stopped reading or the process has been killed.
func (s *streamingSession) reap() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func NewManager(cfg Config, log zerolog.Logger) *Manager {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	return &Manager{
		cfg: cfg,
		log: log.With().Str("component", "sidecar").Logger(),
	}
}

func (m *Manager) command(ctx context.Context) *exec.Cmd {
	c := exec.CommandContext(ctx, m.cfg.Command, m.cfg.Args...) //nolint:gosec // engine path comes from config
	c.Dir = m.cfg.Dir
	c.Env = mergeEnv(m.cfg.Env)
	c.Stderr = newLogWriter(m.log)
	c.WaitDelay = m.cfg.StopGrace
	return c
}

// spawn starts the engine with piped stdin/stdout.
func (m *Manager) spawn(ctx context.Context) (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
	if m.cfg.Command == "" {
		return nil, nil, nil, fmt.Errorf("%w: no engine command configured", ErrSidecarStart)
	}

	cmd := m.command(ctx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrSidecarStart, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrSidecarStart, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrSidecarStart, err)
	}

	m.log.Debug().Int("pid", cmd.Process.Pid).Str("command", m.cfg.Command).Msg("Sidecar started")
	return cmd, stdin, stdout, nil
}

// Transcribe runs a one-shot transcription: one request, one response,
// then the engine exits on stdin EOF.
func (m *Manager) Transcribe(ctx context.Context, audioPath, modelSize string, language *string) (*TranscriptionResult, error) {
	cmd, stdin, stdout, err := m.spawn(ctx)
	if err != nil {
		return nil, err
	}

	req := Request{
		Command:   CommandTranscribe,
		AudioPath: audioPath,
		ModelSize: modelSize,
		Language:  language,
	}

	start := time.Now()
	writeErr := writeRequest(stdin, req)
	stdin.Close()
	if writeErr != nil {
		m.kill(cmd)
		m.wait(cmd)
		return nil, fmt.Errorf("%w: %v", ErrCommunication, writeErr)
	}

	line, readErr := bufio.NewReader(stdout).ReadBytes('\n')
	line = bytes.TrimSpace(line)
	m.wait(cmd)

	if len(line) == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCommunication, ctx.Err())
		}
		if readErr == nil || errors.Is(readErr, io.EOF) {
			readErr = errors.New("sidecar exited without a response")
		}
		return nil, fmt.Errorf("%w: %v", ErrCommunication, readErr)
	}

	result, err := decodeResult(line)
	if err != nil {
		m.log.Error().Err(err).Str("audio", audioPath).Msg("Transcription failed")
		return nil, err
	}

	m.log.Info().
		Str("audio", audioPath).
		Str("model", modelSize).
		Int("segments", len(result.Segments)).
		Dur("took", time.Since(start)).
		Msg("Transcription completed")
	return result, nil
}

// StartStreaming launches a long-lived engine that transcribes source as
// it grows. Updates are delivered to onUpdate from the returned relay's
// goroutine; the relay's Done channel closes when the engine's output ends.
func (m *Manager) StartStreaming(source, modelSize string, language *string, onUpdate UpdateFunc) (*Relay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return nil, ErrAlreadyStreaming
	}

	// The engine outlives this call; StopStreaming ends it
	cmd, stdin, stdout, err := m.spawn(context.Background())
	if err != nil {
		return nil, err
	}

	s := &streamingSession{cmd: cmd, stdin: stdin}
	m.session = s

	req := Request{
		Command:   CommandStartStreaming,
		AudioPath: source,
		ModelSize: modelSize,
		Language:  language,
	}
	if err := writeRequest(stdin, req); err != nil {
		m.session = nil
		stdin.Close()
		m.kill(cmd)
		s.reap()
		return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
	}

	s.relay = StartRelay(stdout, onUpdate, m.log)
	go func() {
		<-s.relay.Done()
		// All reads are done, so waiting cannot drop output
		if err := s.reap(); err != nil {
			m.log.Debug().Err(err).Msg("Streaming sidecar exited")
		}
	}()

	m.log.Info().Str("source", source).Str("model", modelSize).Msg("Streaming transcription started")
	return s.relay, nil
}

// StopStreaming ends the streaming session, if any. The engine is asked
// to stop, given StopGrace to exit, and then killed. It always succeeds.
func (m *Manager) StopStreaming(ctx context.Context) error {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	if err := writeRequest(s.stdin, Request{Command: CommandStopStreaming}); err != nil {
		m.log.Debug().Err(err).Msg("Sidecar did not accept stop request")
	}
	s.stdin.Close()

	timer := time.NewTimer(m.cfg.StopGrace)
	defer timer.Stop()

	select {
	case <-s.relay.Done():
	case <-timer.C:
		m.log.Warn().Dur("grace", m.cfg.StopGrace).Msg("Sidecar did not exit in time, killing")
	case <-ctx.Done():
	}

	m.kill(s.cmd)
	s.reap()

	m.log.Info().Int64("updates", s.relay.Forwarded()).Msg("Streaming transcription stopped")
	return nil
}

// Streaming reports whether a streaming session is held.
func (m *Manager) Streaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

func (m *Manager) kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.log.Debug().Err(err).Msg("Failed to kill sidecar")
	}
}

// wait reaps a one-shot engine, killing it if it lingers past StopGrace.
func (m *Manager) wait(cmd *exec.Cmd) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(m.cfg.StopGrace)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			m.log.Debug().Err(err).Msg("Sidecar exited with error")
		}
	case <-timer.C:
		m.kill(cmd)
		<-done
	}
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	env := os.Environ()
	return append(env, extra...)
}

// logWriter forwards engine stderr to the logger one line at a time.
type logWriter struct {
	log zerolog.Logger
	buf []byte
}

func newLogWriter(log zerolog.Logger) *logWriter {
	return &logWriter{log: log}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.log.Debug().Str("stderr", string(line)).Msg("Sidecar")
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
