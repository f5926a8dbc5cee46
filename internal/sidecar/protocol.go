package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrSidecarStart        = errors.New("failed to start sidecar")
	ErrCommunication       = errors.New("sidecar communication error")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrAlreadyStreaming    = errors.New("streaming transcription already running")
)

// TranscriptionFailedError is an application-level failure reported by
// the engine. It matches ErrTranscriptionFailed with errors.Is.
type TranscriptionFailedError struct {
	Message string
}

func (e *TranscriptionFailedError) Error() string {
	return "transcription failed: " + e.Message
}

func (e *TranscriptionFailedError) Is(target error) bool {
	return target == ErrTranscriptionFailed
}

// Command names understood by the engine
type Command string

const (
	CommandTranscribe     Command = "transcribe"
	CommandStartStreaming Command = "start_streaming"
	CommandStopStreaming  Command = "stop_streaming"
)

// UpdateTypeStreaming marks a partial-result line.
const UpdateTypeStreaming = "streaming_update"

// Segment is a timed span of text, offsets in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type TranscriptionResult struct {
	Text     string    `json:"text"`
	Language *string   `json:"language"`
	Segments []Segment `json:"segments"`
}

// Request is one line written to the engine's stdin.
type Request struct {
	Command   Command `json:"command"`
	AudioPath string  `json:"audio_path"`
	ModelSize string  `json:"model_size"`
	Language  *string `json:"language"`
}

// Response answers a transcribe request.
type Response struct {
	Success bool            `json:"success"`
	Error   *string         `json:"error"`
	Result  json.RawMessage `json:"result"`
}

// StreamingUpdate is emitted periodically during a streaming session.
type StreamingUpdate struct {
	Type     string    `json:"type"`
	Segments []Segment `json:"segments"`
}

func writeRequest(w io.Writer, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// decodeResult turns one response line into a result or a typed failure.
func decodeResult(line []byte) (*TranscriptionResult, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, &TranscriptionFailedError{Message: fmt.Sprintf("invalid sidecar response: %v", err)}
	}

	if !resp.Success {
		msg := "unknown transcription error"
		if resp.Error != nil && *resp.Error != "" {
			msg = *resp.Error
		}
		return nil, &TranscriptionFailedError{Message: msg}
	}

	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, &TranscriptionFailedError{Message: "sidecar returned no result"}
	}

	var raw wireResult
	if err := json.Unmarshal(resp.Result, &raw); err != nil {
		return nil, &TranscriptionFailedError{Message: fmt.Sprintf("invalid transcription result: %v", err)}
	}
	result, err := raw.result()
	if err != nil {
		return nil, &TranscriptionFailedError{Message: fmt.Sprintf("invalid transcription result: %v", err)}
	}
	return result, nil
}

// wireSegment and wireResult mirror the engine output with pointer fields
// so a missing key is told apart from a zero value.
type wireSegment struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
	Text  *string  `json:"text"`
}

type wireResult struct {
	Text     *string        `json:"text"`
	Language *string        `json:"language"`
	Segments *[]wireSegment `json:"segments"`
}

func (w wireSegment) segment() (Segment, error) {
	switch {
	case w.Start == nil:
		return Segment{}, errors.New("missing start")
	case w.End == nil:
		return Segment{}, errors.New("missing end")
	case w.Text == nil:
		return Segment{}, errors.New("missing text")
	}
	return Segment{Start: *w.Start, End: *w.End, Text: *w.Text}, nil
}

// segmentsFrom requires the list itself and every field of every entry.
// An empty list is valid.
func segmentsFrom(raw *[]wireSegment) ([]Segment, error) {
	if raw == nil {
		return nil, errors.New("missing segments")
	}
	out := make([]Segment, 0, len(*raw))
	for i, w := range *raw {
		s, err := w.segment()
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (w wireResult) result() (*TranscriptionResult, error) {
	if w.Text == nil {
		return nil, errors.New("missing text")
	}
	segments, err := segmentsFrom(w.Segments)
	if err != nil {
		return nil, err
	}
	return &TranscriptionResult{Text: *w.Text, Language: w.Language, Segments: segments}, nil
}
