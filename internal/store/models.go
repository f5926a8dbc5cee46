// Package store persists meetings and their transcriptions in SQLite.
package store

import (
	"time"

	"github.com/petems/meetrec/internal/sidecar"
)

// Meeting statuses
const (
	StatusRecording   = "recording"
	StatusRecorded    = "recorded"
	StatusTranscribed = "transcribed"
)

// Meeting is one recording and its lifecycle state.
type Meeting struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"created_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	AudioPath       string    `json:"audio_path"`
	Status          string    `json:"status"`
}

// Transcription is a stored engine result for a meeting.
type Transcription struct {
	ID        string            `json:"id"`
	MeetingID string            `json:"meeting_id"`
	Content   string            `json:"content"`
	Language  *string           `json:"language"`
	Segments  []sidecar.Segment `json:"segments"`
	CreatedAt time.Time         `json:"created_at"`
}
