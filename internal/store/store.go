package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/petems/meetrec/internal/sidecar"
)

// ErrNotFound is returned when a meeting or transcription does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at REAL NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		audio_path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'recording'
	);

	CREATE TABLE IF NOT EXISTS transcriptions (
		id TEXT PRIMARY KEY,
		meeting_id TEXT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		language TEXT,
		segments_json TEXT NOT NULL DEFAULT '[]',
		created_at REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcriptions_meeting
		ON transcriptions(meeting_id, created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// Store provides read-write access to the meetrec database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMeeting records a new meeting in the recording state.
func (s *Store) CreateMeeting(id, title, audioPath string) (*Meeting, error) {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO meetings (id, title, created_at, duration_seconds, audio_path, status)
		VALUES (?, ?, ?, 0, ?, ?)
	`, id, title, unixFromTime(now), audioPath, StatusRecording)
	if err != nil {
		return nil, fmt.Errorf("insert meeting: %w", err)
	}

	return &Meeting{
		ID:        id,
		Title:     title,
		CreatedAt: timeFromUnix(unixFromTime(now)),
		AudioPath: audioPath,
		Status:    StatusRecording,
	}, nil
}

// FinishRecording marks a meeting recorded with its final file and duration.
func (s *Store) FinishRecording(id, audioPath string, duration time.Duration) error {
	res, err := s.db.Exec(`
		UPDATE meetings
		SET audio_path = ?, duration_seconds = ?, status = ?
		WHERE id = ?
	`, audioPath, duration.Seconds(), StatusRecorded, id)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	return expectRow(res, id)
}

// SaveTranscription stores result for a meeting and marks it transcribed.
func (s *Store) SaveTranscription(meetingID string, result *sidecar.TranscriptionResult) (*Transcription, error) {
	segments := result.Segments
	if segments == nil {
		segments = []sidecar.Segment{}
	}
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return nil, fmt.Errorf("marshal segments: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE meetings SET status = ? WHERE id = ?`, StatusTranscribed, meetingID)
	if err != nil {
		return nil, fmt.Errorf("update meeting: %w", err)
	}
	if err := expectRow(res, meetingID); err != nil {
		return nil, err
	}

	tr := &Transcription{
		ID:        uuid.NewString(),
		MeetingID: meetingID,
		Content:   result.Text,
		Language:  result.Language,
		Segments:  segments,
		CreatedAt: timeFromUnix(unixFromTime(time.Now())),
	}

	var language sql.NullString
	if tr.Language != nil {
		language = sql.NullString{String: *tr.Language, Valid: true}
	}

	if _, err := tx.Exec(`
		INSERT INTO transcriptions (id, meeting_id, content, language, segments_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tr.ID, tr.MeetingID, tr.Content, language, string(segmentsJSON), unixFromTime(tr.CreatedAt)); err != nil {
		return nil, fmt.Errorf("insert transcription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return tr, nil
}

// GetMeeting returns the meeting with id, or ErrNotFound.
func (s *Store) GetMeeting(id string) (*Meeting, error) {
	row := s.db.QueryRow(`
		SELECT id, title, created_at, duration_seconds, audio_path, status
		FROM meetings
		WHERE id = ?
	`, id)

	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	return m, err
}

// ListMeetings returns all meetings, newest first.
func (s *Store) ListMeetings() ([]Meeting, error) {
	rows, err := s.db.Query(`
		SELECT id, title, created_at, duration_seconds, audio_path, status
		FROM meetings
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	meetings := []Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, *m)
	}
	return meetings, rows.Err()
}

// LatestTranscription returns the most recent transcription of a meeting,
// or ErrNotFound if it has none.
func (s *Store) LatestTranscription(meetingID string) (*Transcription, error) {
	row := s.db.QueryRow(`
		SELECT id, meeting_id, content, language, segments_json, created_at
		FROM transcriptions
		WHERE meeting_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, meetingID)

	var tr Transcription
	var language sql.NullString
	var segmentsJSON string
	var createdAt float64

	if err := row.Scan(&tr.ID, &tr.MeetingID, &tr.Content, &language, &segmentsJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transcription for %s: %w", meetingID, ErrNotFound)
		}
		return nil, fmt.Errorf("scan transcription: %w", err)
	}

	if language.Valid {
		tr.Language = &language.String
	}
	if err := json.Unmarshal([]byte(segmentsJSON), &tr.Segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	if tr.Segments == nil {
		tr.Segments = []sidecar.Segment{}
	}
	tr.CreatedAt = timeFromUnix(createdAt)

	return &tr, nil
}

// GetSetting returns the value stored under key and whether it exists.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row scanner) (*Meeting, error) {
	var m Meeting
	var createdAt float64
	if err := row.Scan(&m.ID, &m.Title, &createdAt, &m.DurationSeconds, &m.AudioPath, &m.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan meeting: %w", err)
	}
	m.CreatedAt = timeFromUnix(createdAt)
	return &m, nil
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	return nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
