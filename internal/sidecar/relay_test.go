package sidecar

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func runRelay(t *testing.T, r io.Reader) (*Relay, [][]Segment) {
	t.Helper()

	var got [][]Segment
	relay := StartRelay(r, func(s []Segment) { got = append(got, s) }, zerolog.Nop())

	select {
	case <-relay.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
	}
	return relay, got
}

func TestRelayForwardsOnlyStreamingUpdates(t *testing.T) {
	input := strings.Join([]string{
		`{"success": true, "result": {"status": "streaming_started"}}`,
		`{"type": "streaming_update", "segments": [{"start": 0.0, "end": 1.2, "text": "hi"}]}`,
		`{"type": "heartbeat"}`,
		``,
		`   `,
		`{"type": "streaming_update", "segments": [{"start": 1.2, "end": 2.5, "text": "there"}, {"start": 2.5, "end": 3.0, "text": "again"}]}`,
	}, "\n") + "\n"

	relay, got := runRelay(t, strings.NewReader(input))

	if len(got) != 2 {
		t.Fatalf("got %d batches, want 2", len(got))
	}
	if len(got[0]) != 1 || got[0][0].Text != "hi" || got[0][0].End != 1.2 {
		t.Errorf("batch 0 = %#v", got[0])
	}
	if len(got[1]) != 2 || got[1][1].Text != "again" {
		t.Errorf("batch 1 = %#v", got[1])
	}
	if relay.Forwarded() != 2 {
		t.Errorf("Forwarded() = %d, want 2", relay.Forwarded())
	}
	if relay.Err() != nil {
		t.Errorf("Err() = %v, want nil", relay.Err())
	}
}

func TestRelaySkipsMalformedLines(t *testing.T) {
	input := "not json at all\n" +
		"{\"type\": \"streaming_update\", \"segments\": [\n" +
		`{"success": false, "error": "Streaming error: model busy"}` + "\n" +
		`{"type": "streaming_update", "segments": [{"start": 0, "end": 1, "text": "ok"}]}` + "\n"

	_, got := runRelay(t, strings.NewReader(input))

	if len(got) != 1 || got[0][0].Text != "ok" {
		t.Errorf("got %#v, want one batch with text ok", got)
	}
}

func TestRelayFinalLineWithoutNewline(t *testing.T) {
	input := `{"type": "streaming_update", "segments": [{"start": 0, "end": 1, "text": "last"}]}`

	_, got := runRelay(t, strings.NewReader(input))

	if len(got) != 1 || got[0][0].Text != "last" {
		t.Errorf("got %#v, want the unterminated update", got)
	}
}

func TestRelayEmptySegments(t *testing.T) {
	relay, got := runRelay(t, strings.NewReader(`{"type": "streaming_update", "segments": []}`+"\n"))

	if len(got) != 1 {
		t.Fatalf("got %d batches, want 1", len(got))
	}
	if got[0] == nil || len(got[0]) != 0 {
		t.Errorf("batch = %#v, want empty non-nil slice", got[0])
	}
	if relay.Forwarded() != 1 {
		t.Errorf("Forwarded() = %d, want 1", relay.Forwarded())
	}
}

func TestRelaySkipsUpdatesMissingFields(t *testing.T) {
	input := strings.Join([]string{
		`{"type": "streaming_update"}`,
		`{"type": "streaming_update", "segments": null}`,
		`{"type": "streaming_update", "segments": [{"start": 3.5}]}`,
		`{"type": "streaming_update", "segments": [{"start": 0, "end": 1, "text": "a"}, {"end": 2, "text": "b"}]}`,
		`{"type": "streaming_update", "segments": [{"start": 0, "end": 1, "text": null}]}`,
		`{"type": "streaming_update", "segments": [null]}`,
		`{"type": "streaming_update", "segments": [{"start": 4, "end": 5, "text": "kept"}]}`,
	}, "\n") + "\n"

	relay, got := runRelay(t, strings.NewReader(input))

	if len(got) != 1 {
		t.Fatalf("got %d batches %#v, want only the complete update", len(got), got)
	}
	if len(got[0]) != 1 || got[0][0] != (Segment{Start: 4, End: 5, Text: "kept"}) {
		t.Errorf("batch = %#v", got[0])
	}
	if relay.Forwarded() != 1 {
		t.Errorf("Forwarded() = %d, want 1", relay.Forwarded())
	}
}

type failingReader struct {
	data string
	err  error
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, f.err
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestRelayReadError(t *testing.T) {
	readErr := errors.New("pipe broke")
	r := &failingReader{
		data: `{"type": "streaming_update", "segments": [{"start": 0, "end": 1, "text": "a"}]}` + "\n",
		err:  readErr,
	}

	relay, got := runRelay(t, r)

	if len(got) != 1 {
		t.Errorf("got %d batches, want 1", len(got))
	}
	if !errors.Is(relay.Err(), readErr) {
		t.Errorf("Err() = %v, want %v", relay.Err(), readErr)
	}
}

func TestRelayNilCallback(t *testing.T) {
	relay := StartRelay(strings.NewReader(`{"type": "streaming_update", "segments": []}`+"\n"), nil, zerolog.Nop())
	select {
	case <-relay.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish")
	}
	if relay.Forwarded() != 1 {
		t.Errorf("Forwarded() = %d, want 1", relay.Forwarded())
	}
}
