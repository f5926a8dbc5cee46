package sidecar

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// UpdateFunc receives each batch of streaming segments.
type UpdateFunc func(segments []Segment)

// Relay reads engine output line by line and forwards streaming updates.
// It ends at end-of-stream; it never restarts the engine.
type Relay struct {
	log       zerolog.Logger
	onUpdate  UpdateFunc
	done      chan struct{}
	err       error
	forwarded atomic.Int64
}

// relayLine covers every shape seen on the stream: acks, streaming
// updates and engine errors.
type relayLine struct {
	Type     string         `json:"type"`
	Segments *[]wireSegment `json:"segments"`
	Success  *bool          `json:"success"`
	Error    *string        `json:"error"`
}

// StartRelay consumes r in a new goroutine.
func StartRelay(r io.Reader, onUpdate UpdateFunc, log zerolog.Logger) *Relay {
	rl := &Relay{
		log:      log,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
	go rl.run(r)
	return rl
}

// Done is closed when the relay stops reading.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the read error that ended the relay, or nil on a clean
// end-of-stream. Only valid after Done is closed.
func (r *Relay) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Forwarded counts the update batches delivered so far.
func (r *Relay) Forwarded() int64 {
	return r.forwarded.Load()
}

func (r *Relay) run(src io.Reader) {
	defer close(r.done)

	reader := bufio.NewReader(src)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			r.handle(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
				r.log.Debug().Err(err).Msg("Streaming relay read failed")
			}
			r.log.Debug().Int64("updates", r.Forwarded()).Msg("Streaming relay ended")
			return
		}
	}
}

func (r *Relay) handle(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var msg relayLine
	if err := json.Unmarshal(line, &msg); err != nil {
		// Engines may interleave diagnostics with protocol lines
		return
	}

	if msg.Success != nil && !*msg.Success && msg.Error != nil {
		r.log.Warn().Str("error", *msg.Error).Msg("Sidecar reported a streaming error")
		return
	}

	if msg.Type != UpdateTypeStreaming {
		return
	}

	segments, err := segmentsFrom(msg.Segments)
	if err != nil {
		r.log.Debug().Err(err).Msg("Skipping malformed streaming update")
		return
	}

	r.forwarded.Add(1)
	if r.onUpdate != nil {
		r.onUpdate(segments)
	}
}
