package audio

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// waitStream polls until the capture worker has started its stream.
func waitStream(t *testing.T, host *fakeHost) *fakeStream {
	t.Helper()
	for i := 0; i < 100; i++ { // Poll for 1 second
		if s := host.lastStream(); s != nil {
			select {
			case <-s.started:
				return s
			default:
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("capture stream never started")
	return nil
}

func TestRecorderStartTwiceFails(t *testing.T) {
	host := newFakeHost()
	rec := NewRecorder(host, zerolog.Nop(), time.Second)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.wav")

	if _, err := rec.Start(first, "input_0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := waitStream(t, host)

	_, err := rec.Start(filepath.Join(dir, "second.wav"), "")
	if !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start: want ErrAlreadyRecording, got %v", err)
	}

	// Original session keeps recording
	if !rec.IsRecording() {
		t.Error("first session should still be recording")
	}
	if p, ok := rec.Path(); !ok || p != first {
		t.Errorf("path = %q, want %q", p, first)
	}
	stream.push(Buffer{Int16: make([]int16, 160)})

	path, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if path != first {
		t.Errorf("Stop returned %q, want %q", path, first)
	}

	_, data := decodeWav(t, first)
	if len(data) != 160 {
		t.Errorf("decoded %d samples, want 160", len(data))
	}
}

func TestRecorderStopWithoutSession(t *testing.T) {
	rec := NewRecorder(newFakeHost(), zerolog.Nop(), time.Second)

	if _, err := rec.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("want ErrNotRecording, got %v", err)
	}
}

func TestRecorderStopTwice(t *testing.T) {
	host := newFakeHost()
	rec := NewRecorder(host, zerolog.Nop(), time.Second)

	if _, err := rec.Start(filepath.Join(t.TempDir(), "a.wav"), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStream(t, host)

	if _, err := rec.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if rec.IsRecording() {
		t.Error("should not be recording after Stop")
	}
	if _, err := rec.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("second Stop: want ErrNotRecording, got %v", err)
	}
}

func TestRecorderSampleCountMatchesDuration(t *testing.T) {
	host := newFakeHost()
	rec := NewRecorder(host, zerolog.Nop(), time.Second)
	path := filepath.Join(t.TempDir(), "rec.wav")

	// input_1 is stereo float32 at 48 kHz
	if _, err := rec.Start(path, "input_1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := waitStream(t, host)

	const (
		rate            = 48000
		channels        = 2
		framesPerBuffer = 480 // 10ms
		buffers         = 50
	)
	buf := make([]float32, framesPerBuffer*channels)
	for i := range buf {
		buf[i] = 0.25
	}
	for i := 0; i < buffers; i++ {
		stream.push(Buffer{Float32: buf})
	}

	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	dec, data := decodeWav(t, path)
	if int(dec.SampleRate) != rate || int(dec.NumChans) != channels {
		t.Fatalf("header: rate=%d chans=%d", dec.SampleRate, dec.NumChans)
	}

	frames := len(data) / channels
	wantFrames := framesPerBuffer * buffers
	if math.Abs(float64(frames-wantFrames)) > framesPerBuffer {
		t.Errorf("frames = %d, want %d within one buffer", frames, wantFrames)
	}

	duration := time.Duration(frames) * time.Second / time.Duration(dec.SampleRate)
	want := 500 * time.Millisecond
	if diff := duration - want; diff < -10*time.Millisecond || diff > 10*time.Millisecond {
		t.Errorf("duration = %v, want %v within one buffer period", duration, want)
	}
	if data[0] != 8192 {
		t.Errorf("first sample = %d, want 8192", data[0])
	}
}

func TestRecorderIgnoresSamplesAfterStop(t *testing.T) {
	host := newFakeHost()
	rec := NewRecorder(host, zerolog.Nop(), time.Second)
	path := filepath.Join(t.TempDir(), "rec.wav")

	if _, err := rec.Start(path, "input_0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := waitStream(t, host)
	stream.push(Buffer{Int16: []int16{1, 2, 3, 4}})

	if _, err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stream.push(Buffer{Int16: []int16{5, 6, 7, 8}})

	_, data := decodeWav(t, path)
	if len(data) != 4 {
		t.Errorf("decoded %d samples, want 4", len(data))
	}
	if !stream.stopped || !stream.closed {
		t.Error("stream should be stopped and closed")
	}
}

func TestRecorderLateStreamFailureIsReported(t *testing.T) {
	host := newFakeHost()
	host.openErr = errors.New("device unplugged")
	rec := NewRecorder(host, zerolog.Nop(), time.Second)
	path := filepath.Join(t.TempDir(), "rec.wav")

	errs, err := rec.Start(path, "")
	if err != nil {
		t.Fatalf("Start should succeed before the stream opens: %v", err)
	}

	select {
	case lateErr := <-errs:
		if lateErr == nil {
			t.Fatal("expected a late error")
		}
	case <-time.After(time.Second):
		t.Fatal("late error was not delivered")
	}

	if rec.IsRecording() {
		t.Error("IsRecording should be false after stream failure")
	}

	got, err := rec.Stop()
	if err != nil || got != path {
		t.Fatalf("Stop = (%q, %v), want (%q, nil)", got, err, path)
	}
	if _, err := rec.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("want ErrNotRecording, got %v", err)
	}
}

func TestRecorderStartErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("no device", func(t *testing.T) {
		rec := NewRecorder(&fakeHost{}, zerolog.Nop(), time.Second)
		if _, err := rec.Start(filepath.Join(dir, "a.wav"), ""); !errors.Is(err, ErrNoDeviceFound) {
			t.Fatalf("want ErrNoDeviceFound, got %v", err)
		}
	})

	t.Run("device config", func(t *testing.T) {
		dev := &fakeDevice{name: "broken", formatErr: errors.New("unsupported")}
		rec := NewRecorder(&fakeHost{def: dev, inputs: []HostDevice{dev}}, zerolog.Nop(), time.Second)
		if _, err := rec.Start(filepath.Join(dir, "b.wav"), ""); !errors.Is(err, ErrDeviceConfig) {
			t.Fatalf("want ErrDeviceConfig, got %v", err)
		}
	})

	t.Run("zero channels", func(t *testing.T) {
		dev := &fakeDevice{name: "mute", format: Format{SampleRate: 16000}}
		rec := NewRecorder(&fakeHost{def: dev}, zerolog.Nop(), time.Second)
		if _, err := rec.Start(filepath.Join(dir, "c.wav"), ""); !errors.Is(err, ErrDeviceConfig) {
			t.Fatalf("want ErrDeviceConfig, got %v", err)
		}
	})

	t.Run("file", func(t *testing.T) {
		rec := NewRecorder(newFakeHost(), zerolog.Nop(), time.Second)
		if _, err := rec.Start(filepath.Join(dir, "nope", "d.wav"), ""); !errors.Is(err, ErrFile) {
			t.Fatalf("want ErrFile, got %v", err)
		}
		if rec.IsRecording() {
			t.Error("failed Start must not leave a session")
		}
	})
}

func TestRecorderLoopbackOpensOutputDevice(t *testing.T) {
	host := newFakeHost()
	host.loopback = true
	rec := NewRecorder(host, zerolog.Nop(), time.Second)

	if _, err := rec.Start(filepath.Join(t.TempDir(), "lb.wav"), "loopback_0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStream(t, host)
	defer rec.Stop()

	host.mu.Lock()
	defer host.mu.Unlock()
	if !host.openedLB || host.opened.Name() != "Speakers" {
		t.Errorf("opened %q loopback=%v, want Speakers loopback", host.opened.Name(), host.openedLB)
	}
}
