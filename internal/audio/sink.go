package audio

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth      = 16
	wavFormatPCM  = 1
	maxInt16Float = 32768.0

	sinkBufferSize = 32 * 1024
)

// bufferedFile batches encoder writes. Seek flushes first so the header
// patches done by the encoder on close land at the right offsets.
type bufferedFile struct {
	f *os.File
	w *bufio.Writer
}

func newBufferedFile(f *os.File) *bufferedFile {
	return &bufferedFile{f: f, w: bufio.NewWriterSize(f, sinkBufferSize)}
}

func (b *bufferedFile) Write(p []byte) (int, error) {
	return b.w.Write(p)
}

func (b *bufferedFile) Seek(offset int64, whence int) (int64, error) {
	if err := b.w.Flush(); err != nil {
		return 0, err
	}
	return b.f.Seek(offset, whence)
}

func (b *bufferedFile) Flush() error {
	return b.w.Flush()
}

// Close flushes pending bytes, syncs and closes the file.
func (b *bufferedFile) Close() error {
	flushErr := b.w.Flush()
	syncErr := b.f.Sync()
	closeErr := b.f.Close()
	switch {
	case flushErr != nil:
		return flushErr
	case syncErr != nil:
		return syncErr
	}
	return closeErr
}

// Sink writes 16-bit PCM WAV. Write and Finalize are serialized so the
// stop path cannot race the capture callback.
type Sink struct {
	mu      sync.Mutex
	file    *bufferedFile
	enc     *wav.Encoder
	format  Format
	scratch goaudio.IntBuffer
	frames  int64
	err     error
}

// NewSink creates path and writes the WAV header immediately, so even an
// empty recording is a valid file. Samples are buffered and reach the
// disk in blocks.
func NewSink(path string, format Format) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFile, err)
	}

	bf := newBufferedFile(f)
	enc := wav.NewEncoder(bf, format.SampleRate, bitDepth, format.Channels, wavFormatPCM)
	s := &Sink{
		file:   bf,
		enc:    enc,
		format: format,
		scratch: goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: bitDepth,
		},
	}

	// Readers of the growing file need the header before the first block
	err = enc.Write(&s.scratch)
	if err == nil {
		err = bf.Flush()
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: failed to write header: %v", ErrFile, err)
	}
	return s, nil
}

// Format returns the format the sink was opened with.
func (s *Sink) Format() Format {
	return s.format
}

// Write appends one buffer. Float samples are converted to int16. Calls
// after Finalize are ignored.
func (s *Sink) Write(buf Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return nil
	}

	data := s.scratch.Data[:0]
	if buf.Float32 != nil {
		for _, v := range buf.Float32 {
			data = append(data, int(Float32ToInt16(v)))
		}
	} else {
		for _, v := range buf.Int16 {
			data = append(data, int(v))
		}
	}
	// Drop a trailing partial frame rather than misalign channels
	data = data[:len(data)-len(data)%s.format.Channels]
	s.scratch.Data = data

	if err := s.enc.Write(&s.scratch); err != nil {
		if s.err == nil {
			s.err = err
		}
		return err
	}
	s.frames += int64(len(data) / s.format.Channels)
	return nil
}

// Frames returns the number of frames written so far.
func (s *Sink) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Finalize patches the WAV header, flushes buffered samples and closes
// the file. It is safe to call more than once; it reports the first write
// error if one occurred.
func (s *Sink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return nil
	}

	encErr := s.enc.Close()
	closeErr := s.file.Close()
	s.enc = nil
	s.scratch.Data = nil

	switch {
	case s.err != nil:
		return fmt.Errorf("%w: write failed: %v", ErrFile, s.err)
	case encErr != nil:
		return fmt.Errorf("%w: failed to finalize: %v", ErrFile, encErr)
	case closeErr != nil:
		return fmt.Errorf("%w: %v", ErrFile, closeErr)
	}
	return nil
}

// Float32ToInt16 scales a [-1, 1] sample to int16, rounding to nearest and
// clamping out-of-range input.
func Float32ToInt16(v float32) int16 {
	f := float64(v)
	if math.IsNaN(f) {
		return 0
	}
	r := math.Round(f * maxInt16Float)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}
