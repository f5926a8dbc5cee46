package audio

import (
	"errors"
	"fmt"
)

var (
	ErrNoDeviceFound    = errors.New("no capture device found")
	ErrDeviceConfig     = errors.New("device configuration unavailable")
	ErrFile             = errors.New("audio file error")
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// AudioDevice is a capture-capable device as presented to callers.
// IDs are positional and only valid until the next enumeration.
type AudioDevice struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsInput    bool   `json:"is_input"`
	IsDefault  bool   `json:"is_default"`
	IsLoopback bool   `json:"is_loopback"`
}

// Encoding is the sample representation delivered by a stream.
type Encoding int

const (
	Int16 Encoding = iota
	Float32
)

func (e Encoding) String() string {
	switch e {
	case Int16:
		return "i16"
	case Float32:
		return "f32"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// Format is the negotiated stream format. Files are always written as
// 16-bit PCM with the same rate and channel count.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: unusable format %d Hz, %d channels", ErrDeviceConfig, f.SampleRate, f.Channels)
	}
	if f.Encoding != Int16 && f.Encoding != Float32 {
		return fmt.Errorf("%w: unsupported sample encoding %v", ErrDeviceConfig, f.Encoding)
	}
	return nil
}

// Buffer carries one hardware delivery of interleaved samples. Exactly
// one of the slices is set, matching the stream's Encoding.
type Buffer struct {
	Int16   []int16
	Float32 []float32
}

// HostDevice is a device as reported by a Host.
type HostDevice interface {
	Name() string
	// DefaultFormat returns the device's preferred capture format. For
	// loopback it reflects the device's output configuration.
	DefaultFormat(loopback bool) (Format, error)
}

// Stream is an open hardware capture stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Host abstracts an audio backend. onData may be invoked on a realtime
// thread and must not block.
type Host interface {
	InputDevices() ([]HostDevice, error)
	OutputDevices() ([]HostDevice, error)
	DefaultInputDevice() (HostDevice, error)
	SupportsLoopback() bool
	OpenStream(dev HostDevice, loopback bool, format Format, onData func(Buffer)) (Stream, error)
	Close() error
}
