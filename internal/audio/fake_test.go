package audio

import (
	"errors"
	"sync"
)

// Mock host for exercising the recorder without hardware.
type fakeDevice struct {
	name      string
	format    Format
	formatErr error
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) DefaultFormat(loopback bool) (Format, error) {
	return d.format, d.formatErr
}

type fakeHost struct {
	inputs   []HostDevice
	outputs  []HostDevice
	def      HostDevice
	loopback bool
	inputErr error
	openErr  error
	startErr error

	mu       sync.Mutex
	streams  []*fakeStream
	opened   HostDevice
	openedLB bool
}

func (h *fakeHost) InputDevices() ([]HostDevice, error) {
	return h.inputs, h.inputErr
}

func (h *fakeHost) OutputDevices() ([]HostDevice, error) {
	return h.outputs, nil
}

func (h *fakeHost) DefaultInputDevice() (HostDevice, error) {
	if h.def == nil {
		return nil, errors.New("no default")
	}
	return h.def, nil
}

func (h *fakeHost) SupportsLoopback() bool { return h.loopback }

func (h *fakeHost) OpenStream(dev HostDevice, loopback bool, format Format, onData func(Buffer)) (Stream, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	s := &fakeStream{onData: onData, startErr: h.startErr, started: make(chan struct{})}
	h.mu.Lock()
	h.streams = append(h.streams, s)
	h.opened = dev
	h.openedLB = loopback
	h.mu.Unlock()
	return s, nil
}

func (h *fakeHost) Close() error { return nil }

func (h *fakeHost) lastStream() *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.streams) == 0 {
		return nil
	}
	return h.streams[len(h.streams)-1]
}

type fakeStream struct {
	onData   func(Buffer)
	startErr error
	started  chan struct{}

	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (s *fakeStream) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	close(s.started)
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// push simulates one hardware callback.
func (s *fakeStream) push(buf Buffer) {
	s.onData(buf)
}

func newFakeHost() *fakeHost {
	mic := &fakeDevice{name: "Built-in Microphone", format: Format{SampleRate: 16000, Channels: 1, Encoding: Int16}}
	usb := &fakeDevice{name: "USB Headset", format: Format{SampleRate: 48000, Channels: 2, Encoding: Float32}}
	speakers := &fakeDevice{name: "Speakers", format: Format{SampleRate: 44100, Channels: 2, Encoding: Float32}}
	return &fakeHost{
		inputs:  []HostDevice{mic, usb},
		outputs: []HostDevice{speakers},
		def:     usb,
	}
}
