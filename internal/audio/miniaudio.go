package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/gen2brain/malgo"
)

type miniaudioHost struct {
	ctx *malgo.AllocatedContext
}

type miniaudioDevice struct {
	host *miniaudioHost
	kind malgo.DeviceType
	info malgo.DeviceInfo
}

func (d *miniaudioDevice) Name() string {
	return d.info.Name()
}

// DefaultFormat picks the first native format of the device. S16 is kept
// as is; anything else is requested as F32 and converted by miniaudio.
func (d *miniaudioDevice) DefaultFormat(loopback bool) (Format, error) {
	kind := malgo.Capture
	if loopback {
		kind = malgo.Playback
	}
	info, err := d.host.ctx.DeviceInfo(kind, d.info.ID, malgo.Shared)
	if err != nil {
		return Format{}, fmt.Errorf("failed to query %q: %w", d.Name(), err)
	}
	if info.FormatCount == 0 {
		return Format{}, fmt.Errorf("device %q reports no native formats", d.Name())
	}

	native := info.Formats[0]
	channels := int(native.Channels)
	if channels > maxCaptureChannels {
		channels = maxCaptureChannels
	}
	enc := Float32
	if native.Format == malgo.FormatS16 {
		enc = Int16
	}
	return Format{
		SampleRate: int(native.SampleRate),
		Channels:   channels,
		Encoding:   enc,
	}, nil
}

func newMiniaudioHost() (Host, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio: %w", err)
	}
	return &miniaudioHost{ctx: ctx}, nil
}

func (h *miniaudioHost) devices(kind malgo.DeviceType) ([]HostDevice, error) {
	infos, err := h.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	result := make([]HostDevice, 0, len(infos))
	for _, info := range infos {
		result = append(result, &miniaudioDevice{host: h, kind: kind, info: info})
	}
	return result, nil
}

func (h *miniaudioHost) InputDevices() ([]HostDevice, error) {
	return h.devices(malgo.Capture)
}

func (h *miniaudioHost) OutputDevices() ([]HostDevice, error) {
	return h.devices(malgo.Playback)
}

func (h *miniaudioHost) DefaultInputDevice() (HostDevice, error) {
	inputs, err := h.InputDevices()
	if err != nil {
		return nil, err
	}
	for _, d := range inputs {
		if d.(*miniaudioDevice).info.IsDefault != 0 {
			return d, nil
		}
	}
	return nil, errors.New("no default input device")
}

// SupportsLoopback is only true for WASAPI.
func (h *miniaudioHost) SupportsLoopback() bool {
	return runtime.GOOS == "windows"
}

func (h *miniaudioHost) OpenStream(dev HostDevice, loopback bool, format Format, onData func(Buffer)) (Stream, error) {
	md, ok := dev.(*miniaudioDevice)
	if !ok {
		return nil, fmt.Errorf("device %q does not belong to miniaudio", dev.Name())
	}

	deviceType := malgo.Capture
	if loopback {
		// Loopback uses the capture config pointed at a playback device
		deviceType = malgo.Loopback
	}
	cfg := malgo.DefaultDeviceConfig(deviceType)
	cfg.Capture.DeviceID = md.info.ID.Pointer()
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.Capture.Format = malgo.FormatF32
	if format.Encoding == Int16 {
		cfg.Capture.Format = malgo.FormatS16
	}

	s := &miniaudioStream{encoding: format.Encoding, onData: onData}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			s.deliver(in)
		},
	}

	device, err := malgo.InitDevice(h.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	s.device = device
	return s, nil
}

func (h *miniaudioHost) Close() error {
	err := h.ctx.Uninit()
	h.ctx.Free()
	return err
}

// miniaudioStream decodes raw little-endian frames into reusable slices.
// The data callback is serialized per device.
type miniaudioStream struct {
	device   *malgo.Device
	encoding Encoding
	onData   func(Buffer)
	i16      []int16
	f32      []float32
}

func (s *miniaudioStream) deliver(in []byte) {
	switch s.encoding {
	case Int16:
		n := len(in) / 2
		if cap(s.i16) < n {
			s.i16 = make([]int16, n)
		}
		out := s.i16[:n]
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(in[i*2:]))
		}
		s.onData(Buffer{Int16: out})
	default:
		n := len(in) / 4
		if cap(s.f32) < n {
			s.f32 = make([]float32, n)
		}
		out := s.f32[:n]
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
		}
		s.onData(Buffer{Float32: out})
	}
}

func (s *miniaudioStream) Start() error {
	return s.device.Start()
}

func (s *miniaudioStream) Stop() error {
	return s.device.Stop()
}

func (s *miniaudioStream) Close() error {
	s.device.Uninit()
	return nil
}
