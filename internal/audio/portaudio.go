package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const maxCaptureChannels = 2

type portAudioHost struct{}

type portAudioDevice struct {
	info *portaudio.DeviceInfo
}

func (d portAudioDevice) Name() string {
	return d.info.Name
}

// DefaultFormat uses the device's default rate and up to two channels.
// PortAudio's native float32 path is always requested.
func (d portAudioDevice) DefaultFormat(loopback bool) (Format, error) {
	if loopback {
		return Format{}, errors.New("portaudio cannot capture output devices")
	}
	channels := d.info.MaxInputChannels
	if channels > maxCaptureChannels {
		channels = maxCaptureChannels
	}
	if channels <= 0 {
		return Format{}, fmt.Errorf("device %q has no input channels", d.info.Name)
	}
	return Format{
		SampleRate: int(d.info.DefaultSampleRate),
		Channels:   channels,
		Encoding:   Float32,
	}, nil
}

func newPortAudioHost() (Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioHost{}, nil
}

func (p *portAudioHost) devices(keep func(*portaudio.DeviceInfo) bool) ([]HostDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]HostDevice, 0, len(devices))
	for _, d := range devices {
		if keep(d) {
			result = append(result, portAudioDevice{info: d})
		}
	}
	return result, nil
}

func (p *portAudioHost) InputDevices() ([]HostDevice, error) {
	return p.devices(func(d *portaudio.DeviceInfo) bool { return d.MaxInputChannels > 0 })
}

func (p *portAudioHost) OutputDevices() ([]HostDevice, error) {
	return p.devices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func (p *portAudioHost) DefaultInputDevice() (HostDevice, error) {
	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get default input device: %w", err)
	}
	return portAudioDevice{info: device}, nil
}

// SupportsLoopback is false: PortAudio exposes no output-capture mode.
// Monitor sources (PulseAudio, BlackHole) show up as regular inputs.
func (p *portAudioHost) SupportsLoopback() bool {
	return false
}

func (p *portAudioHost) OpenStream(dev HostDevice, loopback bool, format Format, onData func(Buffer)) (Stream, error) {
	pd, ok := dev.(portAudioDevice)
	if !ok {
		return nil, fmt.Errorf("device %q does not belong to portaudio", dev.Name())
	}
	if loopback {
		return nil, errors.New("portaudio cannot capture output devices")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   pd.info,
			Channels: format.Channels,
			Latency:  pd.info.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}

	var callback interface{}
	switch format.Encoding {
	case Int16:
		callback = func(in []int16) { onData(Buffer{Int16: in}) }
	default:
		callback = func(in []float32) { onData(Buffer{Float32: in}) }
	}

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	return stream, nil
}

func (p *portAudioHost) Close() error {
	return portaudio.Terminate()
}
