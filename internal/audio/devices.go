package audio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	inputPrefix    = "input_"
	loopbackPrefix = "loopback_"
)

// ListDevices enumerates inputs first, then loopback-capable outputs when
// the host supports it. Enumeration failures yield an empty list.
func ListDevices(host Host, log zerolog.Logger) []AudioDevice {
	devices := make([]AudioDevice, 0)

	var defaultName string
	if def, err := host.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name()
	}

	inputs, err := host.InputDevices()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to enumerate input devices")
	}
	for idx, d := range inputs {
		devices = append(devices, AudioDevice{
			ID:        fmt.Sprintf("%s%d", inputPrefix, idx),
			Name:      d.Name(),
			IsInput:   true,
			IsDefault: defaultName != "" && d.Name() == defaultName,
		})
	}

	if !host.SupportsLoopback() {
		return devices
	}

	outputs, err := host.OutputDevices()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to enumerate loopback devices")
		return devices
	}
	for idx, d := range outputs {
		// Loopback sources are listed as inputs so they show up in selection
		devices = append(devices, AudioDevice{
			ID:         fmt.Sprintf("%s%d", loopbackPrefix, idx),
			Name:       d.Name() + " (Loopback)",
			IsInput:    true,
			IsLoopback: true,
		})
	}

	return devices
}

// parseSelector splits a device selector into its kind and index.
// Unparsable indices fall back to 0.
func parseSelector(selector string) (loopback bool, index int) {
	suffix := strings.TrimPrefix(selector, inputPrefix)
	if strings.HasPrefix(selector, loopbackPrefix) {
		loopback = true
		suffix = strings.TrimPrefix(selector, loopbackPrefix)
	}
	index, err := strconv.Atoi(suffix)
	if err != nil || index < 0 {
		index = 0
	}
	return loopback, index
}

// resolveDevice maps a selector to a host device. An empty selector picks
// the host default input.
func resolveDevice(host Host, selector string) (HostDevice, bool, error) {
	if selector == "" {
		dev, err := host.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, false, fmt.Errorf("%w: no default input", ErrNoDeviceFound)
		}
		return dev, false, nil
	}

	loopback, index := parseSelector(selector)

	var (
		candidates []HostDevice
		err        error
	)
	if loopback {
		if !host.SupportsLoopback() {
			return nil, true, fmt.Errorf("%w: loopback capture is not supported by this backend", ErrNoDeviceFound)
		}
		candidates, err = host.OutputDevices()
	} else {
		candidates, err = host.InputDevices()
	}
	if err != nil {
		return nil, loopback, fmt.Errorf("%w: %v", ErrDeviceConfig, err)
	}

	if index >= len(candidates) {
		return nil, loopback, fmt.Errorf("%w: %s", ErrNoDeviceFound, selector)
	}
	return candidates[index], loopback, nil
}
