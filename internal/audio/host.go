package audio

import (
	"fmt"

	"github.com/petems/meetrec/internal/config"
)

// NewHost initializes the configured audio backend.
func NewHost(cfg config.AudioConfig) (Host, error) {
	switch cfg.Backend {
	case "", config.BackendPortAudio:
		return newPortAudioHost()
	case config.BackendMiniaudio:
		return newMiniaudioHost()
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}
