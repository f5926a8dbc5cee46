package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
)

const appName = "meetrec"

// Backend names accepted by audio.backend
const (
	BackendPortAudio = "portaudio"
	BackendMiniaudio = "miniaudio"
)

type Config struct {
	LogLevel string        `json:"log_level"`
	DataDir  string        `json:"data_dir"`
	Audio    AudioConfig   `json:"audio"`
	Sidecar  SidecarConfig `json:"sidecar"`

	path string
}

type AudioConfig struct {
	Backend     string   `json:"backend"`   // "portaudio" or "miniaudio"
	DeviceID    string   `json:"device_id"` // "input_<n>", "loopback_<n>" or empty for default
	StopTimeout Duration `json:"stop_timeout"`
}

type SidecarConfig struct {
	Python    string   `json:"python"`
	Script    string   `json:"script"`
	ModelSize string   `json:"model_size"` // "tiny", "base", "small", ...
	Language  *string  `json:"language"`   // nil lets the engine detect
	StopGrace Duration `json:"stop_grace"`
}

// Duration is a time.Duration that marshals as a Go duration string ("2s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Bare numbers are taken as milliseconds
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return fmt.Errorf("invalid duration %s", string(data))
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  DataPath(),
		Audio: AudioConfig{
			Backend:     BackendPortAudio,
			DeviceID:    "",
			StopTimeout: Duration(2 * time.Second),
		},
		Sidecar: SidecarConfig{
			Python:    defaultPython(),
			Script:    filepath.Join("python", "src", "main.py"),
			ModelSize: "base",
			Language:  nil,
			StopGrace: Duration(2 * time.Second),
		},
	}
}

// Load reads the config from disk or returns defaults, then applies
// .env and environment overrides.
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	// A missing .env is the common case
	_ = godotenv.Load()

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"MEETREC_LOG_LEVEL":      &c.LogLevel,
		"MEETREC_DATA_DIR":       &c.DataDir,
		"MEETREC_AUDIO_BACKEND":  &c.Audio.Backend,
		"MEETREC_DEVICE":         &c.Audio.DeviceID,
		"MEETREC_PYTHON":         &c.Sidecar.Python,
		"MEETREC_SIDECAR_SCRIPT": &c.Sidecar.Script,
		"MEETREC_MODEL":          &c.Sidecar.ModelSize,
	}
	for key, dst := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("MEETREC_LANGUAGE"); ok {
		if v == "" || v == "auto" {
			c.Sidecar.Language = nil
		} else {
			lang := v
			c.Sidecar.Language = &lang
		}
	}
}

// Save writes the config back to the file it was loaded from, or to the
// platform config path for a Default config.
func (c *Config) Save() error {
	if c.path != "" {
		return c.SaveTo(c.path)
	}
	return c.SaveTo(configPath())
}

// SaveTo writes the config to path, creating parent directories.
func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// RecordingsDir is where captured audio files are written.
func (c *Config) RecordingsDir() string {
	return filepath.Join(c.DataDir, "recordings")
}

// DatabasePath is the sqlite file holding meetings and transcriptions.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, appName+".sqlite")
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, appName, "config.json")
}

// DataPath returns the platform-specific data directory path
func DataPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, appName)
}

func defaultPython() string {
	if runtime.GOOS == "windows" {
		return filepath.Join("python", "venv", "Scripts", "python.exe")
	}
	return filepath.Join("python", "venv", "bin", "python3")
}
