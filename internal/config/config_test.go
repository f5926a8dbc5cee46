package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MEETREC_MODEL", "")
	t.Setenv("MEETREC_AUDIO_BACKEND", "")
	t.Setenv("MEETREC_LANGUAGE", "")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Sidecar.ModelSize != "base" {
		t.Errorf("model size = %q, want base", cfg.Sidecar.ModelSize)
	}
	if cfg.Audio.Backend != BackendPortAudio {
		t.Errorf("backend = %q, want %q", cfg.Audio.Backend, BackendPortAudio)
	}
	if cfg.Audio.StopTimeout.Std() != 2*time.Second {
		t.Errorf("stop timeout = %v, want 2s", cfg.Audio.StopTimeout.Std())
	}
	if cfg.Sidecar.Language != nil {
		t.Errorf("language = %q, want nil", *cfg.Sidecar.Language)
	}
}

func TestSaveThenLoadOverlaysFile(t *testing.T) {
	t.Setenv("MEETREC_DEVICE", "")
	t.Setenv("MEETREC_LANGUAGE", "it")

	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Audio.DeviceID = "loopback_1"
	cfg.Sidecar.StopGrace = Duration(500 * time.Millisecond)
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	got, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if got.Audio.DeviceID != "loopback_1" {
		t.Errorf("device id = %q, want loopback_1", got.Audio.DeviceID)
	}
	if got.Sidecar.StopGrace.Std() != 500*time.Millisecond {
		t.Errorf("stop grace = %v, want 500ms", got.Sidecar.StopGrace.Std())
	}
	if got.Sidecar.Language == nil || *got.Sidecar.Language != "it" {
		t.Errorf("language override not applied: %v", got.Sidecar.Language)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEETREC_AUDIO_BACKEND", BackendMiniaudio)
	t.Setenv("MEETREC_MODEL", "small")
	t.Setenv("MEETREC_LANGUAGE", "auto")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Audio.Backend != BackendMiniaudio {
		t.Errorf("backend = %q, want %q", cfg.Audio.Backend, BackendMiniaudio)
	}
	if cfg.Sidecar.ModelSize != "small" {
		t.Errorf("model = %q, want small", cfg.Sidecar.ModelSize)
	}
	if cfg.Sidecar.Language != nil {
		t.Error("language \"auto\" should clear the override")
	}
}

func TestLoadFromRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDurationAcceptsMilliseconds(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte("250")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Std() != 250*time.Millisecond {
		t.Errorf("got %v, want 250ms", d.Std())
	}
}

func TestSaveWritesBackToLoadedPath(t *testing.T) {
	t.Setenv("MEETREC_DEVICE", "")
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "elsewhere"))

	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	cfg.Audio.DeviceID = "input_2"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if got.Audio.DeviceID != "input_2" {
		t.Errorf("device id = %q, want input_2", got.Audio.DeviceID)
	}
}
