package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxview.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Window.Width != 900 || cfg.Window.Height != 700 || cfg.Window.Title != "voxview" {
		t.Errorf("window = %dx%d %q", cfg.Window.Width, cfg.Window.Height, cfg.Window.Title)
	}
	if cfg.Render.Mode != "volumetric" || cfg.Render.Quality != "high" || cfg.Render.Preset != "bone" {
		t.Errorf("render = %q/%q/%q", cfg.Render.Mode, cfg.Render.Quality, cfg.Render.Preset)
	}
	if cfg.Render.StepSize != 1 || cfg.Render.Brightness != 1 || cfg.Render.OpacityScale != 1 {
		t.Errorf("render tuning = %v/%v/%v", cfg.Render.StepSize, cfg.Render.Brightness, cfg.Render.OpacityScale)
	}
	if cfg.Render.Isovalue != 500 {
		t.Errorf("isovalue = %v, want 500", cfg.Render.Isovalue)
	}
	if cfg.Frames.Spacing != [3]float64{1, 1, 1} {
		t.Errorf("spacing = %v, want unit", cfg.Frames.Spacing)
	}
	if cfg.Analysis.GridSize != 3 {
		t.Errorf("analysis grid = %d, want 3", cfg.Analysis.GridSize)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load(\"\") = %+v, want defaults", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("missing file = %+v, want defaults", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
frames:
  dir: ./slices
  watch: true
  spacing: [0.5, 0.5, 2]
window:
  width: 1280
  height: 800
render:
  mode: mip
  quality: low
  preset: lung
  stepSize: 0.5
  brightness: 1.5
  opacityScale: 0.8
  workers: 4
hardware:
  disabled: true
  preload: true
analysis:
  enabled: true
  baseURL: http://sidecar:5001
  gridSize: 5
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Frames.Dir != "./slices" || !cfg.Frames.Watch {
		t.Errorf("frames = %+v", cfg.Frames)
	}
	if cfg.Frames.Spacing != [3]float64{0.5, 0.5, 2} {
		t.Errorf("spacing = %v", cfg.Frames.Spacing)
	}
	if cfg.Window.Width != 1280 || cfg.Window.Height != 800 {
		t.Errorf("window = %dx%d", cfg.Window.Width, cfg.Window.Height)
	}
	if cfg.Render.Mode != "mip" || cfg.Render.Quality != "low" || cfg.Render.Preset != "lung" {
		t.Errorf("render = %q/%q/%q", cfg.Render.Mode, cfg.Render.Quality, cfg.Render.Preset)
	}
	if cfg.Render.StepSize != 0.5 || cfg.Render.Brightness != 1.5 || cfg.Render.OpacityScale != 0.8 {
		t.Errorf("render tuning = %v/%v/%v", cfg.Render.StepSize, cfg.Render.Brightness, cfg.Render.OpacityScale)
	}
	if cfg.Render.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Render.Workers)
	}
	if !cfg.Hardware.Disabled || !cfg.Hardware.Preload {
		t.Errorf("hardware = %+v", cfg.Hardware)
	}
	if !cfg.Analysis.Enabled || cfg.Analysis.BaseURL != "http://sidecar:5001" || cfg.Analysis.GridSize != 5 {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}

	// Fields the file does not mention keep their defaults.
	if cfg.Window.Title != "voxview" {
		t.Errorf("title = %q, want default", cfg.Window.Title)
	}
	if cfg.Render.Isovalue != 500 {
		t.Errorf("isovalue = %v, want default", cfg.Render.Isovalue)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "render:\n  mode: sideways\n")
	if _, err := Load(path); err == nil {
		t.Error("Load with bad mode: got nil error")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "render: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Error("Load with malformed YAML: got nil error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"mip mode", func(c *Config) { c.Render.Mode = "mip" }, false},
		{"unknown mode", func(c *Config) { c.Render.Mode = "xray" }, true},
		{"unknown quality", func(c *Config) { c.Render.Quality = "ultra" }, true},
		{"unknown preset", func(c *Config) { c.Render.Preset = "granite" }, true},
		{"zero step", func(c *Config) { c.Render.StepSize = 0 }, true},
		{"negative brightness", func(c *Config) { c.Render.Brightness = -0.1 }, true},
		{"zero brightness", func(c *Config) { c.Render.Brightness = 0 }, false},
		{"negative opacity scale", func(c *Config) { c.Render.OpacityScale = -1 }, true},
		{"zero width", func(c *Config) { c.Window.Width = 0 }, true},
		{"negative height", func(c *Config) { c.Window.Height = -5 }, true},
		{"zero spacing axis", func(c *Config) { c.Frames.Spacing[1] = 0 }, true},
		{"negative grid", func(c *Config) { c.Analysis.GridSize = -1 }, true},
		{"zero grid", func(c *Config) { c.Analysis.GridSize = 0 }, false},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Log.Level = tt.level
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
