// Package config loads viewer configuration from YAML files and provides
// defaults, so the viewer runs with no config file at all.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxview/volcast"
)

// Config is the voxview viewer configuration.
type Config struct {
	// Frames locates the slice stack that becomes the volume.
	Frames struct {
		// Dir is a directory of image frames, ordered lexically.
		Dir string `yaml:"dir"`
		// Watch reloads the volume when frames change on disk.
		Watch bool `yaml:"watch"`
		// Spacing is the physical voxel spacing [x, y, z].
		Spacing [3]float64 `yaml:"spacing"`
	} `yaml:"frames"`

	Window struct {
		Width  int    `yaml:"width"`
		Height int    `yaml:"height"`
		Title  string `yaml:"title"`
	} `yaml:"window"`

	Render struct {
		// Mode is "mip", "volumetric", or "isosurface".
		Mode string `yaml:"mode"`
		// Quality is "low", "medium", or "high".
		Quality string `yaml:"quality"`
		// Preset names a built-in transfer function.
		Preset       string  `yaml:"preset"`
		StepSize     float64 `yaml:"stepSize"`
		Brightness   float64 `yaml:"brightness"`
		Isovalue     float64 `yaml:"isovalue"`
		OpacityScale float64 `yaml:"opacityScale"`
		// Workers caps the software ray caster's goroutines; 0 means
		// GOMAXPROCS.
		Workers int `yaml:"workers"`
	} `yaml:"render"`

	Hardware struct {
		// Disabled skips GPU probing entirely.
		Disabled bool `yaml:"disabled"`
		// Preload constructs the GPU backend during detection instead of
		// on first use.
		Preload bool `yaml:"preload"`
	} `yaml:"hardware"`

	Analysis struct {
		Enabled  bool   `yaml:"enabled"`
		BaseURL  string `yaml:"baseURL"`
		GridSize int    `yaml:"gridSize"`
	} `yaml:"analysis"`

	Log struct {
		// Level is "debug", "info", "warn", or "error".
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the configuration the viewer uses when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Frames.Spacing = [3]float64{1, 1, 1}
	cfg.Window.Width = 900
	cfg.Window.Height = 700
	cfg.Window.Title = "voxview"
	cfg.Render.Mode = volcast.ModeVolumetric.String()
	cfg.Render.Quality = volcast.QualityHigh.String()
	cfg.Render.Preset = volcast.DefaultPreset
	cfg.Render.StepSize = 1.0
	cfg.Render.Brightness = 1.0
	cfg.Render.Isovalue = 500
	cfg.Render.OpacityScale = 1.0
	cfg.Analysis.GridSize = 3
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path over the defaults. A missing file is not an error; the
// defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values against what the engine accepts.
func (c *Config) Validate() error {
	if _, err := volcast.ParseMode(c.Render.Mode); err != nil {
		return fmt.Errorf("config: render.mode %q: %w", c.Render.Mode, err)
	}
	if _, err := volcast.ParseQuality(c.Render.Quality); err != nil {
		return fmt.Errorf("config: render.quality %q: %w", c.Render.Quality, err)
	}
	if _, err := volcast.Preset(c.Render.Preset); err != nil {
		return fmt.Errorf("config: render.preset %q: %w", c.Render.Preset, err)
	}
	if c.Render.StepSize <= 0 {
		return fmt.Errorf("config: render.stepSize must be positive, got %v", c.Render.StepSize)
	}
	if c.Render.Brightness < 0 {
		return fmt.Errorf("config: render.brightness must not be negative, got %v", c.Render.Brightness)
	}
	if c.Render.OpacityScale < 0 {
		return fmt.Errorf("config: render.opacityScale must not be negative, got %v", c.Render.OpacityScale)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("config: window %dx%d is not a valid size", c.Window.Width, c.Window.Height)
	}
	for i, s := range c.Frames.Spacing {
		if s <= 0 {
			return fmt.Errorf("config: frames.spacing[%d] must be positive, got %v", i, s)
		}
	}
	if c.Analysis.GridSize < 0 {
		return fmt.Errorf("config: analysis.gridSize must not be negative, got %d", c.Analysis.GridSize)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
