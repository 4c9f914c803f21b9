// Package config holds the settings of one comparison run. Values come from
// defaults, an optional TOML file and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"

	"changemap/internal/errdefs"
	"changemap/internal/extractor"
	"changemap/internal/logger"
	"changemap/internal/pipeline"

	"github.com/BurntSushi/toml"
	"github.com/lucasb-eyer/go-colorful"
)

type Config struct {
	ImageA   string `toml:"image_a"`
	ImageB   string `toml:"image_b"`
	LogLevel string `toml:"log_level"`

	Compare CompareConfig `toml:"compare"`
	Model   ModelConfig   `toml:"model"`
	Output  OutputConfig  `toml:"output"`
}

type CompareConfig struct {
	PatchSize   int     `toml:"patch_size"`
	Threshold   float64 `toml:"threshold"`
	MinArea     int     `toml:"min_area"`
	Policy      string  `toml:"policy"`
	CloseKernel int     `toml:"close_kernel"`
}

type ModelConfig struct {
	Backend        string `toml:"backend"`
	Device         string `toml:"device"`
	Path           string `toml:"path"`
	ConfigPath     string `toml:"config_path"`
	BaseWidth      int    `toml:"base_width"`
	Activation     string `toml:"activation"`
	Seed           uint64 `toml:"seed"`
	Workers        int    `toml:"workers"`
	MemoryBudgetMB int    `toml:"memory_budget_mb"`
}

type OutputConfig struct {
	Dir             string  `toml:"dir"`
	Overlay         bool    `toml:"overlay"`
	OverlayStrength float64 `toml:"overlay_strength"`
	Tint            string  `toml:"tint"`
}

// ParameterRange bounds a numeric setting, inclusive on both ends.
type ParameterRange struct {
	Min float64
	Max float64
}

var ranges = map[string]ParameterRange{
	"patch_size":       {Min: 1, Max: 4096},
	"min_area":         {Min: 0, Max: 1 << 24},
	"close_kernel":     {Min: 0, Max: 101},
	"base_width":       {Min: 1, Max: 256},
	"workers":          {Min: 0, Max: 1024},
	"memory_budget_mb": {Min: 64, Max: 1 << 20},
	"overlay_strength": {Min: 0, Max: 1},
}

func Default() Config {
	opts := pipeline.DefaultOptions()
	return Config{
		LogLevel: "info",
		Compare: CompareConfig{
			PatchSize:   opts.PatchSize,
			Threshold:   opts.Threshold,
			MinArea:     opts.MinArea,
			Policy:      string(opts.Policy),
			CloseKernel: opts.CloseKernel,
		},
		Model: ModelConfig{
			Backend:        extractor.BackendUNet,
			Device:         extractor.DeviceCPU,
			BaseWidth:      64,
			Activation:     "sigmoid",
			Seed:           1,
			MemoryBudgetMB: int(extractor.DefaultMemoryBudget >> 20),
		},
		Output: OutputConfig{
			Dir:             ".",
			Overlay:         true,
			OverlayStrength: 0.6,
			Tint:            "#ff3b30",
		},
	}
}

// LoadFile overlays the TOML file at path onto cfg. Keys that do not map to
// a setting are rejected.
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%w: unknown config keys in %s: %s",
			errdefs.ErrInvalidParameter, path, strings.Join(keys, ", "))
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error

	if c.ImageA == "" || c.ImageB == "" {
		errs = append(errs, errors.New("both image paths are required"))
	}
	if err := c.Options().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := extractor.ParseActivation(c.Model.Activation); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.TintColor(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(c.Model.Backend) {
	case extractor.BackendUNet:
	case extractor.BackendDNN:
		if c.Model.Path == "" {
			errs = append(errs, fmt.Errorf("%w: the dnn backend needs a model path", errdefs.ErrInvalidParameter))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown backend %q", errdefs.ErrInvalidParameter, c.Model.Backend))
	}

	numeric := map[string]float64{
		"patch_size":       float64(c.Compare.PatchSize),
		"min_area":         float64(c.Compare.MinArea),
		"close_kernel":     float64(c.Compare.CloseKernel),
		"base_width":       float64(c.Model.BaseWidth),
		"workers":          float64(c.Model.Workers),
		"memory_budget_mb": float64(c.Model.MemoryBudgetMB),
		"overlay_strength": c.Output.OverlayStrength,
	}
	for name, v := range numeric {
		r := ranges[name]
		if v < r.Min || v > r.Max {
			errs = append(errs, fmt.Errorf("%w: %s must be within [%g, %g], got %g",
				errdefs.ErrInvalidParameter, name, r.Min, r.Max, v))
		}
	}

	return errors.Join(errs...)
}

func (c Config) Options() pipeline.Options {
	return pipeline.Options{
		PatchSize:   c.Compare.PatchSize,
		Threshold:   c.Compare.Threshold,
		MinArea:     c.Compare.MinArea,
		Policy:      pipeline.Policy(strings.ToLower(c.Compare.Policy)),
		CloseKernel: c.Compare.CloseKernel,
	}
}

func (c Config) Extractor() extractor.Config {
	return extractor.Config{
		Backend:      strings.ToLower(c.Model.Backend),
		Device:       strings.ToLower(c.Model.Device),
		ModelPath:    c.Model.Path,
		ConfigPath:   c.Model.ConfigPath,
		BaseWidth:    c.Model.BaseWidth,
		Activation:   c.Model.Activation,
		Seed:         c.Model.Seed,
		Workers:      c.Model.Workers,
		MemoryBudget: int64(c.Model.MemoryBudgetMB) << 20,
	}
}

func (c Config) TintColor() (colorful.Color, error) {
	tint, err := colorful.Hex(c.Output.Tint)
	if err != nil {
		return colorful.Color{}, fmt.Errorf("%w: tint %q: %v", errdefs.ErrInvalidParameter, c.Output.Tint, err)
	}
	return tint, nil
}
