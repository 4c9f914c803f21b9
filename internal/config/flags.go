package config

import (
	"github.com/spf13/pflag"
)

// flagCopiers move a flag's value from the flag-bound Config onto the
// merged one.
var flagCopiers = map[string]func(dst, src *Config){
	"image-a":          func(d, s *Config) { d.ImageA = s.ImageA },
	"image-b":          func(d, s *Config) { d.ImageB = s.ImageB },
	"log-level":        func(d, s *Config) { d.LogLevel = s.LogLevel },
	"patch-size":       func(d, s *Config) { d.Compare.PatchSize = s.Compare.PatchSize },
	"threshold":        func(d, s *Config) { d.Compare.Threshold = s.Compare.Threshold },
	"min-area":         func(d, s *Config) { d.Compare.MinArea = s.Compare.MinArea },
	"policy":           func(d, s *Config) { d.Compare.Policy = s.Compare.Policy },
	"close-kernel":     func(d, s *Config) { d.Compare.CloseKernel = s.Compare.CloseKernel },
	"backend":          func(d, s *Config) { d.Model.Backend = s.Model.Backend },
	"device":           func(d, s *Config) { d.Model.Device = s.Model.Device },
	"model":            func(d, s *Config) { d.Model.Path = s.Model.Path },
	"model-config":     func(d, s *Config) { d.Model.ConfigPath = s.Model.ConfigPath },
	"base-width":       func(d, s *Config) { d.Model.BaseWidth = s.Model.BaseWidth },
	"activation":       func(d, s *Config) { d.Model.Activation = s.Model.Activation },
	"seed":             func(d, s *Config) { d.Model.Seed = s.Model.Seed },
	"workers":          func(d, s *Config) { d.Model.Workers = s.Model.Workers },
	"memory-budget-mb": func(d, s *Config) { d.Model.MemoryBudgetMB = s.Model.MemoryBudgetMB },
	"output":           func(d, s *Config) { d.Output.Dir = s.Output.Dir },
	"overlay":          func(d, s *Config) { d.Output.Overlay = s.Output.Overlay },
	"overlay-strength": func(d, s *Config) { d.Output.OverlayStrength = s.Output.OverlayStrength },
	"tint":             func(d, s *Config) { d.Output.Tint = s.Output.Tint },
}

func bindFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVarP(&c.ImageA, "image-a", "a", c.ImageA, "reference image")
	fs.StringVarP(&c.ImageB, "image-b", "b", c.ImageB, "image compared against the reference")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")

	fs.IntVarP(&c.Compare.PatchSize, "patch-size", "s", c.Compare.PatchSize, "tile edge in pixels")
	fs.Float64VarP(&c.Compare.Threshold, "threshold", "t", c.Compare.Threshold, "response difference counted as change")
	fs.IntVarP(&c.Compare.MinArea, "min-area", "m", c.Compare.MinArea, "smallest changed region kept, 0 keeps all")
	fs.StringVar(&c.Compare.Policy, "policy", c.Compare.Policy, "raw or minmax")
	fs.IntVar(&c.Compare.CloseKernel, "close-kernel", c.Compare.CloseKernel, "morphological closing kernel, 0 disables")

	fs.StringVar(&c.Model.Backend, "backend", c.Model.Backend, "unet or dnn")
	fs.StringVar(&c.Model.Device, "device", c.Model.Device, "cpu or cuda (dnn only)")
	fs.StringVar(&c.Model.Path, "model", c.Model.Path, "network weights for the dnn backend")
	fs.StringVar(&c.Model.ConfigPath, "model-config", c.Model.ConfigPath, "network description for the dnn backend")
	fs.IntVar(&c.Model.BaseWidth, "base-width", c.Model.BaseWidth, "channels of the first unet stage")
	fs.StringVar(&c.Model.Activation, "activation", c.Model.Activation, "sigmoid or tanh")
	fs.Uint64Var(&c.Model.Seed, "seed", c.Model.Seed, "weight initialisation seed")
	fs.IntVar(&c.Model.Workers, "workers", c.Model.Workers, "extraction goroutines, 0 uses every CPU")
	fs.IntVar(&c.Model.MemoryBudgetMB, "memory-budget-mb", c.Model.MemoryBudgetMB, "MiB the in-flight unet tiles may hold, fewer workers run when tiles exceed it")

	fs.StringVarP(&c.Output.Dir, "output", "o", c.Output.Dir, "directory for the heatmaps")
	fs.BoolVar(&c.Output.Overlay, "overlay", c.Output.Overlay, "write overlay.png")
	fs.Float64Var(&c.Output.OverlayStrength, "overlay-strength", c.Output.OverlayStrength, "tint opacity in [0,1]")
	fs.StringVar(&c.Output.Tint, "tint", c.Output.Tint, "overlay colour as #rrggbb")
}

// Load parses args into a Config. When --config names a TOML file its values
// replace the defaults, and flags given explicitly replace the file's.
func Load(fs *pflag.FlagSet, args []string) (Config, error) {
	flagged := Default()
	var path string

	bindFlags(fs, &flagged)
	fs.StringVar(&path, "config", "", "TOML file with run settings")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if path == "" {
		return flagged, nil
	}

	merged := Default()
	if err := LoadFile(path, &merged); err != nil {
		return Config{}, err
	}
	fs.Visit(func(f *pflag.Flag) {
		if copyFlag, ok := flagCopiers[f.Name]; ok {
			copyFlag(&merged, &flagged)
		}
	})
	return merged, nil
}
