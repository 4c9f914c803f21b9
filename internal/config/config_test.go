package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"changemap/internal/errdefs"
	"changemap/internal/extractor"
	"changemap/internal/pipeline"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func withImages(c Config) Config {
	c.ImageA, c.ImageB = "a.png", "b.png"
	return c
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := withImages(Default())
	require.NoError(t, cfg.Validate())
	require.Equal(t, pipeline.DefaultOptions(), cfg.Options())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Compare.Threshold = 0 }},
		{"unknown policy", func(c *Config) { c.Compare.Policy = "median" }},
		{"unknown backend", func(c *Config) { c.Model.Backend = "onnxruntime" }},
		{"dnn without model", func(c *Config) { c.Model.Backend = "dnn" }},
		{"bad activation", func(c *Config) { c.Model.Activation = "relu" }},
		{"strength out of range", func(c *Config) { c.Output.OverlayStrength = 1.5 }},
		{"negative min area", func(c *Config) { c.Compare.MinArea = -1 }},
		{"bad tint", func(c *Config) { c.Output.Tint = "red" }},
		{"memory budget too small", func(c *Config) { c.Model.MemoryBudgetMB = 8 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := withImages(Default())
			tt.mutate(&cfg)
			require.True(t, errors.Is(cfg.Validate(), errdefs.ErrInvalidParameter))
		})
	}

	require.Error(t, Default().Validate(), "missing images")
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
image_a = "before.png"
image_b = "after.png"

[compare]
patch_size = 64
policy = "minmax"

[model]
seed = 42
`)
	cfg := Default()
	require.NoError(t, LoadFile(path, &cfg))
	require.Equal(t, "before.png", cfg.ImageA)
	require.Equal(t, 64, cfg.Compare.PatchSize)
	require.Equal(t, "minmax", cfg.Compare.Policy)
	require.Equal(t, uint64(42), cfg.Model.Seed)
	require.Equal(t, Default().Compare.Threshold, cfg.Compare.Threshold)
}

func TestExtractorMemoryBudgetInBytes(t *testing.T) {
	cfg := Default()
	require.Equal(t, extractor.DefaultMemoryBudget, cfg.Extractor().MemoryBudget)

	cfg.Model.MemoryBudgetMB = 512
	require.Equal(t, int64(512<<20), cfg.Extractor().MemoryBudget)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "[compare]\npatchsize = 64\n")
	cfg := Default()
	require.True(t, errors.Is(LoadFile(path, &cfg), errdefs.ErrInvalidParameter))
}

func TestLoadFlagsOnly(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := Load(fs, []string{"-a", "x.png", "-b", "y.png", "-s", "32", "--policy", "minmax"})
	require.NoError(t, err)
	require.Equal(t, "x.png", cfg.ImageA)
	require.Equal(t, 32, cfg.Compare.PatchSize)
	require.Equal(t, pipeline.PolicyMinMax, cfg.Options().Policy)
	require.Equal(t, Default().Compare.MinArea, cfg.Compare.MinArea)
}

func TestLoadChangedFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, `
image_a = "before.png"
image_b = "after.png"

[compare]
patch_size = 64
min_area = 5
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := Load(fs, []string{"--config", path, "-m", "20"})
	require.NoError(t, err)
	require.Equal(t, 64, cfg.Compare.PatchSize)
	require.Equal(t, 20, cfg.Compare.MinArea)
	require.Equal(t, "after.png", cfg.ImageB)
	require.NoError(t, cfg.Validate())
}

func TestEveryFlagHasACopier(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg := Default()
	bindFlags(fs, &cfg)
	fs.VisitAll(func(f *pflag.Flag) {
		_, ok := flagCopiers[f.Name]
		require.True(t, ok, f.Name)
	})
}
