package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"changemap/internal/config"
	"changemap/internal/extractor"
	"changemap/internal/imaging"
	"changemap/internal/logger"
	"changemap/internal/pipeline"
	"changemap/internal/report"
	"changemap/internal/shutdown"
	"changemap/internal/tensor"

	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("changemap", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: changemap -a before.png -b after.png [flags]\n\n")
		fs.PrintDefaults()
	}

	cfg, err := config.Load(fs, os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Comparison error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logger.NewConsoleLogger(level)

	shutdownMgr := shutdown.NewManager(log)
	shutdownMgr.Listen()
	defer shutdownMgr.Shutdown()
	ctx := shutdownMgr.Context()

	loader := imaging.NewLoader(log)
	a, infoA, err := loader.Load(cfg.ImageA)
	if err != nil {
		return fmt.Errorf("loading %s: %w", cfg.ImageA, err)
	}
	b, infoB, err := loader.Load(cfg.ImageB)
	if err != nil {
		return fmt.Errorf("loading %s: %w", cfg.ImageB, err)
	}
	log.Debug("Main", "images loaded", map[string]interface{}{
		"a": fmt.Sprintf("%dx%d %s", infoA.Width, infoA.Height, infoA.Decoder),
		"b": fmt.Sprintf("%dx%d %s", infoB.Width, infoB.Height, infoB.Decoder),
	})

	ex, err := extractor.New(cfg.Extractor(), log)
	if err != nil {
		return err
	}
	shutdownMgr.Register(ex)

	comparator := pipeline.NewComparator(ex, log)
	sp := report.StartSpinner(os.Stderr, fmt.Sprintf("comparing with %s", ex.Name()))
	res, err := comparator.Compare(ctx, a, b, cfg.Options())
	if err != nil {
		sp.Stop("comparison failed")
		return err
	}
	sp.Stop("comparison complete")

	outputs, err := save(cfg, log, b, res)
	if err != nil {
		return err
	}

	fmt.Print(report.Summary(res, outputs))
	return nil
}

func save(cfg config.Config, log logger.Logger, base *tensor.Tensor, res *pipeline.Result) ([]string, error) {
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	saver := imaging.NewSaver(log)
	full := filepath.Join(cfg.Output.Dir, "heatmap.png")
	filtered := filepath.Join(cfg.Output.Dir, "heatmap_filtered.png")

	if err := saver.SaveHeatmap(full, res.Full); err != nil {
		return nil, err
	}
	if err := saver.SaveHeatmap(filtered, res.Filtered); err != nil {
		return nil, err
	}
	outputs := []string{full, filtered}

	if cfg.Output.Overlay {
		tint, err := cfg.TintColor()
		if err != nil {
			return nil, err
		}
		overlay := filepath.Join(cfg.Output.Dir, "overlay.png")
		if err := saver.SaveOverlay(overlay, base, res.Filtered, tint, cfg.Output.OverlayStrength); err != nil {
			return nil, err
		}
		outputs = append(outputs, overlay)
	}
	return outputs, nil
}
