// Package extractor maps image tiles to single-channel response maps. One
// Extractor is shared by both sides of a comparison so that both images are
// seen through identical weights.
package extractor

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"changemap/internal/errdefs"
	"changemap/internal/logger"
	"changemap/internal/tensor"

	"gonum.org/v1/gonum/mat"
)

// Extractor produces one response map per tile, in input order.
// Implementations hold no per-call state and are safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, tiles []*tensor.Tensor) ([]*mat.Dense, error)
	Name() string
	Close() error
}

const (
	BackendUNet = "unet"
	BackendDNN  = "dnn"

	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// Config selects and parameterises a backend.
type Config struct {
	Backend    string
	Device     string
	ModelPath  string // dnn only
	ConfigPath string // dnn only, optional
	BaseWidth  int
	Activation string
	Seed       uint64
	Workers    int
	// MemoryBudget bounds the bytes in-flight unet tiles may hold.
	// Zero or less selects DefaultMemoryBudget.
	MemoryBudget int64
}

// New returns the extractor described by cfg.
func New(cfg Config, log logger.Logger) (Extractor, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MemoryBudget <= 0 {
		cfg.MemoryBudget = DefaultMemoryBudget
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendUNet, "":
		if !strings.EqualFold(cfg.Device, DeviceCPU) && cfg.Device != "" {
			return nil, fmt.Errorf("%w: the unet backend only runs on cpu, got %q",
				errdefs.ErrInvalidParameter, cfg.Device)
		}
		act, err := ParseActivation(cfg.Activation)
		if err != nil {
			return nil, err
		}
		net, err := NewUNet(cfg.BaseWidth, act, cfg.Seed)
		if err != nil {
			return nil, err
		}
		net.workers = cfg.Workers
		net.memoryBudget = cfg.MemoryBudget
		net.logger = log
		log.Info("Extractor", "unet initialised", map[string]interface{}{
			"base_width": cfg.BaseWidth,
			"activation": cfg.Activation,
			"seed":       cfg.Seed,
			"workers":    cfg.Workers,
			"budget_mb":  cfg.MemoryBudget >> 20,
		})
		return net, nil
	case BackendDNN:
		return NewDNN(cfg.ModelPath, cfg.ConfigPath, cfg.Device, log)
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", errdefs.ErrInvalidParameter, cfg.Backend)
	}
}

// ParseActivation maps an activation name to its function. Empty selects sigmoid.
func ParseActivation(name string) (tensor.Activation, error) {
	switch strings.ToLower(name) {
	case "", "sigmoid":
		return tensor.Sigmoid, nil
	case "tanh":
		return tensor.Tanh, nil
	default:
		return nil, fmt.Errorf("%w: unsupported activation %q", errdefs.ErrInvalidParameter, name)
	}
}

// CheckBatch verifies that every tile in a batch has the same shape.
func CheckBatch(tiles []*tensor.Tensor) error {
	for i, t := range tiles {
		if t == nil {
			return fmt.Errorf("%w: tile %d is nil", errdefs.ErrShapeMismatch, i)
		}
		if !t.SameShape(tiles[0]) {
			return fmt.Errorf("%w: tile %d is %dx%dx%d, tile 0 is %dx%dx%d", errdefs.ErrShapeMismatch,
				i, t.C, t.H, t.W, tiles[0].C, tiles[0].H, tiles[0].W)
		}
	}
	return nil
}

// mapOrdered runs fn over every tile on a bounded pool of workers and stores
// each result at its tile's index. The first error stops the remaining work.
func mapOrdered(ctx context.Context, workers int, tiles []*tensor.Tensor,
	fn func(*tensor.Tensor) (*mat.Dense, error)) ([]*mat.Dense, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if workers > len(tiles) {
		workers = len(tiles)
	}

	results := make([]*mat.Dense, len(tiles))
	jobs := make(chan int)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				out, err := fn(tiles[idx])
				if err != nil {
					fail(fmt.Errorf("tile %d: %w", idx, err))
					continue
				}
				results[idx] = out
			}
		}()
	}

dispatch:
	for i := range tiles {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
