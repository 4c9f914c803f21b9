// Package pipeline compares two co-registered images tile by tile and
// assembles a binary change heatmap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"changemap/internal/debug/timing"
	"changemap/internal/errdefs"
	"changemap/internal/extractor"
	"changemap/internal/logger"
	"changemap/internal/processing/chain"
	"changemap/internal/processing/filters"
	"changemap/internal/tensor"

	"gonum.org/v1/gonum/mat"
)

const (
	StageTile    = "tile"
	StageExtract = "extract"
	StageScore   = "score"
	StageStitch  = "stitch"
	StageFilter  = "filter"
)

type Options struct {
	PatchSize   int
	Threshold   float64
	MinArea     int
	Policy      Policy
	CloseKernel int
}

func DefaultOptions() Options {
	return Options{
		PatchSize: 128,
		Threshold: 0.1,
		MinArea:   50,
		Policy:    PolicyRaw,
	}
}

func (o Options) Validate() error {
	if o.PatchSize <= 0 {
		return fmt.Errorf("%w: %d", errdefs.ErrInvalidPatchSize, o.PatchSize)
	}
	if err := validateThreshold(o.Threshold); err != nil {
		return err
	}
	if _, err := ParsePolicy(string(o.Policy)); err != nil {
		return err
	}
	if o.CloseKernel < 0 {
		return fmt.Errorf("%w: close kernel must not be negative, got %d", errdefs.ErrInvalidParameter, o.CloseKernel)
	}
	return nil
}

func (o Options) params() map[string]interface{} {
	return map[string]interface{}{
		filters.ParamMinArea:     o.MinArea,
		filters.ParamCloseKernel: o.CloseKernel,
	}
}

// Result holds every intermediate a caller may want to persist. Full and
// Filtered cover Grid's extent, or the whole source when Empty is set.
type Result struct {
	Full     *mat.Dense
	Filtered *mat.Dense
	Grid     Grid
	TileMaps []*mat.Dense
	Summary  Summary
	Empty    bool

	// Timings holds the duration of each stage that ran, and Stages
	// lists them in execution order.
	Timings map[string]time.Duration
	Stages  []string
}

// Comparator runs comparisons with one shared extractor. It holds no
// per-comparison state and may be used from several goroutines.
type Comparator struct {
	extractor extractor.Extractor
	chain     *chain.ProcessingChain
	logger    logger.Logger
}

func NewComparator(ex extractor.Extractor, log logger.Logger) *Comparator {
	return &Comparator{
		extractor: ex,
		chain: chain.NewProcessingChain([]chain.ProcessingStep{
			filters.NewMorphologyFilter(),
			filters.NewComponentFilter(),
		}),
		logger: log,
	}
}

// Compare tiles a and b, runs both tile sets through the shared extractor,
// scores the response differences and stitches the tile heatmaps. Images
// too small for a single tile produce an all-zero result with Empty set.
func (c *Comparator) Compare(ctx context.Context, a, b *tensor.Tensor, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRaw
	}
	if err := c.checkInputs(a, b, opts); err != nil {
		return nil, err
	}

	tracker := timing.NewTracker()
	res := &Result{}
	defer func() {
		res.Timings = tracker.Totals()
		res.Stages = tracker.Operations()
	}()

	stageCtx := tracker.StartTiming(ctx, StageTile)
	tilesA, tilesB, grid, err := tilePair(a, b, opts.PatchSize)
	if err != nil {
		return nil, err
	}
	tileTime := tracker.EndTiming(stageCtx)
	res.Grid = grid

	if grid.Empty() {
		c.logger.Warning("Comparator", "no tile fits the image, returning an empty heatmap", map[string]interface{}{
			"patch_size": opts.PatchSize,
			"width":      a.W,
			"height":     a.H,
		})
		res.Empty = true
		res.Full = mat.NewDense(a.H, a.W, nil)
		res.Filtered = mat.NewDense(a.H, a.W, nil)
		res.Summary = summarize(nil, nil, res.Full, res.Filtered)
		return res, nil
	}

	c.logger.Debug("Comparator", "tiling completed", map[string]interface{}{
		"tiles":      grid.Len(),
		"patch_size": opts.PatchSize,
		"grid":       grid.String(),
		"duration":   tileTime.String(),
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageCtx = tracker.StartTiming(ctx, StageExtract)
	mapsA, mapsB, err := c.extractPair(ctx, tilesA, tilesB)
	if err != nil {
		return nil, err
	}
	tracker.EndTiming(stageCtx)

	stageCtx = tracker.StartTiming(ctx, StageScore)
	scorer, err := NewScorer(opts.Policy, opts.Threshold)
	if err != nil {
		return nil, err
	}
	diffs := make([]*mat.Dense, len(mapsA))
	res.TileMaps = make([]*mat.Dense, len(mapsA))
	for i := range mapsA {
		if diffs[i], err = Difference(mapsA[i], mapsB[i]); err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
		res.TileMaps[i] = scorer.Apply(diffs[i])
	}
	tracker.EndTiming(stageCtx)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageCtx = tracker.StartTiming(ctx, StageStitch)
	if res.Full, err = Stitch(res.TileMaps, grid); err != nil {
		return nil, err
	}
	tracker.EndTiming(stageCtx)

	stageCtx = tracker.StartTiming(ctx, StageFilter)
	if res.Filtered, err = c.chain.Execute(ctx, res.Full, opts.params()); err != nil {
		return nil, fmt.Errorf("post-processing: %w", err)
	}
	tracker.EndTiming(stageCtx)

	res.Summary = summarize(diffs, res.TileMaps, res.Full, res.Filtered)

	c.logger.Info("Comparator", "comparison completed", map[string]interface{}{
		"extractor":       c.extractor.Name(),
		"tiles":           res.Summary.Tiles,
		"changed_tiles":   res.Summary.ChangedTiles,
		"changed_pixels":  res.Summary.ChangedPixels,
		"retained_pixels": res.Summary.RetainedPixels,
		"steps":           c.chain.GetStepNames(),
		"duration":        totalDuration(tracker).String(),
	})
	return res, nil
}

func (c *Comparator) checkInputs(a, b *tensor.Tensor, opts Options) error {
	if a == nil || b == nil {
		return fmt.Errorf("%w: nil image", errdefs.ErrShapeMismatch)
	}
	if a.H != b.H || a.W != b.W {
		return fmt.Errorf("%w: images are %dx%d and %dx%d", errdefs.ErrShapeMismatch, a.W, a.H, b.W, b.H)
	}
	if a.H == 0 || a.W == 0 {
		return fmt.Errorf("%w: image has no pixels", errdefs.ErrShapeMismatch)
	}
	if m, ok := c.extractor.(interface{ MinInput() int }); ok && opts.PatchSize < m.MinInput() {
		return fmt.Errorf("%w: %s needs tiles of at least %d, got %d",
			errdefs.ErrInvalidPatchSize, c.extractor.Name(), m.MinInput(), opts.PatchSize)
	}
	return nil
}

// tilePair tiles both images concurrently. The grids are identical because
// the images share a shape.
func tilePair(a, b *tensor.Tensor, patchSize int) ([]Tile, []Tile, Grid, error) {
	var (
		wg             sync.WaitGroup
		tilesA, tilesB []Tile
		grid           Grid
		errA, errB     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tilesA, grid, errA = TileImage(a, patchSize)
	}()
	go func() {
		defer wg.Done()
		tilesB, _, errB = TileImage(b, patchSize)
	}()
	wg.Wait()

	if err := errors.Join(errA, errB); err != nil {
		return nil, nil, Grid{}, err
	}
	return tilesA, tilesB, grid, nil
}

func (c *Comparator) extractPair(ctx context.Context, tilesA, tilesB []Tile) ([]*mat.Dense, []*mat.Dense, error) {
	mapsA, err := c.extractor.Extract(ctx, Tensors(tilesA))
	if err != nil {
		return nil, nil, fmt.Errorf("extracting image A: %w", err)
	}
	mapsB, err := c.extractor.Extract(ctx, Tensors(tilesB))
	if err != nil {
		return nil, nil, fmt.Errorf("extracting image B: %w", err)
	}
	if len(mapsA) != len(tilesA) || len(mapsB) != len(tilesB) {
		return nil, nil, fmt.Errorf("%w: extractor returned %d and %d maps for %d tiles",
			errdefs.ErrShapeMismatch, len(mapsA), len(mapsB), len(tilesA))
	}
	return mapsA, mapsB, nil
}

func totalDuration(tracker *timing.Tracker) time.Duration {
	var total time.Duration
	for _, stage := range tracker.Operations() {
		total += tracker.GetTotalTime(stage)
	}
	return total
}
