package pipeline

import (
	"fmt"
	"image"
	"math"

	"changemap/internal/errdefs"
	"changemap/internal/opencv/bridge"
	"changemap/internal/opencv/safe"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Stitch writes tile i of tileMaps at grid position i of a zeroed map the
// size of the grid's covered extent. Tiles that are not PatchSize square are
// resampled bicubically and clamped to [0,1].
func Stitch(tileMaps []*mat.Dense, grid Grid) (*mat.Dense, error) {
	if len(tileMaps) != grid.Len() {
		return nil, fmt.Errorf("%w: %d tile maps for a grid of %d",
			errdefs.ErrShapeMismatch, len(tileMaps), grid.Len())
	}
	if grid.Empty() {
		return nil, errdefs.ErrEmptyTileGrid
	}

	p := grid.PatchSize
	full := mat.NewDense(grid.Height(), grid.Width(), nil)
	for _, pos := range grid.Positions() {
		tile := tileMaps[pos.Index]
		if tile == nil {
			return nil, fmt.Errorf("%w: tile map %d is nil", errdefs.ErrShapeMismatch, pos.Index)
		}

		if r, c := tile.Dims(); r != p || c != p {
			resized, err := resizeCubic(tile, p)
			if err != nil {
				return nil, fmt.Errorf("tile %d: %w", pos.Index, err)
			}
			tile = resized
		}

		dst := full.Slice(pos.Row, pos.Row+p, pos.Col, pos.Col+p).(*mat.Dense)
		dst.Copy(tile)
	}
	return full, nil
}

func resizeCubic(tile *mat.Dense, size int) (*mat.Dense, error) {
	src, err := bridge.DenseToFloatMat(tile, "stitch_tile")
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	gocv.Resize(src.GetMat(), &dst, image.Point{X: size, Y: size}, 0, 0, gocv.InterpolationCubic)

	resized, err := safe.Adopt(dst, "stitch_resized")
	if err != nil {
		return nil, fmt.Errorf("resizing: %w", err)
	}
	defer resized.Close()

	out, err := bridge.FloatMatToDense(resized)
	if err != nil {
		return nil, err
	}
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Max(0, math.Min(1, v))
	}, out)
	return out, nil
}
