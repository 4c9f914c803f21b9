package pipeline

import (
	"errors"
	"testing"

	"changemap/internal/errdefs"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func constantMap(size int, v float64) *mat.Dense {
	m := mat.NewDense(size, size, nil)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			m.Set(i, j, v)
		}
	}
	return m
}

func TestStitchPlacesTilesAtGridPositions(t *testing.T) {
	grid, err := NewGrid(25, 35, 10)
	require.NoError(t, err)
	require.Equal(t, 6, grid.Len())

	tiles := make([]*mat.Dense, grid.Len())
	for i := range tiles {
		tiles[i] = constantMap(10, float64(i+1)/10)
	}

	full, err := Stitch(tiles, grid)
	require.NoError(t, err)
	r, c := full.Dims()
	require.Equal(t, 20, r)
	require.Equal(t, 30, c)

	for _, pos := range grid.Positions() {
		want := float64(pos.Index+1) / 10
		require.Equal(t, want, full.At(pos.Row, pos.Col))
		require.Equal(t, want, full.At(pos.Row+9, pos.Col+9))
	}
}

func TestStitchResamplesOffSizeTiles(t *testing.T) {
	grid, err := NewGrid(16, 32, 16)
	require.NoError(t, err)

	tiles := []*mat.Dense{constantMap(8, 1), constantMap(4, 0)}
	full, err := Stitch(tiles, grid)
	require.NoError(t, err)

	for r := 0; r < 16; r++ {
		for c := 0; c < 16; c++ {
			require.InDelta(t, 1, full.At(r, c), 1e-5)
			require.InDelta(t, 0, full.At(r, c+16), 1e-5)
		}
	}
}

func TestStitchClampsResampledValues(t *testing.T) {
	grid, err := NewGrid(16, 16, 16)
	require.NoError(t, err)

	// a sharp checkerboard makes bicubic interpolation overshoot
	tile := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			tile.Set(i, j, float64((i+j)%2))
		}
	}

	full, err := Stitch([]*mat.Dense{tile}, grid)
	require.NoError(t, err)
	for _, v := range full.RawMatrix().Data {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}
}

func TestStitchRejectsWrongTileCount(t *testing.T) {
	grid, err := NewGrid(20, 20, 10)
	require.NoError(t, err)

	_, err = Stitch([]*mat.Dense{constantMap(10, 0)}, grid)
	require.True(t, errors.Is(err, errdefs.ErrShapeMismatch))
}

func TestStitchEmptyGrid(t *testing.T) {
	grid, err := NewGrid(5, 5, 10)
	require.NoError(t, err)

	_, err = Stitch(nil, grid)
	require.True(t, errors.Is(err, errdefs.ErrEmptyTileGrid))
}
