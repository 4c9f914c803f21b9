package pipeline

import (
	"fmt"

	"changemap/internal/errdefs"
	"changemap/internal/tensor"
)

const tileChannels = 3

// Position locates a tile by its row-major index and the pixel offset of its
// top-left corner.
type Position struct {
	Index int
	Row   int
	Col   int
}

// Grid describes the tiles that fit fully inside a source image. Trailing
// pixels that do not fill a whole tile fall outside the grid.
type Grid struct {
	PatchSize    int
	Rows         int
	Cols         int
	SourceHeight int
	SourceWidth  int
}

func NewGrid(height, width, patchSize int) (Grid, error) {
	if patchSize <= 0 {
		return Grid{}, fmt.Errorf("%w: %d", errdefs.ErrInvalidPatchSize, patchSize)
	}
	if height < 0 || width < 0 {
		return Grid{}, fmt.Errorf("%w: negative image size %dx%d", errdefs.ErrShapeMismatch, width, height)
	}
	return Grid{
		PatchSize:    patchSize,
		Rows:         height / patchSize,
		Cols:         width / patchSize,
		SourceHeight: height,
		SourceWidth:  width,
	}, nil
}

func (g Grid) Len() int {
	return g.Rows * g.Cols
}

func (g Grid) Empty() bool {
	return g.Len() == 0
}

// Height is the number of source rows covered by tiles.
func (g Grid) Height() int {
	return g.Rows * g.PatchSize
}

// Width is the number of source columns covered by tiles.
func (g Grid) Width() int {
	return g.Cols * g.PatchSize
}

func (g Grid) Position(i int) Position {
	return Position{
		Index: i,
		Row:   (i / g.Cols) * g.PatchSize,
		Col:   (i % g.Cols) * g.PatchSize,
	}
}

func (g Grid) Positions() []Position {
	positions := make([]Position, g.Len())
	for i := range positions {
		positions[i] = g.Position(i)
	}
	return positions
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d tiles of %d (%dx%d of %dx%d)",
		g.Cols, g.Rows, g.PatchSize, g.Width(), g.Height(), g.SourceWidth, g.SourceHeight)
}

// Tile is a (3, P, P) copy of the source at Position.
type Tile struct {
	Position
	Data *tensor.Tensor
}

// TileImage cuts img into non-overlapping patchSize tiles in row-major
// order. Only the first three channels are kept. An image smaller than one
// tile yields an empty slice and an empty grid.
func TileImage(img *tensor.Tensor, patchSize int) ([]Tile, Grid, error) {
	if img == nil {
		return nil, Grid{}, fmt.Errorf("%w: nil image", errdefs.ErrShapeMismatch)
	}
	if img.C < tileChannels {
		return nil, Grid{}, fmt.Errorf("%w: image has %d channels, want at least %d",
			errdefs.ErrUnsupportedEncoding, img.C, tileChannels)
	}

	grid, err := NewGrid(img.H, img.W, patchSize)
	if err != nil {
		return nil, Grid{}, err
	}

	tiles := make([]Tile, 0, grid.Len())
	for _, pos := range grid.Positions() {
		data, err := img.Crop(tileChannels, pos.Row, pos.Col, patchSize, patchSize)
		if err != nil {
			return nil, Grid{}, fmt.Errorf("tile %d: %w", pos.Index, err)
		}
		tiles = append(tiles, Tile{Position: pos, Data: data})
	}
	return tiles, grid, nil
}

// Tensors returns the tile data in tile order.
func Tensors(tiles []Tile) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(tiles))
	for i, t := range tiles {
		out[i] = t.Data
	}
	return out
}
