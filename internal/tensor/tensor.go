// Package tensor implements the channel-major float tensors and the small set of
// network primitives (convolution, max pooling, transpose convolution, padding and
// concatenation) the feature extractor is built from.
package tensor

import (
	"fmt"

	"changemap/internal/errdefs"
)

// Tensor is a single sample laid out as (C, H, W).
type Tensor struct {
	C, H, W int
	Data    []float64
}

// New allocates a zeroed tensor.
func New(c, h, w int) *Tensor {
	return &Tensor{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

// FromData wraps data without copying. len(data) must equal c*h*w.
func FromData(c, h, w int, data []float64) (*Tensor, error) {
	if c <= 0 || h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%dx%d", errdefs.ErrShapeMismatch, c, h, w)
	}
	if len(data) != c*h*w {
		return nil, fmt.Errorf("%w: %d values for %dx%dx%d", errdefs.ErrShapeMismatch, len(data), c, h, w)
	}
	return &Tensor{C: c, H: h, W: w, Data: data}, nil
}

func (t *Tensor) index(c, y, x int) int {
	return (c*t.H+y)*t.W + x
}

func (t *Tensor) At(c, y, x int) float64 {
	return t.Data[t.index(c, y, x)]
}

func (t *Tensor) Set(c, y, x int, v float64) {
	t.Data[t.index(c, y, x)] = v
}

// Plane returns channel c as a slice aliasing the tensor's storage.
func (t *Tensor) Plane(c int) []float64 {
	n := t.H * t.W
	return t.Data[c*n : (c+1)*n]
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.C == o.C && t.H == o.H && t.W == o.W
}

func (t *Tensor) Clone() *Tensor {
	out := New(t.C, t.H, t.W)
	copy(out.Data, t.Data)
	return out
}

// Crop copies the window of size h x w at (y, x) of the first c channels.
func (t *Tensor) Crop(c, y, x, h, w int) (*Tensor, error) {
	if c > t.C || y < 0 || x < 0 || y+h > t.H || x+w > t.W || h <= 0 || w <= 0 || c <= 0 {
		return nil, fmt.Errorf("%w: crop %dx%dx%d at (%d,%d) of %dx%dx%d",
			errdefs.ErrShapeMismatch, c, h, w, y, x, t.C, t.H, t.W)
	}
	out := New(c, h, w)
	for ch := 0; ch < c; ch++ {
		for row := 0; row < h; row++ {
			src := t.index(ch, y+row, x)
			copy(out.Data[out.index(ch, row, 0):out.index(ch, row, 0)+w], t.Data[src:src+w])
		}
	}
	return out, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%dx%dx%d)", t.C, t.H, t.W)
}
