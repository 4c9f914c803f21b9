package tensor

import (
	"fmt"
	"math"

	"changemap/internal/errdefs"
)

// MaxPool2 downsamples by 2 with a 2x2 window. Odd trailing rows and columns are dropped.
func MaxPool2(x *Tensor) (*Tensor, error) {
	h, w := x.H/2, x.W/2
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("%w: cannot pool %dx%d", errdefs.ErrShapeMismatch, x.H, x.W)
	}
	out := New(x.C, h, w)
	for c := 0; c < x.C; c++ {
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				m := x.At(c, 2*y, 2*xx)
				m = math.Max(m, x.At(c, 2*y, 2*xx+1))
				m = math.Max(m, x.At(c, 2*y+1, 2*xx))
				m = math.Max(m, x.At(c, 2*y+1, 2*xx+1))
				out.Set(c, y, xx, m)
			}
		}
	}
	return out, nil
}

// Padding is the number of zero rows and columns added on each side.
type Padding struct {
	Top, Bottom, Left, Right int
}

// Deficit computes the padding that grows x to h x w, splitting each deficit
// with the floor on the leading side and the ceiling on the trailing side.
func Deficit(x *Tensor, h, w int) (Padding, error) {
	dh, dw := h-x.H, w-x.W
	if dh < 0 || dw < 0 {
		return Padding{}, fmt.Errorf("%w: %dx%d is larger than target %dx%d", errdefs.ErrShapeMismatch, x.H, x.W, h, w)
	}
	return Padding{Top: dh / 2, Bottom: dh - dh/2, Left: dw / 2, Right: dw - dw/2}, nil
}

// Pad returns x surrounded by zeros.
func Pad(x *Tensor, p Padding) *Tensor {
	if p == (Padding{}) {
		return x
	}
	out := New(x.C, x.H+p.Top+p.Bottom, x.W+p.Left+p.Right)
	for c := 0; c < x.C; c++ {
		for y := 0; y < x.H; y++ {
			src := x.index(c, y, 0)
			dst := out.index(c, y+p.Top, p.Left)
			copy(out.Data[dst:dst+x.W], x.Data[src:src+x.W])
		}
	}
	return out
}

// Concat stacks tensors of equal spatial size along the channel axis.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", errdefs.ErrShapeMismatch)
	}
	h, w := ts[0].H, ts[0].W
	channels := 0
	for _, t := range ts {
		if t.H != h || t.W != w {
			return nil, fmt.Errorf("%w: concat %dx%d with %dx%d", errdefs.ErrShapeMismatch, h, w, t.H, t.W)
		}
		channels += t.C
	}
	out := New(channels, h, w)
	offset := 0
	for _, t := range ts {
		copy(out.Data[offset:], t.Data)
		offset += len(t.Data)
	}
	return out, nil
}

// Activation is an elementwise nonlinearity applied in place.
type Activation func(float64) float64

func Sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func Tanh(v float64) float64 {
	return math.Tanh(v)
}

// Apply runs fn over every element of x in place and returns x.
func (t *Tensor) Apply(fn Activation) *Tensor {
	for i, v := range t.Data {
		t.Data[i] = fn(v)
	}
	return t
}
