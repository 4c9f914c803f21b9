package tensor

import (
	"fmt"

	"changemap/internal/errdefs"

	"gonum.org/v1/gonum/mat"
)

// ConvTranspose2D is a 2x2, stride 2 transpose convolution: every input pixel
// expands into a 2x2 output block, doubling the spatial size. Weights are laid
// out (Out*4, In) with row index (o*2+ky)*2+kx.
type ConvTranspose2D struct {
	In, Out int
	Weights []float64
	Bias    []float64
}

func NewConvTranspose2D(in, out int) *ConvTranspose2D {
	return &ConvTranspose2D{
		In:      in,
		Out:     out,
		Weights: make([]float64, out*4*in),
		Bias:    make([]float64, out),
	}
}

func (c *ConvTranspose2D) Forward(x *Tensor) (*Tensor, error) {
	if x.C != c.In {
		return nil, fmt.Errorf("%w: transpose conv expects %d channels, got %d", errdefs.ErrShapeMismatch, c.In, x.C)
	}

	hw := x.H * x.W
	w := mat.NewDense(c.Out*4, c.In, c.Weights)
	in := mat.NewDense(c.In, hw, x.Data)
	var blocks mat.Dense
	blocks.Mul(w, in)

	out := New(c.Out, x.H*2, x.W*2)
	for o := 0; o < c.Out; o++ {
		for ky := 0; ky < 2; ky++ {
			for kx := 0; kx < 2; kx++ {
				src := blocks.RawRowView((o*2+ky)*2 + kx)
				for y := 0; y < x.H; y++ {
					for xx := 0; xx < x.W; xx++ {
						out.Set(o, 2*y+ky, 2*xx+kx, src[y*x.W+xx]+c.Bias[o])
					}
				}
			}
		}
	}
	return out, nil
}
