package tensor

import (
	"fmt"

	"changemap/internal/errdefs"

	"gonum.org/v1/gonum/mat"
)

// Conv2D is a square-kernel convolution with "same" zero padding and stride 1.
// Weights are laid out (Out, In*K*K), matching the im2col column order.
type Conv2D struct {
	In, Out, K int
	Weights    []float64
	Bias       []float64
}

func NewConv2D(in, out, k int) *Conv2D {
	return &Conv2D{
		In:      in,
		Out:     out,
		K:       k,
		Weights: make([]float64, out*in*k*k),
		Bias:    make([]float64, out),
	}
}

// ColumnBudget caps the im2col scratch of one Forward call, in float64s.
// Output rows are unrolled in bands that fit it; a band is never thinner
// than one row.
const ColumnBudget = 1 << 20

// bandRows is the number of output rows unrolled per GEMM for width w.
func (c *Conv2D) bandRows(w int) int {
	return max(ColumnBudget/(c.In*c.K*c.K*w), 1)
}

// Forward applies the convolution. The output has the input's spatial size.
func (c *Conv2D) Forward(x *Tensor) (*Tensor, error) {
	if x.C != c.In {
		return nil, fmt.Errorf("%w: conv expects %d channels, got %d", errdefs.ErrShapeMismatch, c.In, x.C)
	}
	if c.K%2 == 0 {
		return nil, fmt.Errorf("%w: same padding needs an odd kernel, got %d", errdefs.ErrShapeMismatch, c.K)
	}

	taps := c.In * c.K * c.K
	band := min(c.bandRows(x.W), x.H)
	scratch := make([]float64, taps*band*x.W)
	w := mat.NewDense(c.Out, taps, c.Weights)

	out := New(c.Out, x.H, x.W)
	res := mat.NewDense(c.Out, x.H*x.W, out.Data)
	for y0 := 0; y0 < x.H; y0 += band {
		y1 := min(y0+band, x.H)
		n := (y1 - y0) * x.W
		cols := scratch[:taps*n]
		im2col(x, c.K, y0, y1, cols)

		dst := res.Slice(0, c.Out, y0*x.W, y1*x.W).(*mat.Dense)
		dst.Mul(w, mat.NewDense(taps, n, cols))
	}

	for o := 0; o < c.Out; o++ {
		if b := c.Bias[o]; b != 0 {
			plane := out.Plane(o)
			for i := range plane {
				plane[i] += b
			}
		}
	}
	return out, nil
}

// im2col unrolls the k x k neighbourhood of every pixel in rows [y0, y1)
// into a column of cols. Rows of cols are ordered (channel, ky, kx);
// out-of-bounds taps read zero.
func im2col(x *Tensor, k, y0, y1 int, cols []float64) {
	clear(cols)
	pad := k / 2
	n := (y1 - y0) * x.W
	row := 0
	for ch := 0; ch < x.C; ch++ {
		plane := x.Plane(ch)
		for ky := 0; ky < k; ky++ {
			for kx := 0; kx < k; kx++ {
				dst := cols[row*n : (row+1)*n]
				dy, dx := ky-pad, kx-pad
				for y := y0; y < y1; y++ {
					sy := y + dy
					if sy < 0 || sy >= x.H {
						continue
					}
					for xx := 0; xx < x.W; xx++ {
						sx := xx + dx
						if sx < 0 || sx >= x.W {
							continue
						}
						dst[(y-y0)*x.W+xx] = plane[sy*x.W+sx]
					}
				}
				row++
			}
		}
	}
}
