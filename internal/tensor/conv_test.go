package tensor

import (
	"math/rand/v2"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// directConv is the textbook same-padded convolution.
func directConv(c *Conv2D, x *Tensor) *Tensor {
	pad := c.K / 2
	out := New(c.Out, x.H, x.W)
	for o := 0; o < c.Out; o++ {
		for y := 0; y < x.H; y++ {
			for xx := 0; xx < x.W; xx++ {
				sum := c.Bias[o]
				for ch := 0; ch < c.In; ch++ {
					for ky := 0; ky < c.K; ky++ {
						for kx := 0; kx < c.K; kx++ {
							sy, sx := y+ky-pad, xx+kx-pad
							if sy < 0 || sy >= x.H || sx < 0 || sx >= x.W {
								continue
							}
							w := c.Weights[o*c.In*c.K*c.K+(ch*c.K+ky)*c.K+kx]
							sum += w * x.At(ch, sy, sx)
						}
					}
				}
				out.Set(o, y, xx, sum)
			}
		}
	}
	return out
}

func randomConv(rng *rand.Rand, in, out, k int) *Conv2D {
	c := NewConv2D(in, out, k)
	for i := range c.Weights {
		c.Weights[i] = rng.Float64()*2 - 1
	}
	for i := range c.Bias {
		c.Bias[i] = rng.Float64()
	}
	return c
}

func randomTensor(rng *rand.Rand, c, h, w int) *Tensor {
	t := New(c, h, w)
	for i := range t.Data {
		t.Data[i] = rng.Float64()
	}
	return t
}

func TestConv2DBandsMatchDirectConvolution(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	tests := []struct {
		name           string
		in, out, k     int
		h, w           int
		wantMultiBands bool
	}{
		{"single band", 3, 4, 3, 9, 7, false},
		{"one row per band", 128, 2, 3, 3, 1024, true},
		{"several rows per band", 64, 2, 3, 9, 512, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := randomConv(rng, tt.in, tt.out, tt.k)
			x := randomTensor(rng, tt.in, tt.h, tt.w)
			require.Equal(t, tt.wantMultiBands, conv.bandRows(tt.w) < tt.h)

			got, err := conv.Forward(x)
			require.NoError(t, err)
			want := directConv(conv, x)
			require.InDeltaSlice(t, want.Data, got.Data, 1e-9)
		})
	}
}

func TestConv2DScratchStaysWithinBudget(t *testing.T) {
	const size = 128
	conv := NewConv2D(128, 64, 3)
	x := New(128, size, size)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	out, err := conv.Forward(x)
	runtime.ReadMemStats(&after)
	require.NoError(t, err)

	outputBytes := uint64(len(out.Data)) * 8
	scratchBytes := uint64(ColumnBudget) * 8
	allocated := after.TotalAlloc - before.TotalAlloc
	// a full unroll would be 128*9*128*128 float64s, about 151 MB
	require.Less(t, allocated, outputBytes+scratchBytes+4<<20,
		"allocated %d MB", allocated>>20)
}
