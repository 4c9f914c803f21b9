package filters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// fill sets the rectangle [r0,r1) x [c0,c1) to v.
func fill(h *mat.Dense, r0, c0, r1, c1 int, v float64) {
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			h.Set(r, c, v)
		}
	}
}

func count(h *mat.Dense) int {
	n := 0
	for _, v := range h.RawMatrix().Data {
		if v > 0 {
			n++
		}
	}
	return n
}

func TestFilterComponentsDropsSmallRegions(t *testing.T) {
	h := mat.NewDense(30, 30, nil)
	fill(h, 5, 5, 15, 15, 1) // 100 pixels
	h.Set(25, 25, 1)         // single pixel noise
	fill(h, 20, 0, 22, 3, 1) // 6 pixels

	out, err := FilterComponents(h, 50)
	require.NoError(t, err)
	require.Equal(t, 100, count(out))
	require.Equal(t, 1.0, out.At(10, 10))
	require.Equal(t, 0.0, out.At(25, 25))
	require.Equal(t, 0.0, out.At(21, 1))
}

func TestFilterComponentsUsesEightConnectivity(t *testing.T) {
	h := mat.NewDense(5, 5, nil)
	// a diagonal line is one component under 8-connectivity
	for i := 0; i < 5; i++ {
		h.Set(i, i, 1)
	}

	out, err := FilterComponents(h, 5)
	require.NoError(t, err)
	require.Equal(t, 5, count(out))
}

func TestFilterComponentsKeepsValues(t *testing.T) {
	h := mat.NewDense(3, 3, nil)
	fill(h, 0, 0, 3, 3, 0.4)

	out, err := FilterComponents(h, 9)
	require.NoError(t, err)
	require.True(t, mat.Equal(h, out))
}

func TestFilterComponentsNonPositiveAreaIsIdentity(t *testing.T) {
	h := mat.NewDense(4, 4, nil)
	h.Set(1, 1, 1)
	h.Set(3, 0, 1)

	for _, area := range []int{0, -3} {
		out, err := FilterComponents(h, area)
		require.NoError(t, err)
		require.True(t, mat.Equal(h, out))
		require.NotSame(t, h, out)
	}
}

func TestFilterComponentsIsIdempotent(t *testing.T) {
	h := mat.NewDense(20, 20, nil)
	fill(h, 0, 0, 4, 4, 1)
	fill(h, 10, 10, 13, 12, 1)
	h.Set(18, 2, 1)
	h.Set(17, 3, 1)

	for _, area := range []int{1, 2, 6, 16, 17} {
		once, err := FilterComponents(h, area)
		require.NoError(t, err)
		twice, err := FilterComponents(once, area)
		require.NoError(t, err)
		require.True(t, mat.Equal(once, twice), "area %d", area)
	}
}

func TestComponentFilterStep(t *testing.T) {
	f := NewComponentFilter()
	require.False(t, f.ShouldExecute(nil))
	require.False(t, f.ShouldExecute(map[string]interface{}{ParamMinArea: 0}))
	require.True(t, f.ShouldExecute(map[string]interface{}{ParamMinArea: 3}))

	h := mat.NewDense(3, 3, nil)
	h.Set(1, 1, 1)
	out, err := f.Apply(context.Background(), h, map[string]interface{}{ParamMinArea: 2})
	require.NoError(t, err)
	require.Zero(t, count(out))
}

func TestMorphologyFilterClosesGaps(t *testing.T) {
	h := mat.NewDense(9, 9, nil)
	fill(h, 2, 2, 7, 4, 0.5)
	fill(h, 2, 5, 7, 7, 0.5) // one column gap at c=4

	m := NewMorphologyFilter()
	require.False(t, m.ShouldExecute(map[string]interface{}{ParamCloseKernel: 0}))
	require.True(t, m.ShouldExecute(map[string]interface{}{ParamCloseKernel: 3}))

	out, err := m.Apply(context.Background(), h, map[string]interface{}{ParamCloseKernel: 3})
	require.NoError(t, err)
	require.Equal(t, 1.0, out.At(4, 4))
	require.Equal(t, 0.5, out.At(4, 3))
	require.Equal(t, 0.0, out.At(0, 0))
}
