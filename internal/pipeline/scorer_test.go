package pipeline

import (
	"errors"
	"math"
	"testing"

	"changemap/internal/errdefs"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestScoreThresholdIsStrict(t *testing.T) {
	a := mat.NewDense(1, 4, []float64{0.5, 0.5, 0.5, 0.9})
	b := mat.NewDense(1, 4, []float64{0.5, 0.25, 0.75, 0.1})

	out, err := Score(a, b, 0.25)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0, 1}, out.RawMatrix().Data)
}

func TestScoreIsSymmetric(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{0.1, 0.9, 0.4, 0.6})
	b := mat.NewDense(2, 2, []float64{0.7, 0.2, 0.45, 0.6})

	ab, err := Score(a, b, 0.3)
	require.NoError(t, err)
	ba, err := Score(b, a, 0.3)
	require.NoError(t, err)
	require.True(t, mat.Equal(ab, ba))
}

func TestRaisingThresholdNeverAddsPixels(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8})
	b := mat.NewDense(3, 3, nil)

	prev := 10
	for _, threshold := range []float64{0.05, 0.15, 0.35, 0.55, 0.95} {
		out, err := Score(a, b, threshold)
		require.NoError(t, err)
		n := countPositive(out)
		require.LessOrEqual(t, n, prev)
		prev = n
	}
}

func TestScoreRejectsShapeMismatch(t *testing.T) {
	_, err := Score(mat.NewDense(2, 2, nil), mat.NewDense(2, 3, nil), 0.1)
	require.True(t, errors.Is(err, errdefs.ErrShapeMismatch))
}

func TestNewScorerValidatesThreshold(t *testing.T) {
	for _, threshold := range []float64{0, -0.1, math.NaN(), math.Inf(1)} {
		_, err := NewScorer(PolicyRaw, threshold)
		require.True(t, errors.Is(err, errdefs.ErrInvalidParameter), "threshold %v", threshold)
	}
	_, err := NewScorer("mean", 0.1)
	require.True(t, errors.Is(err, errdefs.ErrInvalidParameter))
}

func TestMinMaxPolicyRescalesPerTile(t *testing.T) {
	s, err := NewScorer(PolicyMinMax, 0.6)
	require.NoError(t, err)

	// differences 0.01, 0.02, 0.03: tiny in absolute terms, spread across [0,1] after rescaling
	a := mat.NewDense(1, 3, []float64{0.51, 0.52, 0.53})
	b := mat.NewDense(1, 3, []float64{0.5, 0.5, 0.5})
	out, err := s.Score(a, b)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 1}, out.RawMatrix().Data)

	raw, err := Score(a, b, 0.5)
	require.NoError(t, err)
	require.Zero(t, countPositive(raw))
}

func TestMinMaxPolicyZeroRange(t *testing.T) {
	s, err := NewScorer(PolicyMinMax, 0.01)
	require.NoError(t, err)

	a := mat.NewDense(2, 2, []float64{0.9, 0.9, 0.9, 0.9})
	b := mat.NewDense(2, 2, []float64{0.1, 0.1, 0.1, 0.1})
	out, err := s.Score(a, b)
	require.NoError(t, err)
	require.Zero(t, countPositive(out))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyRaw, p)

	p, err = ParsePolicy("MinMax")
	require.NoError(t, err)
	require.Equal(t, PolicyMinMax, p)
}
