package pipeline

import (
	"fmt"
	"math"
	"strings"

	"changemap/internal/errdefs"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Policy selects how a tile's difference map is turned into a binary map.
type Policy string

const (
	// PolicyRaw thresholds the absolute difference as is.
	PolicyRaw Policy = "raw"
	// PolicyMinMax rescales each tile's difference to [0,1] by its own
	// range before thresholding. A tile with zero range scores all zero.
	PolicyMinMax Policy = "minmax"
)

func ParsePolicy(name string) (Policy, error) {
	switch Policy(strings.ToLower(name)) {
	case PolicyRaw, "":
		return PolicyRaw, nil
	case PolicyMinMax:
		return PolicyMinMax, nil
	default:
		return "", fmt.Errorf("%w: unknown policy %q", errdefs.ErrInvalidParameter, name)
	}
}

func validateThreshold(threshold float64) error {
	if !(threshold > 0) || math.IsInf(threshold, 0) {
		return fmt.Errorf("%w: threshold must be positive and finite, got %v",
			errdefs.ErrInvalidParameter, threshold)
	}
	return nil
}

// Scorer binarizes per-tile response differences with one policy and one
// threshold for a whole comparison.
type Scorer struct {
	policy    Policy
	threshold float64
}

func NewScorer(policy Policy, threshold float64) (*Scorer, error) {
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if err := validateThreshold(threshold); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = PolicyRaw
	}
	return &Scorer{policy: policy, threshold: threshold}, nil
}

func (s *Scorer) Policy() Policy {
	return s.policy
}

func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score returns the binary change map of two response maps.
func (s *Scorer) Score(a, b *mat.Dense) (*mat.Dense, error) {
	diff, err := Difference(a, b)
	if err != nil {
		return nil, err
	}
	return s.Apply(diff), nil
}

// Apply binarizes a difference map produced by Difference.
func (s *Scorer) Apply(diff *mat.Dense) *mat.Dense {
	if s.policy == PolicyMinMax {
		diff = rescale(diff)
	}
	return Binarize(diff, s.threshold)
}

// Score binarizes |a-b| against threshold with the raw policy.
func Score(a, b *mat.Dense, threshold float64) (*mat.Dense, error) {
	s, err := NewScorer(PolicyRaw, threshold)
	if err != nil {
		return nil, err
	}
	return s.Score(a, b)
}

// Difference is the element-wise absolute difference of two equally sized maps.
func Difference(a, b *mat.Dense) (*mat.Dense, error) {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return nil, fmt.Errorf("%w: response maps are %dx%d and %dx%d",
			errdefs.ErrShapeMismatch, ac, ar, bc, br)
	}

	diff := mat.NewDense(ar, ac, nil)
	diff.Sub(a, b)
	diff.Apply(func(_, _ int, v float64) float64 { return math.Abs(v) }, diff)
	return diff, nil
}

// Binarize maps values strictly above threshold to 1 and everything else to 0.
func Binarize(d *mat.Dense, threshold float64) *mat.Dense {
	r, c := d.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if v > threshold {
			return 1
		}
		return 0
	}, d)
	return out
}

func rescale(d *mat.Dense) *mat.Dense {
	r, c := d.Dims()
	out := mat.NewDense(r, c, nil)
	values := mat.DenseCopyOf(d).RawMatrix().Data

	lo, hi := floats.Min(values), floats.Max(values)
	span := hi - lo
	if span == 0 {
		return out
	}
	floats.AddConst(-lo, values)
	floats.Scale(1/span, values)
	copy(out.RawMatrix().Data, values)
	return out
}
