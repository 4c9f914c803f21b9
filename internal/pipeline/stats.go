package pipeline

import (
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
)

// Summary describes one comparison. Difference statistics are taken over
// the absolute response differences of every tile before thresholding.
type Summary struct {
	Tiles          int
	ChangedTiles   int
	Pixels         int
	ChangedPixels  int
	RetainedPixels int

	MeanDifference float64
	MaxDifference  float64
	P95Difference  float64
}

// ChangedFraction is the share of covered pixels left after filtering.
func (s Summary) ChangedFraction() float64 {
	if s.Pixels == 0 {
		return 0
	}
	return float64(s.RetainedPixels) / float64(s.Pixels)
}

func summarize(diffs, tileMaps []*mat.Dense, full, filtered *mat.Dense) Summary {
	s := Summary{Tiles: len(tileMaps)}

	for _, t := range tileMaps {
		if countPositive(t) > 0 {
			s.ChangedTiles++
		}
	}
	if full != nil {
		r, c := full.Dims()
		s.Pixels = r * c
		s.ChangedPixels = countPositive(full)
	}
	if filtered != nil {
		s.RetainedPixels = countPositive(filtered)
	}

	var values stats.Float64Data
	for _, d := range diffs {
		values = append(values, mat.DenseCopyOf(d).RawMatrix().Data...)
	}
	if len(values) == 0 {
		return s
	}
	if mean, err := values.Mean(); err == nil {
		s.MeanDifference = mean
	}
	if peak, err := values.Max(); err == nil {
		s.MaxDifference = peak
	}
	if p95, err := values.Percentile(95); err == nil {
		s.P95Difference = p95
	}
	return s
}

func countPositive(m *mat.Dense) int {
	n := 0
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for _, v := range m.RawRowView(i) {
			if v > 0 {
				n++
			}
		}
	}
	return n
}
