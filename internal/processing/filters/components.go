package filters

import (
	"context"
	"fmt"

	"changemap/internal/opencv/bridge"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

const (
	ParamMinArea     = "min_area"
	ParamCloseKernel = "close_kernel"
)

// ComponentFilter removes 8-connected foreground regions smaller than the
// "min_area" parameter.
type ComponentFilter struct{}

func NewComponentFilter() *ComponentFilter {
	return &ComponentFilter{}
}

func (f *ComponentFilter) Name() string {
	return "component_filter"
}

func (f *ComponentFilter) ShouldExecute(params map[string]interface{}) bool {
	minArea, ok := params[ParamMinArea].(int)
	return ok && minArea > 0
}

func (f *ComponentFilter) Apply(ctx context.Context, input *mat.Dense, params map[string]interface{}) (*mat.Dense, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	minArea, _ := params[ParamMinArea].(int)
	return FilterComponents(input, minArea)
}

// FilterComponents zeroes every 8-connected region of positive pixels whose
// pixel count is below minArea. Pixels of retained regions keep their values.
// A minArea of zero or less returns an unchanged copy.
func FilterComponents(h *mat.Dense, minArea int) (*mat.Dense, error) {
	if minArea <= 0 {
		return mat.DenseCopyOf(h), nil
	}

	mask, err := bridge.DenseToMask(h, "component_mask")
	if err != nil {
		return nil, fmt.Errorf("building mask: %w", err)
	}
	defer mask.Close()

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	gocv.ConnectedComponentsWithStats(mask.GetMat(), &labels, &stats, &centroids)

	// Label 0 is the background
	keep := make([]bool, stats.Rows())
	for label := 1; label < stats.Rows(); label++ {
		keep[label] = int(stats.GetIntAt(label, int(gocv.CC_STAT_AREA))) >= minArea
	}

	rows, cols := h.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := h.At(r, c)
			if v <= 0 {
				continue
			}
			if label := int(labels.GetIntAt(r, c)); label < len(keep) && keep[label] {
				out.Set(r, c, v)
			}
		}
	}
	return out, nil
}
