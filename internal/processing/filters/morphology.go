package filters

import (
	"context"
	"fmt"
	"image"

	"changemap/internal/opencv/bridge"
	"changemap/internal/opencv/safe"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// MorphologyFilter closes small gaps in the heatmap with an elliptical
// kernel of "close_kernel" pixels. Pixels it fills are set to 1; existing
// positive pixels keep their values.
type MorphologyFilter struct{}

func NewMorphologyFilter() *MorphologyFilter {
	return &MorphologyFilter{}
}

func (m *MorphologyFilter) Name() string {
	return "morphology_filter"
}

func (m *MorphologyFilter) ShouldExecute(params map[string]interface{}) bool {
	size, ok := params[ParamCloseKernel].(int)
	return ok && size > 0
}

func (m *MorphologyFilter) Apply(ctx context.Context, input *mat.Dense, params map[string]interface{}) (*mat.Dense, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	size, _ := params[ParamCloseKernel].(int)
	return m.applyClosing(input, size)
}

func (m *MorphologyFilter) applyClosing(src *mat.Dense, size int) (*mat.Dense, error) {
	mask, err := bridge.DenseToMask(src, "closing_mask")
	if err != nil {
		return nil, fmt.Errorf("building mask: %w", err)
	}
	defer mask.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: size, Y: size})
	defer kernel.Close()

	closed := gocv.NewMat()
	gocv.MorphologyEx(mask.GetMat(), &closed, gocv.MorphClose, kernel)

	closedMat, err := safe.Adopt(closed, "closed_mask")
	if err != nil {
		return nil, fmt.Errorf("closing: %w", err)
	}
	defer closedMat.Close()

	filled, err := bridge.FloatMatToDense(closedMat)
	if err != nil {
		return nil, err
	}

	rows, cols := src.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			switch v := src.At(r, c); {
			case v > 0:
				out.Set(r, c, v)
			case filled.At(r, c) > 0:
				out.Set(r, c, 1)
			}
		}
	}
	return out, nil
}
