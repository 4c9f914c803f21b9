// Package bridge converts between gonum matrices and OpenCV Mats.
package bridge

import (
	"fmt"
	"math"
	"unsafe"

	"changemap/internal/opencv/safe"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// DenseToMask builds a CV_8UC1 Mat holding 255 wherever d is positive.
func DenseToMask(d *mat.Dense, tag string) (*safe.Mat, error) {
	rows, cols := d.Dims()
	buf := make([]byte, rows*cols)
	for r := 0; r < rows; r++ {
		for c, v := range d.RawRowView(r) {
			if v > 0 {
				buf[r*cols+c] = 255
			}
		}
	}
	return safe.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, buf, tag)
}

// DenseToGray8 scales d from [0,1] to a CV_8UC1 Mat, clamping out-of-range values.
func DenseToGray8(d *mat.Dense, tag string) (*safe.Mat, error) {
	rows, cols := d.Dims()
	buf := make([]byte, rows*cols)
	for r := 0; r < rows; r++ {
		for c, v := range d.RawRowView(r) {
			buf[r*cols+c] = uint8(math.Round(clamp01(v) * 255))
		}
	}
	return safe.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC1, buf, tag)
}

// DenseToFloatMat copies d into a CV_32FC1 Mat.
func DenseToFloatMat(d *mat.Dense, tag string) (*safe.Mat, error) {
	rows, cols := d.Dims()
	buf := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c, v := range d.RawRowView(r) {
			buf[r*cols+c] = float32(v)
		}
	}
	return safe.NewMatFromBytes(rows, cols, gocv.MatTypeCV32FC1, float32Bytes(buf), tag)
}

// FloatMatToDense copies a single channel Mat into a new matrix. Non-float
// Mats are converted to CV_32F first.
func FloatMatToDense(m *safe.Mat) (*mat.Dense, error) {
	if err := safe.ValidateMatForOperation(m, "FloatMatToDense"); err != nil {
		return nil, err
	}
	if m.Channels() != 1 {
		return nil, fmt.Errorf("expected a single channel Mat, got %d channels", m.Channels())
	}

	src := m
	if m.Type() != gocv.MatTypeCV32FC1 {
		converted := gocv.NewMat()
		mm := m.GetMat()
		mm.ConvertTo(&converted, gocv.MatTypeCV32F)
		var err error
		src, err = safe.Adopt(converted, m.Tag()+"_f32")
		if err != nil {
			return nil, err
		}
		defer src.Close()
	}

	data, err := src.Float32Data()
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(data))
	for i, v := range data {
		values[i] = float64(v)
	}
	return mat.NewDense(src.Rows(), src.Cols(), values), nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func float32Bytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}
