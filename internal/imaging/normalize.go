// Package imaging turns decoded images into normalised RGB tensors and writes
// heatmaps back out. It sits outside the comparison core.
package imaging

import (
	"fmt"
	"image"
	"image/color"

	"changemap/internal/errdefs"
	"changemap/internal/opencv/safe"
	"changemap/internal/tensor"

	"gocv.io/x/gocv"
)

// FromMat normalises a BGR or BGRA Mat with 8-bit, 16-bit or float samples to
// a (3, H, W) RGB tensor in [0,1]. Alpha is discarded.
func FromMat(m *safe.Mat) (*tensor.Tensor, error) {
	if err := safe.ValidateMatForOperation(m, "normalise"); err != nil {
		return nil, err
	}
	enc, err := safe.ValidateEncoding(m.Type(), "normalise")
	if err != nil {
		return nil, err
	}

	src := m.GetMat()
	rgb := gocv.NewMat()
	defer rgb.Close()
	if enc.Channels == 4 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)
		gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	} else {
		gocv.CvtColor(src, &rgb, gocv.ColorBGRToRGB)
	}

	scaled := gocv.NewMat()
	rgb.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, float32(1/enc.Divisor), 0)
	f, err := safe.Adopt(scaled, "normalised")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := f.Float32Data()
	if err != nil {
		return nil, err
	}
	return interleavedToTensor(data, f.Rows(), f.Cols()), nil
}

func interleavedToTensor(data []float32, h, w int) *tensor.Tensor {
	t := tensor.New(3, h, w)
	for i := 0; i < h*w; i++ {
		for c := 0; c < 3; c++ {
			t.Data[c*h*w+i] = float64(data[i*3+c])
		}
	}
	return t
}

// FromImage normalises a decoded Go image. Every colour model is read as
// non-premultiplied NRGBA64, so the divisor is always 65535 and alpha is
// dropped without darkening translucent pixels. Single channel models are
// rejected.
func FromImage(img image.Image) (*tensor.Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", errdefs.ErrUnsupportedEncoding)
	}
	switch img.(type) {
	case *image.Gray, *image.Gray16, *image.Alpha, *image.Alpha16:
		return nil, fmt.Errorf("%w: single channel %T", errdefs.ErrUnsupportedEncoding, img)
	}

	b := img.Bounds()
	if err := safe.ValidateDimensions(b.Dx(), b.Dy(), "normalise"); err != nil {
		return nil, err
	}

	t := tensor.New(3, b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			t.Set(0, y, x, float64(c.R)/65535)
			t.Set(1, y, x, float64(c.G)/65535)
			t.Set(2, y, x, float64(c.B)/65535)
		}
	}
	return t, nil
}
