package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"changemap/internal/errdefs"
	"changemap/internal/logger"
	"changemap/internal/opencv/bridge"
	"changemap/internal/tensor"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// DefaultTint is the colour changed pixels are pulled towards in overlays.
var DefaultTint = colorful.Color{R: 1, G: 0.1, B: 0.1}

type Saver struct {
	logger logger.Logger
}

func NewSaver(log logger.Logger) *Saver {
	return &Saver{logger: log}
}

// SaveHeatmap writes h as an 8-bit grayscale image, 1.0 mapping to white.
func (s *Saver) SaveHeatmap(path string, h *mat.Dense) error {
	m, err := bridge.DenseToGray8(h, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("converting heatmap: %w", err)
	}
	defer m.Close()

	if ok := gocv.IMWrite(path, m.GetMat()); !ok {
		return fmt.Errorf("failed to write heatmap to %s", path)
	}

	rows, cols := h.Dims()
	s.logger.Info("ImageSaver", "heatmap written", map[string]interface{}{
		"path": path,
		"size": fmt.Sprintf("%dx%d", cols, rows),
	})
	return nil
}

// SaveOverlay encodes Overlay(base, h, tint, strength) as PNG.
func (s *Saver) SaveOverlay(path string, base *tensor.Tensor, h *mat.Dense, tint colorful.Color, strength float64) error {
	img, err := Overlay(base, h, tint, strength)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode overlay %s: %w", path, err)
	}
	s.logger.Info("ImageSaver", "overlay written", map[string]interface{}{"path": path})
	return nil
}

// Overlay renders base as RGBA and blends every pixel where h is positive
// towards tint in Lab space, weighted by strength*h. h may cover less than
// base, anchored at the top-left corner.
func Overlay(base *tensor.Tensor, h *mat.Dense, tint colorful.Color, strength float64) (*image.RGBA, error) {
	if base.C < 3 {
		return nil, fmt.Errorf("%w: overlay base has %d channels", errdefs.ErrUnsupportedEncoding, base.C)
	}
	rows, cols := h.Dims()
	if rows > base.H || cols > base.W {
		return nil, fmt.Errorf("%w: heatmap %dx%d exceeds image %dx%d",
			errdefs.ErrShapeMismatch, cols, rows, base.W, base.H)
	}

	img := image.NewRGBA(image.Rect(0, 0, base.W, base.H))
	for y := 0; y < base.H; y++ {
		for x := 0; x < base.W; x++ {
			c := colorful.Color{R: base.At(0, y, x), G: base.At(1, y, x), B: base.At(2, y, x)}
			if y < rows && x < cols {
				if v := h.At(y, x); v > 0 {
					c = c.BlendLab(tint, clamp(strength*v))
				}
			}
			r, g, b := c.Clamped().RGB255()
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
