package imaging

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"changemap/internal/logger"
	"changemap/internal/opencv/safe"
	"changemap/internal/tensor"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Info describes a loaded image.
type Info struct {
	Path    string
	Width   int
	Height  int
	Format  string
	Decoder string
}

type Loader struct {
	logger logger.Logger
}

func NewLoader(log logger.Logger) *Loader {
	return &Loader{logger: log}
}

// Load decodes path with OpenCV, keeping 16-bit depth, and falls back to the
// Go decoders when OpenCV cannot read the file.
func (l *Loader) Load(path string) (*tensor.Tensor, Info, error) {
	info := Info{Path: path, Format: formatFromExtension(path)}

	m := gocv.IMRead(path, gocv.IMReadColor|gocv.IMReadAnyDepth)
	if !m.Empty() {
		sm, err := safe.Adopt(m, filepath.Base(path))
		if err != nil {
			return nil, info, err
		}
		defer sm.Close()

		t, err := FromMat(sm)
		if err != nil {
			return nil, info, fmt.Errorf("normalising %s: %w", path, err)
		}
		info.Width, info.Height, info.Decoder = t.W, t.H, "opencv"
		l.logLoaded(info)
		return t, info, nil
	}
	m.Close()

	l.logger.Debug("ImageLoader", "opencv could not decode, trying Go decoders", map[string]interface{}{
		"path": path,
	})

	f, err := os.Open(path)
	if err != nil {
		return nil, info, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, info, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	t, err := FromImage(img)
	if err != nil {
		return nil, info, fmt.Errorf("normalising %s: %w", path, err)
	}
	info.Width, info.Height, info.Format, info.Decoder = t.W, t.H, format, "go"
	l.logLoaded(info)
	return t, info, nil
}

func (l *Loader) logLoaded(info Info) {
	l.logger.Info("ImageLoader", "image loaded", map[string]interface{}{
		"path":    info.Path,
		"size":    fmt.Sprintf("%dx%d", info.Width, info.Height),
		"format":  info.Format,
		"decoder": info.Decoder,
	})
}

func formatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tiff", ".tif":
		return "tiff"
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	case ".bmp":
		return "bmp"
	case ".gif":
		return "gif"
	case ".webp":
		return "webp"
	default:
		return "unknown"
	}
}
