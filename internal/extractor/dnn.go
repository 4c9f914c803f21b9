package extractor

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"unsafe"

	"changemap/internal/errdefs"
	"changemap/internal/logger"
	"changemap/internal/tensor"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// DNN runs an externally trained network through OpenCV's dnn module. The
// network must take an N x 3 x H x W blob and produce N x 1 x H' x W'.
type DNN struct {
	mu     sync.Mutex
	net    gocv.Net
	model  string
	logger logger.Logger
}

// NewDNN loads a model file (ONNX, Caffe, TensorFlow, ...). configPath may be
// empty for formats that carry their own graph.
func NewDNN(modelPath, configPath, device string, log logger.Logger) (*DNN, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: the dnn backend needs a model path", errdefs.ErrInvalidParameter)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}

	switch strings.ToLower(device) {
	case DeviceCPU, "":
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	case DeviceCUDA:
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	default:
		net.Close()
		return nil, fmt.Errorf("%w: unsupported device %q", errdefs.ErrInvalidParameter, device)
	}

	log.Info("Extractor", "dnn model loaded", map[string]interface{}{
		"model":  modelPath,
		"device": device,
	})
	return &DNN{net: net, model: modelPath, logger: log}, nil
}

func (d *DNN) Name() string {
	return "dnn(" + d.model + ")"
}

func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// Extract pushes the whole batch through the network in one forward pass.
func (d *DNN) Extract(ctx context.Context, tiles []*tensor.Tensor) ([]*mat.Dense, error) {
	if len(tiles) == 0 {
		return nil, nil
	}
	if err := CheckBatch(tiles); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mats := make([]gocv.Mat, 0, len(tiles))
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()
	for i, t := range tiles {
		m, err := tensorToMat(t)
		if err != nil {
			return nil, fmt.Errorf("tile %d: %w", i, err)
		}
		mats = append(mats, m)
	}

	blob := gocv.NewMat()
	defer blob.Close()
	size := image.Pt(tiles[0].W, tiles[0].H)
	gocv.BlobFromImages(mats, &blob, 1.0, size, gocv.NewScalar(0, 0, 0, 0), false, false, gocv.MatTypeCV32F)

	d.mu.Lock()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	d.mu.Unlock()
	defer out.Close()

	return splitBlob(out, len(tiles))
}

// tensorToMat packs a (3, H, W) tensor into an interleaved CV_32FC3 Mat.
func tensorToMat(t *tensor.Tensor) (gocv.Mat, error) {
	if t.C != inputChannels {
		return gocv.NewMat(), fmt.Errorf("%w: %d channels", errdefs.ErrShapeMismatch, t.C)
	}
	pix := make([]float32, t.H*t.W*t.C)
	for c := 0; c < t.C; c++ {
		plane := t.Plane(c)
		for i, v := range plane {
			pix[i*t.C+c] = float32(v)
		}
	}
	view, err := gocv.NewMatFromBytes(t.H, t.W, gocv.MatTypeCV32FC3, float32Bytes(pix))
	if err != nil {
		return gocv.NewMat(), err
	}
	defer view.Close()
	return view.Clone(), nil
}

// splitBlob cuts an N x 1 x H x W output blob into N response maps.
func splitBlob(out gocv.Mat, n int) ([]*mat.Dense, error) {
	dims := gocv.GetBlobSize(out)
	bn, bc, bh, bw := int(dims.Val1), int(dims.Val2), int(dims.Val3), int(dims.Val4)
	if bn != n || bc != 1 || bh <= 0 || bw <= 0 {
		return nil, fmt.Errorf("%w: network produced %dx%dx%dx%d for %d tiles",
			errdefs.ErrShapeMismatch, bn, bc, bh, bw, n)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("reading network output: %w", err)
	}

	plane := bh * bw
	maps := make([]*mat.Dense, n)
	for i := range maps {
		values := make([]float64, plane)
		for j, v := range data[i*plane : (i+1)*plane] {
			values[j] = float64(v)
		}
		maps[i] = mat.NewDense(bh, bw, values)
	}
	return maps, nil
}

func float32Bytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}
