package extractor

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"changemap/internal/errdefs"
	"changemap/internal/logger"
	"changemap/internal/tensor"

	"gonum.org/v1/gonum/mat"
)

const (
	// Depth is the number of encoder (and decoder) stages.
	Depth = 4
	// MinTileSize is the smallest tile that survives Depth halvings.
	MinTileSize = 1 << Depth
	// DefaultMemoryBudget bounds the bytes all in-flight tiles may hold.
	DefaultMemoryBudget int64 = 2 << 30

	inputChannels = 3
)

type encoderStage struct {
	conv1, conv2 *tensor.Conv2D
}

type decoderStage struct {
	up           *tensor.ConvTranspose2D
	conv1, conv2 *tensor.Conv2D
}

// UNet is a four stage encoder-decoder with skip connections and a sigmoid
// head. Its weights are fixed at construction and never written afterwards.
type UNet struct {
	baseWidth  int
	activation tensor.Activation
	encoders   [Depth]encoderStage
	bottleneck [2]*tensor.Conv2D
	decoders   [Depth]decoderStage
	head       *tensor.Conv2D

	workers      int
	memoryBudget int64
	logger       logger.Logger
}

// NewUNet builds a network of the given base width with Glorot-uniform
// weights drawn from a PCG stream seeded by seed.
func NewUNet(baseWidth int, act tensor.Activation, seed uint64) (*UNet, error) {
	if baseWidth <= 0 {
		return nil, fmt.Errorf("%w: base width must be positive, got %d", errdefs.ErrInvalidParameter, baseWidth)
	}
	if act == nil {
		act = tensor.Sigmoid
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	u := &UNet{
		baseWidth:  baseWidth,
		activation: act,
		workers:      runtime.NumCPU(),
		memoryBudget: DefaultMemoryBudget,
		logger:       logger.NewNop(),
	}

	in := inputChannels
	for i := 0; i < Depth; i++ {
		out := baseWidth << i
		u.encoders[i] = encoderStage{
			conv1: initConv(rng, tensor.NewConv2D(in, out, 3)),
			conv2: initConv(rng, tensor.NewConv2D(out, out, 3)),
		}
		in = out
	}

	deepest := baseWidth << Depth
	u.bottleneck[0] = initConv(rng, tensor.NewConv2D(in, deepest, 3))
	u.bottleneck[1] = initConv(rng, tensor.NewConv2D(deepest, deepest, 3))

	in = deepest
	for i := 0; i < Depth; i++ {
		half := in / 2
		u.decoders[i] = decoderStage{
			up:    initUp(rng, tensor.NewConvTranspose2D(in, half)),
			conv1: initConv(rng, tensor.NewConv2D(in, half, 3)),
			conv2: initConv(rng, tensor.NewConv2D(half, half, 3)),
		}
		in = half
	}

	u.head = initConv(rng, tensor.NewConv2D(baseWidth, 1, 1))
	return u, nil
}

func glorot(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

func initConv(rng *rand.Rand, c *tensor.Conv2D) *tensor.Conv2D {
	glorot(rng, c.Weights, c.In*c.K*c.K, c.Out*c.K*c.K)
	return c
}

func initUp(rng *rand.Rand, c *tensor.ConvTranspose2D) *tensor.ConvTranspose2D {
	glorot(rng, c.Weights, c.In*4, c.Out*4)
	return c
}

func (u *UNet) Name() string {
	return fmt.Sprintf("unet(w=%d)", u.baseWidth)
}

func (u *UNet) Close() error {
	return nil
}

// MinInput is the smallest tile edge Forward accepts.
func (u *UNet) MinInput() int {
	return MinTileSize
}

// tileFootprint estimates the peak bytes one Forward call holds for an
// h x w tile: the live activations and skips, about eight full-resolution
// planes per base channel, plus one conv's column scratch.
func (u *UNet) tileFootprint(h, w int) int64 {
	return (8*int64(u.baseWidth)*int64(h)*int64(w) + tensor.ColumnBudget) * 8
}

// workersFor caps the worker count so that concurrent tiles fit the memory
// budget. At least one worker always runs.
func (u *UNet) workersFor(h, w int) int {
	fit := max(u.memoryBudget/u.tileFootprint(h, w), 1)
	return int(min(int64(u.workers), fit))
}

// Extract runs Forward over every tile using the configured worker count,
// lowered when the tiles would not fit the memory budget.
func (u *UNet) Extract(ctx context.Context, tiles []*tensor.Tensor) ([]*mat.Dense, error) {
	if len(tiles) == 0 {
		return nil, nil
	}
	if err := CheckBatch(tiles); err != nil {
		return nil, err
	}
	t := tiles[0]
	if t.C != inputChannels {
		return nil, fmt.Errorf("%w: tiles have %d channels, want %d", errdefs.ErrShapeMismatch, t.C, inputChannels)
	}
	if t.H < MinTileSize || t.W < MinTileSize {
		return nil, fmt.Errorf("%w: tiles of %dx%d are smaller than %d", errdefs.ErrShapeMismatch, t.H, t.W, MinTileSize)
	}

	workers := u.workersFor(t.H, t.W)
	u.logger.Debug("Extractor", "batch started", map[string]interface{}{
		"tiles":   len(tiles),
		"size":    fmt.Sprintf("%dx%d", t.W, t.H),
		"workers": workers,
	})
	return mapOrdered(ctx, workers, tiles, u.Forward)
}

// Forward maps one (3, H, W) tile to an H x W response map.
func (u *UNet) Forward(x *tensor.Tensor) (*mat.Dense, error) {
	var (
		skips [Depth]*tensor.Tensor
		err   error
	)

	h := x
	for i, stage := range u.encoders {
		if h, err = u.convAct(stage.conv1, h); err != nil {
			return nil, fmt.Errorf("encoder %d: %w", i, err)
		}
		if h, err = u.convAct(stage.conv2, h); err != nil {
			return nil, fmt.Errorf("encoder %d: %w", i, err)
		}
		skips[i] = h
		if h, err = tensor.MaxPool2(h); err != nil {
			return nil, fmt.Errorf("encoder %d: %w", i, err)
		}
	}

	for _, conv := range u.bottleneck {
		if h, err = u.convAct(conv, h); err != nil {
			return nil, fmt.Errorf("bottleneck: %w", err)
		}
	}

	for i, stage := range u.decoders {
		skip := skips[Depth-1-i]
		if h, err = stage.up.Forward(h); err != nil {
			return nil, fmt.Errorf("decoder %d: %w", i, err)
		}
		if h, err = reconcile(h, skip); err != nil {
			return nil, fmt.Errorf("decoder %d: %w", i, err)
		}
		if h, err = u.convAct(stage.conv1, h); err != nil {
			return nil, fmt.Errorf("decoder %d: %w", i, err)
		}
		if h, err = u.convAct(stage.conv2, h); err != nil {
			return nil, fmt.Errorf("decoder %d: %w", i, err)
		}
	}

	out, err := u.head.Forward(h)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}
	out.Apply(tensor.Sigmoid)
	return mat.NewDense(out.H, out.W, out.Data), nil
}

func (u *UNet) convAct(c *tensor.Conv2D, x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := c.Forward(x)
	if err != nil {
		return nil, err
	}
	return out.Apply(u.activation), nil
}

// reconcile zero-pads the upsampled tensor to the skip tensor's spatial size
// and concatenates the two along channels, upsampled first.
func reconcile(up, skip *tensor.Tensor) (*tensor.Tensor, error) {
	pad, err := tensor.Deficit(up, skip.H, skip.W)
	if err != nil {
		return nil, err
	}
	return tensor.Concat(tensor.Pad(up, pad), skip)
}
