// Package errdefs holds the sentinel errors shared by every comparison stage.
// Callers match them with errors.Is; stages wrap them with context.
package errdefs

import "errors"

var (
	// ErrShapeMismatch: images differ in size, a batch holds tiles of
	// different dimensions, or two tensors cannot be combined.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnsupportedEncoding: channel count or sample depth not recognised.
	ErrUnsupportedEncoding = errors.New("unsupported image encoding")

	// ErrEmptyTileGrid: the patch size exceeds an image dimension so no
	// tile fits. Comparisons treat this as an all-zero result.
	ErrEmptyTileGrid = errors.New("empty tile grid")

	ErrInvalidPatchSize = errors.New("invalid patch size")
	ErrInvalidParameter = errors.New("invalid parameter")
)
