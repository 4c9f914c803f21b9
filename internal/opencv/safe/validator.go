package safe

import (
	"fmt"

	"changemap/internal/errdefs"

	"gocv.io/x/gocv"
)

const maxDimension = 32768

func ValidateMatForOperation(mat *Mat, operation string) error {
	if mat == nil {
		return fmt.Errorf("Mat is nil for operation: %s", operation)
	}

	if !mat.IsValid() {
		return fmt.Errorf("Mat is invalid for operation: %s", operation)
	}

	if mat.Empty() {
		return fmt.Errorf("Mat is empty for operation: %s", operation)
	}

	return ValidateDimensions(mat.Cols(), mat.Rows(), operation)
}

func ValidateDimensions(width, height int, operation string) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d for operation: %s",
			errdefs.ErrShapeMismatch, width, height, operation)
	}

	if width > maxDimension || height > maxDimension {
		return fmt.Errorf("%w: dimensions %dx%d exceed maximum size for operation: %s",
			errdefs.ErrShapeMismatch, width, height, operation)
	}

	return nil
}

// Encoding describes how a Mat's samples map onto [0,1].
type Encoding struct {
	Channels int
	Divisor  float64
	Depth    string
}

// ValidateEncoding accepts 3 or 4 channel Mats with 8-bit, 16-bit or 32-bit
// float samples and reports the divisor that normalises them.
func ValidateEncoding(matType gocv.MatType, operation string) (Encoding, error) {
	switch matType {
	case gocv.MatTypeCV8UC3:
		return Encoding{Channels: 3, Divisor: 255, Depth: "8U"}, nil
	case gocv.MatTypeCV8UC4:
		return Encoding{Channels: 4, Divisor: 255, Depth: "8U"}, nil
	case gocv.MatTypeCV16UC3:
		return Encoding{Channels: 3, Divisor: 65535, Depth: "16U"}, nil
	case gocv.MatTypeCV16UC4:
		return Encoding{Channels: 4, Divisor: 65535, Depth: "16U"}, nil
	case gocv.MatTypeCV32FC3:
		return Encoding{Channels: 3, Divisor: 1, Depth: "32F"}, nil
	case gocv.MatTypeCV32FC4:
		return Encoding{Channels: 4, Divisor: 1, Depth: "32F"}, nil
	default:
		return Encoding{}, fmt.Errorf("%w: MatType %d for operation: %s",
			errdefs.ErrUnsupportedEncoding, int(matType), operation)
	}
}
