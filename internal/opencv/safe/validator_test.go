package safe

import (
	"errors"
	"testing"

	"changemap/internal/errdefs"

	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestValidateEncoding(t *testing.T) {
	cases := []struct {
		matType  gocv.MatType
		channels int
		divisor  float64
	}{
		{gocv.MatTypeCV8UC3, 3, 255},
		{gocv.MatTypeCV8UC4, 4, 255},
		{gocv.MatTypeCV16UC3, 3, 65535},
		{gocv.MatTypeCV16UC4, 4, 65535},
		{gocv.MatTypeCV32FC3, 3, 1},
		{gocv.MatTypeCV32FC4, 4, 1},
	}
	for _, tc := range cases {
		enc, err := ValidateEncoding(tc.matType, "test")
		require.NoError(t, err)
		require.Equal(t, tc.channels, enc.Channels)
		require.Equal(t, tc.divisor, enc.Divisor)
	}

	for _, bad := range []gocv.MatType{gocv.MatTypeCV8UC1, gocv.MatTypeCV32FC1, gocv.MatTypeCV64FC3} {
		_, err := ValidateEncoding(bad, "test")
		require.True(t, errors.Is(err, errdefs.ErrUnsupportedEncoding))
	}
}

func TestValidateDimensions(t *testing.T) {
	require.NoError(t, ValidateDimensions(10, 10, "test"))
	require.True(t, errors.Is(ValidateDimensions(0, 10, "test"), errdefs.ErrShapeMismatch))
	require.True(t, errors.Is(ValidateDimensions(10, maxDimension+1, "test"), errdefs.ErrShapeMismatch))
}

func TestMatCloseIsIdempotent(t *testing.T) {
	m, err := NewMatFromBytes(4, 5, gocv.MatTypeCV8UC1, make([]byte, 20), "test")
	require.NoError(t, err)
	require.Equal(t, 4, m.Rows())
	require.Equal(t, 5, m.Cols())
	require.NoError(t, ValidateMatForOperation(m, "test"))

	m.Close()
	m.Close()
	require.False(t, m.IsValid())
	require.True(t, m.Empty())
	require.Zero(t, m.Rows())
	require.Error(t, ValidateMatForOperation(m, "test"))
}

func TestNewMatFromBytesCopies(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	m, err := NewMatFromBytes(2, 3, gocv.MatTypeCV8UC1, data, "test")
	require.NoError(t, err)
	defer m.Close()

	data[0] = 99
	mat := m.GetMat()
	require.Equal(t, uint8(1), mat.GetUCharAt(0, 0))
	require.Equal(t, uint8(6), mat.GetUCharAt(1, 2))
}
