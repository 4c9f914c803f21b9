package safe

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Mat owns a gocv.Mat and guarantees it is closed exactly once, either
// explicitly or by the finalizer as a last resort.
type Mat struct {
	mat     gocv.Mat
	isValid int32
	mu      sync.RWMutex
	tag     string
}

// Adopt takes ownership of m without cloning it.
func Adopt(m gocv.Mat, tag string) (*Mat, error) {
	if m.Empty() {
		m.Close()
		return nil, fmt.Errorf("source Mat is empty for %s", tag)
	}
	return wrap(m, tag), nil
}

// NewMatFromBytes copies data into a new Mat of the given type.
func NewMatFromBytes(rows, cols int, matType gocv.MatType, data []byte, tag string) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, tag); err != nil {
		return nil, err
	}
	view, err := gocv.NewMatFromBytes(rows, cols, matType, data)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap %d bytes as %dx%d Mat: %w", len(data), cols, rows, err)
	}
	defer view.Close()
	return Adopt(view.Clone(), tag)
}

func wrap(m gocv.Mat, tag string) *Mat {
	sm := &Mat{
		mat:     m,
		isValid: 1,
		tag:     tag,
	}
	runtime.SetFinalizer(sm, (*Mat).finalize)
	return sm
}

func (sm *Mat) IsValid() bool {
	return atomic.LoadInt32(&sm.isValid) == 1
}

func (sm *Mat) Empty() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return true
	}
	return sm.mat.Empty()
}

func (sm *Mat) Rows() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Rows()
}

func (sm *Mat) Cols() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Cols()
}

func (sm *Mat) Channels() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Channels()
}

func (sm *Mat) Type() gocv.MatType {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return gocv.MatTypeCV8UC1
	}
	return sm.mat.Type()
}

// GetMat exposes the underlying Mat. The caller must not close it.
func (sm *Mat) GetMat() gocv.Mat {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.mat
}

// Float32Data returns a copy of the Mat's samples, which must be CV_32F.
func (sm *Mat) Float32Data() ([]float32, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.IsValid() {
		return nil, fmt.Errorf("Mat %s is invalid", sm.tag)
	}
	data, err := sm.mat.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("Mat %s: %w", sm.tag, err)
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (sm *Mat) Tag() string {
	return sm.tag
}

func (sm *Mat) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if atomic.CompareAndSwapInt32(&sm.isValid, 1, 0) {
		sm.mat.Close()
		runtime.SetFinalizer(sm, nil)
	}
}

func (sm *Mat) finalize() {
	if atomic.LoadInt32(&sm.isValid) == 1 {
		sm.Close()
	}
}
