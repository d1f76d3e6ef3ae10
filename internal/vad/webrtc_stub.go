//go:build !cgo

package vad

// NativeAvailable reports that no WebRTC detector is compiled in.
func NativeAvailable() bool { return false }

// NativeDetector is a placeholder when cgo is disabled.
type NativeDetector struct{}

// NewNativeDetector returns ErrNativeUnavailable when cgo is disabled.
func NewNativeDetector(int) (*NativeDetector, error) {
	return nil, ErrNativeUnavailable
}

func (d *NativeDetector) Classify([]byte, int) (Result, error) {
	return Result{}, ErrNativeUnavailable
}

func (d *NativeDetector) Reset() error { return nil }

func (d *NativeDetector) Close() error { return nil }
