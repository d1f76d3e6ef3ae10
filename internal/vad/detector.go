// Package vad classifies fixed-size PCM frames as voiced or unvoiced.
package vad

import "errors"

var (
	// ErrInvalidAudioInput marks a frame the detector cannot process, such as
	// an unsupported sample rate or a frame too short for the model.
	ErrInvalidAudioInput = errors.New("vad: invalid audio input")

	// ErrStateResetRequired is raised internally when the sample rate or batch
	// size changes between calls; the streamer handles it by resetting.
	ErrStateResetRequired = errors.New("vad: state reset required")

	// ErrNeuralUnavailable indicates the ONNX Runtime model is not compiled in.
	ErrNeuralUnavailable = errors.New("vad: silero backend not available (build without -tags silero)")

	// ErrNativeUnavailable indicates the WebRTC detector needs cgo.
	ErrNativeUnavailable = errors.New("vad: webrtc backend not available (built with CGO_ENABLED=0)")
)

// EventType marks a speech boundary reported alongside a frame result.
type EventType int

const (
	EventNone EventType = iota
	EventStart
	EventEnd
)

func (e EventType) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventEnd:
		return "end"
	default:
		return "none"
	}
}

// Result is the classification of a single frame.
type Result struct {
	Voiced      bool
	Probability float32

	// Event is set on the frame where speech starts or ends. EventSample is
	// the padded boundary position counted in samples since the last reset.
	Event       EventType
	EventSample int64
}

// Detector classifies 16-bit little-endian mono PCM frames. Implementations
// keep per-stream state and are not safe for concurrent use.
type Detector interface {
	Classify(frame []byte, sampleRate int) (Result, error)
	Reset() error
	Close() error
}
