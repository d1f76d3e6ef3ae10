//go:build cgo

package vad

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// NativeAvailable reports whether the WebRTC detector is compiled in.
func NativeAvailable() bool { return true }

// NativeDetector wraps the WebRTC GMM voice activity detector. The library
// only accepts 10, 20 or 30 ms frames, so each frame is split into 10 ms
// pieces and voiced when most of them are.
type NativeDetector struct {
	vad  *webrtcvad.VAD
	mode int
}

// NewNativeDetector creates a detector at aggressiveness mode 0 to 3.
func NewNativeDetector(mode int) (*NativeDetector, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("vad: native mode must be between 0 and 3, got %d", mode)
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("vad: create webrtc vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("vad: set webrtc mode %d: %w", mode, err)
	}
	return &NativeDetector{vad: v, mode: mode}, nil
}

// Classify reports whether the majority of the frame's 10 ms pieces are voiced.
func (d *NativeDetector) Classify(frame []byte, sampleRate int) (Result, error) {
	if d.vad == nil {
		return Result{}, fmt.Errorf("vad: native detector closed")
	}
	sub := sampleRate / 100 * 2
	if sub <= 0 || !d.vad.ValidRateAndFrameLength(sampleRate, sub/2) {
		return Result{}, fmt.Errorf("%w: webrtc does not support %d Hz", ErrInvalidAudioInput, sampleRate)
	}
	if len(frame) == 0 || len(frame)%sub != 0 {
		return Result{}, fmt.Errorf("%w: frame of %d bytes is not a multiple of 10 ms at %d Hz", ErrInvalidAudioInput, len(frame), sampleRate)
	}

	pieces, voiced := 0, 0
	for off := 0; off < len(frame); off += sub {
		active, err := d.vad.Process(sampleRate, frame[off:off+sub])
		if err != nil {
			return Result{}, fmt.Errorf("vad: webrtc process: %w", err)
		}
		pieces++
		if active {
			voiced++
		}
	}
	return Result{
		Voiced:      voiced*2 > pieces,
		Probability: float32(voiced) / float32(pieces),
	}, nil
}

// Reset reinitializes the detector at the configured mode.
func (d *NativeDetector) Reset() error {
	v, err := webrtcvad.New()
	if err != nil {
		return fmt.Errorf("vad: reset webrtc vad: %w", err)
	}
	if err := v.SetMode(d.mode); err != nil {
		return fmt.Errorf("vad: set webrtc mode %d: %w", d.mode, err)
	}
	d.vad = v
	return nil
}

// Close drops the detector; the underlying handle is freed by its finalizer.
func (d *NativeDetector) Close() error {
	d.vad = nil
	return nil
}
