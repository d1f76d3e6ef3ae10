//go:build !portaudio

package audio

import (
	"context"
	"fmt"
)

// CaptureAvailable reports whether this binary was built with microphone support.
const CaptureAvailable = false

// MicrophoneAvailable always reports false without the portaudio build tag.
func MicrophoneAvailable() bool { return false }

// PortAudioSource is a placeholder when built without -tags portaudio.
type PortAudioSource struct{}

// NewPortAudioSource returns a source whose Start always fails.
func NewPortAudioSource(sampleRate, framesPerSecond int) *PortAudioSource {
	return &PortAudioSource{}
}

func (s *PortAudioSource) Start(context.Context) error {
	return fmt.Errorf("%w: built without -tags portaudio", ErrCaptureUnavailable)
}

func (s *PortAudioSource) Read([]byte) (int, error) {
	return 0, fmt.Errorf("%w: built without -tags portaudio", ErrCaptureUnavailable)
}

func (s *PortAudioSource) Stop() error { return nil }
