//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// CaptureAvailable reports whether this binary was built with microphone support.
const CaptureAvailable = true

// MicrophoneAvailable reports whether a default input device can be found.
func MicrophoneAvailable() bool {
	if err := portaudio.Initialize(); err != nil {
		return false
	}
	defer portaudio.Terminate()
	dev, err := portaudio.DefaultInputDevice()
	return err == nil && dev != nil && dev.MaxInputChannels > 0
}

// PortAudioSource captures mono 16-bit PCM from the default input device.
type PortAudioSource struct {
	sampleRate      int
	framesPerBuffer int

	samples []int16
	stream  *portaudio.Stream

	stopOnce sync.Once
	stopErr  error
}

// NewPortAudioSource returns a source that delivers framesPerSecond buffers
// per second at sampleRate.
func NewPortAudioSource(sampleRate, framesPerSecond int) *PortAudioSource {
	n := sampleRate / framesPerSecond
	return &PortAudioSource{
		sampleRate:      sampleRate,
		framesPerBuffer: n,
		samples:         make([]int16, n),
	}
}

// Start opens and starts the capture stream.
func (s *PortAudioSource) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize portaudio: %v", ErrCaptureUnavailable, err)
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), s.framesPerBuffer, s.samples)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("%w: open input stream: %v", ErrCaptureUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("%w: start input stream: %v", ErrCaptureUnavailable, err)
	}
	s.stream = stream
	return nil
}

// Read blocks for one buffer and writes it to buf as little-endian bytes.
// An input overflow loses audio upstream but the returned buffer is intact.
func (s *PortAudioSource) Read(buf []byte) (int, error) {
	if s.stream == nil {
		return 0, errors.New("audio: capture stream not started")
	}
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return 0, fmt.Errorf("%w: read input stream: %v", ErrCaptureUnavailable, err)
	}
	n := 0
	for _, v := range s.samples {
		if n+2 > len(buf) {
			break
		}
		binary.LittleEndian.PutUint16(buf[n:], uint16(v))
		n += 2
	}
	return n, nil
}

// Stop stops and closes the stream and terminates PortAudio.
func (s *PortAudioSource) Stop() error {
	s.stopOnce.Do(func() {
		if s.stream == nil {
			return
		}
		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("terminate portaudio: %w", err))
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}
