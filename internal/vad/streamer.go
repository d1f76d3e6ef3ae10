package vad

import (
	"errors"
	"fmt"
)

const (
	// stateSize is the hidden state width per layer; the model keeps a
	// combined state tensor of shape [2, batch, 128].
	stateSize = 128

	baseSampleRate = 16000
	maxBatch       = 2

	// minRateToSamples rejects inputs shorter than 32 ms.
	minRateToSamples = 31.25
)

// Model runs one step of the recurrent speech model. input holds batch rows
// of equal length laid out back to back and state is [2, batch, stateSize].
// It returns one probability per row and the next state.
type Model interface {
	Run(input []float32, batch int, state []float32, sampleRate int64) (probs []float32, next []float32, err error)
	Close() error
}

// windowFor returns the model window and carried context length for rate.
func windowFor(sampleRate int) (window, context int) {
	if sampleRate == baseSampleRate {
		return 512, 64
	}
	return 256, 32
}

// Streamer feeds successive frames through a Model. Frames are cut into
// consecutive windows; samples that do not fill a window wait for the next
// call. Each window is prefixed with the samples that preceded it and the
// recurrent state is carried from window to window.
type Streamer struct {
	model Model

	state     []float32
	context   [][]float32
	pending   [][]float32
	lastRate  int
	lastBatch int
}

// NewStreamer wraps model with zeroed state.
func NewStreamer(model Model) *Streamer {
	s := &Streamer{model: model}
	s.reset(1)
	return s
}

// Reset zeroes the recurrent state and drops the carried context.
func (s *Streamer) Reset() {
	s.reset(1)
}

func (s *Streamer) reset(batch int) {
	s.state = make([]float32, 2*batch*stateSize)
	s.context = nil
	s.pending = nil
	s.lastRate = 0
	s.lastBatch = 0
}

// checkShape reports ErrStateResetRequired when the carried state was built
// for a different sample rate or batch size.
func (s *Streamer) checkShape(sampleRate, batch int) error {
	if s.lastRate != 0 && s.lastRate != sampleRate {
		return fmt.Errorf("%w: sample rate changed from %d to %d", ErrStateResetRequired, s.lastRate, sampleRate)
	}
	if s.lastBatch != 0 && s.lastBatch != batch {
		return fmt.Errorf("%w: batch changed from %d to %d", ErrStateResetRequired, s.lastBatch, batch)
	}
	return nil
}

// Call returns, for each row of x, the highest speech probability among the
// windows completed by this call. Rows sampled at an integer multiple of
// 16 kHz are decimated to 16 kHz first.
func (s *Streamer) Call(x [][]float32, sampleRate int) ([]float32, error) {
	input, rate, err := validateInput(x, sampleRate)
	if err != nil {
		return nil, err
	}
	batch := len(input)
	window, ctxLen := windowFor(rate)

	if err := s.checkShape(rate, batch); err != nil {
		if !errors.Is(err, ErrStateResetRequired) {
			return nil, err
		}
		s.reset(batch)
	}
	if len(s.state) != 2*batch*stateSize {
		s.state = make([]float32, 2*batch*stateSize)
	}
	if s.context == nil {
		s.context = make([][]float32, batch)
		for i := range s.context {
			s.context[i] = make([]float32, ctxLen)
		}
	}

	stream := make([][]float32, batch)
	for i := range stream {
		if s.pending != nil {
			stream[i] = append(stream[i], s.pending[i]...)
		}
		stream[i] = append(stream[i], input[i]...)
	}

	best := make([]float32, batch)
	row := ctxLen + window
	flat := make([]float32, batch*row)
	off := 0
	for ; off+window <= len(stream[0]); off += window {
		for i := 0; i < batch; i++ {
			copy(flat[i*row:], s.context[i])
			copy(flat[i*row+ctxLen:(i+1)*row], stream[i][off:off+window])
		}
		probs, next, err := s.model.Run(flat, batch, s.state, int64(rate))
		if err != nil {
			s.reset(batch)
			return nil, fmt.Errorf("vad: model inference: %w", err)
		}
		if len(probs) < batch || len(next) != len(s.state) {
			s.reset(batch)
			return nil, fmt.Errorf("vad: model returned %d probabilities and %d state values, want %d and %d",
				len(probs), len(next), batch, len(s.state))
		}
		copy(s.state, next)
		for i := 0; i < batch; i++ {
			copy(s.context[i], flat[(i+1)*row-ctxLen:(i+1)*row])
			if off == 0 || probs[i] > best[i] {
				best[i] = probs[i]
			}
		}
	}

	s.pending = make([][]float32, batch)
	for i := range stream {
		s.pending[i] = append([]float32(nil), stream[i][off:]...)
	}
	s.lastRate = rate
	s.lastBatch = batch
	return best, nil
}

// validateInput decimates x to 16 kHz when possible and checks that the
// resulting rate is supported and the rows are long enough for one window.
func validateInput(x [][]float32, sampleRate int) ([][]float32, int, error) {
	if len(x) == 0 || len(x) > maxBatch {
		return nil, 0, fmt.Errorf("%w: batch of %d rows, want 1 or %d", ErrInvalidAudioInput, len(x), maxBatch)
	}
	for i := 1; i < len(x); i++ {
		if len(x[i]) != len(x[0]) {
			return nil, 0, fmt.Errorf("%w: rows have different lengths", ErrInvalidAudioInput)
		}
	}
	if len(x[0]) == 0 {
		return nil, 0, fmt.Errorf("%w: empty frame", ErrInvalidAudioInput)
	}

	rate := sampleRate
	input := x
	if rate != baseSampleRate && rate > 0 && rate%baseSampleRate == 0 {
		step := rate / baseSampleRate
		input = make([][]float32, len(x))
		for i, ch := range x {
			input[i] = decimate(ch, step)
		}
		rate = baseSampleRate
	}
	if rate != 8000 && rate != baseSampleRate {
		return nil, 0, fmt.Errorf("%w: unsupported sample rate %d", ErrInvalidAudioInput, sampleRate)
	}
	if float64(rate)/float64(len(input[0])) > minRateToSamples {
		return nil, 0, fmt.Errorf("%w: frame of %d samples is too short", ErrInvalidAudioInput, len(input[0]))
	}
	return input, rate, nil
}

// decimate keeps every step-th sample starting at index 0.
func decimate(ch []float32, step int) []float32 {
	out := make([]float32, (len(ch)+step-1)/step)
	for j, i := 0, 0; i < len(ch); i, j = i+step, j+1 {
		out[j] = ch[i]
	}
	return out
}

// pcmToFloat32 converts PCM s16le bytes to float32 samples normalized to [-1, 1].
// Divides by 32768 (not 32767) so that the full int16 range [-32768, 32767] maps
// to [-1.0, ~0.99997], keeping all values strictly within [-1, 1].
func pcmToFloat32(buf []byte) []float32 {
	n := len(buf) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		u := uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		samples[i] = float32(int16(u)) / 32768.0
	}
	return samples
}
