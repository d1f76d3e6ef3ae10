//go:build !silero

package vad

// NeuralAvailable reports that no neural model is compiled in.
func NeuralAvailable() bool { return false }

// NewNeuralModel returns an error when built without the silero tag.
func NewNeuralModel(_ string) (Model, error) {
	return nil, ErrNeuralUnavailable
}
