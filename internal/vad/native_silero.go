//go:build silero

package vad

// NeuralAvailable reports that the ONNX Runtime model is compiled in.
func NeuralAvailable() bool { return true }

// NewNeuralModel loads the Silero model, from modelPath when set.
func NewNeuralModel(modelPath string) (Model, error) {
	m, err := NewORTModel(modelPath)
	if err != nil {
		return nil, err
	}
	return m, nil
}
