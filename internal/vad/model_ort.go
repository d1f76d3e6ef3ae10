//go:build silero

package vad

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortInitOnce ensures ONNX Runtime environment is initialized exactly once.
// ortInitErr is stored at package scope so later NewORTModel calls surface
// the failure instead of proceeding with an uninitialized environment.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ORTModel runs the Silero VAD ONNX graph. Tensors are allocated per call
// because the batch and window size follow the input.
type ORTModel struct {
	session *ort.DynamicAdvancedSession
}

// NewORTModel loads the model at modelPath, or the embedded model when
// modelPath is empty.
func NewORTModel(modelPath string) (*ORTModel, error) {
	data := sileroModelData
	if modelPath != "" {
		b, err := os.ReadFile(modelPath)
		if err != nil {
			return nil, fmt.Errorf("silero: read model: %w", err)
		}
		data = b
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("silero: model data is empty")
	}

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: %w", ortInitErr)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("silero: session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetIntraOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("silero: inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		data,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	return &ORTModel{session: session}, nil
}

// Run executes one inference step.
func (m *ORTModel) Run(input []float32, batch int, state []float32, sampleRate int64) ([]float32, []float32, error) {
	if m.session == nil {
		return nil, nil, fmt.Errorf("silero: model closed")
	}
	if batch <= 0 || len(input)%batch != 0 {
		return nil, nil, fmt.Errorf("silero: input of %d samples does not split into %d rows", len(input), batch)
	}
	b := int64(batch)

	var values []ort.Value
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()

	inputTensor, err := ort.NewTensor(ort.NewShape(b, int64(len(input)/batch)), input)
	if err != nil {
		return nil, nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	values = append(values, inputTensor)
	stateTensor, err := ort.NewTensor(ort.NewShape(2, b, stateSize), state)
	if err != nil {
		return nil, nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	values = append(values, stateTensor)
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRate})
	if err != nil {
		return nil, nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	values = append(values, srTensor)
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(b, 1))
	if err != nil {
		return nil, nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	values = append(values, outputTensor)
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, b, stateSize))
	if err != nil {
		return nil, nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}
	values = append(values, stateNTensor)

	if err := m.session.Run(
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
	); err != nil {
		return nil, nil, fmt.Errorf("silero: inference: %w", err)
	}

	probs := append([]float32(nil), outputTensor.GetData()...)
	next := append([]float32(nil), stateNTensor.GetData()...)
	return probs, next, nil
}

// Close releases the session. Safe to call multiple times.
func (m *ORTModel) Close() error {
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		return err
	}
	return nil
}
