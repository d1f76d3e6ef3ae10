package vad

import (
	"fmt"
	"log/slog"
	"strings"
)

// Environment variables consulted when loading the ONNX Runtime library.
const (
	EnvORTLibPath = "RECORDER_ORT_LIB_PATH"
	EnvDevMode    = "RECORDER_DEV_MODE"
)

// Detector kinds accepted by Open.
const (
	KindAuto   = "auto"
	KindSilero = "silero"
	KindWebRTC = "webrtc"
	KindStub   = "stub"
)

// Options selects and configures a detector.
type Options struct {
	Kind       string
	Neural     NeuralConfig
	NativeMode int
	ModelPath  string

	// DevMode lets "auto" fall back to the stub when the compiled-in
	// backends fail to initialize.
	DevMode bool
	Logger  *slog.Logger

	// Overridable for tests.
	neuralAvailable func() bool
	newNeuralModel  func(string) (Model, error)
	nativeAvailable func() bool
	newNative       func(int) (Detector, error)
}

// Open resolves opts.Kind to a detector and returns it with the resolved kind.
// "auto" prefers silero, then webrtc, then the stub.
func Open(opts Options) (Detector, string, error) {
	opts.defaults()
	logger := opts.Logger

	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		kind = KindAuto
	}

	switch kind {
	case KindSilero:
		if !opts.neuralAvailable() {
			return nil, "", ErrNeuralUnavailable
		}
		d, err := opts.openNeural()
		if err != nil {
			return nil, "", err
		}
		return d, KindSilero, nil
	case KindWebRTC:
		d, err := opts.newNative(opts.NativeMode)
		if err != nil {
			return nil, "", err
		}
		return d, KindWebRTC, nil
	case KindStub:
		logger.Warn("using stub detector; results are deterministic and NOT based on audio content")
		return NewStubDetector(), KindStub, nil
	case KindAuto:
	default:
		return nil, "", fmt.Errorf("vad: unknown detector %q", opts.Kind)
	}

	var probeErr error
	if opts.neuralAvailable() {
		d, err := opts.openNeural()
		if err == nil {
			return d, KindSilero, nil
		}
		probeErr = err
		logger.Warn("silero detector probe failed", "error", err)
	}
	if opts.nativeAvailable() {
		d, err := opts.newNative(opts.NativeMode)
		if err == nil {
			if probeErr != nil {
				logger.Warn("auto-detected detector: webrtc (silero unavailable)")
			}
			return d, KindWebRTC, nil
		}
		probeErr = err
		logger.Warn("webrtc detector probe failed", "error", err)
	}
	if probeErr != nil && !opts.DevMode {
		return nil, "", fmt.Errorf("vad: no detector could be initialized: %w", probeErr)
	}
	logger.Warn("auto-detected detector: stub (no working backend compiled in, build with -tags silero or cgo for production)")
	return NewStubDetector(), KindStub, nil
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.neuralAvailable == nil {
		o.neuralAvailable = NeuralAvailable
	}
	if o.newNeuralModel == nil {
		o.newNeuralModel = NewNeuralModel
	}
	if o.nativeAvailable == nil {
		o.nativeAvailable = NativeAvailable
	}
	if o.newNative == nil {
		o.newNative = func(mode int) (Detector, error) {
			d, err := NewNativeDetector(mode)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
}

func (o *Options) openNeural() (Detector, error) {
	model, err := o.newNeuralModel(o.ModelPath)
	if err != nil {
		return nil, err
	}
	d, err := NewNeuralDetector(model, o.Neural)
	if err != nil {
		model.Close()
		return nil, err
	}
	return d, nil
}
