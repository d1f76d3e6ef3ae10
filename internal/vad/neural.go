package vad

import (
	"errors"
	"fmt"
)

// NeuralConfig tunes the hysteresis applied to model probabilities.
type NeuralConfig struct {
	StartThreshold       float64
	EndThreshold         float64
	MinSilenceDurationMs int
	SpeechPadMs          int
}

// DefaultNeuralConfig returns the stock thresholds.
func DefaultNeuralConfig() NeuralConfig {
	return NeuralConfig{
		StartThreshold:       0.7,
		EndThreshold:         0.5,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          100,
	}
}

func (c NeuralConfig) validate() error {
	var errs []error
	if c.StartThreshold < 0 || c.StartThreshold > 1 {
		errs = append(errs, fmt.Errorf("start threshold %v out of [0, 1]", c.StartThreshold))
	}
	if c.EndThreshold < 0 || c.EndThreshold > c.StartThreshold {
		errs = append(errs, fmt.Errorf("end threshold %v must be in [0, start threshold]", c.EndThreshold))
	}
	if c.MinSilenceDurationMs < 0 || c.SpeechPadMs < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("vad: invalid neural config: %w", err)
	}
	return nil
}

// NeuralDetector turns per-frame model probabilities into a voiced flag
// with start/end hysteresis.
//
// Speech starts on the first frame with probability at or above the start
// threshold. It ends once the probability has stayed below the end
// threshold for the minimum silence duration; any frame at or above the end
// threshold restarts that countdown. Frames within the speech pad after an
// end are still reported voiced.
type NeuralDetector struct {
	streamer *Streamer
	model    Model
	cfg      NeuralConfig

	triggered     bool
	tempEnd       int64
	currentSample int64
	padUntil      int64
}

// NewNeuralDetector takes ownership of model; Close releases it.
func NewNeuralDetector(model Model, cfg NeuralConfig) (*NeuralDetector, error) {
	if model == nil {
		return nil, errors.New("vad: nil model")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &NeuralDetector{
		streamer: NewStreamer(model),
		model:    model,
		cfg:      cfg,
	}, nil
}

// Classify runs the model over frame and applies the hysteresis.
func (d *NeuralDetector) Classify(frame []byte, sampleRate int) (Result, error) {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return Result{}, fmt.Errorf("%w: frame of %d bytes is not whole 16-bit samples", ErrInvalidAudioInput, len(frame))
	}
	samples := pcmToFloat32(frame)
	probs, err := d.streamer.Call([][]float32{samples}, sampleRate)
	if err != nil {
		return Result{}, err
	}
	return d.step(probs[0], int64(len(samples)), sampleRate), nil
}

func (d *NeuralDetector) step(prob float32, frameSamples int64, sampleRate int) Result {
	minSilence := int64(sampleRate) * int64(d.cfg.MinSilenceDurationMs) / 1000
	pad := int64(sampleRate) * int64(d.cfg.SpeechPadMs) / 1000

	d.currentSample += frameSamples
	res := Result{Probability: prob}
	p := float64(prob)

	if p >= d.cfg.EndThreshold {
		d.tempEnd = 0
	}

	switch {
	case p >= d.cfg.StartThreshold && !d.triggered:
		d.triggered = true
		res.Event = EventStart
		res.EventSample = max(0, d.currentSample-pad-frameSamples)
	case p < d.cfg.EndThreshold && d.triggered:
		if d.tempEnd == 0 {
			d.tempEnd = d.currentSample
		}
		if d.currentSample-d.tempEnd >= minSilence {
			res.Event = EventEnd
			res.EventSample = d.tempEnd + pad - frameSamples
			d.triggered = false
			d.tempEnd = 0
			d.padUntil = d.currentSample + pad
		}
	}

	res.Voiced = d.triggered || d.currentSample < d.padUntil
	return res
}

// Reset clears the model state and the hysteresis.
func (d *NeuralDetector) Reset() error {
	d.streamer.Reset()
	d.triggered = false
	d.tempEnd = 0
	d.currentSample = 0
	d.padUntil = 0
	return nil
}

// Close releases the model.
func (d *NeuralDetector) Close() error {
	if d.model == nil {
		return nil
	}
	err := d.model.Close()
	d.model = nil
	return err
}
