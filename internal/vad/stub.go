package vad

// StubToggleInterval is the number of frames after which the stub detector
// toggles between voiced and unvoiced. At 20 frames per second, 200 frames
// is ten seconds, long enough for a segment to open and close.
const StubToggleInterval = 200

// StubProbability is the fixed probability returned by the stub detector.
const StubProbability float32 = 0.42

// StubDetector returns deterministic results by alternating between voiced
// and unvoiced every StubToggleInterval frames. It does not inspect audio.
type StubDetector struct {
	counter int
	voiced  bool
}

// NewStubDetector creates a StubDetector starting unvoiced.
func NewStubDetector() *StubDetector {
	return &StubDetector{}
}

// Classify ignores the PCM data and advances the toggle counter.
func (d *StubDetector) Classify(_ []byte, _ int) (Result, error) {
	d.counter++
	res := Result{Probability: StubProbability}
	if d.counter >= StubToggleInterval {
		d.counter = 0
		d.voiced = !d.voiced
		res.Event = EventEnd
		if d.voiced {
			res.Event = EventStart
		}
	}
	res.Voiced = d.voiced
	return res, nil
}

// Reset returns the detector to its initial state.
func (d *StubDetector) Reset() error {
	d.counter = 0
	d.voiced = false
	return nil
}

// Close is a no-op for the stub detector.
func (d *StubDetector) Close() error {
	return nil
}
