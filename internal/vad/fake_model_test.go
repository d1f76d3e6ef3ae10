package vad

// fakeModel records every call and returns scripted probabilities. The next
// state is the previous state plus one, so tests can see whether state was
// carried or reset.
type fakeModel struct {
	probs  []float32
	probFn func(input []float32) float32
	err    error

	calls   int
	inputs  [][]float32
	states  [][]float32
	rates   []int64
	batches []int
	closed  int
}

func (m *fakeModel) Run(input []float32, batch int, state []float32, sampleRate int64) ([]float32, []float32, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	m.inputs = append(m.inputs, append([]float32(nil), input...))
	m.states = append(m.states, append([]float32(nil), state...))
	m.rates = append(m.rates, sampleRate)
	m.batches = append(m.batches, batch)

	var p float32
	switch {
	case m.probFn != nil:
		p = m.probFn(input)
	case len(m.probs) > 0:
		p = m.probs[min(m.calls, len(m.probs)-1)]
	}
	m.calls++

	probs := make([]float32, batch)
	for i := range probs {
		probs[i] = p
	}
	next := make([]float32, len(state))
	for i, v := range state {
		next[i] = v + 1
	}
	return probs, next, nil
}

func (m *fakeModel) Close() error {
	m.closed++
	return nil
}

// ramp returns n samples where sample i is float32(start+i).
func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

// pcmFrame returns n silent 16-bit samples.
func pcmFrame(n int) []byte {
	return make([]byte, n*2)
}
