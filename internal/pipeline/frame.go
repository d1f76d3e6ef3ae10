package pipeline

import "bytes"

// Frame is one captured PCM frame and its voice decision.
type Frame struct {
	PCM    []byte
	Voiced bool
}

// Equal compares both the samples and the flag.
func (f Frame) Equal(o Frame) bool {
	return f.Voiced == o.Voiced && bytes.Equal(f.PCM, o.PCM)
}
