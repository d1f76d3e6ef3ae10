package audio

import (
	"context"
	"errors"
)

// ErrCaptureUnavailable reports that no capture device can be opened, either
// because permission was refused or because capture support is not built in.
var ErrCaptureUnavailable = errors.New("audio: capture unavailable")

// Source produces raw 16-bit little-endian mono PCM.
//
// Read blocks until buf is full, the source is exhausted (io.EOF) or the
// device fails. Stop releases the device and is safe to call more than once.
type Source interface {
	Start(ctx context.Context) error
	Read(buf []byte) (int, error)
	Stop() error
}

// FrameBytes is the size of one capture frame of 16-bit mono PCM.
func FrameBytes(sampleRate, framesPerSecond int) int {
	if framesPerSecond <= 0 {
		return 0
	}
	return sampleRate / framesPerSecond * 2
}
