package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ReaderSource replays PCM from an io.Reader. A stream that starts with a
// RIFF header is treated as WAV: chunks before "data" are skipped, the format
// must match and only the declared data bytes are replayed. Anything else is
// read as raw 16-bit mono PCM.
type ReaderSource struct {
	r       io.Reader
	closer  io.Closer
	want    Format
	br      *bufio.Reader
	pcm     io.Reader
	started bool

	stopOnce sync.Once
	stopErr  error
}

// NewReaderSource wraps r. When r is also an io.Closer it is closed by Stop.
func NewReaderSource(r io.Reader, sampleRate int) *ReaderSource {
	s := &ReaderSource{
		r:    r,
		want: Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16},
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Start inspects the stream for a WAV header.
func (s *ReaderSource) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.br = bufio.NewReader(s.r)
	peek, err := s.br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("audio: inspect input: %w", err)
	}
	s.pcm = s.br
	if string(peek) == "RIFF" {
		f, size, err := readWAVHeader(s.br)
		if err != nil {
			return err
		}
		if f != s.want {
			return fmt.Errorf("%w: input is %d Hz/%d ch/%d bit, want %d Hz/%d ch/%d bit", ErrInvalidWAV,
				f.SampleRate, f.Channels, f.BitsPerSample,
				s.want.SampleRate, s.want.Channels, s.want.BitsPerSample)
		}
		if size != unknownDataSize {
			s.pcm = io.LimitReader(s.br, int64(size))
		}
	}
	s.started = true
	return nil
}

// Read fills buf. A short final frame is reported as io.ErrUnexpectedEOF.
func (s *ReaderSource) Read(buf []byte) (int, error) {
	if !s.started {
		return 0, errors.New("audio: reader source not started")
	}
	return io.ReadFull(s.pcm, buf)
}

// Stop closes the underlying reader when it is closable.
func (s *ReaderSource) Stop() error {
	s.stopOnce.Do(func() {
		if s.closer != nil {
			s.stopErr = s.closer.Close()
		}
	})
	return s.stopErr
}

const (
	formatExtensible = 0xFFFE

	// unknownDataSize is written by encoders that stream without seeking back.
	unknownDataSize = 0xFFFFFFFF
)

// readWAVHeader walks the RIFF chunks up to "data" and leaves r positioned at
// the first payload byte.
func readWAVHeader(r io.Reader) (Format, uint32, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, 0, fmt.Errorf("audio: read wav header: %w", err)
	}
	if string(riff[8:12]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("%w: missing WAVE marker", ErrInvalidWAV)
	}

	var (
		f       Format
		haveFmt bool
		chunk   [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Format{}, 0, fmt.Errorf("%w: missing data chunk: %w", ErrInvalidWAV, err)
		}
		id := string(chunk[:4])
		size := binary.LittleEndian.Uint32(chunk[4:])
		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, 0, fmt.Errorf("%w: fmt chunk of %d bytes", ErrInvalidWAV, size)
			}
			body := make([]byte, int(size)+int(size&1))
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, 0, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			tag := binary.LittleEndian.Uint16(body[0:])
			if tag == formatExtensible && size >= 26 {
				// The sub-format GUID starts with the real format tag.
				tag = binary.LittleEndian.Uint16(body[24:])
			}
			if tag != formatPCM {
				return Format{}, 0, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, tag)
			}
			f = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			return f, size, nil
		default:
			skip := int64(size) + int64(size&1)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Format{}, 0, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}
