package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// HeaderSize is the length of the canonical PCM WAV header.
const HeaderSize = 44

// MIMEType is the media type handed to storage sinks for encoded files.
const MIMEType = "audio/wav"

const formatPCM = 1

// ErrInvalidWAV is returned when a buffer does not hold a canonical PCM WAV header.
var ErrInvalidWAV = errors.New("audio: invalid wav")

// Format describes raw PCM layout.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ByteRate is SampleRate * Channels * BitsPerSample / 8.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign is Channels * BitsPerSample / 8.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Validate rejects formats that cannot be written into a PCM header.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 || f.Channels > 0xFFFF {
		return fmt.Errorf("audio: invalid channel count %d", f.Channels)
	}
	if f.BitsPerSample <= 0 || f.BitsPerSample%8 != 0 {
		return fmt.Errorf("audio: bits per sample must be a positive multiple of 8, got %d", f.BitsPerSample)
	}
	return nil
}

// wavHeader mirrors the on-disk layout; binary.Write emits it field by field.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Header is the decoded form of a canonical WAV header.
type Header struct {
	Format
	ChunkSize uint32
	DataSize  uint32
}

// Duration is the playback length implied by DataSize.
func (h Header) Duration() time.Duration {
	rate := h.ByteRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(int64(h.DataSize) * int64(time.Second) / int64(rate))
}

func newHeader(dataLen int, f Format) (wavHeader, error) {
	if err := f.Validate(); err != nil {
		return wavHeader{}, err
	}
	if uint64(dataLen)+36 > 0xFFFFFFFF {
		return wavHeader{}, fmt.Errorf("audio: payload of %d bytes exceeds wav size limit", dataLen)
	}
	return wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(dataLen) + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataLen),
	}, nil
}

// Encode returns pcm wrapped in a 44-byte canonical PCM WAV header.
func Encode(pcm []byte, f Format) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	if err := WriteWAV(buf, pcm, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV writes the header followed by the payload to w. A failure part
// way leaves w holding a truncated file; the caller owns cleanup.
func WriteWAV(w io.Writer, pcm []byte, f Format) error {
	h, err := newHeader(len(pcm), f)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("audio: write wav payload: %w", err)
	}
	return nil
}

// DecodeHeader parses and validates the canonical header at the start of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalidWAV, HeaderSize, len(data))
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return Header{}, fmt.Errorf("audio: read wav header: %w", err)
	}
	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return Header{}, fmt.Errorf("%w: missing RIFF marker", ErrInvalidWAV)
	case string(h.Format[:]) != "WAVE":
		return Header{}, fmt.Errorf("%w: missing WAVE marker", ErrInvalidWAV)
	case string(h.Subchunk1ID[:]) != "fmt ":
		return Header{}, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	case string(h.Subchunk2ID[:]) != "data":
		return Header{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	case h.AudioFormat != formatPCM:
		return Header{}, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, h.AudioFormat)
	}
	return Header{
		Format: Format{
			SampleRate:    int(h.SampleRate),
			Channels:      int(h.NumChannels),
			BitsPerSample: int(h.BitsPerSample),
		},
		ChunkSize: h.ChunkSize,
		DataSize:  h.Subchunk2Size,
	}, nil
}

// Decode splits an encoded file into its header and payload.
func Decode(data []byte) (Header, []byte, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return Header{}, nil, err
	}
	end := HeaderSize + int(h.DataSize)
	if end > len(data) {
		return Header{}, nil, fmt.Errorf("%w: data chunk declares %d bytes, %d present", ErrInvalidWAV, h.DataSize, len(data)-HeaderSize)
	}
	return h, data[HeaderSize:end], nil
}
