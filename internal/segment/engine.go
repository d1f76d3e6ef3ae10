// Package segment groups voiced frames into per-second decisions and decides
// when a buffered segment is saved, discarded or split.
package segment

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Params are the segmentation thresholds. Durations are whole seconds.
type Params struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	FramesPerSecond      int // F: frames that make up one second
	VoiceFramesThreshold int // C: a second has voice when strictly more frames are voiced
	NoVoiceTimeout       int // T: silent seconds that close a segment
	MinVoiced            int // D: voiced seconds required to keep a segment
	MaxFile              int // M: buffered seconds that force a split
}

// DefaultParams returns 16 kHz mono 16-bit with F=20, C=5, T=10, D=5, M=300.
func DefaultParams() Params {
	return Params{
		SampleRate:           16000,
		Channels:             1,
		BitsPerSample:        16,
		FramesPerSecond:      20,
		VoiceFramesThreshold: 5,
		NoVoiceTimeout:       10,
		MinVoiced:            5,
		MaxFile:              300,
	}
}

// BytesPerSecond is the PCM byte rate.
func (p Params) BytesPerSecond() int {
	return p.SampleRate * p.Channels * p.BitsPerSample / 8
}

// Validate checks that the thresholds are consistent.
func (p Params) Validate() error {
	var errs []error
	if p.BytesPerSecond() <= 0 {
		errs = append(errs, fmt.Errorf("invalid audio format %d Hz/%d ch/%d bit", p.SampleRate, p.Channels, p.BitsPerSample))
	}
	if p.FramesPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("frames per second must be positive, got %d", p.FramesPerSecond))
	}
	if p.VoiceFramesThreshold < 0 || p.VoiceFramesThreshold >= p.FramesPerSecond {
		errs = append(errs, fmt.Errorf("voice frames threshold %d must be in [0, %d)", p.VoiceFramesThreshold, p.FramesPerSecond))
	}
	if p.NoVoiceTimeout < 1 || p.MinVoiced < 1 {
		errs = append(errs, errors.New("no-voice timeout and minimum voiced duration must be at least 1s"))
	}
	if p.MaxFile < p.NoVoiceTimeout {
		errs = append(errs, fmt.Errorf("max file duration %ds is below the no-voice timeout %ds", p.MaxFile, p.NoVoiceTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("segment: %w", err)
	}
	return nil
}

// Reason says why a segment was closed.
type Reason string

const (
	ReasonSilence  Reason = "silence"
	ReasonMaxFile  Reason = "max_duration"
	ReasonShutdown Reason = "shutdown"
)

// Segment is a closed segment ready to be written.
type Segment struct {
	Name          string
	PCM           []byte
	Seconds       int // whole seconds in PCM
	VoicedSeconds int
	Reason        Reason
}

// ErrNameTaken is returned by a Saver when a file with the segment's name
// already exists. The engine retries under the next free name.
var ErrNameTaken = errors.New("segment: name already taken")

// maxNameRetries bounds the renames tried for one segment.
const maxNameRetries = 100

// Saver persists a closed segment. A returned error other than ErrNameTaken
// abandons the segment.
type Saver interface {
	SaveSegment(seg Segment) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(Segment) error

func (f SaverFunc) SaveSegment(seg Segment) error { return f(seg) }

// Observer receives per-second decisions and discards. Methods are called
// from the goroutine driving the engine.
type Observer interface {
	SecondEvaluated(hasVoice bool)
	SegmentDiscarded(voicedSeconds int)
}

type nopObserver struct{}

func (nopObserver) SecondEvaluated(bool) {}
func (nopObserver) SegmentDiscarded(int) {}

// State is the engine's coarse state.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Stats are running totals since the engine was created.
type Stats struct {
	Seconds           int
	VoicedSeconds     int
	SegmentsSaved     int
	SegmentsDiscarded int
	SaveFailures      int
}

// Engine is the segmentation state machine. It is driven from a single
// goroutine and is not safe for concurrent use.
type Engine struct {
	p        Params
	saver    Saver
	observer Observer
	log      *slog.Logger
	names    *namer

	// open segment
	buf           []byte
	name          string
	voicedSeconds int
	silentSeconds int
	savedSeconds  int

	// current second
	scratch      []byte
	frameIndex   int
	voicedFrames int

	stats Stats
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the time source used for filenames.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.names.now = now }
}

// WithObserver registers o for per-second callbacks.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// New creates an idle engine.
func New(p Params, saver Saver, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if saver == nil {
		return nil, errors.New("segment: nil saver")
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		p:        p,
		saver:    saver,
		observer: nopObserver{},
		log:      logger,
		names:    newNamer(time.Now),
		scratch:  make([]byte, 0, p.BytesPerSecond()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State reports whether a segment is open.
func (e *Engine) State() State {
	if e.name != "" {
		return StateRecording
	}
	return StateIdle
}

// Stats returns the running totals.
func (e *Engine) Stats() Stats { return e.stats }

// Step consumes one frame. Every FramesPerSecond frames it closes the
// current second and applies the segment rules. The returned error is a
// save failure; the engine has already reset and can keep going.
func (e *Engine) Step(frame []byte, voiced bool) error {
	e.scratch = append(e.scratch, frame...)
	if voiced {
		e.voicedFrames++
	}
	e.frameIndex++
	if e.frameIndex < e.p.FramesPerSecond {
		return nil
	}
	err := e.endSecond(e.voicedFrames > e.p.VoiceFramesThreshold)
	e.frameIndex = 0
	e.voicedFrames = 0
	e.scratch = e.scratch[:0]
	return err
}

func (e *Engine) endSecond(hasVoice bool) error {
	e.stats.Seconds++
	e.observer.SecondEvaluated(hasVoice)

	var err error
	if hasVoice {
		e.stats.VoicedSeconds++
		e.silentSeconds = 0
		if e.name == "" {
			e.open()
		}
		if e.savedSeconds >= e.p.MaxFile {
			err = e.flush(ReasonMaxFile)
			e.reset()
			e.open()
		}
		e.voicedSeconds++
	} else {
		e.silentSeconds++
		if e.silentSeconds >= e.p.NoVoiceTimeout && e.name != "" {
			if e.voicedSeconds >= e.p.MinVoiced {
				e.buf = Trim(e.buf, e.p.BytesPerSecond(), e.p.NoVoiceTimeout-1)
				err = e.flush(ReasonSilence)
			} else {
				e.discard()
			}
			e.reset()
		}
	}

	if e.name != "" {
		e.buf = append(e.buf, e.scratch...)
		e.savedSeconds++
	}
	return err
}

// Shutdown applies the stop policy to an open segment: it is saved as-is
// when it holds at least MinVoiced voiced seconds and NoVoiceTimeout
// buffered seconds, and discarded otherwise. A partial second is dropped.
func (e *Engine) Shutdown() error {
	e.scratch = e.scratch[:0]
	e.frameIndex = 0
	e.voicedFrames = 0
	if e.name == "" {
		return nil
	}
	var err error
	if e.voicedSeconds >= e.p.MinVoiced && e.savedSeconds >= e.p.NoVoiceTimeout {
		err = e.flush(ReasonShutdown)
	} else {
		e.discard()
	}
	e.reset()
	return err
}

func (e *Engine) open() {
	e.name = e.names.next()
	e.log.Info("segment opened", "file_name", e.name)
}

func (e *Engine) flush(reason Reason) error {
	seg := Segment{
		Name:          e.name,
		PCM:           e.buf,
		Seconds:       len(e.buf) / e.p.BytesPerSecond(),
		VoicedSeconds: e.voicedSeconds,
		Reason:        reason,
	}
	err := e.saver.SaveSegment(seg)
	for i := 0; errors.Is(err, ErrNameTaken) && i < maxNameRetries; i++ {
		taken := seg.Name
		seg.Name = e.names.after(taken)
		e.log.Warn("file name already taken, renaming", "file_name", taken, "new_file_name", seg.Name)
		err = e.saver.SaveSegment(seg)
	}
	if err != nil {
		e.stats.SaveFailures++
		e.log.Error("segment save failed",
			"file_name", seg.Name,
			"reason", string(reason),
			"error", err,
		)
		return fmt.Errorf("segment: save %s: %w", seg.Name, err)
	}
	e.stats.SegmentsSaved++
	e.log.Info("segment saved",
		"file_name", seg.Name,
		"reason", string(reason),
		"seconds", seg.Seconds,
		"voiced_seconds", seg.VoicedSeconds,
	)
	return nil
}

func (e *Engine) discard() {
	e.stats.SegmentsDiscarded++
	e.observer.SegmentDiscarded(e.voicedSeconds)
	e.log.Info("segment discarded",
		"file_name", e.name,
		"voiced_seconds", e.voicedSeconds,
		"min_voiced_seconds", e.p.MinVoiced,
	)
}

// reset returns to Idle. The silent-second counter is left alone; only a
// voiced second clears it.
func (e *Engine) reset() {
	e.buf = nil
	e.name = ""
	e.voicedSeconds = 0
	e.savedSeconds = 0
}

// Trim drops the last seconds*bytesPerSecond bytes of buf, clamped at zero.
func Trim(buf []byte, bytesPerSecond, seconds int) []byte {
	n := len(buf) - bytesPerSecond*seconds
	if n < 0 {
		n = 0
	}
	return buf[:n]
}
