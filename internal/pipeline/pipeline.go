// Package pipeline runs the recorder: a capture loop classifies frames and
// queues them, a segmentation loop turns them into saved recordings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nupi-ai/voice-recorder/internal/audio"
	"github.com/nupi-ai/voice-recorder/internal/notify"
	"github.com/nupi-ai/voice-recorder/internal/observe"
	"github.com/nupi-ai/voice-recorder/internal/segment"
	"github.com/nupi-ai/voice-recorder/internal/storage"
	"github.com/nupi-ai/voice-recorder/internal/vad"
)

var (
	// ErrCaptureUnavailable halts the pipeline: the device is missing, busy
	// or permission was refused.
	ErrCaptureUnavailable = audio.ErrCaptureUnavailable

	// ErrSinkWriteFailure marks a recording that could not be written. The
	// segment is abandoned and the pipeline keeps running.
	ErrSinkWriteFailure = errors.New("pipeline: sink write failure")
)

// DefaultPollInterval is how long the segmentation loop sleeps on an empty queue.
const DefaultPollInterval = 20 * time.Millisecond

// Rejection reasons reported on recorder.frames.rejected.
const (
	rejectShortRead    = "short_read"
	rejectInvalidInput = "invalid_input"
	rejectDetector     = "detector_error"
)

// Options wires the pipeline's collaborators.
type Options struct {
	Source   audio.Source
	Detector vad.Detector
	Sink     storage.Sink
	Params   segment.Params

	// Permitted is consulted before capture starts. Nil means permitted.
	Permitted func() bool

	// Optional.
	Bus            *notify.Bus
	Metrics        *observe.Metrics
	Logger         *slog.Logger
	PollInterval   time.Duration
	Now            func() time.Time
	OnCaptureState func(active bool)
}

// Pipeline owns one capture session. Source and detector are released
// when Run returns.
type Pipeline struct {
	src       audio.Source
	det       vad.Detector
	permitted func() bool
	params    segment.Params
	queue     *Queue
	engine    *segment.Engine
	metrics   *observe.Metrics
	log       *slog.Logger
	poll      time.Duration
	onCapture func(bool)

	releaseOnce sync.Once
	ran         bool
}

// New validates opts and builds an idle pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil {
		return nil, errors.New("pipeline: nil source")
	}
	if opts.Detector == nil {
		return nil, errors.New("pipeline: nil detector")
	}
	if opts.Sink == nil {
		return nil, errors.New("pipeline: nil sink")
	}
	if opts.Params.Channels != 1 || opts.Params.BitsPerSample != 16 {
		return nil, fmt.Errorf("pipeline: capture is mono 16-bit, got %d ch/%d bit", opts.Params.Channels, opts.Params.BitsPerSample)
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := base.With("component", "pipeline")
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	saver := &fileSaver{
		sink: opts.Sink,
		format: audio.Format{
			SampleRate:    opts.Params.SampleRate,
			Channels:      opts.Params.Channels,
			BitsPerSample: opts.Params.BitsPerSample,
		},
		bus:     opts.Bus,
		metrics: metrics,
		log:     logger,
		now:     now,
	}
	engine, err := segment.New(opts.Params, saver, base.With("component", "segment"),
		segment.WithClock(now),
		segment.WithObserver(metricsObserver{metrics: metrics}),
	)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		src:       opts.Source,
		det:       opts.Detector,
		permitted: opts.Permitted,
		params:    opts.Params,
		queue:     NewQueue(),
		engine:    engine,
		metrics:   metrics,
		log:       logger,
		poll:      poll,
		onCapture: opts.OnCaptureState,
	}, nil
}

// Run captures until ctx is cancelled, the source is exhausted or capture
// fails. On exit the open segment goes through the shutdown policy and the
// source and detector are released. A Pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.ran {
		return errors.New("pipeline: already run")
	}
	p.ran = true
	defer p.release()

	if p.permitted != nil && !p.permitted() {
		return fmt.Errorf("%w: microphone permission not granted", ErrCaptureUnavailable)
	}
	if err := p.src.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: start capture: %w", err)
	}
	p.log.Info("capture started",
		"sample_rate", p.params.SampleRate,
		"frames_per_second", p.params.FramesPerSecond,
	)

	captureDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(captureDone)
		return p.captureLoop(gctx)
	})
	g.Go(func() error {
		return p.segmentLoop(gctx, captureDone)
	})
	err := g.Wait()

	st := p.engine.Stats()
	p.log.Info("pipeline stopped",
		"seconds", st.Seconds,
		"voiced_seconds", st.VoicedSeconds,
		"segments_saved", st.SegmentsSaved,
		"segments_discarded", st.SegmentsDiscarded,
		"save_failures", st.SaveFailures,
	)
	return err
}

// Stats returns the segmentation totals. Call it after Run returns.
func (p *Pipeline) Stats() segment.Stats { return p.engine.Stats() }

func (p *Pipeline) captureLoop(ctx context.Context) error {
	p.setCaptureState(ctx, true)
	defer p.setCaptureState(ctx, false)

	rate := p.params.SampleRate
	frameBytes := audio.FrameBytes(rate, p.params.FramesPerSecond)
	for {
		if ctx.Err() != nil {
			return nil
		}
		buf := make([]byte, frameBytes)
		n, err := p.src.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				p.log.Info("capture source exhausted")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrCaptureUnavailable) {
				return fmt.Errorf("pipeline: capture: %w", err)
			}
			return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		}
		if n < frameBytes {
			p.metrics.RecordRejected(ctx, rejectShortRead)
			p.log.Debug("short read discarded", "bytes", n, "want", frameBytes)
			continue
		}

		start := time.Now()
		res, err := p.det.Classify(buf, rate)
		took := time.Since(start)
		if err != nil {
			if errors.Is(err, vad.ErrInvalidAudioInput) {
				p.metrics.RecordRejected(ctx, rejectInvalidInput)
				p.log.Debug("frame rejected", "error", err)
			} else {
				p.metrics.RecordRejected(ctx, rejectDetector)
				p.log.Warn("frame classification failed", "error", err)
			}
			continue
		}
		p.metrics.RecordFrame(ctx, res.Voiced, took)
		if res.Event != vad.EventNone {
			p.log.Debug("speech boundary",
				"event", res.Event.String(),
				"sample", res.EventSample,
				"probability", res.Probability,
			)
		}

		p.queue.Push(Frame{PCM: buf, Voiced: res.Voiced})
		p.metrics.QueueDepth.Add(ctx, 1)
	}
}

// segmentLoop drains the queue whenever it is signalled or the poll interval
// elapses. Once capture has stopped it drains the remainder and applies the
// shutdown policy.
func (p *Pipeline) segmentLoop(ctx context.Context, captureDone <-chan struct{}) error {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		p.drain()
		select {
		case <-ctx.Done():
			<-captureDone
			return p.finish()
		case <-captureDone:
			return p.finish()
		case <-p.queue.Ready():
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) drain() {
	for {
		f, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.metrics.QueueDepth.Add(context.Background(), -1)
		if err := p.engine.Step(f.PCM, f.Voiced); err != nil {
			p.log.Warn("recording abandoned", "error", err, "queue_len", p.queue.Len())
		}
	}
}

func (p *Pipeline) finish() error {
	p.drain()
	if err := p.engine.Shutdown(); err != nil {
		return fmt.Errorf("pipeline: shutdown flush: %w", err)
	}
	return nil
}

func (p *Pipeline) setCaptureState(ctx context.Context, active bool) {
	if active {
		p.metrics.CaptureActive.Add(ctx, 1)
	} else {
		p.metrics.CaptureActive.Add(ctx, -1)
	}
	if p.onCapture != nil {
		p.onCapture(active)
	}
}

func (p *Pipeline) release() {
	p.releaseOnce.Do(func() {
		if err := errors.Join(p.src.Stop(), p.det.Close()); err != nil {
			p.log.Warn("failed to release capture resources", "error", err)
		}
	})
}
