package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nupi-ai/voice-recorder/internal/audio"
	"github.com/nupi-ai/voice-recorder/internal/notify"
	"github.com/nupi-ai/voice-recorder/internal/observe"
	"github.com/nupi-ai/voice-recorder/internal/segment"
	"github.com/nupi-ai/voice-recorder/internal/storage"
)

// fileSaver writes closed segments as WAV files and announces them.
type fileSaver struct {
	sink    storage.Sink
	format  audio.Format
	bus     *notify.Bus
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func (s *fileSaver) SaveSegment(seg segment.Segment) error {
	if err := s.write(seg); err != nil {
		if !errors.Is(err, segment.ErrNameTaken) {
			s.metrics.SaveErrors.Add(context.Background(), 1)
		}
		return err
	}

	size := int64(audio.HeaderSize + len(seg.PCM))
	duration := time.Duration(len(seg.PCM)) * time.Second / time.Duration(s.format.ByteRate())
	s.metrics.RecordSaved(context.Background(), string(seg.Reason), size, duration)
	if s.bus != nil {
		s.bus.Publish(notify.NewFileSavedEvent(seg.Name, size, duration, seg.VoicedSeconds, string(seg.Reason), s.now()))
	}
	return nil
}

// write streams header and payload to the sink. A failed file is removed.
func (s *fileSaver) write(seg segment.Segment) error {
	w, err := s.sink.CreateOutputStream(seg.Name, audio.MIMEType)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("pipeline: create %s: %w", seg.Name, segment.ErrNameTaken)
	}
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrSinkWriteFailure, seg.Name, err)
	}
	werr := audio.WriteWAV(w, seg.PCM, s.format)
	cerr := w.Close()
	if err := errors.Join(werr, cerr); err != nil {
		if rmErr := s.sink.Remove(seg.Name); rmErr != nil {
			s.log.Warn("failed to remove corrupt file", "file_name", seg.Name, "error", rmErr)
		}
		return fmt.Errorf("%w: write %s: %w", ErrSinkWriteFailure, seg.Name, err)
	}
	return nil
}

// metricsObserver forwards engine decisions to the metric instruments.
type metricsObserver struct {
	metrics *observe.Metrics
}

func (o metricsObserver) SecondEvaluated(hasVoice bool) {
	o.metrics.RecordSecond(context.Background(), hasVoice)
}

func (o metricsObserver) SegmentDiscarded(int) {
	o.metrics.SegmentsDiscarded.Add(context.Background(), 1)
}
