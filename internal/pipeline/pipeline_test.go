package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/nupi-ai/voice-recorder/internal/audio"
	"github.com/nupi-ai/voice-recorder/internal/notify"
	"github.com/nupi-ai/voice-recorder/internal/observe"
	"github.com/nupi-ai/voice-recorder/internal/segment"
	"github.com/nupi-ai/voice-recorder/internal/storage"
	"github.com/nupi-ai/voice-recorder/internal/vad"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	return func() time.Time { return t }
}

func silence(seconds int) io.Reader {
	return bytes.NewReader(make([]byte, seconds*16000*2))
}

// fakeSource yields zeroed frames until limit reads, then endErr.
type fakeSource struct {
	limit   int // negative means endless
	endErr  error
	startFn func() error
	onRead  func(n int)

	mu      sync.Mutex
	reads   int
	started int
	stopped int
}

func (s *fakeSource) Start(context.Context) error {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	if s.startFn != nil {
		return s.startFn()
	}
	return nil
}

func (s *fakeSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	n := s.reads
	s.reads++
	s.mu.Unlock()
	if s.onRead != nil {
		s.onRead(n)
	}
	if s.limit >= 0 && n >= s.limit {
		if s.endErr != nil {
			return 0, s.endErr
		}
		return 0, io.EOF
	}
	clear(buf)
	return len(buf), nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

// scriptedDetector decides each frame by its index.
type scriptedDetector struct {
	voiced func(i int) bool
	err    func(i int) error
	i      int
	closed int
}

func (d *scriptedDetector) Classify(frame []byte, sampleRate int) (vad.Result, error) {
	i := d.i
	d.i++
	if d.err != nil {
		if err := d.err(i); err != nil {
			return vad.Result{}, err
		}
	}
	v := d.voiced != nil && d.voiced(i)
	return vad.Result{Voiced: v}, nil
}

func (d *scriptedDetector) Reset() error { d.i = 0; return nil }
func (d *scriptedDetector) Close() error { d.closed++; return nil }

// brokenSink fails every write and records removals.
type brokenSink struct {
	mu      sync.Mutex
	removed []string
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (brokenWriter) Close() error              { return nil }

func (s *brokenSink) CreateOutputStream(string, string) (io.WriteCloser, error) {
	return brokenWriter{}, nil
}

func (s *brokenSink) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, name)
	return nil
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	if opts.Params == (segment.Params{}) {
		opts.Params = segment.DefaultParams()
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.Now == nil {
		opts.Now = fixedClock()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func newDirSink(t *testing.T) *storage.DirSink {
	t.Helper()
	s, err := storage.NewDirSink(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRunStubDetectorSavesTrimmedSegment(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	sink := newDirSink(t)
	bus := notify.NewBus(quietLogger())
	events, cancel := bus.Subscribe(4)
	defer cancel()

	// The stub is silent for 10s, voiced for 10s, then silent again: the
	// segment closes on the 10th silent second with 9 seconds trimmed.
	p := newTestPipeline(t, Options{
		Source:   audio.NewReaderSource(silence(30), 16000),
		Detector: vad.NewStubDetector(),
		Sink:     sink,
		Bus:      bus,
		Metrics:  metrics,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := p.Stats()
	if st.Seconds != 30 || st.VoicedSeconds != 10 || st.SegmentsSaved != 1 {
		t.Fatalf("stats = %+v", st)
	}

	data, err := os.ReadFile(filepath.Join(sink.Dir(), "20240309140507.wav"))
	if err != nil {
		t.Fatal(err)
	}
	h, pcm, err := audio.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if h.Duration() != 10*time.Second || len(pcm) != 10*32000 {
		t.Fatalf("file holds %v (%d bytes), want 10s", h.Duration(), len(pcm))
	}

	select {
	case ev := <-events:
		if ev.FileName != "20240309140507.wav" || ev.Bytes != int64(len(data)) ||
			ev.Duration != 10*time.Second || ev.VoicedSeconds != 10 || ev.Reason != "silence" {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("no FileSavedEvent published")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	if got := sumMetric(rm, "recorder.seconds.evaluated"); got != 30 {
		t.Errorf("seconds evaluated = %d, want 30", got)
	}
	if got := sumMetric(rm, "recorder.segments.saved"); got != 1 {
		t.Errorf("segments saved = %d, want 1", got)
	}
	if got := sumMetric(rm, "recorder.queue.depth"); got != 0 {
		t.Errorf("queue depth = %d, want 0 after drain", got)
	}
}

func sumMetric(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestRunShutdownFlushesOpenSegment(t *testing.T) {
	sink := newDirSink(t)
	src := &fakeSource{limit: 12 * 20}
	det := &scriptedDetector{voiced: func(int) bool { return true }}
	p := newTestPipeline(t, Options{Source: src, Detector: det, Sink: sink})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	info, err := os.Stat(filepath.Join(sink.Dir(), "20240309140507.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(audio.HeaderSize+12*32000) {
		t.Fatalf("size = %d, want 12 seconds", info.Size())
	}
	if src.stopped != 1 || det.closed != 1 {
		t.Fatalf("stopped=%d closed=%d, want 1 each", src.stopped, det.closed)
	}
}

func TestRunRenamesWhenFileAlreadyExists(t *testing.T) {
	sink := newDirSink(t)
	existing := filepath.Join(sink.Dir(), "20240309140507.wav")
	if err := os.WriteFile(existing, []byte("earlier run"), 0o644); err != nil {
		t.Fatal(err)
	}
	bus := notify.NewBus(quietLogger())
	events, cancel := bus.Subscribe(1)
	defer cancel()

	src := &fakeSource{limit: 12 * 20}
	det := &scriptedDetector{voiced: func(int) bool { return true }}
	p := newTestPipeline(t, Options{Source: src, Detector: det, Sink: sink, Bus: bus})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st := p.Stats(); st.SegmentsSaved != 1 || st.SaveFailures != 0 {
		t.Fatalf("stats = %+v", st)
	}
	info, err := os.Stat(filepath.Join(sink.Dir(), "20240309140507-1.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(audio.HeaderSize+12*32000) {
		t.Fatalf("size = %d, want 12 seconds", info.Size())
	}
	if data, _ := os.ReadFile(existing); string(data) != "earlier run" {
		t.Fatalf("existing file overwritten: %q", data)
	}
	select {
	case ev := <-events:
		if ev.FileName != "20240309140507-1.wav" {
			t.Fatalf("event file = %q, want 20240309140507-1.wav", ev.FileName)
		}
	default:
		t.Fatal("no FileSavedEvent published")
	}
}

func TestRunLogsOneComponentPerLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	src := &fakeSource{limit: 12 * 20}
	det := &scriptedDetector{voiced: func(int) bool { return true }}
	p := newTestPipeline(t, Options{Source: src, Detector: det, Sink: newDirSink(t), Logger: logger})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var segmentLines int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if n := strings.Count(line, "component="); n != 1 {
			t.Errorf("line has %d component keys: %s", n, line)
		}
		if strings.Contains(line, "component=segment") {
			segmentLines++
		}
	}
	if segmentLines == 0 {
		t.Fatalf("no segment log lines in:\n%s", buf.String())
	}
}

func TestRunShortSegmentDiscardedOnShutdown(t *testing.T) {
	sink := newDirSink(t)
	src := &fakeSource{limit: 8 * 20}
	det := &scriptedDetector{voiced: func(int) bool { return true }}
	p := newTestPipeline(t, Options{Source: src, Detector: det, Sink: sink})

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(sink.Dir())
	if len(entries) != 0 {
		t.Fatalf("files written for an 8s segment: %v", entries)
	}
	if p.Stats().SegmentsDiscarded != 1 {
		t.Fatalf("stats = %+v", p.Stats())
	}
}

func TestRunDropsInvalidFrames(t *testing.T) {
	det := &scriptedDetector{
		voiced: func(int) bool { return true },
		err: func(i int) error {
			if i%2 == 0 {
				return vad.ErrInvalidAudioInput
			}
			return nil
		},
	}
	p := newTestPipeline(t, Options{
		Source:   &fakeSource{limit: 40},
		Detector: det,
		Sink:     newDirSink(t),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := p.Stats().Seconds; got != 1 {
		t.Fatalf("seconds evaluated = %d, want 1 (half the frames dropped)", got)
	}
}

func TestRunPermissionDenied(t *testing.T) {
	src := &fakeSource{limit: -1}
	det := &scriptedDetector{}
	p := newTestPipeline(t, Options{
		Source:    src,
		Detector:  det,
		Sink:      newDirSink(t),
		Permitted: func() bool { return false },
	})
	err := p.Run(context.Background())
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("err = %v, want ErrCaptureUnavailable", err)
	}
	if src.started != 0 {
		t.Fatal("capture started without permission")
	}
	if src.stopped != 1 || det.closed != 1 {
		t.Fatalf("resources not released: stopped=%d closed=%d", src.stopped, det.closed)
	}
}

func TestRunStartFailure(t *testing.T) {
	boom := errors.New("no device")
	src := &fakeSource{startFn: func() error { return boom }}
	p := newTestPipeline(t, Options{Source: src, Detector: &scriptedDetector{}, Sink: newDirSink(t)})
	if err := p.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestRunCaptureFailureIsFatal(t *testing.T) {
	sink := newDirSink(t)
	src := &fakeSource{limit: 12 * 20, endErr: errors.New("device lost")}
	det := &scriptedDetector{voiced: func(int) bool { return true }}
	p := newTestPipeline(t, Options{Source: src, Detector: det, Sink: sink})

	err := p.Run(context.Background())
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("err = %v, want ErrCaptureUnavailable", err)
	}
	// The open segment still goes through the shutdown policy.
	if p.Stats().SegmentsSaved != 1 {
		t.Fatalf("stats = %+v", p.Stats())
	}
	if src.stopped != 1 || det.closed != 1 {
		t.Fatalf("stopped=%d closed=%d", src.stopped, det.closed)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{limit: -1, onRead: func(n int) {
		if n == 25 {
			cancel()
		}
	}}
	det := &scriptedDetector{}

	var mu sync.Mutex
	var states []bool
	p := newTestPipeline(t, Options{
		Source:   src,
		Detector: det,
		Sink:     newDirSink(t),
		OnCaptureState: func(active bool) {
			mu.Lock()
			states = append(states, active)
			mu.Unlock()
		},
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if p.Stats().Seconds != 1 {
		t.Fatalf("seconds = %d, want 1 from the 25 frames read before cancel", p.Stats().Seconds)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || !states[0] || states[1] {
		t.Fatalf("capture states = %v, want [true false]", states)
	}
	if src.stopped != 1 || det.closed != 1 {
		t.Fatalf("stopped=%d closed=%d", src.stopped, det.closed)
	}
}

func TestRunSinkFailureKeepsRunning(t *testing.T) {
	sink := &brokenSink{}
	bus := notify.NewBus(quietLogger())
	events, cancel := bus.Subscribe(1)
	defer cancel()

	p := newTestPipeline(t, Options{
		Source:   audio.NewReaderSource(silence(35), 16000),
		Detector: vad.NewStubDetector(),
		Sink:     sink,
		Bus:      bus,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := p.Stats(); st.SaveFailures != 1 || st.Seconds != 35 {
		t.Fatalf("stats = %+v", st)
	}
	if len(sink.removed) != 1 || sink.removed[0] != "20240309140507.wav" {
		t.Fatalf("removed = %v", sink.removed)
	}
	select {
	case ev := <-events:
		t.Fatalf("event published for failed write: %+v", ev)
	default:
	}
}

func TestSaverWrapsSinkFailure(t *testing.T) {
	s := &fileSaver{
		sink:    &brokenSink{},
		format:  audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
		metrics: observe.DefaultMetrics(),
		log:     quietLogger(),
		now:     time.Now,
	}
	err := s.SaveSegment(segment.Segment{Name: "x.wav", PCM: make([]byte, 32000)})
	if !errors.Is(err, ErrSinkWriteFailure) {
		t.Fatalf("err = %v, want ErrSinkWriteFailure", err)
	}
}

func TestRunOnlyOnce(t *testing.T) {
	p := newTestPipeline(t, Options{Source: &fakeSource{limit: 0}, Detector: &scriptedDetector{}, Sink: newDirSink(t)})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("second Run succeeded")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	src, det, sink := &fakeSource{}, &scriptedDetector{}, newDirSink(t)
	stereo := segment.DefaultParams()
	stereo.Channels = 2
	bad := segment.DefaultParams()
	bad.MaxFile = 1

	cases := []struct {
		name string
		opts Options
	}{
		{"nil source", Options{Detector: det, Sink: sink, Params: segment.DefaultParams()}},
		{"nil detector", Options{Source: src, Sink: sink, Params: segment.DefaultParams()}},
		{"nil sink", Options{Source: src, Detector: det, Params: segment.DefaultParams()}},
		{"stereo", Options{Source: src, Detector: det, Sink: sink, Params: stereo}},
		{"bad params", Options{Source: src, Detector: det, Sink: sink, Params: bad}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts); err == nil {
				t.Fatal("New succeeded")
			}
		})
	}
}
