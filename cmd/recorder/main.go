package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nupi-ai/voice-recorder/internal/audio"
	"github.com/nupi-ai/voice-recorder/internal/catalog"
	"github.com/nupi-ai/voice-recorder/internal/config"
	"github.com/nupi-ai/voice-recorder/internal/notify"
	"github.com/nupi-ai/voice-recorder/internal/observe"
	"github.com/nupi-ai/voice-recorder/internal/pipeline"
	"github.com/nupi-ai/voice-recorder/internal/segment"
	"github.com/nupi-ai/voice-recorder/internal/server"
	"github.com/nupi-ai/voice-recorder/internal/storage"
	"github.com/nupi-ai/voice-recorder/internal/vad"
)

// version is set at build time by GoReleaser via -ldflags.
var version = "dev"

const stopTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	list := flag.Bool("list", false, "print the recordings catalog and exit")
	limit := flag.Int("limit", 20, "rows printed by -list (0 for all)")
	input := flag.String("input", "", "segment a raw PCM or WAV file instead of the microphone")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loadResult, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}
	cfg := loadResult.Config

	logger := newLogger(cfg.LogLevel)
	for _, warn := range loadResult.Warnings {
		logger.Warn(warn)
	}

	if *list {
		if err := listRecordings(ctx, os.Stdout, cfg.CatalogPath, *limit); err != nil {
			logger.Error("failed to list recordings", "error", err)
			return 1
		}
		return 0
	}

	logger.Info("starting recorder",
		"version", version,
		"detector_config", cfg.Detector,
		"listen_addr", cfg.ListenAddr,
		"output_dir", cfg.OutputDir,
		"sink", cfg.Sink,
		"sample_rate", cfg.SampleRate,
	)

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voice-recorder",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics provider shutdown", "error", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		mlis, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			logger.Error("failed to bind metrics listener", "error", err)
			return 1
		}
		go func() {
			if err := observe.ServeMetrics(ctx, mlis, nil, logger); err != nil {
				logger.Error("metrics server terminated with error", "error", err)
			}
		}()
	}

	// Bind before the detector loads so health checks see NOT_SERVING early.
	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to bind listener", "error", err)
		return 1
	}
	srv := server.New(logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil {
			serverErr <- err
		}
	}()
	defer srv.Stop(stopTimeout)
	logger.Info("gRPC health server started", "addr", lis.Addr().String())

	det, kind, err := vad.Open(vad.Options{
		Kind: cfg.Detector,
		Neural: vad.NeuralConfig{
			StartThreshold:       cfg.StartThreshold,
			EndThreshold:         cfg.EndThreshold,
			MinSilenceDurationMs: cfg.MinSilenceDurationMs,
			SpeechPadMs:          cfg.SpeechPadMs,
		},
		NativeMode: cfg.NativeMode,
		ModelPath:  cfg.ModelPath,
		DevMode:    os.Getenv(vad.EnvDevMode) == "1",
		Logger:     logger,
	})
	if err != nil {
		logger.Error("detector initialization failed, cannot start", "error", err)
		if cfg.Detector == config.DetectorAuto {
			logger.Error("hint: set " + vad.EnvDevMode + "=1 to allow fallback to the stub detector")
		}
		return 1
	}
	logger.Info("detector ready", "type", kind)

	sink, err := storage.Open(cfg.Sink, cfg.OutputDir)
	if err != nil {
		det.Close()
		logger.Error("failed to open output sink", "error", err)
		return 1
	}
	if c, ok := sink.(io.Closer); ok {
		defer c.Close()
	}

	bus := notify.NewBus(logger)
	catalogDone := make(chan struct{})
	if cfg.CatalogPath != "" {
		store, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			det.Close()
			logger.Error("failed to open catalog", "error", err)
			return 1
		}
		events, _ := bus.Subscribe(64)
		go func() {
			defer close(catalogDone)
			defer store.Close()
			store.Consume(context.Background(), events, logger)
		}()
	} else {
		close(catalogDone)
	}
	defer func() {
		bus.Close()
		<-catalogDone
	}()

	src, permitted, err := openSource(*input, cfg)
	if err != nil {
		det.Close()
		logger.Error("failed to open audio input", "error", err)
		return 1
	}

	p, err := pipeline.New(pipeline.Options{
		Source:         src,
		Detector:       det,
		Sink:           sink,
		Params:         segmentParams(cfg),
		Permitted:      permitted,
		Bus:            bus,
		Metrics:        observe.DefaultMetrics(),
		Logger:         logger,
		PollInterval:   cfg.PollInterval(),
		OnCaptureState: srv.SetRecording,
	})
	if err != nil {
		src.Stop()
		det.Close()
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx) }()

	select {
	case err := <-serverErr:
		logger.Error("gRPC server terminated with error", "error", err)
		stop()
		<-runErr
		return 1
	case err := <-runErr:
		if err != nil {
			if errors.Is(err, pipeline.ErrCaptureUnavailable) {
				logger.Error("capture unavailable", "error", err,
					"hint", "grant microphone access or build with -tags portaudio")
			} else {
				logger.Error("pipeline stopped with error", "error", err)
			}
			return 1
		}
	}

	logger.Info("recorder stopped")
	return 0
}

func openSource(input string, cfg config.Config) (audio.Source, func() bool, error) {
	if input == "" {
		return audio.NewPortAudioSource(cfg.SampleRate, cfg.FramesPerSecond), audio.MicrophoneAvailable, nil
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, nil, err
	}
	return audio.NewReaderSource(f, cfg.SampleRate), nil, nil
}

func segmentParams(cfg config.Config) segment.Params {
	return segment.Params{
		SampleRate:           cfg.SampleRate,
		Channels:             1,
		BitsPerSample:        16,
		FramesPerSecond:      cfg.FramesPerSecond,
		VoiceFramesThreshold: cfg.VoiceFramesThreshold,
		NoVoiceTimeout:       cfg.NoVoiceTimeoutSec,
		MinVoiced:            cfg.MinVoicedSec,
		MaxFile:              cfg.MaxFileSec,
	}
}

func listRecordings(ctx context.Context, w io.Writer, path string, limit int) error {
	if path == "" {
		return errors.New("catalog_path is not configured")
	}
	store, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tDURATION\tVOICED\tBYTES\tREASON\tSAVED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%ds\t%d\t%s\t%s\n",
			r.FileName, r.Duration, r.VoicedSeconds, r.Bytes, r.Reason,
			r.SavedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
