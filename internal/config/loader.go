package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Loader.
const (
	EnvConfigFile = "RECORDER_CONFIG_FILE"
	EnvConfigJSON = "RECORDER_CONFIG"
)

// Loader loads configuration from an optional YAML file, an optional JSON
// blob and per-key environment variables, in that order. Tests can override
// Lookup and ReadFile to inject deterministic inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Result is a loaded configuration plus non-fatal warnings for the caller
// to log.
type Result struct {
	Config   Config
	Warnings []string
}

// Load retrieves the recorder configuration.
func (l Loader) Load() (Result, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Default()

	if path, ok := l.Lookup(EnvConfigFile); ok && strings.TrimSpace(path) != "" {
		data, err := l.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return Result{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := applyYAML(bytes.NewReader(data), &cfg); err != nil {
			return Result{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if raw, ok := l.Lookup(EnvConfigJSON); ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return Result{}, fmt.Errorf("config: decode %s: %w", EnvConfigJSON, err)
		}
	}

	overrideString(l.Lookup, "RECORDER_LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, "RECORDER_METRICS_ADDR", &cfg.MetricsAddr)
	overrideString(l.Lookup, "RECORDER_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "RECORDER_DETECTOR", &cfg.Detector)
	overrideString(l.Lookup, "RECORDER_MODEL_PATH", &cfg.ModelPath)
	overrideString(l.Lookup, "RECORDER_OUTPUT_DIR", &cfg.OutputDir)
	overrideString(l.Lookup, "RECORDER_SINK", &cfg.Sink)
	overrideString(l.Lookup, "RECORDER_CATALOG_PATH", &cfg.CatalogPath)

	floats := []struct {
		key    string
		target *float64
	}{
		{"RECORDER_VAD_START_THRESHOLD", &cfg.StartThreshold},
		{"RECORDER_VAD_END_THRESHOLD", &cfg.EndThreshold},
	}
	for _, f := range floats {
		if err := overrideFloat(l.Lookup, f.key, f.target); err != nil {
			return Result{}, err
		}
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"RECORDER_VAD_MIN_SILENCE_DURATION_MS", &cfg.MinSilenceDurationMs},
		{"RECORDER_VAD_SPEECH_PAD_MS", &cfg.SpeechPadMs},
		{"RECORDER_VAD_NATIVE_MODE", &cfg.NativeMode},
		{"RECORDER_SAMPLE_RATE", &cfg.SampleRate},
		{"RECORDER_FRAMES_PER_SECOND", &cfg.FramesPerSecond},
		{"RECORDER_VOICE_FRAMES_THRESHOLD", &cfg.VoiceFramesThreshold},
		{"RECORDER_NO_VOICE_TIMEOUT_SEC", &cfg.NoVoiceTimeoutSec},
		{"RECORDER_MIN_VOICED_SEC", &cfg.MinVoicedSec},
		{"RECORDER_MAX_FILE_SEC", &cfg.MaxFileSec},
		{"RECORDER_POLL_INTERVAL_MS", &cfg.PollIntervalMs},
	}
	for _, i := range ints {
		if err := overrideInt(l.Lookup, i.key, i.target); err != nil {
			return Result{}, err
		}
	}

	cfg.Detector = strings.ToLower(cfg.Detector)
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Config: cfg, Warnings: warnings(cfg)}, nil
}

func applyYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// warnings reports settings that are accepted but have no effect.
func warnings(cfg Config) []string {
	var out []string
	def := Default()
	switch cfg.Detector {
	case DetectorWebRTC:
		if cfg.StartThreshold != def.StartThreshold || cfg.EndThreshold != def.EndThreshold {
			out = append(out, "start_threshold/end_threshold are ignored by the webrtc detector")
		}
		if cfg.ModelPath != "" {
			out = append(out, "model_path is ignored by the webrtc detector")
		}
	case DetectorSilero:
		if cfg.NativeMode != def.NativeMode {
			out = append(out, "native_mode is ignored by the silero detector")
		}
	}
	return out
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideFloat(lookup func(string) (string, bool), key string, target *float64) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("config: invalid value for %s: %w", key, err)
		}
		*target = parsed
	}
	return nil
}
