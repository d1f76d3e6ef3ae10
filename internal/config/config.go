package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultListenAddr  = "localhost:0"
	DefaultMetricsAddr = ""
	DefaultDetector    = "auto"

	DefaultStartThreshold       = 0.7
	DefaultEndThreshold         = 0.5
	DefaultMinSilenceDurationMs = 100
	DefaultSpeechPadMs          = 100
	DefaultNativeMode           = 3

	DefaultSampleRate           = 16000
	DefaultFramesPerSecond      = 20
	DefaultVoiceFramesThreshold = 5
	DefaultNoVoiceTimeoutSec    = 10
	DefaultMinVoicedSec         = 5
	DefaultMaxFileSec           = 300
	DefaultPollIntervalMs       = 20

	DefaultOutputDir = "recordings"
	DefaultSink      = "dir"
)

// Detector names accepted by Config.Detector.
const (
	DetectorAuto   = "auto"
	DetectorSilero = "silero"
	DetectorWebRTC = "webrtc"
	DetectorStub   = "stub"
)

// Config holds the recorder configuration.
type Config struct {
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
	LogLevel    string `json:"log_level" yaml:"log_level"`

	Detector             string  `json:"detector" yaml:"detector"`
	StartThreshold       float64 `json:"start_threshold" yaml:"start_threshold"`
	EndThreshold         float64 `json:"end_threshold" yaml:"end_threshold"`
	MinSilenceDurationMs int     `json:"min_silence_duration_ms" yaml:"min_silence_duration_ms"`
	SpeechPadMs          int     `json:"speech_pad_ms" yaml:"speech_pad_ms"`
	NativeMode           int     `json:"native_mode" yaml:"native_mode"`
	ModelPath            string  `json:"model_path" yaml:"model_path"`

	SampleRate           int `json:"sample_rate" yaml:"sample_rate"`
	FramesPerSecond      int `json:"frames_per_second" yaml:"frames_per_second"`
	VoiceFramesThreshold int `json:"voice_frames_threshold" yaml:"voice_frames_threshold"`
	NoVoiceTimeoutSec    int `json:"no_voice_timeout_sec" yaml:"no_voice_timeout_sec"`
	MinVoicedSec         int `json:"min_voiced_sec" yaml:"min_voiced_sec"`
	MaxFileSec           int `json:"max_file_sec" yaml:"max_file_sec"`
	PollIntervalMs       int `json:"poll_interval_ms" yaml:"poll_interval_ms"`

	OutputDir   string `json:"output_dir" yaml:"output_dir"`
	Sink        string `json:"sink" yaml:"sink"`
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:           DefaultListenAddr,
		MetricsAddr:          DefaultMetricsAddr,
		Detector:             DefaultDetector,
		StartThreshold:       DefaultStartThreshold,
		EndThreshold:         DefaultEndThreshold,
		MinSilenceDurationMs: DefaultMinSilenceDurationMs,
		SpeechPadMs:          DefaultSpeechPadMs,
		NativeMode:           DefaultNativeMode,
		SampleRate:           DefaultSampleRate,
		FramesPerSecond:      DefaultFramesPerSecond,
		VoiceFramesThreshold: DefaultVoiceFramesThreshold,
		NoVoiceTimeoutSec:    DefaultNoVoiceTimeoutSec,
		MinVoicedSec:         DefaultMinVoicedSec,
		MaxFileSec:           DefaultMaxFileSec,
		PollIntervalMs:       DefaultPollIntervalMs,
		OutputDir:            DefaultOutputDir,
		Sink:                 DefaultSink,
	}
}

// Validate checks the whole configuration and returns every problem found.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Detector) {
	case DetectorAuto, DetectorSilero, DetectorWebRTC, DetectorStub:
	default:
		errs = append(errs, fmt.Errorf("config: detector %q is invalid; valid values: auto, silero, webrtc, stub", c.Detector))
	}
	if err := c.ValidateVADParams(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ValidateSegmentParams(); err != nil {
		errs = append(errs, err)
	}

	switch c.Sink {
	case "dir", "root":
	default:
		errs = append(errs, fmt.Errorf("config: sink %q is invalid; valid values: dir, root", c.Sink))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("config: output_dir must not be empty"))
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("config: poll_interval_ms must be positive, got %d", c.PollIntervalMs))
	}
	return errors.Join(errs...)
}

// ValidateVADParams checks the detector thresholds and timings.
func (c Config) ValidateVADParams() error {
	var errs []error
	if c.StartThreshold < 0 || c.StartThreshold > 1 {
		errs = append(errs, fmt.Errorf("config: start_threshold must be between 0 and 1, got %v", c.StartThreshold))
	}
	if c.EndThreshold < 0 || c.EndThreshold > 1 {
		errs = append(errs, fmt.Errorf("config: end_threshold must be between 0 and 1, got %v", c.EndThreshold))
	}
	if c.EndThreshold > c.StartThreshold {
		errs = append(errs, fmt.Errorf("config: end_threshold (%v) must not exceed start_threshold (%v)", c.EndThreshold, c.StartThreshold))
	}
	if c.MinSilenceDurationMs < 0 {
		errs = append(errs, fmt.Errorf("config: min_silence_duration_ms must not be negative, got %d", c.MinSilenceDurationMs))
	}
	if c.SpeechPadMs < 0 {
		errs = append(errs, fmt.Errorf("config: speech_pad_ms must not be negative, got %d", c.SpeechPadMs))
	}
	if c.NativeMode < 0 || c.NativeMode > 3 {
		errs = append(errs, fmt.Errorf("config: native_mode must be between 0 and 3, got %d", c.NativeMode))
	}
	return errors.Join(errs...)
}

// ValidateSegmentParams checks the capture format and segmentation thresholds.
func (c Config) ValidateSegmentParams() error {
	var errs []error
	switch {
	case c.SampleRate == 8000, c.SampleRate == 16000:
	case c.SampleRate > 16000 && c.SampleRate%16000 == 0:
	default:
		errs = append(errs, fmt.Errorf("config: sample_rate must be 8000, 16000 or a multiple of 16000, got %d", c.SampleRate))
	}
	if c.FramesPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("config: frames_per_second must be positive, got %d", c.FramesPerSecond))
	} else if c.SampleRate%c.FramesPerSecond != 0 {
		errs = append(errs, fmt.Errorf("config: sample_rate %d is not divisible by frames_per_second %d", c.SampleRate, c.FramesPerSecond))
	}
	if c.VoiceFramesThreshold < 0 || c.VoiceFramesThreshold >= c.FramesPerSecond {
		errs = append(errs, fmt.Errorf("config: voice_frames_threshold must be in [0, %d), got %d", c.FramesPerSecond, c.VoiceFramesThreshold))
	}
	if c.NoVoiceTimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("config: no_voice_timeout_sec must be at least 1, got %d", c.NoVoiceTimeoutSec))
	}
	if c.MinVoicedSec < 1 {
		errs = append(errs, fmt.Errorf("config: min_voiced_sec must be at least 1, got %d", c.MinVoicedSec))
	}
	if c.MaxFileSec < c.NoVoiceTimeoutSec {
		errs = append(errs, fmt.Errorf("config: max_file_sec (%d) must be at least no_voice_timeout_sec (%d)", c.MaxFileSec, c.NoVoiceTimeoutSec))
	}
	return errors.Join(errs...)
}

// PollInterval returns the segmentation loop's idle sleep.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
