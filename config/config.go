// Package config loads and validates the bridge's tuning parameters from
// YAML. Every knob has a production default, so an empty file (or no file)
// yields a working configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/maxparsons123/happy-ride-helper-sub002/media"
	"github.com/maxparsons123/happy-ride-helper-sub002/media/dsp"
	"github.com/maxparsons123/happy-ride-helper-sub002/media/ingress"
	"github.com/maxparsons123/happy-ride-helper-sub002/media/playout"
)

// Config is the root of the YAML schema.
type Config struct {
	// LogLevel is any level logrus parses (trace..panic).
	LogLevel string `yaml:"log_level"`
	// AIRate is the wideband PCM rate of the AI channel in Hz.
	AIRate uint32 `yaml:"ai_rate"`
	// ResamplerQuality selects the fallback tier: standard, high, economy.
	ResamplerQuality string `yaml:"resampler_quality"`

	Playout     PlayoutConfig     `yaml:"playout"`
	Ingress     IngressConfig     `yaml:"ingress"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

// PlayoutConfig tunes the egress pacing engine.
type PlayoutConfig struct {
	CushionFrames int `yaml:"cushion_frames"`
	// GraceFrames bounds the starvation fade-out. An explicit 0 (or -1)
	// disables the fade; omit the key to keep the default of 6.
	GraceFrames   int `yaml:"grace_frames"`
	QueueCapacity int `yaml:"queue_capacity"`
	DriftBoundMs  int `yaml:"drift_bound_ms"`
}

// IngressConfig tunes the inbound pipeline.
type IngressConfig struct {
	JitterDepth  int        `yaml:"jitter_depth"`
	FlushPackets int        `yaml:"flush_packets"`
	Preemphasis  bool       `yaml:"preemphasis"`
	Gate         GateConfig `yaml:"gate"`
}

// GateConfig tunes the speech gate/AGC stage.
type GateConfig struct {
	Threshold   float64 `yaml:"threshold"`
	Attenuate   float64 `yaml:"attenuate"`
	TargetPeak  float64 `yaml:"target_peak"`
	HoldBuffers int     `yaml:"hold_buffers"`
}

// CoordinatorConfig tunes echo suppression and barge-in detection.
type CoordinatorConfig struct {
	EchoGuardMs      int     `yaml:"echo_guard_ms"`
	BargeInThreshold float64 `yaml:"barge_in_threshold"`
	BargeInFrames    int     `yaml:"barge_in_frames"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		AIRate:           24000,
		ResamplerQuality: "standard",
		Playout: PlayoutConfig{
			CushionFrames: 8,
			GraceFrames:   6,
			QueueCapacity: 150,
			DriftBoundMs:  60,
		},
		Ingress: IngressConfig{
			JitterDepth:  6,
			FlushPackets: 5,
		},
		Coordinator: CoordinatorConfig{
			EchoGuardMs:      200,
			BargeInThreshold: 0.08,
			BargeInFrames:    3,
		},
	}
}

// Load reads one YAML file over the defaults and validates the result.
//
// Parameters:
//   - path: YAML file path
//
// Returns:
//   - Config: merged configuration
//   - error: read, parse, or validation failure
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.IsValid(); err != nil {
		return cfg, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "config.Load",
		"path":     path,
		"ai_rate":  cfg.AIRate,
		"quality":  cfg.ResamplerQuality,
	}).Info("Configuration loaded")

	return cfg, nil
}

var validAIRates = map[uint32]bool{8000: true, 16000: true, 24000: true, 48000: true}

// IsValid checks every field against its allowed range.
func (c *Config) IsValid() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: invalid log_level %q: %w", c.LogLevel, err)
	}
	if !validAIRates[c.AIRate] {
		return fmt.Errorf("config: unsupported ai_rate %d", c.AIRate)
	}
	if _, err := c.Quality(); err != nil {
		return err
	}
	if c.Playout.CushionFrames < 0 || c.Playout.GraceFrames < -1 ||
		c.Playout.QueueCapacity < 0 || c.Playout.DriftBoundMs < 0 {
		return fmt.Errorf("config: negative playout parameter")
	}
	if c.Ingress.JitterDepth < 0 {
		return fmt.Errorf("config: negative jitter_depth")
	}
	if c.Coordinator.EchoGuardMs < 0 || c.Coordinator.BargeInFrames < 0 ||
		c.Coordinator.BargeInThreshold < 0 || c.Coordinator.BargeInThreshold > 1 {
		return fmt.Errorf("config: coordinator parameter out of range")
	}
	if c.Ingress.Gate.Threshold < 0 || c.Ingress.Gate.Threshold > 1 ||
		c.Ingress.Gate.TargetPeak < 0 || c.Ingress.Gate.TargetPeak > 1 {
		return fmt.Errorf("config: gate parameter out of range")
	}
	return nil
}

// Quality maps the configured quality name to the resampler tier.
func (c *Config) Quality() (dsp.Quality, error) {
	switch c.ResamplerQuality {
	case "", "standard":
		return dsp.QualityStandard, nil
	case "high":
		return dsp.QualityHigh, nil
	case "economy":
		return dsp.QualityEconomy, nil
	default:
		return dsp.QualityStandard, fmt.Errorf("config: unknown resampler_quality %q", c.ResamplerQuality)
	}
}

// ApplyLogging sets the global logrus level from the configuration.
func (c *Config) ApplyLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("config: invalid log_level %q: %w", c.LogLevel, err)
	}
	logrus.SetLevel(level)
	return nil
}

// SessionConfig translates the file schema into per-call pipeline tuning.
// An explicit grace_frames of 0 becomes the engine's NoGrace sentinel, so
// the file can disable the fade; the engine reserves 0 for "use default".
func (c *Config) SessionConfig() media.SessionConfig {
	quality, _ := c.Quality()
	grace := c.Playout.GraceFrames
	if grace <= 0 {
		grace = playout.NoGrace
	}
	return media.SessionConfig{
		Playout: playout.Config{
			SourceRate:    c.AIRate,
			CushionFrames: c.Playout.CushionFrames,
			GraceFrames:   grace,
			QueueCapacity: c.Playout.QueueCapacity,
			DriftBound:    time.Duration(c.Playout.DriftBoundMs) * time.Millisecond,
			Quality:       quality,
		},
		Ingress: ingress.Config{
			AIRate:       c.AIRate,
			JitterDepth:  c.Ingress.JitterDepth,
			FlushPackets: c.Ingress.FlushPackets,
			Preemphasis:  c.Ingress.Preemphasis,
			Quality:      quality,
			Gate: dsp.SpeechGateConfig{
				GateThreshold: c.Ingress.Gate.Threshold,
				GateAttenuate: c.Ingress.Gate.Attenuate,
				TargetPeak:    c.Ingress.Gate.TargetPeak,
				HoldBuffers:   c.Ingress.Gate.HoldBuffers,
			},
		},
		Coordinator: media.CoordinatorConfig{
			EchoGuard:        time.Duration(c.Coordinator.EchoGuardMs) * time.Millisecond,
			BargeInThreshold: c.Coordinator.BargeInThreshold,
			BargeInFrames:    c.Coordinator.BargeInFrames,
		},
	}
}
