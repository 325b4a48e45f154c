package dsp

import (
	"math"

	"github.com/sirupsen/logrus"
)

// SpeechGate combines a noise gate with slow automatic gain control, tuned
// for a downstream recognizer rather than a human listener: buffers whose
// smoothed peak stays under the gate threshold are attenuated hard, and
// speech-level buffers are normalized toward the target peak within a
// bounded gain range.
type SpeechGate struct {
	gateThreshold float64 // normalized peak below which a buffer is noise
	gateAttenuate float64 // gain applied to gated buffers
	targetPeak    float64 // normalized peak the AGC steers toward
	minGain       float64
	maxGain       float64

	peak     float64 // smoothed peak tracker
	gain     float64 // current AGC gain
	holdLeft int     // buffers to keep open after speech drops
	holdLen  int
}

// SpeechGateConfig tunes the gate. Zero values select speech-recognition
// defaults.
type SpeechGateConfig struct {
	GateThreshold float64 // default 0.02 (~ -34 dBFS)
	GateAttenuate float64 // default 0.05
	TargetPeak    float64 // default 0.5
	HoldBuffers   int     // default 10 (~200ms of 20ms buffers)
}

// NewSpeechGate creates a gate with smoothed peak tracking and bounded,
// slow-moving gain.
func NewSpeechGate(cfg SpeechGateConfig) *SpeechGate {
	if cfg.GateThreshold <= 0 {
		cfg.GateThreshold = 0.02
	}
	if cfg.GateAttenuate <= 0 {
		cfg.GateAttenuate = 0.05
	}
	if cfg.TargetPeak <= 0 {
		cfg.TargetPeak = 0.5
	}
	if cfg.HoldBuffers <= 0 {
		cfg.HoldBuffers = 10
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewSpeechGate",
		"gate_threshold": cfg.GateThreshold,
		"target_peak":    cfg.TargetPeak,
		"hold_buffers":   cfg.HoldBuffers,
	}).Debug("Creating speech gate")

	return &SpeechGate{
		gateThreshold: cfg.GateThreshold,
		gateAttenuate: cfg.GateAttenuate,
		targetPeak:    cfg.TargetPeak,
		minGain:       0.25,
		maxGain:       4.0,
		gain:          1.0,
		holdLen:       cfg.HoldBuffers,
	}
}

// Process conditions one buffer in place and returns it.
func (g *SpeechGate) Process(samples []int16) []int16 {
	if len(samples) == 0 {
		return samples
	}

	peak := peakLevel(samples)
	// Fast attack, slow release on the tracker.
	if peak > g.peak {
		g.peak = 0.5*g.peak + 0.5*peak
	} else {
		g.peak = 0.95*g.peak + 0.05*peak
	}

	if g.peak < g.gateThreshold {
		if g.holdLeft > 0 {
			g.holdLeft--
		} else {
			applyGain(samples, g.gateAttenuate)
			return samples
		}
	} else {
		g.holdLeft = g.holdLen
	}

	// AGC: steer gain toward target peak, one small step per buffer.
	if g.peak > 1e-4 {
		desired := g.targetPeak / g.peak
		desired = math.Min(math.Max(desired, g.minGain), g.maxGain)
		g.gain += (desired - g.gain) * 0.1
	}
	applyGain(samples, g.gain)
	return samples
}

// Reset clears the tracker and gain for a new session.
func (g *SpeechGate) Reset() {
	g.peak = 0
	g.gain = 1.0
	g.holdLeft = 0
}

func peakLevel(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		v := math.Abs(float64(s)) / 32768.0
		if v > peak {
			peak = v
		}
	}
	return peak
}

func applyGain(samples []int16, gain float64) {
	for i, s := range samples {
		samples[i] = clampSample(float64(s) * gain)
	}
}
