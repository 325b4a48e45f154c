package media

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultEchoGuard        = 200 * time.Millisecond
	defaultBargeInThreshold = 0.08
	defaultBargeInFrames    = 3
)

// PlayoutControl is the slice of the playout engine the coordinator drives.
type PlayoutControl interface {
	Speaking() bool
	Clear()
}

// CoordinatorConfig tunes echo suppression and barge-in detection. Zero
// values select defaults.
type CoordinatorConfig struct {
	// EchoGuard keeps caller audio suppressed after playback ends, so the
	// tail of acoustic echo is never re-ingested (default 200ms).
	EchoGuard time.Duration
	// BargeInThreshold is the normalized peak above which an ingress frame
	// counts as caller speech (default 0.08).
	BargeInThreshold float64
	// BargeInFrames is how many consecutive voiced frames during playback
	// trigger a barge-in (default 3, 60ms).
	BargeInFrames int
	// OnBargeIn fires once per barge-in, after the playout queue is cleared.
	OnBargeIn func()
	// Now overrides the time source (tests).
	Now func() time.Time
}

// Coordinator gates ingress forwarding against egress playback state: caller
// audio is suppressed while the engine is speaking and for an echo-guard
// window after playback drains. Sustained caller speech during playback
// clears the playout queue instead (barge-in).
type Coordinator struct {
	engine PlayoutControl
	cfg    CoordinatorConfig

	mu         sync.Mutex
	guardUntil time.Time
	voiced     int
	suppressed uint64
}

// NewCoordinator creates a coordinator bound to one call's playout engine.
func NewCoordinator(engine PlayoutControl, cfg CoordinatorConfig) *Coordinator {
	if cfg.EchoGuard <= 0 {
		cfg.EchoGuard = defaultEchoGuard
	}
	if cfg.BargeInThreshold <= 0 {
		cfg.BargeInThreshold = defaultBargeInThreshold
	}
	if cfg.BargeInFrames <= 0 {
		cfg.BargeInFrames = defaultBargeInFrames
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logrus.WithFields(logrus.Fields{
		"function":           "NewCoordinator",
		"echo_guard":         cfg.EchoGuard.String(),
		"barge_in_threshold": cfg.BargeInThreshold,
		"barge_in_frames":    cfg.BargeInFrames,
	}).Debug("Coordinator created")

	return &Coordinator{engine: engine, cfg: cfg}
}

// PlayoutEmpty opens the echo-guard window. Wire it to the engine's
// PlayoutEmpty signal.
func (c *Coordinator) PlayoutEmpty() {
	c.mu.Lock()
	c.guardUntil = c.cfg.Now().Add(c.cfg.EchoGuard)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Coordinator.PlayoutEmpty",
		"echo_guard": c.cfg.EchoGuard.String(),
	}).Debug("Playout drained, echo guard armed")
}

// Allow reports whether one ingress frame may be forwarded to the AI
// channel. While the engine is speaking the frame is suppressed, and
// sustained caller speech triggers a barge-in: the playout queue is cleared
// and OnBargeIn fires.
func (c *Coordinator) Allow(frame []int16) bool {
	speaking := c.engine.Speaking()
	peak := normalizedPeak(frame)

	c.mu.Lock()
	if !speaking {
		c.voiced = 0
		if c.cfg.Now().Before(c.guardUntil) {
			c.suppressed++
			c.mu.Unlock()
			return false
		}
		c.mu.Unlock()
		return true
	}

	c.suppressed++
	bargeIn := false
	if peak >= c.cfg.BargeInThreshold {
		c.voiced++
		if c.voiced >= c.cfg.BargeInFrames {
			c.voiced = 0
			bargeIn = true
		}
	} else {
		c.voiced = 0
	}
	c.mu.Unlock()

	if bargeIn {
		logrus.WithFields(logrus.Fields{
			"function": "Coordinator.Allow",
			"peak":     peak,
		}).Info("Caller barge-in detected, clearing playout")
		c.engine.Clear()
		if c.cfg.OnBargeIn != nil {
			c.cfg.OnBargeIn()
		}
	}
	return false
}

// SuppressedFrames returns the number of ingress frames gated so far.
func (c *Coordinator) SuppressedFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressed
}

func normalizedPeak(frame []int16) float64 {
	var peak float64
	for _, s := range frame {
		v := math.Abs(float64(s)) / 32768.0
		if v > peak {
			peak = v
		}
	}
	return peak
}
