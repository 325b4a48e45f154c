package playout

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/maxparsons123/happy-ride-helper-sub002/media/codec"
	"github.com/maxparsons123/happy-ride-helper-sub002/media/dsp"
)

// FramePeriod is the fixed duration of every emitted frame.
const FramePeriod = 20 * time.Millisecond

// State is the playout engine lifecycle state.
type State int32

const (
	// StateIdle means the pacing loop is not running.
	StateIdle State = iota
	// StateBuffering means the loop is transmitting silence while waiting
	// for the startup cushion to fill.
	StateBuffering
	// StatePlaying means queued audio is being paced out.
	StatePlaying
	// StateGrace means the queue starved and fade-out frames are covering
	// the gap before PlayoutEmpty fires.
	StateGrace
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StateGrace:
		return "grace"
	default:
		return "unknown"
	}
}

// NoGrace disables starvation fade-out: PlayoutEmpty fires on the first
// starved frame slot.
const NoGrace = -1

const (
	defaultSourceRate    = 24000
	defaultCushionFrames = 8
	defaultGraceFrames   = 6
	defaultQueueCapacity = 150 // 3s of audio
	defaultDriftBound    = 60 * time.Millisecond
	stopJoinTimeout      = 500 * time.Millisecond

	coarseSleepMargin = 2 * time.Millisecond
	fineSleepStep     = 500 * time.Microsecond
)

// Config tunes one engine instance. Zero values select production defaults.
type Config struct {
	// SourceRate is the PCM rate of BufferAudio input in Hz (default 24000).
	SourceRate uint32
	// CushionFrames is the minimum queue depth before the first audible
	// frame, absorbing producer burstiness (default 8, 160ms).
	CushionFrames int
	// GraceFrames bounds the fade-out emitted on starvation before
	// PlayoutEmpty fires (default 6, 120ms). Use NoGrace to disable the
	// fade entirely.
	GraceFrames int
	// QueueCapacity bounds buffered latency; overflow drops oldest
	// (default 150 frames, 3s).
	QueueCapacity int
	// DriftBound is the measured lag that triggers a schedule resync
	// instead of a catch-up burst (default 60ms).
	DriftBound time.Duration
	// Quality selects the fallback resampler tier.
	Quality dsp.Quality
	// OnPlayoutEmpty fires exactly once per starved utterance, after the
	// grace period elapses. Runs on the pacing goroutine without engine
	// locks held; calling Clear or Stop from it is safe.
	OnPlayoutEmpty func()
	// Clock overrides the time source (tests drive a virtual clock).
	Clock Clock
}

func (c *Config) applyDefaults() {
	if c.SourceRate == 0 {
		c.SourceRate = defaultSourceRate
	}
	if c.CushionFrames <= 0 {
		c.CushionFrames = defaultCushionFrames
	}
	if c.GraceFrames == 0 {
		c.GraceFrames = defaultGraceFrames
	} else if c.GraceFrames < 0 {
		c.GraceFrames = 0
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.DriftBound <= 0 {
		c.DriftBound = defaultDriftBound
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
}

// Engine converts bursty wideband PCM into strictly paced 20ms encoded RTP
// frames. One pacing goroutine per engine; one engine per call direction.
type Engine struct {
	cfg       Config
	codec     codec.Codec
	transport Transport
	rawSender RawPacketSender // non-nil when transport exposes raw sends
	clock     Clock

	queue  *FrameQueue
	stream *StreamState

	samplesPerFrame int    // at the codec's native PCM rate
	clockPerFrame   uint32 // at the codec's RTP clock rate
	silenceFrame    []int16

	// bufMu serializes the producer path: resampler history is inherently
	// sequential, so BufferAudio calls must not interleave.
	bufMu     sync.Mutex
	resampler *dsp.Resampler

	// mu guards pacing-loop state shared with Clear.
	mu         sync.Mutex
	lastFrame  []int16
	graceCount int
	emptyFired bool

	state    atomic.Int32
	speaking atomic.Bool
	running  atomic.Bool
	disposed atomic.Bool

	// lifeMu serializes Start and Stop so done is always published before
	// running turns true and never read before it exists.
	lifeMu sync.Mutex
	done   chan struct{}
}

// NewEngine creates a playout engine for one call.
//
// The transport capability is resolved once here: if transport also
// implements RawPacketSender, the engine emits fully formed RTP packets;
// otherwise it uses SendAudio with a sample-count duration.
//
// Parameters:
//   - c: negotiated per-call codec
//   - transport: outbound media path from the signaling collaborator
//   - cfg: engine tuning, zero values for defaults
//
// Returns:
//   - *Engine: engine in StateIdle; call Start to begin pacing
//   - error: nil codec/transport or resampler construction failure
func NewEngine(c codec.Codec, transport Transport, cfg Config) (*Engine, error) {
	if c == nil {
		return nil, fmt.Errorf("playout: codec is nil")
	}
	if transport == nil {
		return nil, fmt.Errorf("playout: transport is nil")
	}
	cfg.applyDefaults()

	resampler, err := dsp.NewResampler(cfg.SourceRate, c.SampleRate(), cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("playout: %w", err)
	}
	stream, err := NewStreamState()
	if err != nil {
		return nil, fmt.Errorf("playout: %w", err)
	}

	rawSender, _ := transport.(RawPacketSender)

	e := &Engine{
		cfg:             cfg,
		codec:           c,
		transport:       transport,
		rawSender:       rawSender,
		clock:           cfg.Clock,
		queue:           NewFrameQueue(cfg.QueueCapacity),
		stream:          stream,
		samplesPerFrame: int(c.SampleRate() / 50),
		clockPerFrame:   c.ClockRate() / 50,
		resampler:       resampler,
	}
	e.silenceFrame = make([]int16, e.samplesPerFrame)
	e.state.Store(int32(StateIdle))

	logrus.WithFields(logrus.Fields{
		"function":          "NewEngine",
		"codec":             c.Name(),
		"payload_type":      c.PayloadType(),
		"source_rate":       cfg.SourceRate,
		"codec_rate":        c.SampleRate(),
		"samples_per_frame": e.samplesPerFrame,
		"raw_packet_mode":   rawSender != nil,
		"cushion_frames":    cfg.CushionFrames,
		"grace_frames":      cfg.GraceFrames,
		"queue_capacity":    cfg.QueueCapacity,
	}).Info("Playout engine created")

	return e, nil
}

// Start spins up the pacing goroutine. Starting a running engine is a no-op;
// starting a disposed one is an error.
func (e *Engine) Start() error {
	if e.disposed.Load() {
		return fmt.Errorf("playout: engine disposed")
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.running.Load() {
		return nil
	}
	e.done = make(chan struct{})
	e.running.Store(true)
	e.state.Store(int32(StateBuffering))
	go e.run()

	logrus.WithFields(logrus.Fields{
		"function": "Engine.Start",
		"ssrc":     e.stream.SSRC(),
	}).Info("Playout pacing loop started")
	return nil
}

// Stop tears down the pacing goroutine, joining with a bounded timeout, and
// guarantees the queue is emptied. Always succeeds, including mid-failure.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if !e.running.CompareAndSwap(true, false) {
		return
	}

	select {
	case <-e.done:
	case <-time.After(stopJoinTimeout):
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Stop",
			"timeout":  stopJoinTimeout.String(),
		}).Warn("Pacing loop did not exit within join timeout")
	}

	flushed := e.queue.Clear()
	e.speaking.Store(false)
	e.state.Store(int32(StateIdle))

	e.bufMu.Lock()
	e.resampler.Reset()
	e.bufMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "Engine.Stop",
		"flushed_frames": flushed,
		"dropped_frames": e.queue.Dropped(),
	}).Info("Playout engine stopped")
}

// Dispose stops the engine and rejects any further use.
func (e *Engine) Dispose() {
	e.disposed.Store(true)
	e.Stop()
}

// BufferAudio ingests one burst of little-endian 16-bit mono PCM at the
// configured source rate: resample to the codec rate, slice into exact 20ms
// frames (zero-padding the trailing partial frame), enqueue. No-op while the
// engine is not running or disposed.
func (e *Engine) BufferAudio(pcm []byte) {
	if !e.running.Load() || e.disposed.Load() {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.BufferAudio",
			"bytes":    len(pcm),
		}).Debug("Ignoring audio for inactive engine")
		return
	}
	if len(pcm) < 2 {
		return
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	e.bufMu.Lock()
	resampled, err := e.resampler.Resample(samples)
	e.bufMu.Unlock()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.BufferAudio",
			"error":    err.Error(),
		}).Error("Resampling failed, dropping burst")
		return
	}

	for off := 0; off < len(resampled); off += e.samplesPerFrame {
		end := off + e.samplesPerFrame
		if end > len(resampled) {
			frame := make([]int16, e.samplesPerFrame)
			copy(frame, resampled[off:])
			e.queue.Push(frame)
			break
		}
		e.queue.Push(resampled[off:end:end])
	}
}

// Clear flushes all queued audio and resets speaking/fade state. RTP
// sequence/timestamp continuity deliberately survives: a barge-in or a new
// utterance flushes content, never the stream header state.
func (e *Engine) Clear() {
	flushed := e.queue.Clear()

	e.mu.Lock()
	e.lastFrame = nil
	e.graceCount = 0
	e.speaking.Store(false)
	if e.running.Load() {
		e.state.Store(int32(StateBuffering))
	}
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "Engine.Clear",
		"flushed_frames": flushed,
	}).Info("Playout queue cleared")
}

// Speaking reports whether audible (non-silence) playback is in progress.
func (e *Engine) Speaking() bool { return e.speaking.Load() }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// QueueDepth returns the number of buffered frames.
func (e *Engine) QueueDepth() int { return e.queue.Len() }

// DroppedFrames returns the total frames evicted by queue overflow.
func (e *Engine) DroppedFrames() uint64 { return e.queue.Dropped() }

// run is the pacing loop: one dedicated goroutine per call, fixed-rate
// scheduling against the monotonic clock. nextDue advances by exactly one
// frame period per iteration; measured lag beyond the drift bound
// resynchronizes instead of bursting.
func (e *Engine) run() {
	defer close(e.done)

	nextDue := e.clock.Now()
	for e.running.Load() {
		e.waitUntil(nextDue)
		if !e.running.Load() {
			break
		}

		e.emitFrame()

		nextDue = nextDue.Add(FramePeriod)
		if lag := e.clock.Now().Sub(nextDue); lag > e.cfg.DriftBound {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.run",
				"lag":      lag.String(),
			}).Warn("Pacing lag exceeded drift bound, resynchronizing schedule")
			nextDue = e.clock.Now().Add(FramePeriod)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Engine.run",
	}).Debug("Pacing loop exited")
}

// waitUntil sleeps coarsely while slack exceeds the margin, then in fine
// steps to land within about a millisecond of the deadline without burning
// a core.
func (e *Engine) waitUntil(deadline time.Time) {
	for e.running.Load() {
		slack := deadline.Sub(e.clock.Now())
		if slack <= 0 {
			return
		}
		if slack > coarseSleepMargin {
			e.clock.Sleep(slack - coarseSleepMargin)
		} else {
			e.clock.Sleep(fineSleepStep)
		}
	}
}

// emitFrame advances the state machine by one 20ms slot and transmits
// exactly one frame: audio, fade-out, or silence. The PlayoutEmpty callback
// is invoked after the engine lock is released.
func (e *Engine) emitFrame() {
	fireEmpty := e.step()
	if fireEmpty && e.cfg.OnPlayoutEmpty != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.emitFrame",
		}).Debug("Firing PlayoutEmpty")
		e.cfg.OnPlayoutEmpty()
	}
}

func (e *Engine) step() (fireEmpty bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch State(e.state.Load()) {
	case StateBuffering:
		if e.queue.Len() >= e.cfg.CushionFrames {
			e.state.Store(int32(StatePlaying))
			e.speaking.Store(true)
			e.emptyFired = false
			logrus.WithFields(logrus.Fields{
				"function":    "Engine.step",
				"queue_depth": e.queue.Len(),
			}).Info("Startup cushion reached, playback begins")
			e.playQueued()
			return false
		}
		// Silence keeps the transport and NAT mapping alive while the
		// cushion fills.
		e.transmit(e.silenceFrame)
		return false

	case StatePlaying:
		if e.playQueued() {
			return false
		}
		e.state.Store(int32(StateGrace))
		e.graceCount = 0
		logrus.WithFields(logrus.Fields{
			"function": "Engine.step",
		}).Debug("Queue starved, entering grace period")
		return e.stepGrace()

	case StateGrace:
		if e.playQueued() {
			e.state.Store(int32(StatePlaying))
			e.graceCount = 0
			return false
		}
		return e.stepGrace()

	default:
		e.transmit(e.silenceFrame)
		return false
	}
}

// playQueued pops and transmits one queued frame. Returns false on an empty
// queue.
func (e *Engine) playQueued() bool {
	frame, ok := e.queue.Pop()
	if !ok {
		return false
	}
	e.lastFrame = frame
	e.transmit(frame)
	return true
}

// stepGrace emits one fade-out frame, or ends the grace period: speaking
// drops, PlayoutEmpty fires exactly once, and the engine returns to
// Buffering behind a fresh startup cushion.
func (e *Engine) stepGrace() (fireEmpty bool) {
	if e.graceCount < e.cfg.GraceFrames && e.lastFrame != nil {
		factor := 1.0 - float64(e.graceCount+1)/float64(e.cfg.GraceFrames+1)
		fade := make([]int16, len(e.lastFrame))
		for i, s := range e.lastFrame {
			fade[i] = int16(float64(s) * factor)
		}
		e.graceCount++
		e.transmit(fade)
		return false
	}

	e.speaking.Store(false)
	e.state.Store(int32(StateBuffering))
	e.transmit(e.silenceFrame)
	if !e.emptyFired {
		e.emptyFired = true
		return true
	}
	return false
}

// transmit encodes and sends one frame. RTP state advances for every emitted
// frame slot, silence included; a single frame's encode or send failure is
// logged and the loop continues.
func (e *Engine) transmit(frame []int16) {
	payload, err := e.codec.Encode(frame)
	seq, ts := e.stream.Next(e.clockPerFrame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.transmit",
			"error":    err.Error(),
		}).Error("Frame encode failed, skipping frame")
		return
	}

	if e.rawSender != nil {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    e.codec.PayloadType(),
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           e.stream.SSRC(),
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.transmit",
				"error":    err.Error(),
			}).Error("RTP marshal failed, skipping frame")
			return
		}
		if err := e.rawSender.SendPacket(raw); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.transmit",
				"sequence": seq,
				"error":    err.Error(),
			}).Warn("RTP packet send failed")
		}
		return
	}

	if err := e.transport.SendAudio(payload, Samples(e.clockPerFrame)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.transmit",
			"sequence": seq,
			"error":    err.Error(),
		}).Warn("Audio send failed")
	}
}
