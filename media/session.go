package media

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maxparsons123/happy-ride-helper-sub002/media/codec"
	"github.com/maxparsons123/happy-ride-helper-sub002/media/ingress"
	"github.com/maxparsons123/happy-ride-helper-sub002/media/playout"
)

// AISink receives one conditioned 20ms ingress frame at the AI rate, after
// the coordinator allows it. Typically the AI channel's SendFrame.
type AISink func(frame []int16)

// SessionConfig tunes one call's pipeline. Zero values select defaults
// throughout.
type SessionConfig struct {
	Playout     playout.Config
	Ingress     ingress.Config
	Coordinator CoordinatorConfig
	// OnPlayoutEmpty fires after the engine drains, in addition to arming
	// the coordinator's echo guard.
	OnPlayoutEmpty func()
}

// Session is the per-call aggregate: one playout engine, one ingress
// processor, one coordinator, all owning per-call codec state. Created by a
// Manager when the signaling collaborator answers a call.
type Session struct {
	id          string
	negotiation CodecNegotiation

	engine      *playout.Engine
	processor   *ingress.Processor
	coordinator *Coordinator

	closed atomic.Bool
}

// NewSession builds and wires one call's pipeline. The engine is created
// stopped; call Start before feeding audio.
//
// Parameters:
//   - negotiation: codec outcome from the signaling collaborator
//   - transport: outbound RTP path (raw-capable or duration-based)
//   - aiSink: consumer of gated ingress frames
//   - cfg: per-call tuning, zero values for defaults
//
// Returns:
//   - *Session: wired session with a fresh uuid call ID
//   - error: invalid negotiation, nil transport/sink, or pipeline setup failure
func NewSession(negotiation CodecNegotiation, transport playout.Transport, aiSink AISink, cfg SessionConfig) (*Session, error) {
	if err := negotiation.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if aiSink == nil {
		return nil, ErrNilSink
	}

	s := &Session{
		id:          uuid.New().String(),
		negotiation: negotiation,
	}

	outbound, err := codec.New(negotiation.Outbound, negotiation.OutboundPayloadType)
	if err != nil {
		return nil, fmt.Errorf("media: outbound codec: %w", err)
	}

	// The engine signals the coordinator, which is built after the engine;
	// the closure reads the field set below, before Start.
	userEmpty := cfg.OnPlayoutEmpty
	cfg.Playout.OnPlayoutEmpty = func() {
		if s.coordinator != nil {
			s.coordinator.PlayoutEmpty()
		}
		if userEmpty != nil {
			userEmpty()
		}
	}

	s.engine, err = playout.NewEngine(outbound, transport, cfg.Playout)
	if err != nil {
		return nil, err
	}
	s.coordinator = NewCoordinator(s.engine, cfg.Coordinator)

	s.processor, err = ingress.NewProcessor(negotiation.Inbound, func(frame []int16) {
		if s.coordinator.Allow(frame) {
			aiSink(frame)
		}
	}, cfg.Ingress)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewSession",
		"session_id":     s.id,
		"outbound_codec": negotiation.Outbound,
		"inbound_codecs": len(negotiation.Inbound),
	}).Info("Media session created")

	return s, nil
}

// ID returns the session's call ID.
func (s *Session) ID() string { return s.id }

// Start begins egress pacing.
func (s *Session) Start() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.engine.Start()
}

// BufferAIAudio feeds one burst of little-endian AI PCM to the playout
// engine.
func (s *Session) BufferAIAudio(pcm []byte) {
	s.engine.BufferAudio(pcm)
}

// HandleRTP feeds one inbound RTP packet to the ingress pipeline.
func (s *Session) HandleRTP(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return s.processor.HandlePacket(data)
}

// Clear flushes pending playout, as on a new AI utterance.
func (s *Session) Clear() {
	s.engine.Clear()
}

// Speaking reports whether egress playback is audible.
func (s *Session) Speaking() bool {
	return s.engine.Speaking()
}

// Close tears the pipeline down. Idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.engine.Dispose()
	s.processor.Close()

	logrus.WithFields(logrus.Fields{
		"function":   "Session.Close",
		"session_id": s.id,
	}).Info("Media session closed")
}
