package ingress

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/maxparsons123/happy-ride-helper-sub002/media/codec"
	"github.com/maxparsons123/happy-ride-helper-sub002/media/dsp"
)

const (
	defaultAIRate       = 24000
	defaultFlushPackets = 5
)

// Sink receives one 20ms frame of int16 PCM at the AI rate. Invoked on the
// caller's packet-delivery goroutine, without processor locks held.
type Sink func(frame []int16)

// Config tunes one ingress processor. Zero values select defaults.
type Config struct {
	// AIRate is the output PCM rate in Hz (default 24000).
	AIRate uint32
	// JitterDepth is the reorder window in packets (default 6).
	JitterDepth int
	// FlushPackets is the number of initial packets discarded per call,
	// covering stale carrier/hold audio buffered before answer (default 5).
	// Negative disables the flush window.
	FlushPackets int
	// Preemphasis enables the first-order high-frequency boost ahead of
	// recognition.
	Preemphasis bool
	// Quality selects the resampler fallback tier.
	Quality dsp.Quality
	// Gate tunes the speech gate/AGC stage.
	Gate dsp.SpeechGateConfig
}

func (c *Config) applyDefaults() {
	if c.AIRate == 0 {
		c.AIRate = defaultAIRate
	}
	if c.JitterDepth <= 0 {
		c.JitterDepth = defaultJitterDepth
	}
	if c.FlushPackets == 0 {
		c.FlushPackets = defaultFlushPackets
	} else if c.FlushPackets < 0 {
		c.FlushPackets = 0
	}
}

// Processor is the per-call inbound media pipeline. One instance per call;
// HandlePacket may be invoked from one receive goroutine at a time, enforced
// internally with a mutex because codec, filter, and resampler state are
// inherently sequential.
type Processor struct {
	cfg        Config
	sink       Sink
	negotiated map[uint8]codec.Name

	mu         sync.Mutex
	jitter     *JitterBuffer
	codecs     map[uint8]codec.Codec
	resamplers map[uint32]*dsp.Resampler
	dc         *dsp.DCBlocker
	pre        *dsp.Preemphasis
	gate       *dsp.SpeechGate

	carry        []int16
	frameSamples int
	flushLeft    int
	unknownPT    uint64
	decodeErrs   uint64
	closed       bool
}

// NewProcessor creates the inbound pipeline for one call.
//
// Parameters:
//   - negotiated: payload-type → codec-name map from the signaling collaborator
//   - sink: consumer of conditioned 20ms AI-rate frames
//   - cfg: pipeline tuning, zero values for defaults
//
// Returns:
//   - *Processor: ready pipeline
//   - error: nil sink or empty negotiation map
func NewProcessor(negotiated map[uint8]codec.Name, sink Sink, cfg Config) (*Processor, error) {
	if sink == nil {
		return nil, fmt.Errorf("ingress: sink is nil")
	}
	if len(negotiated) == 0 {
		return nil, fmt.Errorf("ingress: no codecs negotiated")
	}
	cfg.applyDefaults()

	p := &Processor{
		cfg:          cfg,
		sink:         sink,
		negotiated:   negotiated,
		jitter:       NewJitterBuffer(cfg.JitterDepth),
		codecs:       make(map[uint8]codec.Codec),
		resamplers:   make(map[uint32]*dsp.Resampler),
		dc:           dsp.NewDCBlocker(0),
		gate:         dsp.NewSpeechGate(cfg.Gate),
		frameSamples: int(cfg.AIRate / 50),
		flushLeft:    cfg.FlushPackets,
	}
	if cfg.Preemphasis {
		p.pre = dsp.NewPreemphasis(0)
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewProcessor",
		"ai_rate":       cfg.AIRate,
		"jitter_depth":  cfg.JitterDepth,
		"flush_packets": cfg.FlushPackets,
		"preemphasis":   cfg.Preemphasis,
		"codecs":        len(negotiated),
	}).Info("Ingress processor created")

	return p, nil
}

// HandlePacket ingests one raw RTP packet. Malformed packets return an
// error; packets in the flush window, with unknown payload types, or
// arriving late are dropped silently (logged). Completed frames reach the
// sink before HandlePacket returns.
func (p *Processor) HandlePacket(data []byte) error {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Processor.HandlePacket",
			"bytes":    len(data),
			"error":    err.Error(),
		}).Warn("Dropping malformed RTP packet")
		return fmt.Errorf("ingress: unmarshal: %w", err)
	}

	frames := p.ingest(pkt)
	for _, f := range frames {
		p.sink(f)
	}
	return nil
}

// ingest runs the locked half of the pipeline and returns completed frames
// so the sink can be invoked lock-free.
func (p *Processor) ingest(pkt *rtp.Packet) [][]int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if p.flushLeft > 0 {
		p.flushLeft--
		logrus.WithFields(logrus.Fields{
			"function":   "Processor.ingest",
			"sequence":   pkt.SequenceNumber,
			"flush_left": p.flushLeft,
		}).Debug("Discarding packet in flush window")
		return nil
	}
	if _, ok := p.negotiated[pkt.PayloadType]; !ok {
		p.unknownPT++
		if p.unknownPT%50 == 1 {
			logrus.WithFields(logrus.Fields{
				"function":     "Processor.ingest",
				"payload_type": pkt.PayloadType,
				"dropped":      p.unknownPT,
			}).Warn("Dropping packet with unknown payload type")
		}
		return nil
	}

	// The packet's payload aliases the receive buffer; copy before holding it
	// across calls in the jitter buffer.
	payload := append([]byte(nil), pkt.Payload...)

	var frames [][]int16
	for _, e := range p.jitter.Push(pkt.SequenceNumber, pkt.PayloadType, payload) {
		frames = append(frames, p.process(e)...)
	}
	return frames
}

// process decodes and conditions one released packet, returning any 20ms
// frames completed by it. Caller holds p.mu.
func (p *Processor) process(e jitterEntry) [][]int16 {
	c, err := p.codecFor(e.payloadType)
	if err != nil {
		return nil
	}

	pcm, err := c.Decode(e.payload)
	if err != nil {
		p.decodeErrs++
		logrus.WithFields(logrus.Fields{
			"function": "Processor.process",
			"codec":    c.Name(),
			"sequence": e.seq,
			"error":    err.Error(),
		}).Warn("Decode failed, skipping packet")
		return nil
	}
	if len(pcm) == 0 {
		return nil
	}

	pcm = p.dc.Process(pcm)
	if p.pre != nil {
		pcm = p.pre.Process(pcm)
	}
	pcm = p.gate.Process(pcm)

	rs, err := p.resamplerFor(c.SampleRate())
	if err != nil {
		return nil
	}
	out, err := rs.Resample(pcm)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Processor.process",
			"error":    err.Error(),
		}).Error("Resampling failed, dropping packet")
		return nil
	}

	p.carry = append(p.carry, out...)
	var frames [][]int16
	for len(p.carry) >= p.frameSamples {
		frame := make([]int16, p.frameSamples)
		copy(frame, p.carry)
		p.carry = p.carry[:copy(p.carry, p.carry[p.frameSamples:])]
		frames = append(frames, frame)
	}
	return frames
}

// codecFor returns the per-call codec instance for a payload type, creating
// it on first use.
func (p *Processor) codecFor(payloadType uint8) (codec.Codec, error) {
	if c, ok := p.codecs[payloadType]; ok {
		return c, nil
	}
	c, err := codec.ForPayloadType(payloadType, p.negotiated)
	if err != nil {
		return nil, err
	}
	p.codecs[payloadType] = c
	return c, nil
}

// resamplerFor returns the converter from a codec's native rate to the AI
// rate, creating it on first use.
func (p *Processor) resamplerFor(rate uint32) (*dsp.Resampler, error) {
	if rs, ok := p.resamplers[rate]; ok {
		return rs, nil
	}
	rs, err := dsp.NewResampler(rate, p.cfg.AIRate, p.cfg.Quality)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Processor.resamplerFor",
			"native_rate": rate,
			"ai_rate":     p.cfg.AIRate,
			"error":       err.Error(),
		}).Error("Resampler construction failed")
		return nil, err
	}
	p.resamplers[rate] = rs
	return rs, nil
}

// Close drains the jitter buffer through the pipeline, pads and emits any
// trailing partial frame, and rejects further packets. Idempotent.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var frames [][]int16
	for _, e := range p.jitter.Flush() {
		frames = append(frames, p.process(e)...)
	}
	if len(p.carry) > 0 {
		frame := make([]int16, p.frameSamples)
		copy(frame, p.carry)
		p.carry = p.carry[:0]
		frames = append(frames, frame)
	}
	p.closed = true

	lateDrops := p.jitter.LateDrops()
	dupDrops := p.jitter.DuplicateDrops()
	unknown := p.unknownPT
	decodeErrs := p.decodeErrs
	p.mu.Unlock()

	for _, f := range frames {
		p.sink(f)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Processor.Close",
		"late_drops":      lateDrops,
		"duplicate_drops": dupDrops,
		"unknown_pt":      unknown,
		"decode_errors":   decodeErrs,
	}).Info("Ingress processor closed")
}
