package playout

import "time"

// Samples is a frame duration expressed as a sample count at the RTP clock
// rate of the negotiated codec.
//
// Transports in the wild disagree on whether a "duration" argument means
// milliseconds or samples, and getting it wrong fails silently (audio plays
// at the wrong rate or the far end resets the stream). This bridge pins the
// contract once: every duration crossing the Transport boundary is a SAMPLE
// COUNT. Use Millis for display or for adapters whose underlying API wants
// wall time.
type Samples uint32

// Millis converts a sample count at the given RTP clock rate into wall time.
func (s Samples) Millis(clockRate uint32) time.Duration {
	if clockRate == 0 {
		return 0
	}
	return time.Duration(uint64(s) * uint64(time.Second) / uint64(clockRate))
}

// Transport is the outbound media abstraction supplied by the signaling
// collaborator at call setup. Implementations wrap whatever the SIP stack
// exposes, whether a "send audio" convenience or a raw socket.
type Transport interface {
	// SendAudio transmits one encoded frame. duration is the frame's
	// sample count at the codec's RTP clock rate, never milliseconds.
	SendAudio(payload []byte, duration Samples) error
}

// RawPacketSender is the optional capability for transports that accept
// fully formed RTP packets. When the Transport supplied to NewEngine also
// implements RawPacketSender, the engine constructs complete RTP headers
// itself (payload type, sequence, timestamp, SSRC) and uses this path
// exclusively; the choice is resolved once at construction, never per frame.
type RawPacketSender interface {
	SendPacket(pkt []byte) error
}
