package media

import (
	"fmt"

	"github.com/maxparsons123/happy-ride-helper-sub002/media/codec"
)

// CodecNegotiation is the outcome of session-description negotiation,
// produced by the signaling collaborator and consumed when a session is
// created.
type CodecNegotiation struct {
	// Outbound is the single codec egress playout encodes with.
	Outbound codec.Name
	// OutboundPayloadType is the RTP payload type negotiated for Outbound.
	OutboundPayloadType uint8
	// Inbound maps payload types the peer may send to codec names. Packets
	// with payload types outside this map are dropped by ingress.
	Inbound map[uint8]codec.Name
}

// Validate checks the negotiation is complete enough to build a session.
func (n *CodecNegotiation) Validate() error {
	if n.Outbound == "" || len(n.Inbound) == 0 {
		return ErrNoCodecNegotiated
	}
	for pt, name := range n.Inbound {
		switch name {
		case codec.NamePCMU, codec.NamePCMA, codec.NameG722, codec.NameOpus:
		default:
			return fmt.Errorf("media: unknown inbound codec %q for payload type %d", name, pt)
		}
	}
	switch n.Outbound {
	case codec.NamePCMU, codec.NamePCMA, codec.NameG722, codec.NameOpus:
		return nil
	default:
		return fmt.Errorf("media: unknown outbound codec %q", n.Outbound)
	}
}
