package media

import "errors"

var (
	// ErrNoCodecNegotiated means the negotiation result carries no usable
	// outbound codec or inbound payload map.
	ErrNoCodecNegotiated = errors.New("media: no codec negotiated")
	// ErrNilTransport means the signaling collaborator handed no media path.
	ErrNilTransport = errors.New("media: transport is nil")
	// ErrNilSink means no consumer was provided for ingress frames.
	ErrNilSink = errors.New("media: AI sink is nil")
	// ErrSessionClosed means an operation hit a session after Close.
	ErrSessionClosed = errors.New("media: session closed")
	// ErrSessionNotFound means the call ID is unknown to the manager.
	ErrSessionNotFound = errors.New("media: session not found")
)
