// Package media wires the per-call audio pipeline together: codec
// negotiation results, the egress playout engine, the ingress processor,
// and the echo/barge-in coordinator that gates audio between them. A
// Manager tracks sessions by call ID for the signaling collaborator.
package media
