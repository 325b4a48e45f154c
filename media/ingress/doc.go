// Package ingress turns inbound RTP packets into clean 20ms wideband PCM
// frames for the AI channel.
//
// Per packet: parse, discard the initial flush window, reorder through a
// small jitter buffer, decode with the negotiated codec, condition (DC
// blocking, optional pre-emphasis, speech gate/AGC), resample to the AI
// rate, and emit exact 20ms frames via the sink callback. The mirror image
// of the playout path.
package ingress
