// Package playout implements the egress side of the bridge: it converts a
// bursty, faster-than-real-time stream of wideband PCM from the AI service
// into a strictly paced stream of fixed 20ms encoded RTP frames on the
// telephony leg.
//
// The Engine owns one pacing goroutine per active call, scheduled against a
// monotonic clock with fixed-rate deadlines: nextDue advances by exactly one
// frame period per iteration regardless of processing jitter, and a measured
// lag beyond the drift bound resynchronizes the schedule instead of bursting
// frames to catch up.
//
// The frame queue is bounded and drops its OLDEST entry on overflow: bounded
// latency is preferred over bounded loss. RTP sequence/timestamp state
// survives Clear (which happens on caller barge-in or a new utterance) and
// silence frames keep the transport and NAT mapping alive while buffering.
package playout
