// Package dsp provides the signal conditioning used by both directions of a
// bridged call: sample rate conversion between the telephony and wideband
// rates (8/16/24/48 kHz), DC blocking, pre-emphasis, and a speech gate with
// automatic gain control tuned for downstream recognition rather than
// listening comfort.
//
// The resampler prefers a delegated high-quality implementation when one has
// been registered; if that implementation fails to initialize the process
// permanently falls back to the built-in windowed-sinc FIR path and logs the
// decision exactly once. Flapping between strategies mid-session causes
// audible discontinuities, so the fallback latch is never retried.
//
// Every stage carries state across successive buffers within one session and
// exposes Reset for session boundaries.
package dsp
