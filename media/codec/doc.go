// Package codec implements the audio codecs used on the telephony leg of a
// bridged call: ITU-T G.711 A-law and μ-law companding, a sub-band ADPCM
// codec in the G.722 family, and an Opus adapter for wideband endpoints.
//
// G.711 transforms are pure functions over single samples with frame-level
// helpers. G.722 and Opus carry per-call state and must never be shared
// between concurrent calls: the G.722 band integrators and the Opus
// encoder/decoder instances belong to exactly one call each.
//
// All sample arithmetic saturates to the 16-bit signed range at every
// intermediate step, and every frame-level transform maps an empty input to
// an empty output.
package codec
