package codec

import "github.com/sirupsen/logrus"

// Sub-band ADPCM codec in the G.722 family: 16kHz linear input is split
// into sum (low) and difference (high) sub-bands, each delta-quantized
// against an adaptive step table with a running integrator per band. Every
// pair of input samples packs into one output byte holding a 4-bit low-band
// code and a 2-bit high-band code, for a 64 kbit/s stream.
//
// Band state is per call. A shared integrator corrupts every concurrent
// call that touches it, so G722Codec instances must never be module-level.

// g722StepTable holds the adaptive quantizer step sizes, roughly geometric
// with ratio ~1.15 so index adaptation doubles or halves the effective step
// within a few samples.
var g722StepTable = [44]int32{
	16, 18, 21, 24, 27, 31, 36, 41, 47, 54, 62, 71, 82, 94, 108, 124,
	143, 164, 189, 217, 250, 287, 330, 380, 437, 502, 577, 664, 764, 878,
	1010, 1161, 1335, 1535, 1765, 2030, 2334, 2684, 3086, 3549, 4081, 4693,
	5397, 6207,
}

// Index adaptation per quantized magnitude: small residuals shrink the step,
// saturated residuals grow it aggressively.
var (
	g722LowAdjust  = [8]int{-1, -1, -1, -1, 1, 2, 4, 6}
	g722HighAdjust = [2]int{-1, 2}
)

// g722BandState carries the per-band integrator and step index. Zero value
// is the call-start condition.
type g722BandState struct {
	integrator int32
	stepIndex  int
}

func (b *g722BandState) reset() {
	b.integrator = 0
	b.stepIndex = 0
}

// quantize delta-quantizes x against the band's current step, updates the
// integrator with the reconstructed value, adapts the step index, and
// returns sign and magnitude. maxMag is 7 for the low band, 1 for the high
// band. The decoder runs the identical update so both integrators track.
func (b *g722BandState) quantize(x int32, maxMag int32, adjust []int) (sign int32, mag int32) {
	step := g722StepTable[b.stepIndex]
	diff := x - b.integrator
	if diff < 0 {
		sign = 1
		diff = -diff
	}
	mag = diff / step
	if mag > maxMag {
		mag = maxMag
	}
	b.update(sign, mag, adjust)
	return sign, mag
}

// update applies the reconstructed quantized delta to the integrator and
// adapts the step index. Shared verbatim by encode and decode paths.
func (b *g722BandState) update(sign, mag int32, adjust []int) {
	step := g722StepTable[b.stepIndex]
	dq := mag*step + step/2
	if sign != 0 {
		dq = -dq
	}
	b.integrator = int32(clamp16(b.integrator + dq))

	b.stepIndex += adjust[mag]
	if b.stepIndex < 0 {
		b.stepIndex = 0
	}
	if b.stepIndex >= len(g722StepTable) {
		b.stepIndex = len(g722StepTable) - 1
	}
}

// G722Codec is a per-call sub-band ADPCM codec. The encode and decode
// directions carry independent band state so a bridge transcoding both legs
// of one call does not cross-contaminate its own integrators.
type G722Codec struct {
	payloadType uint8

	encLow  g722BandState
	encHigh g722BandState
	decLow  g722BandState
	decHigh g722BandState
}

// NewG722Codec creates a per-call G.722 codec with call-start band state.
func NewG722Codec(payloadType uint8) *G722Codec {
	logrus.WithFields(logrus.Fields{
		"function":     "NewG722Codec",
		"payload_type": payloadType,
	}).Debug("Creating per-call G.722 codec")
	return &G722Codec{payloadType: payloadType}
}

// Encode compresses 16kHz linear samples to sub-band ADPCM bytes, one byte
// per sample pair. An odd trailing sample is zero-padded.
func (c *G722Codec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return []byte{}, nil
	}
	if len(pcm)%2 != 0 {
		pcm = append(pcm[:len(pcm):len(pcm)], 0)
	}

	out := make([]byte, len(pcm)/2)
	for i := 0; i < len(pcm); i += 2 {
		s0 := int32(pcm[i])
		s1 := int32(pcm[i+1])
		low := (s0 + s1) / 2
		high := (s0 - s1) / 2

		lowSign, lowMag := c.encLow.quantize(low, 7, g722LowAdjust[:])
		highSign, highMag := c.encHigh.quantize(high, 1, g722HighAdjust[:])

		lowCode := byte(lowSign<<3 | lowMag)
		highCode := byte(highSign<<1 | highMag)
		out[i/2] = lowCode<<4 | highCode
	}
	return out, nil
}

// Decode expands sub-band ADPCM bytes to 16kHz linear samples, two samples
// per input byte.
func (c *G722Codec) Decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return []int16{}, nil
	}

	out := make([]int16, len(data)*2)
	for i, b := range data {
		lowCode := int32(b >> 4)
		highCode := int32(b & 0x03)

		c.decLow.update(lowCode>>3, lowCode&0x07, g722LowAdjust[:])
		c.decHigh.update(highCode>>1, highCode&0x01, g722HighAdjust[:])

		low := c.decLow.integrator
		high := c.decHigh.integrator
		out[i*2] = clamp16(low + high)
		out[i*2+1] = clamp16(low - high)
	}
	return out, nil
}

// SampleRate returns the native 16kHz PCM rate.
func (c *G722Codec) SampleRate() uint32 { return 16000 }

// ClockRate returns 8000: RFC 3551 fixes the G.722 RTP timestamp clock at
// 8000 Hz for historical reasons, despite the 16kHz sampling rate.
func (c *G722Codec) ClockRate() uint32 { return 8000 }

func (c *G722Codec) PayloadType() uint8 { return c.payloadType }
func (c *G722Codec) Name() Name         { return NameG722 }

// Reset returns all band integrators to the call-start condition.
func (c *G722Codec) Reset() {
	c.encLow.reset()
	c.encHigh.reset()
	c.decLow.reset()
	c.decHigh.reset()
}
