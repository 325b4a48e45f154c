package codec

// ITU-T G.711 A-law and μ-law companding. Both variants compress a 16-bit
// linear sample into an 8-bit logarithmic code using an 8-segment
// exponent/mantissa layout; A-law inverts the even bits (XOR 0x55) and μ-law
// inverts every bit. The transforms are stateless, so one frame-level codec
// instance is safe to reuse for the whole call.

const (
	// ALawSilence is the A-law code produced by a zero sample.
	ALawSilence byte = 0xD5
	// MuLawSilence is the μ-law code produced by a zero sample.
	MuLawSilence byte = 0xFF

	muLawBias int32 = 0x84 // 132
	muLawClip int32 = 8159 // 14-bit magnitude ceiling
)

// segment upper bounds for the A-law 13-bit magnitude domain.
var aLawSegEnd = [8]int32{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// segment upper bounds for the μ-law 14-bit biased magnitude domain.
var muLawSegEnd = [8]int32{0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF}

func findSegment(val int32, bounds [8]int32) int {
	for i, end := range bounds {
		if val <= end {
			return i
		}
	}
	return len(bounds)
}

// EncodeALaw compresses one 16-bit linear sample to an A-law code.
//
// The sample is reduced to a 13-bit magnitude, segmented into a 3-bit
// exponent and 4-bit mantissa over 8 segments, and the even bits are
// inverted per G.711. EncodeALaw(0) == 0xD5.
func EncodeALaw(sample int16) byte {
	pcm := int32(sample) >> 3 // 13-bit domain

	var mask int32
	if pcm >= 0 {
		mask = 0xD5
	} else {
		mask = 0x55
		pcm = -pcm - 1
	}

	seg := findSegment(pcm, aLawSegEnd)
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}

	aval := int32(seg) << 4
	if seg < 2 {
		aval |= (pcm >> 1) & 0xF
	} else {
		aval |= (pcm >> uint(seg)) & 0xF
	}
	return byte(aval ^ mask)
}

// DecodeALaw expands one A-law code to a 16-bit linear sample.
func DecodeALaw(code byte) int16 {
	aval := int32(code) ^ 0x55

	t := (aval & 0xF) << 4
	seg := (aval & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= uint(seg - 1)
	}
	if aval&0x80 != 0 {
		return clamp16(t)
	}
	return clamp16(-t)
}

// EncodeMuLaw compresses one 16-bit linear sample to a μ-law code.
//
// Uses the standard bias of 0x84 (132) applied in the 14-bit magnitude
// domain and full bit inversion. EncodeMuLaw(0) == 0xFF.
func EncodeMuLaw(sample int16) byte {
	pcm := int32(sample) >> 2 // 14-bit domain

	var mask int32 = 0xFF
	if pcm < 0 {
		pcm = -pcm
		mask = 0x7F
	}
	if pcm > muLawClip {
		pcm = muLawClip
	}
	pcm += muLawBias >> 2

	seg := findSegment(pcm, muLawSegEnd)
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}

	uval := (int32(seg) << 4) | ((pcm >> uint(seg+1)) & 0xF)
	return byte(uval ^ mask)
}

// DecodeMuLaw expands one μ-law code to a 16-bit linear sample.
func DecodeMuLaw(code byte) int16 {
	uval := int32(^code)

	t := ((uval&0xF)<<3 + muLawBias) << uint((uval&0x70)>>4)
	if uval&0x80 != 0 {
		return clamp16(muLawBias - t)
	}
	return clamp16(t - muLawBias)
}

// ALawCodec is the frame-level G.711 A-law codec. Stateless.
type ALawCodec struct {
	payloadType uint8
}

// NewALawCodec creates an A-law codec bound to the negotiated payload type.
func NewALawCodec(payloadType uint8) *ALawCodec {
	return &ALawCodec{payloadType: payloadType}
}

// Encode compresses a linear frame to A-law bytes.
func (c *ALawCodec) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeALaw(s)
	}
	return out, nil
}

// Decode expands A-law bytes to a linear frame.
func (c *ALawCodec) Decode(data []byte) ([]int16, error) {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeALaw(b)
	}
	return out, nil
}

func (c *ALawCodec) SampleRate() uint32 { return 8000 }
func (c *ALawCodec) ClockRate() uint32  { return 8000 }
func (c *ALawCodec) PayloadType() uint8 { return c.payloadType }
func (c *ALawCodec) Name() Name         { return NamePCMA }
func (c *ALawCodec) Reset()             {}

// MuLawCodec is the frame-level G.711 μ-law codec. Stateless.
type MuLawCodec struct {
	payloadType uint8
}

// NewMuLawCodec creates a μ-law codec bound to the negotiated payload type.
func NewMuLawCodec(payloadType uint8) *MuLawCodec {
	return &MuLawCodec{payloadType: payloadType}
}

// Encode compresses a linear frame to μ-law bytes.
func (c *MuLawCodec) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeMuLaw(s)
	}
	return out, nil
}

// Decode expands μ-law bytes to a linear frame.
func (c *MuLawCodec) Decode(data []byte) ([]int16, error) {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeMuLaw(b)
	}
	return out, nil
}

func (c *MuLawCodec) SampleRate() uint32 { return 8000 }
func (c *MuLawCodec) ClockRate() uint32  { return 8000 }
func (c *MuLawCodec) PayloadType() uint8 { return c.payloadType }
func (c *MuLawCodec) Name() Name         { return NamePCMU }
func (c *MuLawCodec) Reset()             {}
