package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Name identifies a codec in a negotiation map. Values match the encoding
// names used in session descriptions.
type Name string

const (
	NamePCMU Name = "PCMU"
	NamePCMA Name = "PCMA"
	NameG722 Name = "G722"
	NameOpus Name = "opus"
)

// Static RTP payload types assigned by RFC 3551. Opus always uses a dynamic
// payload type supplied by the signaling collaborator.
const (
	PayloadTypePCMU uint8 = 0
	PayloadTypePCMA uint8 = 8
	PayloadTypeG722 uint8 = 9
)

// Codec converts between 16-bit linear PCM frames and a codec-specific byte
// representation.
//
// Implementations carrying adaptive state (G.722 band integrators, Opus
// encoder history) are owned by exactly one call; Reset returns that state
// to its call-start condition without allocating a new instance.
type Codec interface {
	// Encode converts linear samples at the codec's native rate into the
	// codec byte representation. Empty input yields empty output.
	Encode(pcm []int16) ([]byte, error)
	// Decode converts codec bytes back into linear samples at the codec's
	// native rate. Empty input yields empty output.
	Decode(data []byte) ([]int16, error)
	// SampleRate returns the native PCM sample rate of the codec in Hz.
	SampleRate() uint32
	// ClockRate returns the RTP timestamp clock rate in Hz. For most
	// telephony codecs this equals SampleRate; G.722 is the documented
	// exception (RFC 3551 fixes its RTP clock at 8000 Hz).
	ClockRate() uint32
	// PayloadType returns the negotiated RTP payload type identifier.
	PayloadType() uint8
	// Name returns the codec's negotiation name.
	Name() Name
	// Reset returns adaptive codec state to its call-start condition.
	Reset()
}

// New constructs a per-call codec instance for the given negotiation name
// and payload type.
//
// Parameters:
//   - name: codec negotiation name (PCMU, PCMA, G722, opus)
//   - payloadType: RTP payload type the codec was negotiated under
//
// Returns:
//   - Codec: new per-call codec instance
//   - error: unknown codec name or codec construction failure
func New(name Name, payloadType uint8) (Codec, error) {
	logrus.WithFields(logrus.Fields{
		"function":     "codec.New",
		"codec":        name,
		"payload_type": payloadType,
	}).Info("Creating per-call codec instance")

	switch name {
	case NamePCMU:
		return NewMuLawCodec(payloadType), nil
	case NamePCMA:
		return NewALawCodec(payloadType), nil
	case NameG722:
		return NewG722Codec(payloadType), nil
	case NameOpus:
		return NewOpusCodec(payloadType, DefaultOpusBitRate)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "codec.New",
			"codec":    name,
			"error":    "unknown codec name",
		}).Error("Codec construction failed")
		return nil, fmt.Errorf("unknown codec name %q", name)
	}
}

// ForPayloadType resolves a per-call codec instance from a payload-type map
// produced by session-description parsing.
//
// Parameters:
//   - payloadType: RTP payload type observed on the wire
//   - negotiated: payload-type → codec-name map from the signaling collaborator
//
// Returns:
//   - Codec: new per-call codec instance
//   - error: payload type absent from the negotiation map
func ForPayloadType(payloadType uint8, negotiated map[uint8]Name) (Codec, error) {
	name, ok := negotiated[payloadType]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":     "codec.ForPayloadType",
			"payload_type": payloadType,
		}).Warn("Payload type not present in negotiation map")
		return nil, fmt.Errorf("payload type %d not negotiated", payloadType)
	}
	return New(name, payloadType)
}

// clamp16 saturates a 32-bit intermediate value to the int16 range.
func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
