package codec

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

const (
	// OpusSampleRate is the fixed operating rate of the adapter. Opus
	// supports several rates; 48kHz keeps the encoder at full quality and
	// every other rate in the bridge reaches it through the resampler.
	OpusSampleRate uint32 = 48000

	// OpusFrameSamples is one 20ms frame at the operating rate.
	OpusFrameSamples = 960

	// DefaultOpusBitRate suits narrowband-originated speech.
	DefaultOpusBitRate = 32000

	opusMaxPayload = 4000
)

// OpusCodec adapts the bridge's frame contract onto Opus. Encoder and
// decoder instances are per call; the encoder carries bitrate configuration
// and look-ahead history, the decoder carries prediction state, and neither
// may leak between calls.
//
// Both directions run on libopus, so the decoder accepts every packet the
// encoder can emit (SILK, hybrid, and CELT modes alike).
type OpusCodec struct {
	payloadType uint8
	bitRate     int
	encoder     *gopus.Encoder
	decoder     *gopus.Decoder
}

// NewOpusCodec creates a per-call Opus adapter.
//
// Parameters:
//   - payloadType: dynamic RTP payload type from the negotiation map
//   - bitRate: target encoder bit rate in bits per second
//
// Returns:
//   - *OpusCodec: new per-call adapter
//   - error: encoder or decoder initialization failure
func NewOpusCodec(payloadType uint8, bitRate int) (*OpusCodec, error) {
	logrus.WithFields(logrus.Fields{
		"function":     "NewOpusCodec",
		"payload_type": payloadType,
		"bit_rate":     bitRate,
		"sample_rate":  OpusSampleRate,
	}).Info("Creating per-call Opus codec")

	if bitRate <= 0 {
		bitRate = DefaultOpusBitRate
	}

	encoder, err := gopus.NewEncoder(int(OpusSampleRate), 1, gopus.Voip)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewOpusCodec",
			"error":    err.Error(),
		}).Error("Opus encoder initialization failed")
		return nil, fmt.Errorf("opus encoder init: %w", err)
	}
	encoder.SetBitrate(bitRate)

	decoder, err := gopus.NewDecoder(int(OpusSampleRate), 1)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewOpusCodec",
			"error":    err.Error(),
		}).Error("Opus decoder initialization failed")
		return nil, fmt.Errorf("opus decoder init: %w", err)
	}

	return &OpusCodec{
		payloadType: payloadType,
		bitRate:     bitRate,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

// padToFrame zero-pads a short frame to the fixed Opus frame length and
// truncates an oversized one. Opus rejects partial frames outright, so the
// invariant is enforced before every encode.
func padToFrame(pcm []int16, frameSamples int) []int16 {
	if len(pcm) == frameSamples {
		return pcm
	}
	if len(pcm) > frameSamples {
		return pcm[:frameSamples]
	}
	padded := make([]int16, frameSamples)
	copy(padded, pcm)
	return padded
}

// Encode compresses one 20ms 48kHz frame. Short input is zero-padded to the
// fixed frame size first. Empty input yields empty output.
func (c *OpusCodec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return []byte{}, nil
	}
	frame := padToFrame(pcm, OpusFrameSamples)

	data, err := c.encoder.Encode(frame, OpusFrameSamples, opusMaxPayload)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return data, nil
}

// Decode expands one Opus packet to 48kHz linear samples. The returned slice
// holds exactly the samples the packet carried.
func (c *OpusCodec) Decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return []int16{}, nil
	}

	pcm, err := c.decoder.Decode(data, OpusFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpusCodec.Decode",
		"bytes":    len(data),
		"samples":  len(pcm),
	}).Debug("Decoded Opus packet")

	return pcm, nil
}

// SetBitRate reconfigures the per-call encoder bit rate.
func (c *OpusCodec) SetBitRate(bitRate int) error {
	if bitRate <= 0 {
		return fmt.Errorf("invalid opus bit rate %d", bitRate)
	}
	c.encoder.SetBitrate(bitRate)
	c.bitRate = bitRate

	logrus.WithFields(logrus.Fields{
		"function": "OpusCodec.SetBitRate",
		"bit_rate": bitRate,
	}).Info("Opus bit rate updated")
	return nil
}

func (c *OpusCodec) SampleRate() uint32 { return OpusSampleRate }
func (c *OpusCodec) ClockRate() uint32  { return OpusSampleRate }
func (c *OpusCodec) PayloadType() uint8 { return c.payloadType }
func (c *OpusCodec) Name() Name         { return NameOpus }

// Reset swaps in a fresh decoder so prediction state never crosses an
// utterance boundary; the gopus encoder exposes no reset, and its history
// only matters within one utterance, so it is left in place.
func (c *OpusCodec) Reset() {
	decoder, err := gopus.NewDecoder(int(OpusSampleRate), 1)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OpusCodec.Reset",
			"error":    err.Error(),
		}).Warn("Opus decoder reset failed, keeping previous decoder")
		return
	}
	c.decoder = decoder
}
