package playout

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// StreamState carries the RTP header continuity of one call: a wrapping
// 16-bit sequence number, a wrapping 32-bit timestamp advanced by exactly
// samples-per-frame on every emitted frame (silence included), and a fixed
// random SSRC for the call's lifetime.
//
// Created at call start, it deliberately survives Engine.Clear (a barge-in
// flushes audio content, never header continuity) and is discarded only
// when the call ends.
type StreamState struct {
	sequence  uint16
	timestamp uint32
	ssrc      uint32
}

// NewStreamState creates stream state with a cryptographically random SSRC
// and random initial sequence/timestamp offsets per RFC 3550 guidance.
func NewStreamState() (*StreamState, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate RTP stream identifiers: %w", err)
	}

	s := &StreamState{
		sequence:  binary.BigEndian.Uint16(buf[0:2]),
		timestamp: binary.BigEndian.Uint32(buf[2:6]),
		ssrc:      binary.BigEndian.Uint32(buf[6:10]),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewStreamState",
		"ssrc":     s.ssrc,
	}).Debug("Created RTP stream state")

	return s, nil
}

// Next returns the header values for the next emitted frame and advances the
// state: sequence increments by one (wrapping at 65536), timestamp by the
// frame's sample count at the RTP clock rate.
func (s *StreamState) Next(samplesPerFrame uint32) (sequence uint16, timestamp uint32) {
	sequence = s.sequence
	timestamp = s.timestamp
	s.sequence++
	s.timestamp += samplesPerFrame
	return sequence, timestamp
}

// SSRC returns the stream's fixed synchronization source identifier.
func (s *StreamState) SSRC() uint32 { return s.ssrc }

// Sequence returns the sequence number the next frame will carry.
func (s *StreamState) Sequence() uint16 { return s.sequence }

// Timestamp returns the timestamp the next frame will carry.
func (s *StreamState) Timestamp() uint32 { return s.timestamp }
