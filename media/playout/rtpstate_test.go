package playout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamStateAdvances(t *testing.T) {
	s, err := NewStreamState()
	require.NoError(t, err)

	seq0, ts0 := s.Next(160)
	seq1, ts1 := s.Next(160)

	assert.Equal(t, seq0+1, seq1)
	assert.Equal(t, ts0+160, ts1)
	assert.Equal(t, s.SSRC(), s.SSRC())
}

func TestStreamStateSequenceWraps(t *testing.T) {
	s := &StreamState{sequence: 65534, timestamp: 0, ssrc: 7}

	var seqs []uint16
	for i := 0; i < 4; i++ {
		seq, _ := s.Next(160)
		seqs = append(seqs, seq)
	}
	assert.Equal(t, []uint16{65534, 65535, 0, 1}, seqs)
}

func TestStreamStateTimestampWraps(t *testing.T) {
	s := &StreamState{sequence: 0, timestamp: 0xFFFFFF60, ssrc: 7}

	_, ts0 := s.Next(160)
	_, ts1 := s.Next(160)
	assert.Equal(t, uint32(0xFFFFFF60), ts0)
	assert.Equal(t, uint32(0), ts1) // wrapped by exactly samples-per-frame
}

func TestSamplesMillis(t *testing.T) {
	assert.Equal(t, "20ms", Samples(160).Millis(8000).String())
	assert.Equal(t, "20ms", Samples(960).Millis(48000).String())
	assert.Equal(t, "0s", Samples(160).Millis(0).String())
}
