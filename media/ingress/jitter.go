package ingress

import (
	"github.com/sirupsen/logrus"
)

const defaultJitterDepth = 6

// jitterEntry is one buffered packet awaiting in-order release.
type jitterEntry struct {
	seq         uint16
	payloadType uint8
	payload     []byte
}

// JitterBuffer is a small sequence-ordered reorder buffer. Packets are held
// until occupancy exceeds the configured depth, then released lowest
// sequence first, which tolerates out-of-order arrival within the depth
// window. Packets older than the last released one are dropped as late;
// duplicates are dropped.
//
// Sequence comparison is wrap-aware, so release order survives the 65535→0
// rollover. Not safe for concurrent use; the owning processor serializes
// access.
type JitterBuffer struct {
	depth   int
	entries []jitterEntry

	released  bool
	lastSeq   uint16
	lateDrops uint64
	dupDrops  uint64
}

// NewJitterBuffer creates a buffer releasing packets once more than depth
// are held. Non-positive depth selects the default of 6.
func NewJitterBuffer(depth int) *JitterBuffer {
	if depth <= 0 {
		depth = defaultJitterDepth
	}
	return &JitterBuffer{
		depth:   depth,
		entries: make([]jitterEntry, 0, depth+1),
	}
}

// seqLess reports whether a precedes b in wrap-aware RTP sequence order.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// Push inserts one packet and returns the entries released by it, in
// sequence order. Late and duplicate packets are dropped and release
// nothing.
func (j *JitterBuffer) Push(seq uint16, payloadType uint8, payload []byte) []jitterEntry {
	if j.released && !seqLess(j.lastSeq, seq) {
		j.lateDrops++
		if j.lateDrops%50 == 1 {
			logrus.WithFields(logrus.Fields{
				"function":   "JitterBuffer.Push",
				"sequence":   seq,
				"last_seq":   j.lastSeq,
				"late_drops": j.lateDrops,
			}).Warn("Dropping late packet")
		}
		return nil
	}

	// Sorted insert; the window is tiny so a linear scan is fine.
	pos := len(j.entries)
	for i, e := range j.entries {
		if e.seq == seq {
			j.dupDrops++
			return nil
		}
		if seqLess(seq, e.seq) {
			pos = i
			break
		}
	}
	j.entries = append(j.entries, jitterEntry{})
	copy(j.entries[pos+1:], j.entries[pos:])
	j.entries[pos] = jitterEntry{seq: seq, payloadType: payloadType, payload: payload}

	var out []jitterEntry
	for len(j.entries) > j.depth {
		out = append(out, j.pop())
	}
	return out
}

// Flush drains all held packets in sequence order. Used at call teardown.
func (j *JitterBuffer) Flush() []jitterEntry {
	out := make([]jitterEntry, 0, len(j.entries))
	for len(j.entries) > 0 {
		out = append(out, j.pop())
	}
	return out
}

func (j *JitterBuffer) pop() jitterEntry {
	e := j.entries[0]
	j.entries[0] = jitterEntry{}
	j.entries = j.entries[1:]
	j.released = true
	j.lastSeq = e.seq
	return e
}

// Len returns the number of packets currently held.
func (j *JitterBuffer) Len() int { return len(j.entries) }

// LateDrops returns the count of packets dropped for arriving after their
// slot was released.
func (j *JitterBuffer) LateDrops() uint64 { return j.lateDrops }

// DuplicateDrops returns the count of packets dropped as duplicates.
func (j *JitterBuffer) DuplicateDrops() uint64 { return j.dupDrops }
