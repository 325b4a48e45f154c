package playout

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxparsons123/happy-ride-helper-sub002/media/codec"
)

// fakeClock drives the pacing loop on virtual time: Sleep advances the clock
// by the requested duration while blocking only briefly, so a full call's
// worth of pacing runs in milliseconds without starving other goroutines.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	time.Sleep(50 * time.Microsecond)
}

// captureTransport records sent payloads up to a limit.
type captureTransport struct {
	mu        sync.Mutex
	payloads  [][]byte
	durations []Samples
	limit     int
	sendErr   error
	sends     int
}

func (c *captureTransport) SendAudio(payload []byte, duration Samples) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.limit == 0 || len(c.payloads) < c.limit {
		c.payloads = append(c.payloads, append([]byte(nil), payload...))
		c.durations = append(c.durations, duration)
	}
	return nil
}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func (c *captureTransport) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

func (c *captureTransport) snapshot() ([][]byte, []Samples) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := make([][]byte, len(c.payloads))
	copy(p, c.payloads)
	d := make([]Samples, len(c.durations))
	copy(d, c.durations)
	return p, d
}

// rawTransport additionally accepts fully formed RTP packets; the engine
// must prefer this capability.
type rawTransport struct {
	captureTransport
	rawMu   sync.Mutex
	packets [][]byte
}

func (r *rawTransport) SendPacket(pkt []byte) error {
	r.rawMu.Lock()
	defer r.rawMu.Unlock()
	if r.limit == 0 || len(r.packets) < r.limit {
		r.packets = append(r.packets, append([]byte(nil), pkt...))
	}
	return nil
}

func (r *rawTransport) packetCount() int {
	r.rawMu.Lock()
	defer r.rawMu.Unlock()
	return len(r.packets)
}

func (r *rawTransport) packetSnapshot() [][]byte {
	r.rawMu.Lock()
	defer r.rawMu.Unlock()
	p := make([][]byte, len(r.packets))
	copy(p, r.packets)
	return p
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "timed out waiting: "+msg)
}

func isSilencePayload(p []byte) bool {
	for _, b := range p {
		if b != codec.ALawSilence {
			return false
		}
	}
	return true
}

func decodeALawPayload(p []byte) []int16 {
	out := make([]int16, len(p))
	for i, b := range p {
		out[i] = codec.DecodeALaw(b)
	}
	return out
}

func peakOf(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}

func meanOf(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples))
}

func pcmToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestEngineDrainsSineAtFixedRate(t *testing.T) {
	clk := newFakeClock()
	tr := &captureTransport{limit: 4000}
	var empties atomic.Int32

	// Cushion covers the whole utterance so playback starts only after the
	// burst is fully queued.
	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{
		SourceRate:    24000,
		CushionFrames: 50,
		GraceFrames:   NoGrace,
		Clock:         clk,
		OnPlayoutEmpty: func() {
			empties.Add(1)
		},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	// One second of a 200Hz tone at the AI rate.
	in := make([]int16, 24000)
	for i := range in {
		in[i] = int16(10000 * math.Sin(2*math.Pi*200*float64(i)/24000))
	}
	eng.BufferAudio(pcmToBytes(in))

	waitFor(t, 5*time.Second, "playout to drain", func() bool {
		return empties.Load() >= 1
	})
	eng.Stop()

	payloads, durations := tr.snapshot()

	// Every emitted frame is exactly 20ms at the 8kHz codec rate, and the
	// duration contract is a sample count, never milliseconds.
	var audio [][]byte
	for i, p := range payloads {
		require.Len(t, p, 160)
		require.Equal(t, Samples(160), durations[i])
		if !isSilencePayload(p) {
			audio = append(audio, p)
		}
	}

	// Exactly 50 audible frames, contiguous, at the expected amplitude.
	require.Len(t, audio, 50)
	var stream []int16
	for _, p := range audio {
		frame := decodeALawPayload(p)
		peak := peakOf(frame)
		assert.Greater(t, peak, 8000.0)
		assert.Less(t, peak, 11500.0)
		stream = append(stream, frame...)
	}

	// No discontinuity at frame boundaries: a 200Hz tone at 8kHz moves at
	// most ~1600 per sample, plus companding noise.
	for i := 1; i < len(stream); i++ {
		diff := math.Abs(float64(stream[i]) - float64(stream[i-1]))
		require.Lessf(t, diff, 2500.0, "discontinuity at sample %d", i)
	}

	assert.Equal(t, int32(1), empties.Load())
}

func TestEngineSilenceWhileBuffering(t *testing.T) {
	clk := newFakeClock()
	tr := &captureTransport{limit: 100}

	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{Clock: clk})
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	// The transport and NAT mapping stay alive on silence while the
	// cushion never fills.
	waitFor(t, 2*time.Second, "keepalive silence", func() bool {
		return tr.count() >= 3
	})
	payloads, _ := tr.snapshot()
	for _, p := range payloads[:3] {
		assert.True(t, isSilencePayload(p))
	}
	assert.False(t, eng.Speaking())
	assert.Equal(t, StateBuffering, eng.State())
}

func TestEngineStarvationGrace(t *testing.T) {
	clk := newFakeClock()
	tr := &captureTransport{limit: 2000}
	var empties atomic.Int32

	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{
		SourceRate:    8000,
		CushionFrames: 10,
		GraceFrames:   4,
		Clock:         clk,
		OnPlayoutEmpty: func() {
			empties.Add(1)
		},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	// Ten frames of steady tone, then nothing.
	in := make([]int16, 1600)
	for i := range in {
		in[i] = 8000
	}
	eng.BufferAudio(pcmToBytes(in))

	waitFor(t, 5*time.Second, "starvation to fire PlayoutEmpty", func() bool {
		return empties.Load() >= 1
	})
	// Let a few more frame slots elapse: the signal must not re-fire.
	n := tr.sendCount()
	waitFor(t, 2*time.Second, "more frame slots", func() bool {
		return tr.sendCount() >= n+10
	})
	eng.Stop()

	require.Equal(t, int32(1), empties.Load(), "PlayoutEmpty fired more than once")

	payloads, _ := tr.snapshot()
	type classified struct{ mean float64 }
	var run []classified
	inRun := false
	for _, p := range payloads {
		if isSilencePayload(p) {
			if inRun {
				break
			}
			continue
		}
		inRun = true
		run = append(run, classified{mean: meanOf(decodeALawPayload(p))})
	}

	// Ten full-level frames, then at most GraceFrames fading ones.
	require.Len(t, run, 14)
	for _, c := range run[:10] {
		assert.InDelta(t, 8000.0, c.mean, 700.0)
	}
	for i := 11; i < 14; i++ {
		assert.Less(t, run[i].mean, run[i-1].mean, "grace frames must fade monotonically")
	}
	assert.Less(t, run[13].mean, 2500.0)
	assert.False(t, eng.Speaking())
}

func TestEngineClearPreservesRTPContinuity(t *testing.T) {
	clk := newFakeClock()
	tr := &rawTransport{captureTransport: captureTransport{limit: 2000}}

	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{
		SourceRate:    8000,
		CushionFrames: 2,
		GraceFrames:   NoGrace,
		Clock:         clk,
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	burst := pcmToBytes(make([]int16, 1600)) // ten frames
	eng.BufferAudio(burst)
	waitFor(t, 2*time.Second, "first packets", func() bool {
		return tr.packetCount() >= 5
	})

	// Barge-in: flush content, keep header continuity.
	eng.Clear()
	eng.BufferAudio(burst)
	waitFor(t, 2*time.Second, "packets after clear", func() bool {
		return tr.packetCount() >= 20
	})
	eng.Stop()

	packets := tr.packetSnapshot()
	require.GreaterOrEqual(t, len(packets), 20)

	var prev *rtp.Packet
	for i, raw := range packets {
		pkt := &rtp.Packet{}
		require.NoError(t, pkt.Unmarshal(raw))
		if prev != nil {
			assert.Equalf(t, prev.SequenceNumber+1, pkt.SequenceNumber, "sequence gap at packet %d", i)
			assert.Equalf(t, prev.Timestamp+160, pkt.Timestamp, "timestamp gap at packet %d", i)
			assert.Equal(t, prev.SSRC, pkt.SSRC)
		}
		prev = pkt
	}
}

func TestEngineRawPacketHeaders(t *testing.T) {
	clk := newFakeClock()
	tr := &rawTransport{captureTransport: captureTransport{limit: 100}}

	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{Clock: clk})
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	waitFor(t, 2*time.Second, "raw packets", func() bool {
		return tr.packetCount() >= 3
	})
	eng.Stop()

	// Raw capability resolved once at construction: SendAudio never used.
	assert.Zero(t, tr.sendCount())

	for _, raw := range tr.packetSnapshot() {
		pkt := &rtp.Packet{}
		require.NoError(t, pkt.Unmarshal(raw))
		assert.Equal(t, uint8(2), pkt.Version)
		assert.Equal(t, codec.PayloadTypePCMA, pkt.PayloadType)
		assert.Equal(t, eng.stream.SSRC(), pkt.SSRC)
		assert.Len(t, pkt.Payload, 160)
	}
}

func TestEngineBufferAudioZeroPadsTail(t *testing.T) {
	tr := &captureTransport{}
	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{SourceRate: 8000})
	require.NoError(t, err)

	// Mark running without the pacing loop so the queue can be inspected.
	eng.running.Store(true)

	in := make([]int16, 560) // 3.5 frames
	for i := range in {
		in[i] = 100
	}
	eng.BufferAudio(pcmToBytes(in))

	require.Equal(t, 4, eng.QueueDepth())
	for i := 0; i < 3; i++ {
		f, ok := eng.queue.Pop()
		require.True(t, ok)
		assert.Equal(t, int16(100), f[0])
		assert.Equal(t, int16(100), f[159])
	}
	tail, ok := eng.queue.Pop()
	require.True(t, ok)
	require.Len(t, tail, 160)
	assert.Equal(t, int16(100), tail[79])
	for _, s := range tail[80:] {
		assert.Zero(t, s)
	}
}

func TestEngineBufferAudioNoopWhenInactive(t *testing.T) {
	tr := &captureTransport{}
	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{SourceRate: 8000})
	require.NoError(t, err)

	eng.BufferAudio(pcmToBytes(make([]int16, 320)))
	assert.Zero(t, eng.QueueDepth())
}

func TestEngineStopIsBoundedAndIdempotent(t *testing.T) {
	clk := newFakeClock()
	tr := &captureTransport{limit: 10}

	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{Clock: clk})
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	waitFor(t, 2*time.Second, "some frames", func() bool { return tr.count() >= 2 })

	start := time.Now()
	eng.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateIdle, eng.State())
	assert.Zero(t, eng.QueueDepth())

	eng.Stop() // second stop is a no-op

	eng.Dispose()
	assert.Error(t, eng.Start())
}

func TestEngineConcurrentStartStop(t *testing.T) {
	tr := &captureTransport{limit: 10}
	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{Clock: newFakeClock()})
	require.NoError(t, err)

	// A Stop racing a just-returned Start must observe the loop's done
	// channel, not block out the full join timeout.
	begin := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, eng.Start())
		}()
		go func() {
			defer wg.Done()
			eng.Stop()
		}()
		wg.Wait()
	}
	eng.Stop()
	assert.Less(t, time.Since(begin), 3*time.Second)
}

func TestEngineSurvivesTransportFailures(t *testing.T) {
	clk := newFakeClock()
	tr := &captureTransport{limit: 1, sendErr: assert.AnError}

	eng, err := NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), tr, Config{Clock: clk})
	require.NoError(t, err)
	require.NoError(t, eng.Start())

	// Every send fails; the clock must keep ticking regardless.
	waitFor(t, 2*time.Second, "loop survives failing sends", func() bool {
		return tr.sendCount() >= 10
	})
	eng.Stop()
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(nil, &captureTransport{}, Config{})
	assert.Error(t, err)

	_, err = NewEngine(codec.NewALawCodec(codec.PayloadTypePCMA), nil, Config{})
	assert.Error(t, err)
}
