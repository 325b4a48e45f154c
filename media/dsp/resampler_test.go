package dsp

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetHighQuality clears the delegated-resampler registration and the
// process-lifetime fallback latch between tests.
func resetHighQuality() {
	SetHighQualityFactory(nil)
	hqDisabled.Store(false)
	hqLogOnce = sync.Once{}
}

func TestNewResamplerRejectsUnsupportedRates(t *testing.T) {
	tests := []struct {
		in, out uint32
	}{
		{44100, 48000},
		{8000, 11025},
		{0, 8000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_to_%d", tt.in, tt.out), func(t *testing.T) {
			_, err := NewResampler(tt.in, tt.out, QualityStandard)
			assert.Error(t, err)
		})
	}
}

func TestResampleSameRateCopies(t *testing.T) {
	r, err := NewResampler(16000, 16000, QualityStandard)
	require.NoError(t, err)

	in := []int16{1, -2, 3, -4}
	out, err := r.Resample(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// Must be a copy, not an alias.
	out[0] = 99
	assert.Equal(t, int16(1), in[0])
}

func TestResampleZeroInZeroOut(t *testing.T) {
	pairs := [][2]uint32{{24000, 8000}, {8000, 24000}, {16000, 24000}, {48000, 8000}}
	for _, q := range []Quality{QualityEconomy, QualityStandard, QualityHigh} {
		for _, p := range pairs {
			t.Run(fmt.Sprintf("q%d_%d_to_%d", q, p[0], p[1]), func(t *testing.T) {
				r, err := NewResampler(p[0], p[1], q)
				require.NoError(t, err)

				out, err := r.Resample(make([]int16, 960))
				require.NoError(t, err)
				for i, s := range out {
					require.Zerof(t, s, "spurious tone at sample %d", i)
				}
			})
		}
	}
}

func TestResampleDownLength(t *testing.T) {
	r, err := NewResampler(24000, 8000, QualityStandard)
	require.NoError(t, err)

	out, err := r.Resample(make([]int16, 24000))
	require.NoError(t, err)
	assert.Len(t, out, 8000)
}

func TestResampleUpLength(t *testing.T) {
	r, err := NewResampler(8000, 24000, QualityStandard)
	require.NoError(t, err)

	out, err := r.Resample(make([]int16, 8000))
	require.NoError(t, err)
	// A few samples of pipeline latency on the first buffer are expected.
	assert.InDelta(t, 24000, len(out), 8)

	// The long-run rate holds exactly.
	total := len(out)
	for i := 0; i < 9; i++ {
		out, err = r.Resample(make([]int16, 8000))
		require.NoError(t, err)
		total += len(out)
	}
	assert.InDelta(t, 240000, total, 8)
}

func TestResampleNonIntegerRatio(t *testing.T) {
	r, err := NewResampler(16000, 24000, QualityStandard)
	require.NoError(t, err)

	out, err := r.Resample(make([]int16, 1600))
	require.NoError(t, err)
	assert.InDelta(t, 2400, len(out), 8)
}

func TestResamplePreservesVoiceBandTone(t *testing.T) {
	r, err := NewResampler(24000, 8000, QualityStandard)
	require.NoError(t, err)

	const amplitude = 10000.0
	in := make([]int16, 24000)
	for i := range in {
		in[i] = int16(amplitude * math.Sin(2*math.Pi*200*float64(i)/24000))
	}
	out, err := r.Resample(in)
	require.NoError(t, err)
	require.Len(t, out, 8000)

	var sum float64
	tail := out[200:]
	for _, s := range tail {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(tail)))
	want := amplitude / math.Sqrt2
	assert.InDelta(t, want, rms, want*0.15, "200Hz tone attenuated or distorted")
}

func TestResamplerResetClearsHistory(t *testing.T) {
	r, err := NewResampler(24000, 8000, QualityStandard)
	require.NoError(t, err)

	loud := make([]int16, 2400)
	for i := range loud {
		loud[i] = 20000
	}
	_, err = r.Resample(loud)
	require.NoError(t, err)

	r.Reset()

	out, err := r.Resample(make([]int16, 2400))
	require.NoError(t, err)
	for i, s := range out {
		require.Zerof(t, s, "residual filter ring at sample %d", i)
	}
}

type stubHighQuality struct {
	calls *int
}

func (s *stubHighQuality) Resample(in []int16) ([]int16, error) {
	*s.calls++
	return make([]int16, len(in)/3), nil
}

func (s *stubHighQuality) Reset() {}

func TestDelegatedResamplerPreferred(t *testing.T) {
	resetHighQuality()
	defer resetHighQuality()

	calls := 0
	SetHighQualityFactory(func(in, out uint32) (HighQuality, error) {
		return &stubHighQuality{calls: &calls}, nil
	})

	r, err := NewResampler(24000, 8000, QualityStandard)
	require.NoError(t, err)

	out, err := r.Resample(make([]int16, 240))
	require.NoError(t, err)
	assert.Len(t, out, 80)
	assert.Equal(t, 1, calls, "delegated strategy not used")
}

func TestFallbackLatchIsPermanent(t *testing.T) {
	resetHighQuality()
	defer resetHighQuality()

	factoryCalls := 0
	SetHighQualityFactory(func(in, out uint32) (HighQuality, error) {
		factoryCalls++
		return nil, fmt.Errorf("no native library")
	})

	r1, err := NewResampler(24000, 8000, QualityStandard)
	require.NoError(t, err)
	assert.Nil(t, r1.hq)
	assert.Equal(t, 1, factoryCalls)

	// The latch is process-wide: later sessions never retry the factory.
	r2, err := NewResampler(8000, 24000, QualityStandard)
	require.NoError(t, err)
	assert.Nil(t, r2.hq)
	assert.Equal(t, 1, factoryCalls, "fallback latch retried the factory")

	// And the FIR fallback still converts.
	out, err := r1.Resample(make([]int16, 240))
	require.NoError(t, err)
	assert.Len(t, out, 80)
}
