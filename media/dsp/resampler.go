package dsp

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Quality selects the fallback resampler tier.
type Quality int

const (
	// QualityStandard applies a 31-tap windowed-sinc low-pass. Production
	// default and the zero value.
	QualityStandard Quality = iota
	// QualityHigh applies a 63-tap windowed-sinc low-pass.
	QualityHigh
	// QualityEconomy skips anti-alias filtering: block-average decimation
	// and plain linear interpolation. Cheapest, audible aliasing.
	QualityEconomy
)

// supportedRates is the defined telephony/wideband rate set. Anything else
// is rejected at construction.
var supportedRates = map[uint32]bool{8000: true, 16000: true, 24000: true, 48000: true}

// HighQuality is the delegated band-limited resampler contract. An external
// implementation (e.g. a libsoxr or speexdsp binding) can be registered via
// SetHighQualityFactory.
type HighQuality interface {
	Resample(in []int16) ([]int16, error)
	Reset()
}

// HighQualityFactory builds a delegated resampler for one rate pair.
type HighQualityFactory func(inputRate, outputRate uint32) (HighQuality, error)

var (
	hqMu       sync.RWMutex
	hqFactory  HighQualityFactory
	hqDisabled atomic.Bool
	hqLogOnce  sync.Once
)

// SetHighQualityFactory registers the delegated high-quality resampler
// factory. Passing nil removes it. Registration does not clear a fallback
// latch that already tripped.
func SetHighQualityFactory(f HighQualityFactory) {
	hqMu.Lock()
	hqFactory = f
	hqMu.Unlock()
}

// disableHighQuality trips the process-lifetime fallback latch. The decision
// is logged exactly once; retrying per call would flap between strategies
// mid-session.
func disableHighQuality(reason string, err error) {
	hqDisabled.Store(true)
	hqLogOnce.Do(func() {
		fields := logrus.Fields{
			"function": "dsp.disableHighQuality",
			"reason":   reason,
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logrus.WithFields(fields).Warn("High-quality resampler unavailable, using FIR fallback for process lifetime")
	})
}

// Resampler converts linear samples between two rates from the supported
// set, preserving voice-band content and suppressing aliasing.
//
// Filter history and the fractional read position persist across calls to
// Resample within one session; Reset clears them at session boundaries.
// Output is always clamped to the 16-bit signed range.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	quality    Quality

	hq HighQuality

	filter []float64 // windowed-sinc taps, nil for economy or same-rate
	hist   []float64 // last len(filter)-1 samples seen by the filter stage
	pos    float64   // fractional position of the interpolation stage
	prev   float64   // previous interpolation-stage input sample

	avgCarry []float64 // partial block for economy block-averaging
}

// NewResampler creates a stateful converter from inputRate to outputRate.
//
// The delegated high-quality strategy is attempted first when a factory is
// registered and the fallback latch has not tripped; any factory failure
// trips the latch for the process lifetime.
//
// Parameters:
//   - inputRate: source rate in Hz, one of 8000/16000/24000/48000
//   - outputRate: target rate in Hz, one of 8000/16000/24000/48000
//   - quality: fallback FIR tier
//
// Returns:
//   - *Resampler: new converter
//   - error: unsupported rate
func NewResampler(inputRate, outputRate uint32, quality Quality) (*Resampler, error) {
	if !supportedRates[inputRate] || !supportedRates[outputRate] {
		logrus.WithFields(logrus.Fields{
			"function":    "NewResampler",
			"input_rate":  inputRate,
			"output_rate": outputRate,
			"error":       "unsupported sample rate",
		}).Error("Resampler rate validation failed")
		return nil, fmt.Errorf("unsupported rate pair %d -> %d", inputRate, outputRate)
	}

	r := &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		quality:    quality,
	}

	if inputRate != outputRate {
		r.initStrategy()
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewResampler",
		"input_rate":   inputRate,
		"output_rate":  outputRate,
		"quality":      quality,
		"high_quality": r.hq != nil,
	}).Info("Resampler created")

	return r, nil
}

func (r *Resampler) initStrategy() {
	if !hqDisabled.Load() {
		hqMu.RLock()
		factory := hqFactory
		hqMu.RUnlock()
		if factory != nil {
			hq, err := factory(r.inputRate, r.outputRate)
			if err != nil {
				disableHighQuality("factory initialization failed", err)
			} else {
				r.hq = hq
			}
		}
	}

	if taps := r.tapCount(); taps > 0 {
		filterRate := r.inputRate
		if r.outputRate > r.inputRate {
			filterRate = r.outputRate
		}
		cutoff := 0.45 * float64(minRate(r.inputRate, r.outputRate))
		r.filter = designLowPass(taps, cutoff, float64(filterRate))
		r.hist = make([]float64, taps-1)
	}
}

func (r *Resampler) tapCount() int {
	switch r.quality {
	case QualityEconomy:
		return 0
	case QualityHigh:
		return 63
	default:
		return 31
	}
}

func minRate(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// designLowPass builds a Hamming-windowed sinc low-pass, normalized to unity
// DC gain so an all-zero or DC input passes through unchanged.
func designLowPass(taps int, cutoffHz, rate float64) []float64 {
	h := make([]float64, taps)
	fc := cutoffHz / rate
	m := float64(taps - 1)
	var sum float64
	for i := range h {
		x := float64(i) - m/2
		var v float64
		if x == 0 {
			v = 2 * math.Pi * fc
		} else {
			v = math.Sin(2*math.Pi*fc*x) / x
		}
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/m)
		h[i] = v * w
		sum += h[i]
	}
	for i := range h {
		h[i] /= sum
	}
	return h
}

// Resample converts one buffer, carrying filter history and fractional
// position into the next call. Empty input yields empty output.
func (r *Resampler) Resample(in []int16) ([]int16, error) {
	if len(in) == 0 {
		return []int16{}, nil
	}
	if r.inputRate == r.outputRate {
		out := make([]int16, len(in))
		copy(out, in)
		return out, nil
	}

	if r.hq != nil {
		out, err := r.hq.Resample(in)
		if err == nil {
			return out, nil
		}
		// A delegated failure mid-session latches the fallback too; the
		// FIR path takes over from this buffer onward.
		disableHighQuality("delegated resample failed", err)
		r.hq = nil
	}

	src := make([]float64, len(in))
	for i, s := range in {
		src[i] = float64(s)
	}

	var out []float64
	switch {
	case r.quality == QualityEconomy:
		out = r.economy(src)
	case r.outputRate > r.inputRate:
		// Interpolate up first, then smooth at the output rate.
		out = r.fir(r.interpolate(src))
	default:
		// Band-limit at the input rate, then decimate. Skipping the
		// filter here is what produces the "underwater" aliasing sound.
		out = r.interpolate(r.fir(src))
	}

	result := make([]int16, len(out))
	for i, v := range out {
		result[i] = clampSample(v)
	}
	return result, nil
}

// interpolate converts src between rates by linear interpolation, keeping
// the fractional position and final sample for continuity across buffers.
func (r *Resampler) interpolate(src []float64) []float64 {
	ratio := float64(r.inputRate) / float64(r.outputRate)
	out := make([]float64, 0, int(float64(len(src))/ratio)+2)

	for r.pos < float64(len(src)-1) {
		idx := int(math.Floor(r.pos))
		frac := r.pos - float64(idx)
		s0 := r.prev
		if idx >= 0 {
			s0 = src[idx]
		}
		s1 := src[idx+1]
		out = append(out, s0*(1-frac)+s1*frac)
		r.pos += ratio
	}
	r.pos -= float64(len(src))
	r.prev = src[len(src)-1]
	return out
}

// fir runs the windowed-sinc low-pass over src with persistent history.
func (r *Resampler) fir(src []float64) []float64 {
	taps := len(r.filter)
	buf := make([]float64, 0, len(r.hist)+len(src))
	buf = append(buf, r.hist...)
	buf = append(buf, src...)

	out := make([]float64, len(src))
	for i := range src {
		var acc float64
		for j, c := range r.filter {
			acc += c * buf[i+taps-1-j]
		}
		out[i] = acc
	}

	copy(r.hist, buf[len(buf)-(taps-1):])
	return out
}

// economy is the lowest tier: block-average decimation for integer ratios,
// unfiltered linear interpolation otherwise.
func (r *Resampler) economy(src []float64) []float64 {
	if r.inputRate > r.outputRate && r.inputRate%r.outputRate == 0 {
		factor := int(r.inputRate / r.outputRate)
		buf := append(r.avgCarry, src...)
		out := make([]float64, 0, len(buf)/factor)
		i := 0
		for ; i+factor <= len(buf); i += factor {
			var sum float64
			for _, v := range buf[i : i+factor] {
				sum += v
			}
			out = append(out, sum/float64(factor))
		}
		r.avgCarry = append(r.avgCarry[:0], buf[i:]...)
		return out
	}
	return r.interpolate(src)
}

// Reset clears all filter history and fractional state. Must be invoked at
// session boundaries to avoid cross-call artifacts.
func (r *Resampler) Reset() {
	r.pos = 0
	r.prev = 0
	for i := range r.hist {
		r.hist[i] = 0
	}
	r.avgCarry = r.avgCarry[:0]
	if r.hq != nil {
		r.hq.Reset()
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Resampler.Reset",
		"input_rate":  r.inputRate,
		"output_rate": r.outputRate,
	}).Debug("Resampler state reset")
}

// InputRate returns the configured source rate in Hz.
func (r *Resampler) InputRate() uint32 { return r.inputRate }

// OutputRate returns the configured target rate in Hz.
func (r *Resampler) OutputRate() uint32 { return r.outputRate }

func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(math.Round(v))
}
