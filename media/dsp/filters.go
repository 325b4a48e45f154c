package dsp

// DCBlocker is a one-pole high-pass filter removing the DC offset that
// carrier-decoded telephony audio often carries:
//
//	y[n] = x[n] - x[n-1] + R*y[n-1]
//
// State persists across buffers; Reset at session boundaries.
type DCBlocker struct {
	r     float64
	prevX float64
	prevY float64
}

// NewDCBlocker creates a DC blocker. The pole radius defaults to 0.995 when
// r is out of (0,1), placing the -3dB point well below the voice band.
func NewDCBlocker(r float64) *DCBlocker {
	if r <= 0 || r >= 1 {
		r = 0.995
	}
	return &DCBlocker{r: r}
}

// Process filters one buffer in place and returns it.
func (d *DCBlocker) Process(samples []int16) []int16 {
	for i, s := range samples {
		x := float64(s)
		y := x - d.prevX + d.r*d.prevY
		d.prevX = x
		d.prevY = y
		samples[i] = clampSample(y)
	}
	return samples
}

// Reset clears the filter state.
func (d *DCBlocker) Reset() {
	d.prevX = 0
	d.prevY = 0
}

// Preemphasis applies the first-order high-frequency boost commonly used
// ahead of speech recognition:
//
//	y[n] = x[n] - a*x[n-1]
type Preemphasis struct {
	a    float64
	prev float64
}

// NewPreemphasis creates a pre-emphasis filter. Coefficients outside (0,1)
// default to 0.97.
func NewPreemphasis(a float64) *Preemphasis {
	if a <= 0 || a >= 1 {
		a = 0.97
	}
	return &Preemphasis{a: a}
}

// Process filters one buffer in place and returns it.
func (p *Preemphasis) Process(samples []int16) []int16 {
	for i, s := range samples {
		x := float64(s)
		y := x - p.a*p.prev
		p.prev = x
		samples[i] = clampSample(y)
	}
	return samples
}

// Reset clears the filter state.
func (p *Preemphasis) Reset() {
	p.prev = 0
}
