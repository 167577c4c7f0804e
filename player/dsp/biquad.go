package dsp

import "math"

// BiquadType selects the coefficient design for a biquad filter.
type BiquadType int

const (
	LowPass BiquadType = iota
	HighPass
	BandPass
	Notch
	AllPass
	LowShelf
	HighShelf
	PeakingEQ
	SinglePoleLowPass
	SinglePoleHighPass
)

func (t BiquadType) String() string {
	switch t {
	case LowPass:
		return "lowpass"
	case HighPass:
		return "highpass"
	case BandPass:
		return "bandpass"
	case Notch:
		return "notch"
	case AllPass:
		return "allpass"
	case LowShelf:
		return "lowshelf"
	case HighShelf:
		return "highshelf"
	case PeakingEQ:
		return "peaking"
	case SinglePoleLowPass:
		return "singlepolelowpass"
	case SinglePoleHighPass:
		return "singlepolehighpass"
	}
	return "unknown"
}

// BiquadParams fully describes one biquad design. GainDB only applies to
// the shelving and peaking types.
type BiquadParams struct {
	Type       BiquadType
	SampleRate float64
	Frequency  float64
	Q          float64
	GainDB     float64
}

// Biquad is a second-order IIR filter over interleaved stereo s16 PCM.
// A Biquad is never mutated after construction; parameter changes build
// a replacement via NewBiquad.
type Biquad struct {
	params             BiquadParams
	b0, b1, b2, a1, a2 float64

	// direct form I state, one set per channel
	x1, x2, y1, y2 [2]float64
}

// NewBiquad derives normalized coefficients from the audio cookbook
// design equations for the given parameters.
func NewBiquad(p BiquadParams) *Biquad {
	if p.SampleRate <= 0 {
		p.SampleRate = 48000
	}
	if p.Q <= 0 {
		p.Q = math.Sqrt2 / 2
	}
	f := &Biquad{params: p}

	w0 := 2 * math.Pi * p.Frequency / p.SampleRate
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)
	alpha := sinW0 / (2 * p.Q)
	bigA := math.Pow(10, p.GainDB/40)

	var b0, b1, b2, a0, a1, a2 float64

	switch p.Type {
	case LowPass:
		b0 = (1 - cosW0) / 2
		b1 = 1 - cosW0
		b2 = (1 - cosW0) / 2
		a0 = 1 + alpha
		a1 = -2 * cosW0
		a2 = 1 - alpha
	case HighPass:
		b0 = (1 + cosW0) / 2
		b1 = -(1 + cosW0)
		b2 = (1 + cosW0) / 2
		a0 = 1 + alpha
		a1 = -2 * cosW0
		a2 = 1 - alpha
	case BandPass:
		b0 = alpha
		b1 = 0
		b2 = -alpha
		a0 = 1 + alpha
		a1 = -2 * cosW0
		a2 = 1 - alpha
	case Notch:
		b0 = 1
		b1 = -2 * cosW0
		b2 = 1
		a0 = 1 + alpha
		a1 = -2 * cosW0
		a2 = 1 - alpha
	case AllPass:
		b0 = 1 - alpha
		b1 = -2 * cosW0
		b2 = 1 + alpha
		a0 = 1 + alpha
		a1 = -2 * cosW0
		a2 = 1 - alpha
	case PeakingEQ:
		b0 = 1 + alpha*bigA
		b1 = -2 * cosW0
		b2 = 1 - alpha*bigA
		a0 = 1 + alpha/bigA
		a1 = -2 * cosW0
		a2 = 1 - alpha/bigA
	case LowShelf:
		sqrtA := math.Sqrt(bigA)
		b0 = bigA * ((bigA + 1) - (bigA-1)*cosW0 + 2*sqrtA*alpha)
		b1 = 2 * bigA * ((bigA - 1) - (bigA+1)*cosW0)
		b2 = bigA * ((bigA + 1) - (bigA-1)*cosW0 - 2*sqrtA*alpha)
		a0 = (bigA + 1) + (bigA-1)*cosW0 + 2*sqrtA*alpha
		a1 = -2 * ((bigA - 1) + (bigA+1)*cosW0)
		a2 = (bigA + 1) + (bigA-1)*cosW0 - 2*sqrtA*alpha
	case HighShelf:
		sqrtA := math.Sqrt(bigA)
		b0 = bigA * ((bigA + 1) + (bigA-1)*cosW0 + 2*sqrtA*alpha)
		b1 = -2 * bigA * ((bigA - 1) + (bigA+1)*cosW0)
		b2 = bigA * ((bigA + 1) + (bigA-1)*cosW0 - 2*sqrtA*alpha)
		a0 = (bigA + 1) - (bigA-1)*cosW0 + 2*sqrtA*alpha
		a1 = 2 * ((bigA - 1) - (bigA+1)*cosW0)
		a2 = (bigA + 1) - (bigA-1)*cosW0 - 2*sqrtA*alpha
	case SinglePoleLowPass:
		pole := math.Exp(-w0)
		b0 = 1 - pole
		a0 = 1
		a1 = -pole
	case SinglePoleHighPass:
		pole := math.Exp(-w0)
		b0 = (1 + pole) / 2
		b1 = -(1 + pole) / 2
		a0 = 1
		a1 = -pole
	}

	// Normalize so a0 divides out
	f.b0 = b0 / a0
	f.b1 = b1 / a0
	f.b2 = b2 / a0
	f.a1 = a1 / a0
	f.a2 = a2 / a0
	return f
}

func (f *Biquad) Name() string { return "biquad" }

// Params reports the design this filter was built with.
func (f *Biquad) Params() BiquadParams { return f.params }

// Process runs the direct form I difference equation over interleaved
// stereo samples in place. Outputs are clamped to the s16 range to
// prevent overflow wraparound.
func (f *Biquad) Process(samples []int16) []int16 {
	for i := range samples {
		ch := i & 1
		x := float64(samples[i])
		y := f.b0*x + f.b1*f.x1[ch] + f.b2*f.x2[ch] - f.a1*f.y1[ch] - f.a2*f.y2[ch]
		f.x2[ch] = f.x1[ch]
		f.x1[ch] = x
		f.y2[ch] = f.y1[ch]
		f.y1[ch] = y
		samples[i] = clampS16(y)
	}
	return samples
}

func clampS16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
