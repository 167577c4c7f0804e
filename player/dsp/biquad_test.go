package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sine generates an interleaved stereo s16 tone.
func sine(freq, sampleRate float64, frames int, amplitude float64) []int16 {
	out := make([]int16, frames*2)
	for i := 0; i < frames; i++ {
		v := clampS16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}

// rms measures one channel of an interleaved stereo buffer.
func rms(samples []int16, channel int) float64 {
	var sum float64
	n := 0
	for i := channel; i < len(samples); i += 2 {
		v := float64(samples[i]) / 32768
		sum += v * v
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

func TestBiquadLowPassAttenuatesHighFrequencies(t *testing.T) {
	low := NewBiquad(BiquadParams{Type: LowPass, Frequency: 1000})
	high := NewBiquad(BiquadParams{Type: LowPass, Frequency: 1000})

	lowTone := low.Process(sine(200, 48000, 9600, 0.5))
	highTone := high.Process(sine(12000, 48000, 9600, 0.5))

	// skip the settling region
	assert.Greater(t, rms(lowTone[2000:], 0), rms(highTone[2000:], 0)*4)
}

func TestBiquadHighPassAttenuatesLowFrequencies(t *testing.T) {
	f := NewBiquad(BiquadParams{Type: HighPass, Frequency: 4000})
	tone := f.Process(sine(100, 48000, 9600, 0.5))
	assert.Less(t, rms(tone[2000:], 0), 0.05)
}

func TestBiquadPeakingBoostsCenterFrequency(t *testing.T) {
	f := NewBiquad(BiquadParams{Type: PeakingEQ, Frequency: 1000, GainDB: 12, Q: 1.4})
	boosted := f.Process(sine(1000, 48000, 9600, 0.1))
	assert.Greater(t, rms(boosted[2000:], 0), 0.15)
}

func TestBiquadClampsInsteadOfWrapping(t *testing.T) {
	f := NewBiquad(BiquadParams{Type: LowShelf, Frequency: 2000, GainDB: 24})
	out := f.Process(sine(200, 48000, 4800, 0.95))
	for _, s := range out {
		assert.GreaterOrEqual(t, s, int16(math.MinInt16))
		assert.LessOrEqual(t, s, int16(math.MaxInt16))
	}
}

func TestBiquadChannelsAreIndependent(t *testing.T) {
	f := NewBiquad(BiquadParams{Type: LowPass, Frequency: 500})
	in := make([]int16, 4800*2)
	for i := 0; i < 4800; i++ {
		// tone on the left, silence on the right
		in[i*2] = clampS16(16000 * math.Sin(2*math.Pi*200*float64(i)/48000))
	}
	out := f.Process(in)
	require.Greater(t, rms(out, 0), 0.1)
	assert.Zero(t, rms(out, 1))
}

func TestBiquadDefaults(t *testing.T) {
	f := NewBiquad(BiquadParams{Type: LowPass, Frequency: 1000})
	p := f.Params()
	assert.Equal(t, 48000.0, p.SampleRate)
	assert.InDelta(t, math.Sqrt2/2, p.Q, 1e-9)
}

func TestBiquadTypeString(t *testing.T) {
	assert.Equal(t, "lowpass", LowPass.String())
	assert.Equal(t, "peaking", PeakingEQ.String())
}
