package dsp

import "math"

// Rotator sweeps the audio around the stereo field with a slow sine
// LFO, the "8D audio" effect. Each channel's gain swings opposite the
// other; depth 0 leaves the image untouched, depth 1 pans fully.
type Rotator struct {
	phase float64
	inc   float64
	depth float64
}

func NewRotator(sampleRate, frequencyHz, depth float64) *Rotator {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if frequencyHz <= 0 {
		frequencyHz = 0.2
	}
	if depth < 0 || depth > 1 {
		depth = 0.75
	}
	return &Rotator{
		inc:   2 * math.Pi * frequencyHz / sampleRate,
		depth: depth,
	}
}

func (r *Rotator) Name() string { return "rotator" }

func (r *Rotator) Process(samples []int16) []int16 {
	for i := 0; i+1 < len(samples); i += 2 {
		pan := math.Sin(r.phase)
		left := 1 - r.depth*(1+pan)/2
		right := 1 - r.depth*(1-pan)/2
		samples[i] = clampS16(float64(samples[i]) * left)
		samples[i+1] = clampS16(float64(samples[i+1]) * right)
		r.phase += r.inc
		if r.phase >= 2*math.Pi {
			r.phase -= 2 * math.Pi
		}
	}
	return samples
}
