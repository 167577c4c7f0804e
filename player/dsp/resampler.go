package dsp

// Resampler converts interleaved stereo s16 between sample rates using
// linear interpolation. Feeding 48k audio through a resampler targeting
// a lower rate (while the sink still plays at 48k) speeds playback up,
// and vice versa, which is how the tempo presets work.
type Resampler struct {
	sourceRate float64
	targetRate float64
	step       float64
	pos        float64
	prevL      float64
	prevR      float64
	primed     bool
}

func NewResampler(sourceRate, targetRate float64) *Resampler {
	if sourceRate <= 0 {
		sourceRate = 48000
	}
	if targetRate <= 0 {
		targetRate = 48000
	}
	return &Resampler{
		sourceRate: sourceRate,
		targetRate: targetRate,
		step:       sourceRate / targetRate,
	}
}

func (r *Resampler) Name() string { return "resampler" }

// Ratio reports the playback speed multiplier this stage introduces.
func (r *Resampler) Ratio() float64 { return r.sourceRate / r.targetRate }

// frame returns input frame i, where i == -1 is the last frame of the
// previous block carried across the boundary.
func (r *Resampler) frame(samples []int16, i int) (float64, float64) {
	if i < 0 {
		return r.prevL, r.prevR
	}
	return float64(samples[i*2]), float64(samples[i*2+1])
}

func (r *Resampler) Process(samples []int16) []int16 {
	if r.step == 1 {
		return samples
	}
	frames := len(samples) / 2
	if frames == 0 {
		return samples
	}

	// pos is relative to the carried frame: -1 <= pos, with frame 0
	// being the first frame of this block.
	if !r.primed {
		r.pos = 0
	}

	out := make([]int16, 0, int(float64(frames)/r.step)*2+2)
	for r.pos < float64(frames-1) {
		idx := int(r.pos)
		frac := r.pos - float64(idx)
		if r.pos < 0 {
			idx = -1
			frac = r.pos + 1
		}
		l0, r0 := r.frame(samples, idx)
		l1, r1 := r.frame(samples, idx+1)
		out = append(out, clampS16(l0*(1-frac)+l1*frac), clampS16(r0*(1-frac)+r1*frac))
		r.pos += r.step
	}

	r.prevL, r.prevR = r.frame(samples, frames-1)
	r.primed = true
	r.pos -= float64(frames)
	return out
}
