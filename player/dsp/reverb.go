package dsp

// ReverbParams configures the reverb stage. All values are in [0, 1].
type ReverbParams struct {
	SampleRate float64
	RoomSize   float64
	Damping    float64
	Wet        float64
	Dry        float64
}

// DefaultReverbParams is a small, mostly-dry room.
func DefaultReverbParams() ReverbParams {
	return ReverbParams{SampleRate: 48000, RoomSize: 0.5, Damping: 0.5, Wet: 0.3, Dry: 0.7}
}

// comb delay lengths in samples at 48kHz, scaled for other rates.
var combTunings = [4]int{1557, 1617, 1491, 1422}
var allpassTunings = [2]int{225, 556}

type combFilter struct {
	buf      []float64
	idx      int
	feedback float64
	damp     float64
	store    float64
}

func (c *combFilter) process(in float64) float64 {
	out := c.buf[c.idx]
	c.store = out*(1-c.damp) + c.store*c.damp
	c.buf[c.idx] = in + c.store*c.feedback
	c.idx++
	if c.idx >= len(c.buf) {
		c.idx = 0
	}
	return out
}

type allpassFilter struct {
	buf []float64
	idx int
}

func (a *allpassFilter) process(in float64) float64 {
	buffered := a.buf[a.idx]
	out := buffered - in
	a.buf[a.idx] = in + buffered*0.5
	a.idx++
	if a.idx >= len(a.buf) {
		a.idx = 0
	}
	return out
}

// Reverb is a Schroeder reverberator: parallel damped combs feeding
// serial allpasses, per channel.
type Reverb struct {
	params   ReverbParams
	combs    [2][4]*combFilter
	allpass  [2][2]*allpassFilter
	wet, dry float64
}

func NewReverb(p ReverbParams) *Reverb {
	if p.SampleRate <= 0 {
		p.SampleRate = 48000
	}
	scale := p.SampleRate / 48000
	feedback := 0.7 + p.RoomSize*0.28

	r := &Reverb{params: p, wet: p.Wet, dry: p.Dry}
	for ch := 0; ch < 2; ch++ {
		// Slightly detune the right channel for stereo spread
		spread := ch * 23
		for i, tuning := range combTunings {
			size := int(float64(tuning+spread) * scale)
			r.combs[ch][i] = &combFilter{
				buf:      make([]float64, size),
				feedback: feedback,
				damp:     p.Damping * 0.4,
			}
		}
		for i, tuning := range allpassTunings {
			size := int(float64(tuning+spread) * scale)
			r.allpass[ch][i] = &allpassFilter{buf: make([]float64, size)}
		}
	}
	return r
}

func (r *Reverb) Name() string { return "reverb" }

// Params reports the configuration this reverb was built with.
func (r *Reverb) Params() ReverbParams { return r.params }

func (r *Reverb) Process(samples []int16) []int16 {
	for i := 0; i+1 < len(samples); i += 2 {
		for ch := 0; ch < 2; ch++ {
			in := float64(samples[i+ch]) / 32768
			wet := 0.0
			for _, c := range r.combs[ch] {
				wet += c.process(in)
			}
			wet /= float64(len(r.combs[ch]))
			for _, a := range r.allpass[ch] {
				wet = a.process(wet)
			}
			out := in*r.dry + wet*r.wet
			samples[i+ch] = clampS16(out * 32768)
		}
	}
	return samples
}
