package dsp

// Volume scales samples by a percentage, 100 being unity gain.
// Values above 100 amplify and clamp.
type Volume struct {
	percent int
}

func NewVolume(percent int) *Volume {
	if percent < 0 {
		percent = 0
	}
	return &Volume{percent: percent}
}

func (v *Volume) Name() string { return "volume" }

// Percent reports the configured volume percentage.
func (v *Volume) Percent() int { return v.percent }

func (v *Volume) Process(samples []int16) []int16 {
	if v.percent == 100 {
		return samples
	}
	for i, s := range samples {
		scaled := int64(s) * int64(v.percent) / 100
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		samples[i] = int16(scaled)
	}
	return samples
}
