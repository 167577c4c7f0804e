package dsp

// EqualizerBands is the number of fixed bands.
const EqualizerBands = 15

// equalizerFrequencies are the band center frequencies in Hz.
var equalizerFrequencies = [EqualizerBands]float64{
	25, 40, 63, 100, 160, 250, 400, 630, 1000, 1600, 2500, 4000, 6300, 10000, 16000,
}

const equalizerQ = 1.4

// Equalizer is a 15-band graphic equalizer built from cascaded peaking
// biquads. Bands with zero gain are skipped entirely.
type Equalizer struct {
	gains [EqualizerBands]float64
	bands []*Biquad
}

// NewEqualizer builds an equalizer for the given per-band gains in dB.
// Gains beyond EqualizerBands entries are ignored; missing entries are
// treated as flat.
func NewEqualizer(sampleRate float64, gainsDB []float64) *Equalizer {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	eq := &Equalizer{}
	for i := 0; i < EqualizerBands && i < len(gainsDB); i++ {
		eq.gains[i] = gainsDB[i]
	}
	for i, g := range eq.gains {
		if g == 0 {
			continue
		}
		eq.bands = append(eq.bands, NewBiquad(BiquadParams{
			Type:       PeakingEQ,
			SampleRate: sampleRate,
			Frequency:  equalizerFrequencies[i],
			Q:          equalizerQ,
			GainDB:     g,
		}))
	}
	return eq
}

func (eq *Equalizer) Name() string { return "equalizer" }

// Gains reports the configured per-band gains in dB.
func (eq *Equalizer) Gains() []float64 {
	out := make([]float64, EqualizerBands)
	copy(out, eq.gains[:])
	return out
}

func (eq *Equalizer) Process(samples []int16) []int16 {
	for _, b := range eq.bands {
		samples = b.Process(samples)
	}
	return samples
}
