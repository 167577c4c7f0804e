package dsp

import "math"

// CompressorParams configures the dynamic range compressor.
type CompressorParams struct {
	SampleRate   float64
	ThresholdDB  float64 // level above which compression starts
	Ratio        float64 // input/output slope above the threshold
	AttackMS     float64
	ReleaseMS    float64
	MakeupGainDB float64
	KneeDB       float64 // width of the soft knee around the threshold
}

// DefaultCompressorParams mirrors a gentle bus compressor.
func DefaultCompressorParams() CompressorParams {
	return CompressorParams{
		SampleRate:   48000,
		ThresholdDB:  -24,
		Ratio:        4,
		AttackMS:     5,
		ReleaseMS:    80,
		MakeupGainDB: 0,
		KneeDB:       6,
	}
}

// Compressor is a feed-forward compressor with a soft knee and a
// one-pole envelope follower shared by both channels.
type Compressor struct {
	params         CompressorParams
	attackCoeff    float64
	releaseCoeff   float64
	makeup         float64
	envelopeDB     float64
}

func NewCompressor(p CompressorParams) *Compressor {
	if p.SampleRate <= 0 {
		p.SampleRate = 48000
	}
	if p.Ratio < 1 {
		p.Ratio = 1
	}
	c := &Compressor{
		params:     p,
		makeup:     math.Pow(10, p.MakeupGainDB/20),
		envelopeDB: -96,
	}
	// Per-sample smoothing coefficients from the millisecond time constants
	c.attackCoeff = math.Exp(-1 / (p.AttackMS / 1000 * p.SampleRate))
	c.releaseCoeff = math.Exp(-1 / (p.ReleaseMS / 1000 * p.SampleRate))
	return c
}

func (c *Compressor) Name() string { return "compressor" }

// Params reports the configuration this compressor was built with.
func (c *Compressor) Params() CompressorParams { return c.params }

func (c *Compressor) Process(samples []int16) []int16 {
	for i := 0; i+1 < len(samples); i += 2 {
		l := float64(samples[i]) / 32768
		r := float64(samples[i+1]) / 32768

		peak := math.Max(math.Abs(l), math.Abs(r))
		levelDB := -96.0
		if peak > 0 {
			levelDB = 20 * math.Log10(peak)
		}

		if levelDB > c.envelopeDB {
			c.envelopeDB = c.attackCoeff*c.envelopeDB + (1-c.attackCoeff)*levelDB
		} else {
			c.envelopeDB = c.releaseCoeff*c.envelopeDB + (1-c.releaseCoeff)*levelDB
		}

		gainDB := c.gainForLevel(c.envelopeDB)
		gain := math.Pow(10, gainDB/20) * c.makeup

		samples[i] = clampS16(float64(samples[i]) * gain)
		samples[i+1] = clampS16(float64(samples[i+1]) * gain)
	}
	return samples
}

// gainForLevel computes the gain reduction in dB for the given envelope
// level, applying a quadratic soft knee around the threshold.
func (c *Compressor) gainForLevel(levelDB float64) float64 {
	over := levelDB - c.params.ThresholdDB
	knee := c.params.KneeDB

	switch {
	case over <= -knee/2:
		return 0
	case over < knee/2:
		// inside the knee
		x := over + knee/2
		return (1/c.params.Ratio - 1) * x * x / (2 * knee)
	default:
		return (1/c.params.Ratio - 1) * over
	}
}
