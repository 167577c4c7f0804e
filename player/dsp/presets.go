package dsp

import "strings"

// Preset is a named bundle of filter stages. Tempo-affecting presets
// carry a playback speed multiplier used for duration estimation.
type Preset struct {
	Name  string
	Tempo float64 // 0 means the preset does not alter playback speed
	Build func(sampleRate float64) []Filter
}

var presets = map[string]Preset{
	"nightcore": {
		Name:  "nightcore",
		Tempo: 1.25,
		Build: func(rate float64) []Filter {
			return []Filter{NewResampler(rate, rate/1.25)}
		},
	},
	"vaporwave": {
		Name:  "vaporwave",
		Tempo: 0.8,
		Build: func(rate float64) []Filter {
			return []Filter{NewResampler(rate, rate/0.8)}
		},
	},
	"bassboost": {
		Name: "bassboost",
		Build: func(rate float64) []Filter {
			gains := make([]float64, EqualizerBands)
			for i, g := range []float64{6, 6, 5, 4, 3, 2, 1} {
				gains[i] = g
			}
			return []Filter{NewEqualizer(rate, gains)}
		},
	},
	"lofi": {
		Name: "lofi",
		Build: func(rate float64) []Filter {
			return []Filter{
				NewBiquad(BiquadParams{Type: LowPass, SampleRate: rate, Frequency: 3500}),
				NewBiquad(BiquadParams{Type: HighPass, SampleRate: rate, Frequency: 120}),
			}
		},
	},
	"concerthall": {
		Name: "concerthall",
		Build: func(rate float64) []Filter {
			p := DefaultReverbParams()
			p.SampleRate = rate
			p.RoomSize = 0.85
			p.Wet = 0.45
			p.Dry = 0.6
			return []Filter{NewReverb(p)}
		},
	},
	"compressor": {
		Name: "compressor",
		Build: func(rate float64) []Filter {
			p := DefaultCompressorParams()
			p.SampleRate = rate
			return []Filter{NewCompressor(p)}
		},
	},
	"8d": {
		Name: "8d",
		Build: func(rate float64) []Filter {
			return []Filter{NewRotator(rate, 0.2, 0.75)}
		},
	},
}

// presetStage bundles a preset's filters into a single chain stage so
// the whole preset toggles under one name.
type presetStage struct {
	preset Preset
	stages []Filter
}

func (p *presetStage) Name() string { return p.preset.Name }

// Tempo reports the preset's playback speed multiplier, 0 if none.
func (p *presetStage) Tempo() float64 { return p.preset.Tempo }

func (p *presetStage) Process(samples []int16) []int16 {
	for _, s := range p.stages {
		samples = s.Process(samples)
	}
	return samples
}

func (p *presetStage) Ratio() float64 {
	ratio := 1.0
	for _, s := range p.stages {
		if r, ok := s.(interface{ Ratio() float64 }); ok {
			ratio *= r.Ratio()
		}
	}
	return ratio
}

// Instantiate builds the preset's stages as a single chain stage.
func (p Preset) Instantiate(sampleRate float64) Filter {
	return &presetStage{preset: p, stages: p.Build(sampleRate)}
}

// PresetNames lists the available preset names.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}

// LookupPreset returns the named preset, if it exists. Names match
// case-insensitively ("8D" finds "8d").
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(name)]
	return p, ok
}

// DurationMultiplier reports the combined playback speed multiplier of
// the named presets. Tempo multipliers add together when more than one
// tempo-affecting preset is active; with none active the result is 1.
func DurationMultiplier(names []string) float64 {
	total := 0.0
	found := false
	for _, name := range names {
		p, ok := LookupPreset(name)
		if !ok || p.Tempo == 0 {
			continue
		}
		total += p.Tempo
		found = true
	}
	if !found {
		return 1
	}
	return total
}
