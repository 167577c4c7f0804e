package dsp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationMultiplierNoTempoPresets(t *testing.T) {
	assert.Equal(t, 1.0, DurationMultiplier(nil))
	assert.Equal(t, 1.0, DurationMultiplier([]string{"bassboost", "lofi"}))
	assert.Equal(t, 1.0, DurationMultiplier([]string{"not-a-preset"}))
}

func TestDurationMultiplierSingleTempo(t *testing.T) {
	assert.InDelta(t, 1.25, DurationMultiplier([]string{"nightcore"}), 1e-9)
	assert.InDelta(t, 0.8, DurationMultiplier([]string{"vaporwave"}), 1e-9)
}

func TestDurationMultiplierCombinedTemposAdd(t *testing.T) {
	got := DurationMultiplier([]string{"nightcore", "vaporwave", "bassboost"})
	assert.InDelta(t, 1.25+0.8, got, 1e-9)
}

func TestPresetNamesCoverRegistry(t *testing.T) {
	names := PresetNames()
	assert.Len(t, names, len(presets))
	for _, name := range names {
		_, ok := LookupPreset(name)
		assert.True(t, ok, name)
	}
}

func TestPresetInstantiateTogglesUnderOneName(t *testing.T) {
	lofi, ok := LookupPreset("lofi")
	require.True(t, ok)

	c := NewChain()
	c.Enable(lofi.Instantiate(48000))
	require.Equal(t, 1, c.Len())
	assert.NotNil(t, c.Get("lofi"))
	assert.True(t, c.Disable("lofi"))
}

func TestNightcorePresetShortensOutput(t *testing.T) {
	nightcore, ok := LookupPreset("nightcore")
	require.True(t, ok)

	stage := nightcore.Instantiate(48000)
	out := stage.Process(sine(440, 48000, 4800, 0.5))
	// 1.25x speed consumes more input per output frame
	assert.Less(t, len(out), 4800*2)
	assert.Greater(t, len(out), 3000*2)
}

func TestRotatorSweepsPanAcrossChannels(t *testing.T) {
	r := NewRotator(48000, 1, 1)

	in := make([]int16, 13000*2)
	for i := range in {
		in[i] = 20000
	}
	out := r.Process(in)
	require.Len(t, out, 13000*2)

	// phase 0: centered, both channels halved
	assert.InDelta(t, 10000, out[0], 200)
	assert.InDelta(t, 10000, out[1], 200)
	// a quarter period later (12000 frames at 1 Hz): fully panned right
	assert.InDelta(t, 0, out[12000*2], 200)
	assert.InDelta(t, 20000, out[12000*2+1], 200)
}

func TestEightDPresetRegistered(t *testing.T) {
	p, ok := LookupPreset("8D") // lookup is case-insensitive
	require.True(t, ok)
	assert.Equal(t, 0.0, p.Tempo)

	stage := p.Instantiate(48000)
	out := stage.Process(make([]int16, 960*2))
	assert.Len(t, out, 960*2)
	assert.Equal(t, 1.0, DurationMultiplier([]string{"8d"}))
}

func TestSeekerDropsUpToOffset(t *testing.T) {
	s := NewSeeker(48000, 100*time.Millisecond) // 4800 frames

	first := s.Process(make([]int16, 4000*2))
	assert.Empty(t, first)
	assert.False(t, s.Done())

	second := s.Process(make([]int16, 2000*2))
	assert.Len(t, second, 1200*2)
	assert.True(t, s.Done())

	third := s.Process(make([]int16, 960*2))
	assert.Len(t, third, 960*2)
}

func TestSeekerZeroOffsetPassesThrough(t *testing.T) {
	s := NewSeeker(48000, 0)
	assert.True(t, s.Done())
	out := s.Process(make([]int16, 960*2))
	assert.Len(t, out, 960*2)
}

func TestResamplerPreservesDurationRatioAcrossBlocks(t *testing.T) {
	r := NewResampler(48000, 38400) // 1.25x
	total := 0
	for i := 0; i < 50; i++ {
		out := r.Process(sine(440, 48000, 960, 0.5))
		total += len(out) / 2
	}
	// 48000 input frames at 1.25x should yield about 38400
	assert.InDelta(t, 38400, total, 64)
}

func TestResamplerUnityIsPassthrough(t *testing.T) {
	r := NewResampler(48000, 48000)
	in := sine(440, 48000, 960, 0.5)
	out := r.Process(in)
	assert.Equal(t, in, out)
}
