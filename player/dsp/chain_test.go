package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainEnableReplacesByName(t *testing.T) {
	c := NewChain()
	c.Enable(NewVolume(50))
	c.Enable(NewVolume(120))

	require.Equal(t, 1, c.Len())
	v, ok := c.Get("volume").(*Volume)
	require.True(t, ok)
	assert.Equal(t, 120, v.Percent())
}

func TestChainDisable(t *testing.T) {
	c := NewChain(NewVolume(80))
	assert.True(t, c.Disable("volume"))
	assert.False(t, c.Disable("volume"))
	assert.Nil(t, c.Get("volume"))
	assert.Zero(t, c.Len())
}

type offsetFilter struct {
	name   string
	offset int16
}

func (f *offsetFilter) Name() string { return f.name }

func (f *offsetFilter) Process(samples []int16) []int16 {
	for i := range samples {
		samples[i] += f.offset
	}
	return samples
}

func TestChainProcessRunsStagesInOrder(t *testing.T) {
	c := NewChain(NewVolume(50), &offsetFilter{name: "offset", offset: 100})

	// halve first, then offset; order matters
	out := c.Process([]int16{10000, 10000})
	assert.Equal(t, []int16{5100, 5100}, out)
	assert.Equal(t, []string{"volume", "offset"}, c.Names())
}

func TestChainOnChangeFiresForEnableAndDisable(t *testing.T) {
	c := NewChain()
	var events []string
	c.SetOnChange(func(name string) { events = append(events, name) })

	c.Enable(NewVolume(90))
	c.Disable("volume")
	c.Disable("volume") // absent, no event

	assert.Equal(t, []string{"volume", "volume"}, events)
}

func TestChainSpeedRatioDefaultsToUnity(t *testing.T) {
	c := NewChain(NewVolume(100))
	assert.Equal(t, 1.0, c.SpeedRatio())
}

func TestChainSpeedRatioStandaloneResampler(t *testing.T) {
	c := NewChain(NewResampler(48000, 38400))
	assert.InDelta(t, 1.25, c.SpeedRatio(), 1e-9)
}

func TestChainSpeedRatioPresetTemposAddTogether(t *testing.T) {
	nightcore, ok := LookupPreset("nightcore")
	require.True(t, ok)
	vaporwave, ok := LookupPreset("vaporwave")
	require.True(t, ok)

	c := NewChain()
	c.Enable(nightcore.Instantiate(48000))
	assert.InDelta(t, 1.25, c.SpeedRatio(), 1e-9)

	c.Enable(vaporwave.Instantiate(48000))
	assert.InDelta(t, 1.25+0.8, c.SpeedRatio(), 1e-9)
}

func TestChainSpeedRatioIgnoresTempolessPresets(t *testing.T) {
	bass, ok := LookupPreset("bassboost")
	require.True(t, ok)

	c := NewChain()
	c.Enable(bass.Instantiate(48000))
	assert.Equal(t, 1.0, c.SpeedRatio())
}
