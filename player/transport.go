package player

import (
	"context"
	"time"

	"github.com/leeineian/hibiki/player/dsp"
)

// StreamConfig is the mutable per-resource DSP configuration handed to
// the WillPlayTrack hook before the resource is constructed. External
// policy may adjust it; the output sink then builds from the final
// values.
type StreamConfig struct {
	SampleRate int
	Channels   int
	// Seek is the offset decoding starts from.
	Seek time.Duration
	// Volume in percent, 100 is unity.
	Volume int
	// Presets are named filter presets to enable, in order.
	Presets []string
	// EqualizerGains holds per-band dB gains, up to dsp.EqualizerBands.
	EqualizerGains []float64
	// Biquad, Compressor and Reverb are enabled when non-nil.
	Biquad     *dsp.BiquadParams
	Compressor *dsp.CompressorParams
	Reverb     *dsp.ReverbParams
	// Transition suppresses start/finish side effects for this resource.
	Transition bool
}

// BuildChain materializes the configuration into a filter chain. The
// decoded PCM entering the chain is always 48k; filters design against
// that rate, and a SampleRate other than 48000 becomes a trailing
// resampler stage (the sink keeps playing at 48k, so a lower target
// rate speeds playback up, same as the tempo presets).
func (c *StreamConfig) BuildChain() *dsp.Chain {
	const rate = 48000.0
	chain := dsp.NewChain()
	if c.Seek > 0 {
		chain.Enable(dsp.NewSeeker(rate, c.Seek))
	}
	if len(c.EqualizerGains) > 0 {
		chain.Enable(dsp.NewEqualizer(rate, c.EqualizerGains))
	}
	if c.Biquad != nil {
		p := *c.Biquad
		if p.SampleRate <= 0 {
			p.SampleRate = rate
		}
		chain.Enable(dsp.NewBiquad(p))
	}
	for _, name := range c.Presets {
		if preset, ok := dsp.LookupPreset(name); ok {
			chain.Enable(preset.Instantiate(rate))
		}
	}
	if c.Compressor != nil {
		p := *c.Compressor
		if p.SampleRate <= 0 {
			p.SampleRate = rate
		}
		chain.Enable(dsp.NewCompressor(p))
	}
	if c.Reverb != nil {
		p := *c.Reverb
		if p.SampleRate <= 0 {
			p.SampleRate = rate
		}
		chain.Enable(dsp.NewReverb(p))
	}
	if c.SampleRate > 0 && c.SampleRate != 48000 {
		chain.Enable(dsp.NewResampler(rate, float64(c.SampleRate)))
	}
	if c.Volume != 100 && c.Volume >= 0 {
		chain.Enable(dsp.NewVolume(c.Volume))
	}
	return chain
}

// Resource is one playable handle dispatched to the output sink.
type Resource interface {
	// Track returns the track this resource was built from.
	Track() *Track
	// Stop tears the resource down, triggering the sink's finish event.
	Stop()
}

// SinkEvents are the callbacks a sink raises back into the engine.
type SinkEvents struct {
	OnStart  func(Resource)
	OnFinish func(Resource)
	OnError  func(Resource, error)
}

// OutputSink is the voice-transport collaborator. One sink serves one
// guild's voice connection.
type OutputSink interface {
	// CreateStream builds a playable resource from an extracted source
	// and the resolved DSP configuration. The source may carry an open
	// reader or a direct URL.
	CreateStream(ctx context.Context, src *ExtractedStream, track *Track, cfg *StreamConfig) (Resource, error)
	// PlayStream dispatches the resource. It suspends until the
	// transport accepts playback, not until the resource finishes.
	PlayStream(ctx context.Context, r Resource) error
	// StreamTime reports how long the current resource has been
	// audible, excluding any carried seek offset.
	StreamTime() time.Duration
	// SetEvents installs the engine's completion callbacks.
	SetEvents(ev SinkEvents)
	// Pause gates frame production without tearing the resource down.
	Pause(paused bool)
	// Disconnect leaves the voice channel and releases the transport.
	Disconnect(ctx context.Context) error
}
