package dsp

import "sync"

// Filter is one stage of the PCM processing chain. Stages operate on
// interleaved stereo s16 samples and may change the sample count
// (the resampler does).
type Filter interface {
	Name() string
	Process(samples []int16) []int16
}

// Chain is an ordered set of filter stages. Stages are replaced whole
// on parameter change, never mutated in place, so a snapshot taken
// under the read lock stays consistent for the duration of a block.
type Chain struct {
	mu       sync.RWMutex
	stages   []Filter
	onChange func(name string)
}

func NewChain(stages ...Filter) *Chain {
	return &Chain{stages: stages}
}

// SetOnChange installs a notification callback invoked with the stage
// name whenever a stage is enabled, replaced or disabled.
func (c *Chain) SetOnChange(fn func(name string)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Enable adds the stage, replacing any existing stage with the same name.
func (c *Chain) Enable(f Filter) {
	c.mu.Lock()
	replaced := false
	for i, s := range c.stages {
		if s.Name() == f.Name() {
			c.stages[i] = f
			replaced = true
			break
		}
	}
	if !replaced {
		c.stages = append(c.stages, f)
	}
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(f.Name())
	}
}

// Disable removes the named stage. Reports whether it was present.
func (c *Chain) Disable(name string) bool {
	c.mu.Lock()
	found := false
	for i, s := range c.stages {
		if s.Name() == name {
			c.stages = append(c.stages[:i], c.stages[i+1:]...)
			found = true
			break
		}
	}
	fn := c.onChange
	c.mu.Unlock()
	if found && fn != nil {
		fn(name)
	}
	return found
}

// Get returns the named stage, or nil.
func (c *Chain) Get(name string) Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.stages {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Names lists the enabled stage names in processing order.
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Len reports the number of enabled stages.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stages)
}

// Process runs one PCM block through every enabled stage in order.
func (c *Chain) Process(samples []int16) []int16 {
	c.mu.RLock()
	stages := c.stages
	c.mu.RUnlock()
	for _, s := range stages {
		samples = s.Process(samples)
	}
	return samples
}

// SpeedRatio reports the combined playback speed multiplier of all
// enabled stages. Preset stages declare a tempo multiplier; when more
// than one tempo-affecting preset is active their multipliers add
// together rather than multiplying. Standalone resampler stages
// contribute their rate ratio multiplicatively on top.
func (c *Chain) SpeedRatio() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tempoSum := 0.0
	hasTempo := false
	ratio := 1.0
	for _, s := range c.stages {
		if t, ok := s.(interface{ Tempo() float64 }); ok {
			if m := t.Tempo(); m != 0 {
				tempoSum += m
				hasTempo = true
			}
			continue
		}
		if r, ok := s.(interface{ Ratio() float64 }); ok {
			ratio *= r.Ratio()
		}
	}
	if hasTempo {
		ratio *= tempoSum
	}
	return ratio
}
