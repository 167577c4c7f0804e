package dsp

import "time"

// Seeker discards decoded audio up to a target offset. It is the
// fallback seek path for sources whose container cannot seek natively:
// decoding restarts from zero and this stage swallows everything before
// the requested position.
type Seeker struct {
	target    time.Duration
	remaining int // samples still to drop, interleaved count
	done      bool
}

func NewSeeker(sampleRate float64, offset time.Duration) *Seeker {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if offset < 0 {
		offset = 0
	}
	frames := int(offset.Seconds() * sampleRate)
	return &Seeker{target: offset, remaining: frames * 2, done: frames == 0}
}

func (s *Seeker) Name() string { return "seeker" }

// Target reports the offset this seeker was built to reach.
func (s *Seeker) Target() time.Duration { return s.target }

// Done reports whether the target offset has been reached.
func (s *Seeker) Done() bool { return s.done }

func (s *Seeker) Process(samples []int16) []int16 {
	if s.done {
		return samples
	}
	if len(samples) <= s.remaining {
		s.remaining -= len(samples)
		s.done = s.remaining == 0
		return samples[:0]
	}
	samples = samples[s.remaining:]
	s.remaining = 0
	s.done = true
	return samples
}
