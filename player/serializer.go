package player

import (
	"context"
	"sync"
)

// Serializer grants FIFO tickets so that playback transitions on one
// queue never interleave. A caller acquires a ticket, waits its turn,
// runs its critical section, and releases. Release is idempotent so it
// can sit in a defer without double-release hazards.
type Serializer struct {
	mu      sync.Mutex
	pending []*Ticket
	active  *Ticket
}

// Ticket is one caller's place in line.
type Ticket struct {
	s        *Serializer
	ready    chan struct{}
	err      error
	released bool
}

func NewSerializer() *Serializer {
	return &Serializer{}
}

// Acquire takes a place in line. The ticket's turn begins once every
// previously acquired, unreleased ticket has released.
func (s *Serializer) Acquire() *Ticket {
	t := &Ticket{s: s, ready: make(chan struct{})}
	s.mu.Lock()
	if s.active == nil {
		s.active = t
		close(t.ready)
	} else {
		s.pending = append(s.pending, t)
	}
	s.mu.Unlock()
	return t
}

// Wait blocks until the ticket's turn arrives, the context is done, or
// the serializer is cancelled. On context cancellation the ticket is
// released so the line keeps moving.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.ready:
		t.s.mu.Lock()
		err := t.err
		t.s.mu.Unlock()
		return err
	case <-ctx.Done():
		t.Release()
		return ctx.Err()
	}
}

// Release hands the turn to the next ticket in line. Safe to call more
// than once and safe to call on a ticket that never reached its turn.
func (t *Ticket) Release() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.released {
		return
	}
	t.released = true

	if s.active == t {
		s.active = nil
		for len(s.pending) > 0 {
			next := s.pending[0]
			s.pending = s.pending[1:]
			if next.released {
				continue
			}
			s.active = next
			close(next.ready)
			break
		}
		return
	}

	// not yet active: drop out of the pending line
	for i, p := range s.pending {
		if p == t {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
}

// CancelAll rejects every outstanding ticket, waking waiters with
// ErrSerializerCancelled. Used on queue deletion.
func (s *Serializer) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.pending {
		if !t.released {
			t.released = true
			t.err = ErrSerializerCancelled
			close(t.ready)
		}
	}
	s.pending = nil
	if s.active != nil && !s.active.released {
		// the active ticket keeps running; its Release finds no one waiting
		s.active.released = true
	}
	s.active = nil
}

// Len reports the number of outstanding tickets including the active one.
func (s *Serializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	if s.active != nil {
		n++
	}
	return n
}
