package player

import "sync"

// History is a capped LIFO of previously played tracks. The most
// recently finished track sits at position 0.
type History struct {
	mu       sync.Mutex
	tracks   []*Track
	maxSize  int // <= 0 means unbounded
	disabled bool
}

func NewHistory(maxSize int) *History {
	return &History{maxSize: maxSize}
}

// Disable turns every Push into a no-op returning false.
func (h *History) Disable() {
	h.mu.Lock()
	h.disabled = true
	h.mu.Unlock()
}

// Enable reverses Disable.
func (h *History) Enable() {
	h.mu.Lock()
	h.disabled = false
	h.mu.Unlock()
}

// Push prepends the track, truncating from the tail on overflow.
// Reports false when the history is disabled or the track is nil.
func (h *History) Push(t *Track) bool {
	if t == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disabled {
		return false
	}
	h.tracks = append([]*Track{t}, h.tracks...)
	if h.maxSize > 0 && len(h.tracks) > h.maxSize {
		h.tracks = h.tracks[:h.maxSize]
	}
	return true
}

// Pop removes and returns the most recent entry, nil when empty.
func (h *History) Pop() *Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.tracks) == 0 {
		return nil
	}
	t := h.tracks[0]
	h.tracks = h.tracks[1:]
	return t
}

// Peek returns the most recent entry without removing it.
func (h *History) Peek() *Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.tracks) == 0 {
		return nil
	}
	return h.tracks[0]
}

// InsertAt puts the track back at its original position. Used when a
// "previous" navigation preserves the interrupted track.
func (h *History) InsertAt(i int, t *Track) {
	if t == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if i > len(h.tracks) {
		i = len(h.tracks)
	}
	h.tracks = append(h.tracks[:i], append([]*Track{t}, h.tracks[i:]...)...)
	if h.maxSize > 0 && len(h.tracks) > h.maxSize {
		h.tracks = h.tracks[:h.maxSize]
	}
}

// Contains reports whether a track with the same URL or id is present.
func (h *History) Contains(t *Track) bool {
	if t == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.tracks {
		if e.ID == t.ID || (e.URL != "" && e.URL == t.URL) {
			return true
		}
	}
	return false
}

// Size reports the number of stored tracks.
func (h *History) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tracks)
}

// Tracks returns a snapshot of the stored order, most recent first.
func (h *History) Tracks() []*Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Track, len(h.tracks))
	copy(out, h.tracks)
	return out
}

// Clear drops all stored tracks.
func (h *History) Clear() {
	h.mu.Lock()
	h.tracks = nil
	h.mu.Unlock()
}
