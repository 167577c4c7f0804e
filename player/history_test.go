package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryPushOrder(t *testing.T) {
	h := NewHistory(0)

	a, b, c := testTrack("a"), testTrack("b"), testTrack("c")
	assert.True(t, h.Push(a))
	assert.True(t, h.Push(b))
	assert.True(t, h.Push(c))

	// most recent first
	tracks := h.Tracks()
	require.Len(t, tracks, 3)
	assert.Same(t, c, tracks[0])
	assert.Same(t, b, tracks[1])
	assert.Same(t, a, tracks[2])
	assert.Same(t, c, h.Peek())
}

func TestHistoryCap(t *testing.T) {
	h := NewHistory(2)

	a, b, c := testTrack("a"), testTrack("b"), testTrack("c")
	h.Push(a)
	h.Push(b)
	h.Push(c)

	// oldest entry truncated from the tail
	tracks := h.Tracks()
	require.Len(t, tracks, 2)
	assert.Same(t, c, tracks[0])
	assert.Same(t, b, tracks[1])
}

func TestHistoryDisabled(t *testing.T) {
	h := NewHistory(10)
	h.Disable()

	assert.False(t, h.Push(testTrack("a")))
	assert.Equal(t, 0, h.Size())

	h.Enable()
	assert.True(t, h.Push(testTrack("b")))
	assert.Equal(t, 1, h.Size())
}

func TestHistoryPushNil(t *testing.T) {
	h := NewHistory(10)
	assert.False(t, h.Push(nil))
	assert.Equal(t, 0, h.Size())
}

func TestHistoryPop(t *testing.T) {
	h := NewHistory(0)
	a, b := testTrack("a"), testTrack("b")
	h.Push(a)
	h.Push(b)

	assert.Same(t, b, h.Pop())
	assert.Same(t, a, h.Pop())
	assert.Nil(t, h.Pop())
}

func TestHistoryInsertAt(t *testing.T) {
	h := NewHistory(0)
	a, b := testTrack("a"), testTrack("b")
	h.Push(a)
	h.Push(b)

	x := testTrack("x")
	h.InsertAt(0, x)
	tracks := h.Tracks()
	require.Len(t, tracks, 3)
	assert.Same(t, x, tracks[0])

	y := testTrack("y")
	h.InsertAt(99, y)
	assert.Same(t, y, h.Tracks()[3])
}

func TestHistoryContains(t *testing.T) {
	h := NewHistory(0)
	a := testTrack("a")
	h.Push(a)

	assert.True(t, h.Contains(a))

	// same URL counts as the same track
	dup := NewTrack("other title", "other artist", a.URL)
	assert.True(t, h.Contains(dup))

	assert.False(t, h.Contains(testTrack("b")))
	assert.False(t, h.Contains(nil))
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(0)
	h.Push(testTrack("a"))
	h.Clear()
	assert.Equal(t, 0, h.Size())
}
