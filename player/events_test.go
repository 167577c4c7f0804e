package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDispatch(t *testing.T) {
	bus := NewEventBus()

	var got []EventType
	bus.Subscribe(func(ev Event) { got = append(got, ev.Type) })
	bus.Subscribe(func(ev Event) { got = append(got, ev.Type) })

	assert.True(t, bus.Emit(Event{Type: EventTrackAdd}))
	assert.Equal(t, []EventType{EventTrackAdd, EventTrackAdd}, got)
}

func TestEventBusClosedDropsSilently(t *testing.T) {
	bus := NewEventBus()

	fired := 0
	bus.Subscribe(func(Event) { fired++ })

	bus.Close()
	assert.True(t, bus.Closed())
	assert.False(t, bus.Emit(Event{Type: EventTrackAdd}))
	assert.Equal(t, 0, fired)

	// handlers stay registered across a reopen
	bus.Reopen()
	assert.True(t, bus.Emit(Event{Type: EventTrackAdd}))
	assert.Equal(t, 1, fired)
}
