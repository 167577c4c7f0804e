package player

import "sync"

// EventType names an event on a queue's bus.
type EventType string

const (
	EventTrackAdd     EventType = "trackAdd"
	EventTracksAdd    EventType = "tracksAdd"
	EventTrackRemove  EventType = "trackRemove"
	EventPlayerStart  EventType = "playerStart"
	EventPlayerFinish EventType = "playerFinish"
	EventPlayerSkip   EventType = "playerSkip"
	EventPlayerError  EventType = "playerError"
	EventEmptyQueue   EventType = "emptyQueue"
	EventDisconnect   EventType = "disconnect"
	EventQueueDelete  EventType = "queueDelete"
	EventWillPlay     EventType = "willPlayTrack"
	EventWillAutoPlay EventType = "willAutoPlay"

	// Filter change notifications
	EventVolumeChange     EventType = "volumeChange"
	EventBiquadChange     EventType = "biquadChange"
	EventEqualizerChange  EventType = "equalizerChange"
	EventSampleRateChange EventType = "sampleRateChange"
	EventCompressorChange EventType = "compressorChange"
	EventReverbChange     EventType = "reverbChange"
	EventSeek             EventType = "seek"
	EventFiltersChange    EventType = "filtersChange"
)

// Event is one emission on the bus.
type Event struct {
	Type  EventType
	Queue *Queue
	Track *Track
	// Tracks is set for multi-track events (EventTracksAdd).
	Tracks []*Track
	Err    error
	// Data carries event-specific payloads (filter params and the like).
	Data any
}

// EventHandler receives emitted events. Handlers run synchronously on
// the emitting goroutine; long work belongs in the handler's own
// goroutine.
type EventHandler func(Event)

// EventBus dispatches queue events to subscribed handlers. Once closed,
// every Emit is a silent no-op returning false. The close check instead
// of handler teardown is what makes "queue deleted mid-operation" safe:
// in-flight continuations can emit blindly and the bus drops it.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
	closed   bool
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *EventBus) Subscribe(h EventHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Emit dispatches the event to every handler. Reports false without
// dispatching if the bus is closed.
func (b *EventBus) Emit(ev Event) bool {
	b.mu.RLock()
	closed := b.closed
	handlers := b.handlers
	b.mu.RUnlock()
	if closed {
		return false
	}
	for _, h := range handlers {
		h(ev)
	}
	return true
}

// Close turns all further emissions into no-ops. Handlers stay
// registered; they just never fire again.
func (b *EventBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Reopen reverses Close. Used by Queue.Revive.
func (b *EventBus) Reopen() {
	b.mu.Lock()
	b.closed = false
	b.mu.Unlock()
}

// Closed reports whether the bus drops emissions.
func (b *EventBus) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
