package player

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/player/dsp"
)

// RepeatMode controls what happens when a track finishes.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatTrack
	RepeatQueue
	RepeatAutoplay
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatTrack:
		return "track"
	case RepeatQueue:
		return "queue"
	case RepeatAutoplay:
		return "autoplay"
	}
	return "off"
}

// DequeueStrategy selects which end of the pending sequence dequeue
// consumes from.
type DequeueStrategy int

const (
	DequeueFIFO DequeueStrategy = iota
	DequeueLIFO
)

func (s DequeueStrategy) String() string {
	if s == DequeueLIFO {
		return "lifo"
	}
	return "fifo"
}

// filterCache is the last-applied DSP state, kept so a replay can
// reconstruct the chain exactly.
type filterCache struct {
	EqualizerGains []float64
	Biquad         *dsp.BiquadParams
	Presets        []string
	Volume         int
	SampleRate     int
	Compressor     *dsp.CompressorParams
	Reverb         *dsp.ReverbParams
}

// Queue is the per-guild container: the pending track sequence, the
// history, the current-track pointer, playback modes and the filter
// cache. It is the unit of identity (one per guild) and the
// event-emission boundary.
type Queue struct {
	GuildID snowflake.ID

	player  *Player
	history *History
	node    *Node

	mu             sync.Mutex
	tracks         []*Track
	current        *Track
	repeatMode     RepeatMode
	strategy       DequeueStrategy
	shuffled       bool
	dynamicShuffle bool
	transitioning  bool
	deleted        bool
	filters        filterCache
	sink           OutputSink
	channelID      snowflake.ID

	rng *rand.Rand
}

func newQueue(p *Player, guildID snowflake.ID) *Queue {
	q := &Queue{
		GuildID: guildID,
		player:  p,
		history: NewHistory(p.opts.MaxHistorySize),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if p.opts.DisableHistory {
		q.history.Disable()
	}
	q.filters.Volume = 100
	q.filters.SampleRate = p.opts.SampleRate
	q.node = newNode(q)
	return q
}

// Node returns the playback engine driving this queue.
func (q *Queue) Node() *Node { return q.node }

// History returns the played-track history.
func (q *Queue) History() *History { return q.history }

// emit dispatches an event on the shared bus unless the queue has been
// deleted, in which case it silently reports false.
func (q *Queue) emit(ev Event) bool {
	q.mu.Lock()
	deleted := q.deleted
	q.mu.Unlock()
	if deleted {
		return false
	}
	ev.Queue = q
	return q.player.bus.Emit(ev)
}

// Deleted reports whether the queue has been torn down.
func (q *Queue) Deleted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted
}

// ===========================
// Track sequence
// ===========================

// checkCapacity raises before any mutation that would overflow.
func (q *Queue) checkCapacity(adding int) error {
	max := q.player.opts.MaxSize
	if max <= 0 {
		return nil
	}
	if len(q.tracks)+adding > max {
		return &OutOfSpaceError{Target: "queue", Size: len(q.tracks), Capacity: max}
	}
	return nil
}

// AddTrack appends one track and emits a single-track add event.
func (q *Queue) AddTrack(t *Track) error {
	if t == nil {
		return ErrInvalidArg
	}
	q.mu.Lock()
	if err := q.checkCapacity(1); err != nil {
		q.mu.Unlock()
		return err
	}
	q.tracks = append(q.tracks, t)
	q.mu.Unlock()
	q.emit(Event{Type: EventTrackAdd, Track: t})
	return nil
}

// AddTracks appends several tracks atomically and emits one
// multi-track add event.
func (q *Queue) AddTracks(tracks []*Track) error {
	if len(tracks) == 0 {
		return nil
	}
	q.mu.Lock()
	if err := q.checkCapacity(len(tracks)); err != nil {
		q.mu.Unlock()
		return err
	}
	q.tracks = append(q.tracks, tracks...)
	q.mu.Unlock()
	q.emit(Event{Type: EventTracksAdd, Tracks: tracks})
	return nil
}

// InsertTrack places the track at the given position.
func (q *Queue) InsertTrack(t *Track, pos int) error {
	if t == nil {
		return ErrInvalidArg
	}
	q.mu.Lock()
	if err := q.checkCapacity(1); err != nil {
		q.mu.Unlock()
		return err
	}
	if pos < 0 || pos > len(q.tracks) {
		q.mu.Unlock()
		return ErrOutOfRange
	}
	q.tracks = append(q.tracks[:pos], append([]*Track{t}, q.tracks[pos:]...)...)
	q.mu.Unlock()
	q.emit(Event{Type: EventTrackAdd, Track: t})
	return nil
}

// Prepend places the track at the head of the pending sequence.
func (q *Queue) Prepend(t *Track) error {
	return q.InsertTrack(t, 0)
}

// RemoveTrack removes by position and returns the removed track.
func (q *Queue) RemoveTrack(pos int) (*Track, error) {
	q.mu.Lock()
	if pos < 0 || pos >= len(q.tracks) {
		q.mu.Unlock()
		return nil, ErrOutOfRange
	}
	t := q.tracks[pos]
	q.tracks = append(q.tracks[:pos], q.tracks[pos+1:]...)
	q.mu.Unlock()
	q.emit(Event{Type: EventTrackRemove, Track: t})
	return t, nil
}

// RemoveTrackBy removes the first track matching the predicate.
func (q *Queue) RemoveTrackBy(match func(*Track) bool) (*Track, error) {
	q.mu.Lock()
	for i, t := range q.tracks {
		if match(t) {
			q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
			q.mu.Unlock()
			q.emit(Event{Type: EventTrackRemove, Track: t})
			return t, nil
		}
	}
	q.mu.Unlock()
	return nil, ErrNoResult
}

// Tracks snapshots the pending sequence in stored order.
func (q *Queue) Tracks() []*Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// Size reports the number of pending tracks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Clear drops every pending track.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.tracks = nil
	q.mu.Unlock()
}

// Current returns the actively playing track, nil when idle.
func (q *Queue) Current() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// dequeue removes and returns the next track to play: the head under
// FIFO, the tail under LIFO. Dynamic shuffle picks a uniformly random
// element from the stored order instead of dequeuing positionally.
func (q *Queue) dequeue() *Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return nil
	}
	i := 0
	switch {
	case q.shuffled && q.dynamicShuffle:
		i = q.rng.Intn(len(q.tracks))
	case q.strategy == DequeueLIFO:
		i = len(q.tracks) - 1
	}
	t := q.tracks[i]
	q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
	return t
}

// ===========================
// Modes
// ===========================

// SetRepeatMode switches the completion branch taken when tracks end.
func (q *Queue) SetRepeatMode(m RepeatMode) {
	q.mu.Lock()
	q.repeatMode = m
	q.mu.Unlock()
}

// RepeatMode reports the active repeat mode.
func (q *Queue) RepeatMode() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeatMode
}

// SetDequeueStrategy switches which end of the pending sequence plays
// next. Repeat-queue re-adds land on the opposite end, so the finished
// track always plays last in the cycle.
func (q *Queue) SetDequeueStrategy(s DequeueStrategy) {
	q.mu.Lock()
	q.strategy = s
	q.mu.Unlock()
}

// DequeueStrategy reports the active dequeue strategy.
func (q *Queue) DequeueStrategy() DequeueStrategy {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.strategy
}

// EnableShuffle turns shuffling on. Dynamic shuffle randomizes lazily
// at dequeue time; immediate shuffle permutes the stored order once,
// destructively.
func (q *Queue) EnableShuffle(dynamic bool) {
	q.mu.Lock()
	q.shuffled = true
	q.dynamicShuffle = dynamic
	if !dynamic {
		q.rng.Shuffle(len(q.tracks), func(i, j int) {
			q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
		})
	}
	q.mu.Unlock()
}

// DisableShuffle turns shuffling off. An immediate shuffle already
// applied to the stored order is not undone.
func (q *Queue) DisableShuffle() {
	q.mu.Lock()
	q.shuffled = false
	q.mu.Unlock()
}

// ToggleShuffle flips dynamic shuffle and reports the new state.
func (q *Queue) ToggleShuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuffled = !q.shuffled
	q.dynamicShuffle = q.shuffled
	return q.shuffled
}

// Shuffled reports whether shuffle is active.
func (q *Queue) Shuffled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffled
}

// ===========================
// Connection lifecycle
// ===========================

// Connect acquires an output sink for the channel, tearing down any
// prior sink first.
func (q *Queue) Connect(ctx context.Context, channelID snowflake.ID) error {
	q.mu.Lock()
	prior := q.sink
	q.mu.Unlock()
	if prior != nil {
		_ = prior.Disconnect(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, q.player.opts.ConnectionTimeout)
	defer cancel()
	sink, err := q.player.sinks(ctx, q.GuildID, channelID)
	if err != nil {
		return err
	}
	sink.SetEvents(SinkEvents{
		OnStart:  q.node.onSinkStart,
		OnFinish: q.node.onSinkFinish,
		OnError:  q.node.onSinkError,
	})

	q.mu.Lock()
	q.sink = sink
	q.channelID = channelID
	q.mu.Unlock()
	return nil
}

// Sink returns the active output sink, nil when disconnected.
func (q *Queue) Sink() OutputSink {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sink
}

// ChannelID reports the connected voice channel, zero when disconnected.
func (q *Queue) ChannelID() snowflake.ID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.channelID
}

// Disconnect releases the sink and emits a disconnect event.
func (q *Queue) Disconnect(ctx context.Context) error {
	q.mu.Lock()
	sink := q.sink
	q.sink = nil
	q.channelID = 0
	q.mu.Unlock()
	if sink == nil {
		return nil
	}
	err := sink.Disconnect(ctx)
	q.emit(Event{Type: EventDisconnect})
	return err
}

// Delete tears the queue down: marks it deleted so all further event
// emissions silently drop, cancels every outstanding serializer ticket
// and detaches from the guild registry. In-flight extraction calls
// complete but their continuations see the deleted flag and stop.
func (q *Queue) Delete() {
	q.emit(Event{Type: EventQueueDelete})
	q.mu.Lock()
	if q.deleted {
		q.mu.Unlock()
		return
	}
	q.deleted = true
	q.mu.Unlock()

	q.node.cancel()
	q.player.queues.remove(q.GuildID, q)
}

// Revive reverses Delete when the guild slot is still free.
func (q *Queue) Revive() bool {
	q.mu.Lock()
	if !q.deleted {
		q.mu.Unlock()
		return true
	}
	q.mu.Unlock()

	if _, taken := q.player.queues.putIfAbsent(q.GuildID, q); taken {
		return false
	}
	q.mu.Lock()
	q.deleted = false
	q.mu.Unlock()
	return true
}

// ===========================
// Filter cache
// ===========================

// streamConfig snapshots the filter cache into a per-resource
// configuration.
func (q *Queue) streamConfig(seek time.Duration, transition bool) *StreamConfig {
	q.mu.Lock()
	defer q.mu.Unlock()
	cfg := &StreamConfig{
		SampleRate: q.filters.SampleRate,
		Channels:   2,
		Seek:       seek,
		Volume:     q.filters.Volume,
		Transition: transition,
	}
	cfg.Presets = append(cfg.Presets, q.filters.Presets...)
	cfg.EqualizerGains = append(cfg.EqualizerGains, q.filters.EqualizerGains...)
	if q.filters.Biquad != nil {
		b := *q.filters.Biquad
		cfg.Biquad = &b
	}
	if q.filters.Compressor != nil {
		c := *q.filters.Compressor
		cfg.Compressor = &c
	}
	if q.filters.Reverb != nil {
		r := *q.filters.Reverb
		cfg.Reverb = &r
	}
	return cfg
}

// SetVolume updates the cached volume and replays live playback with
// the new chain.
func (q *Queue) SetVolume(ctx context.Context, percent int) error {
	if percent < 0 || percent > 200 {
		return ErrOutOfRange
	}
	q.mu.Lock()
	q.filters.Volume = percent
	q.mu.Unlock()
	q.emit(Event{Type: EventVolumeChange, Data: percent})
	return q.node.replayIfPlaying(ctx)
}

// Volume reports the cached volume percent.
func (q *Queue) Volume() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.filters.Volume
}

// SetEqualizer updates the cached band gains. An empty slice disables
// the equalizer.
func (q *Queue) SetEqualizer(ctx context.Context, gainsDB []float64) error {
	if len(gainsDB) > dsp.EqualizerBands {
		return ErrOutOfRange
	}
	q.mu.Lock()
	q.filters.EqualizerGains = append([]float64(nil), gainsDB...)
	q.mu.Unlock()
	q.emit(Event{Type: EventEqualizerChange, Data: gainsDB})
	return q.node.replayIfPlaying(ctx)
}

// SetBiquad updates the cached biquad design. A nil params disables it.
func (q *Queue) SetBiquad(ctx context.Context, params *dsp.BiquadParams) error {
	q.mu.Lock()
	q.filters.Biquad = params
	q.mu.Unlock()
	q.emit(Event{Type: EventBiquadChange, Data: params})
	return q.node.replayIfPlaying(ctx)
}

// SetCompressor updates the cached compressor parameters.
func (q *Queue) SetCompressor(ctx context.Context, params *dsp.CompressorParams) error {
	q.mu.Lock()
	q.filters.Compressor = params
	q.mu.Unlock()
	q.emit(Event{Type: EventCompressorChange, Data: params})
	return q.node.replayIfPlaying(ctx)
}

// SetReverb updates the cached reverb parameters.
func (q *Queue) SetReverb(ctx context.Context, params *dsp.ReverbParams) error {
	q.mu.Lock()
	q.filters.Reverb = params
	q.mu.Unlock()
	q.emit(Event{Type: EventReverbChange, Data: params})
	return q.node.replayIfPlaying(ctx)
}

// SetSampleRate updates the decoded PCM rate for future resources.
func (q *Queue) SetSampleRate(ctx context.Context, rate int) error {
	if rate < 8000 || rate > 192000 {
		return ErrOutOfRange
	}
	q.mu.Lock()
	q.filters.SampleRate = rate
	q.mu.Unlock()
	q.emit(Event{Type: EventSampleRateChange, Data: rate})
	return q.node.replayIfPlaying(ctx)
}

// TogglePreset enables or disables a named filter preset, reporting
// whether it is now active.
func (q *Queue) TogglePreset(ctx context.Context, name string) (bool, error) {
	name = strings.ToLower(name)
	if _, ok := dsp.LookupPreset(name); !ok {
		return false, ErrInvalidArg
	}
	q.mu.Lock()
	active := false
	for i, p := range q.filters.Presets {
		if p == name {
			q.filters.Presets = append(q.filters.Presets[:i], q.filters.Presets[i+1:]...)
			active = true
			break
		}
	}
	if !active {
		q.filters.Presets = append(q.filters.Presets, name)
	}
	enabled := !active
	presets := append([]string(nil), q.filters.Presets...)
	q.mu.Unlock()

	q.emit(Event{Type: EventFiltersChange, Data: presets})
	return enabled, q.node.replayIfPlaying(ctx)
}

// Presets reports the active preset names.
func (q *Queue) Presets() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.filters.Presets...)
}
