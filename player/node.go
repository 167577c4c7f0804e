package player

import (
	"context"
	"sync"
	"time"

	"github.com/leeineian/hibiki/player/dsp"
	"github.com/leeineian/hibiki/sys"
)

// State is the playback engine's coarse phase.
type State int

const (
	StateIdle State = iota
	StateResolving
	StatePlaying
	StateAutoplayResolving
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StateAutoplayResolving:
		return "autoplayResolving"
	}
	return "idle"
}

// PlayOptions tune one Play invocation.
type PlayOptions struct {
	// Enqueue appends instead of playing when something is already
	// audible, so AddTrack-while-playing degrades to a normal enqueue.
	Enqueue bool
	// Seek starts decoding from this offset.
	Seek time.Duration
	// Transition marks a filter-change replay: start/finish side
	// effects for the swapped resource are suppressed.
	Transition bool
}

// Node is the per-guild playback state machine: it resolves the next
// track, extracts its stream, applies the filter graph, dispatches to
// the output sink and reacts to completion to decide what plays next.
type Node struct {
	q          *Queue
	serializer *Serializer

	mu       sync.Mutex
	state    State
	resource Resource
	paused   bool
	// progress carries accumulated playback time across seeks and
	// filter replays.
	progress time.Duration
	endTimer *time.Timer
	// stopRequested marks the in-flight completion as user-initiated so
	// it arms the stop cooldown instead of the end cooldown.
	stopRequested bool
}

func newNode(q *Queue) *Node {
	return &Node{q: q, serializer: NewSerializer()}
}

// State reports the engine phase.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Serializer exposes the node's transition lock for advanced callers.
func (n *Node) Serializer() *Serializer { return n.serializer }

// cancel aborts outstanding serializer tickets and stops pending
// timers. Called on queue deletion.
func (n *Node) cancel() {
	n.serializer.CancelAll()
	n.mu.Lock()
	if n.endTimer != nil {
		n.endTimer.Stop()
		n.endTimer = nil
	}
	res := n.resource
	n.resource = nil
	n.state = StateIdle
	n.mu.Unlock()
	if res != nil {
		res.Stop()
	}
}

// cancelEndTimer stops a pending idle-disconnect, if armed.
func (n *Node) cancelEndTimer() {
	n.mu.Lock()
	if n.endTimer != nil {
		n.endTimer.Stop()
		n.endTimer = nil
	}
	n.stopRequested = false
	n.mu.Unlock()
}

// ===========================
// Public playback surface
// ===========================

// Play starts playback of the given track, or of the next queued track
// when track is nil. Playback transitions on one queue never
// interleave: the call takes a serializer ticket before entering the
// critical section.
func (n *Node) Play(ctx context.Context, track *Track, opts PlayOptions) error {
	t := n.serializer.Acquire()
	defer t.Release()
	if err := t.Wait(ctx); err != nil {
		return err
	}
	if n.q.Deleted() {
		return ErrQueueDeleted
	}
	return n.play(ctx, track, opts)
}

// Skip force-stops the current resource, which drives the completion
// handler and whatever the repeat mode schedules next.
func (n *Node) Skip() bool {
	n.mu.Lock()
	res := n.resource
	n.mu.Unlock()
	if res == nil {
		return false
	}
	n.q.emit(Event{Type: EventPlayerSkip, Track: res.Track()})
	res.Stop()
	return true
}

// Pause gates the output sink without tearing down the resource.
func (n *Node) Pause(paused bool) {
	n.mu.Lock()
	n.paused = paused
	n.mu.Unlock()
	if sink := n.q.Sink(); sink != nil {
		sink.Pause(paused)
	}
}

// Paused reports the pause gate.
func (n *Node) Paused() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.paused
}

// Stop halts playback and clears the pending queue, then schedules the
// stop-cooldown disconnect.
func (n *Node) Stop() {
	n.q.Clear()
	n.q.SetRepeatMode(RepeatOff)
	n.mu.Lock()
	res := n.resource
	n.stopRequested = res != nil
	n.mu.Unlock()
	if res != nil {
		// the completion handler arms the stop cooldown
		res.Stop()
		return
	}
	n.armDisconnectTimer(n.q.player.opts.LeaveOnStopCooldown, false)
}

// Seek replays the current track from the given offset.
func (n *Node) Seek(ctx context.Context, offset time.Duration) error {
	current := n.q.Current()
	if current == nil {
		return ErrNoResult
	}
	if offset < 0 || (current.DurationTime() > 0 && offset >= current.DurationTime()) {
		return ErrOutOfRange
	}
	n.q.emit(Event{Type: EventSeek, Track: current, Data: offset})
	return n.TriggerReplay(ctx, offset)
}

// TriggerReplay restarts the current track in transition mode at the
// given offset, preserving audible continuity. Used by filter changes
// and seeks. The serializer ticket makes it safe against a concurrent
// user-initiated skip.
func (n *Node) TriggerReplay(ctx context.Context, seek time.Duration) error {
	t := n.serializer.Acquire()
	defer t.Release()
	if err := t.Wait(ctx); err != nil {
		return err
	}
	if n.q.Deleted() {
		return ErrQueueDeleted
	}
	current := n.q.Current()
	if current == nil {
		return ErrNoResult
	}
	return n.play(ctx, current, PlayOptions{Seek: seek, Transition: true})
}

// replayIfPlaying restarts the current resource at its present
// position so a filter cache change becomes audible. A no-op when idle.
func (n *Node) replayIfPlaying(ctx context.Context) error {
	n.mu.Lock()
	playing := n.resource != nil
	n.mu.Unlock()
	if !playing {
		return nil
	}
	return n.TriggerReplay(ctx, n.Position())
}

// ===========================
// Progress estimation
// ===========================

// speedMultiplier combines the tempo effect of active presets
// (additive across tempo-affecting presets) with any sample-rate
// resampling ratio.
func (n *Node) speedMultiplier() float64 {
	m := dsp.DurationMultiplier(n.q.Presets())
	q := n.q
	q.mu.Lock()
	rate := q.filters.SampleRate
	q.mu.Unlock()
	if rate > 0 && rate != 48000 {
		m *= 48000 / float64(rate)
	}
	return m
}

// Position estimates the current media position: carried progress plus
// the sink's reported stream time, scaled by the speed multiplier so
// tempo-shifting filters do not skew the reading.
func (n *Node) Position() time.Duration {
	n.mu.Lock()
	carried := n.progress
	n.mu.Unlock()
	elapsed := time.Duration(0)
	if sink := n.q.Sink(); sink != nil {
		elapsed = sink.StreamTime()
	}
	return carried + time.Duration(float64(elapsed)*n.speedMultiplier())
}

// EffectiveDuration reports how long the current track will be audible
// in wall-clock time under the active tempo filters.
func (n *Node) EffectiveDuration() time.Duration {
	current := n.q.Current()
	if current == nil {
		return 0
	}
	m := n.speedMultiplier()
	if m == 0 {
		m = 1
	}
	return time.Duration(float64(current.DurationTime()) / m)
}

// ===========================
// Core state machine
// ===========================

// play is the single playback transition. Callers hold a serializer
// ticket. Errors are logged and returned; the only automatic retry is
// the skip-and-advance when no stream could be extracted.
func (n *Node) play(ctx context.Context, track *Track, opts PlayOptions) error {
	if n.q.Sink() == nil {
		return ErrNoVoiceConnection
	}
	n.cancelEndTimer()

	// 1. no explicit track: dequeue, respecting dynamic shuffle
	if track == nil {
		track = n.q.dequeue()
		if track == nil {
			return ErrNoResult
		}
	} else if opts.Enqueue {
		// 2. degrade to normal enqueue while something is audible
		n.mu.Lock()
		busy := n.resource != nil
		n.mu.Unlock()
		if busy {
			return n.q.AddTrack(track)
		}
	}

	n.setState(StateResolving)

	// 3-4. resolve the byte stream unless one is already bound
	var es *ExtractedStream
	if track.Resource == nil {
		var err error
		es, err = n.resolveStream(ctx, track)
		if err != nil {
			sys.LogPlayer("guild %s: no stream for %q: %v", n.q.GuildID, track.Title, err)
			n.q.emit(Event{Type: EventPlayerSkip, Track: track, Data: "no stream"})
			n.q.emit(Event{Type: EventPlayerError, Track: track, Err: err})
			if next := n.q.dequeue(); next != nil {
				return n.play(ctx, next, PlayOptions{})
			}
			n.handleCompletion(track)
			return nil
		}
	}

	// 5. record the seek offset into the carried progress counter
	n.mu.Lock()
	if opts.Seek > 0 {
		n.progress = opts.Seek
	} else if !opts.Transition {
		n.progress = 0
	}
	n.mu.Unlock()

	// 7. let the old resource drain before swapping, avoids a pop
	if opts.Transition {
		select {
		case <-time.After(n.q.player.opts.BufferingTimeout):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// 8. "will play" suspension hook with a mutable stream config
	cfg := n.q.streamConfig(opts.Seek, opts.Transition)
	n.q.emit(Event{Type: EventWillPlay, Track: track, Data: cfg})
	if hook := n.q.player.hooks.WillPlayTrack; hook != nil {
		released := make(chan struct{})
		hook(n.q, track, cfg, func() { close(released) })
		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n.q.Deleted() {
		es.Close()
		return ErrQueueDeleted
	}

	// 9. construct and dispatch the resource
	sink := n.q.Sink()
	if sink == nil {
		es.Close()
		return ErrNoVoiceConnection
	}

	n.setTransitioning(opts.Transition)

	var resource Resource
	if track.Resource != nil {
		resource = track.Resource
	} else {
		var err error
		resource, err = sink.CreateStream(ctx, es, track, cfg)
		if err != nil {
			es.Close()
			n.setTransitioning(false)
			return err
		}
	}

	n.mu.Lock()
	old := n.resource
	n.resource = resource
	n.state = StatePlaying
	n.mu.Unlock()

	n.q.mu.Lock()
	n.q.current = track
	n.q.mu.Unlock()

	if old != nil && opts.Transition {
		old.Stop()
	}

	if err := sink.PlayStream(ctx, resource); err != nil {
		n.setTransitioning(false)
		return err
	}
	return nil
}

// resolveStream runs the hook and extractor chain for a track.
func (n *Node) resolveStream(ctx context.Context, track *Track) (*ExtractedStream, error) {
	qt := track.QueryType
	if qt == "" {
		qt = InferQueryType(track.URL)
		track.QueryType = qt
	}

	if hook := n.q.player.hooks.OnBeforeCreateStream; hook != nil {
		es, err := hook(ctx, track, qt, n.q)
		if err == nil && es != nil {
			return n.postProcessStream(ctx, es, track)
		}
	}

	session := newExtractionSession()
	es, err := n.q.player.registry.stream(ctx, session, track)
	if err != nil {
		return nil, err
	}
	return n.postProcessStream(ctx, es, track)
}

func (n *Node) postProcessStream(ctx context.Context, es *ExtractedStream, track *Track) (*ExtractedStream, error) {
	if hook := n.q.player.hooks.OnAfterCreateStream; hook != nil {
		if out, err := hook(ctx, es, n.q, track); err == nil && out != nil {
			es = out
		}
	}
	if hook := n.q.player.hooks.OnStreamExtracted; hook != nil {
		if out, err := hook(ctx, es, track, n.q); err == nil && out != nil {
			es = out
		}
	}
	return es, nil
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

func (n *Node) setTransitioning(v bool) {
	n.q.mu.Lock()
	n.q.transitioning = v
	n.q.mu.Unlock()
}

func (n *Node) transitioning() bool {
	n.q.mu.Lock()
	defer n.q.mu.Unlock()
	return n.q.transitioning
}

// ===========================
// Sink callbacks
// ===========================

func (n *Node) onSinkStart(r Resource) {
	if n.transitioning() {
		// a replay swap, not a new track
		n.setTransitioning(false)
		return
	}
	n.q.emit(Event{Type: EventPlayerStart, Track: r.Track()})
}

func (n *Node) onSinkError(r Resource, err error) {
	if IsBenignClose(err) {
		return
	}
	n.q.emit(Event{Type: EventPlayerError, Track: r.Track(), Err: err})
}

// onSinkFinish reacts to a resource ending. In transition mode the
// finish belongs to the swapped-out resource and is ignored.
func (n *Node) onSinkFinish(r Resource) {
	if n.transitioning() {
		return
	}
	n.mu.Lock()
	if n.resource != r {
		// stale finish from an already-replaced resource
		n.mu.Unlock()
		return
	}
	n.resource = nil
	n.mu.Unlock()

	n.handleCompletion(r.Track())
}

// handleCompletion decides what plays next after a natural finish.
func (n *Node) handleCompletion(finished *Track) {
	q := n.q

	q.history.Push(finished)
	n.mu.Lock()
	n.progress = 0
	n.mu.Unlock()
	q.mu.Lock()
	q.current = nil
	q.mu.Unlock()

	q.emit(Event{Type: EventPlayerFinish, Track: finished})
	if q.Deleted() {
		return
	}

	ctx := context.Background()
	mode := q.RepeatMode()

	switch {
	case mode == RepeatTrack:
		// replay by identity without consuming the queue
		if top := q.history.Peek(); top != nil && top.ID == finished.ID {
			q.history.Pop()
		}
		n.advance(ctx, finished)
		return

	case mode == RepeatQueue:
		// finished track rejoins the end opposite the dequeue strategy,
		// so it plays again only after the rest of the cycle
		if top := q.history.Peek(); top != nil && top.ID == finished.ID {
			q.history.Pop()
		}
		readd := q.AddTrack
		if q.DequeueStrategy() == DequeueLIFO {
			readd = q.Prepend
		}
		if err := readd(finished); err != nil {
			sys.LogPlayer("guild %s: repeat-queue re-add failed: %v", q.GuildID, err)
		}
	}

	if q.Size() == 0 {
		if mode == RepeatAutoplay {
			n.autoplay(ctx, finished)
			return
		}
		n.setState(StateIdle)
		q.emit(Event{Type: EventEmptyQueue})
		n.mu.Lock()
		stopped := n.stopRequested
		n.stopRequested = false
		n.mu.Unlock()
		if stopped {
			n.armDisconnectTimer(q.player.opts.LeaveOnStopCooldown, false)
		} else {
			n.armEndTimer()
		}
		return
	}

	n.advance(ctx, nil)
}

// advance plays the next track on its own goroutine so sink callbacks
// never block on extraction.
func (n *Node) advance(ctx context.Context, track *Track) {
	go func() {
		defer recoverPanic("playback advance")
		if err := n.Play(ctx, track, PlayOptions{}); err != nil {
			sys.LogPlayer("guild %s: advance failed: %v", n.q.GuildID, err)
		}
	}()
}

// armEndTimer schedules the natural end-of-queue disconnect; it
// self-cancels when playback resumes before expiry.
func (n *Node) armEndTimer() {
	n.armDisconnectTimer(n.q.player.opts.LeaveOnEndCooldown, false)
}

// ScheduleEmptyDisconnect arms the empty-channel cooldown. Unlike the
// end/stop timers, it fires even while a paused resource is still
// bound. A new play or CancelDisconnect cancels it.
func (n *Node) ScheduleEmptyDisconnect() {
	n.armDisconnectTimer(n.q.player.opts.LeaveOnEmptyCooldown, true)
}

// CancelDisconnect stops any pending delayed disconnect.
func (n *Node) CancelDisconnect() {
	n.cancelEndTimer()
}

// armDisconnectTimer schedules a delayed disconnect after cooldown.
// firesWhilePlaying lets the empty-channel cooldown disconnect while a
// paused resource is still bound; the end and stop cooldowns bail when
// playback resumed before expiry.
func (n *Node) armDisconnectTimer(cooldown time.Duration, firesWhilePlaying bool) {
	n.mu.Lock()
	if n.endTimer != nil {
		n.endTimer.Stop()
	}
	n.endTimer = time.AfterFunc(cooldown, func() {
		n.mu.Lock()
		stillPlaying := n.resource != nil && !firesWhilePlaying
		n.mu.Unlock()
		if stillPlaying || n.q.Deleted() {
			return
		}
		if err := n.q.Disconnect(context.Background()); err != nil {
			sys.LogPlayer("guild %s: idle disconnect failed: %v", n.q.GuildID, err)
		}
	})
	n.mu.Unlock()
}

// ===========================
// Autoplay
// ===========================

// autoplay asks extractors for tracks related to the finished one and
// schedules the selected candidate.
func (n *Node) autoplay(ctx context.Context, finished *Track) {
	n.setState(StateAutoplayResolving)

	go func() {
		defer recoverPanic("autoplay")
		candidates := n.q.player.registry.related(ctx, finished)
		if len(candidates) == 0 {
			n.setState(StateIdle)
			n.q.emit(Event{Type: EventEmptyQueue})
			n.armEndTimer()
			return
		}

		selected := n.selectAutoplay(candidates)
		if selected == nil {
			n.setState(StateIdle)
			n.q.emit(Event{Type: EventEmptyQueue})
			n.armEndTimer()
			return
		}
		if err := n.Play(ctx, selected, PlayOptions{}); err != nil {
			sys.LogPlayer("guild %s: autoplay failed: %v", n.q.GuildID, err)
		}
	}()
}

// selectAutoplay runs the "will autoplay" suspension hook, falling back
// to the default policy: first candidate not already in history, else a
// random pick among the first five.
func (n *Node) selectAutoplay(candidates []*Track) *Track {
	n.q.emit(Event{Type: EventWillAutoPlay, Tracks: candidates})
	if hook := n.q.player.hooks.WillAutoPlay; hook != nil {
		ch := make(chan *Track, 1)
		hook(n.q, candidates, func(selected *Track) { ch <- selected })
		return <-ch
	}
	for _, c := range candidates {
		if !n.q.history.Contains(c) {
			return c
		}
	}
	limit := len(candidates)
	if limit > 5 {
		limit = 5
	}
	n.q.mu.Lock()
	pick := n.q.rng.Intn(limit)
	n.q.mu.Unlock()
	return candidates[pick]
}

// ===========================
// Navigation
// ===========================

// Jump plays the track at the given pending position immediately,
// force-stopping the current resource.
func (n *Node) Jump(pos int) error {
	t, err := n.q.RemoveTrack(pos)
	if err != nil {
		return err
	}
	if err := n.q.Prepend(t); err != nil {
		return err
	}
	if !n.Skip() {
		n.advance(context.Background(), nil)
	}
	return nil
}

// SkipTo drops everything before the given position, then jumps to it.
func (n *Node) SkipTo(pos int) error {
	q := n.q
	q.mu.Lock()
	if pos < 0 || pos >= len(q.tracks) {
		q.mu.Unlock()
		return ErrOutOfRange
	}
	q.tracks = q.tracks[pos:]
	q.mu.Unlock()
	if !n.Skip() {
		n.advance(context.Background(), nil)
	}
	return nil
}

// Move relocates a pending track.
func (n *Node) Move(from, to int) error {
	q := n.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if from < 0 || from >= len(q.tracks) || to < 0 || to >= len(q.tracks) {
		return ErrOutOfRange
	}
	t := q.tracks[from]
	q.tracks = append(q.tracks[:from], q.tracks[from+1:]...)
	q.tracks = append(q.tracks[:to], append([]*Track{t}, q.tracks[to:]...)...)
	return nil
}

// Copy duplicates a pending track to another position.
func (n *Node) Copy(from, to int) error {
	q := n.q
	q.mu.Lock()
	if from < 0 || from >= len(q.tracks) || to < 0 || to > len(q.tracks) {
		q.mu.Unlock()
		return ErrOutOfRange
	}
	if err := q.checkCapacity(1); err != nil {
		q.mu.Unlock()
		return err
	}
	dup := *q.tracks[from]
	q.tracks = append(q.tracks[:to], append([]*Track{&dup}, q.tracks[to:]...)...)
	q.mu.Unlock()
	return nil
}

// Swap exchanges two pending tracks.
func (n *Node) Swap(a, b int) error {
	q := n.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if a < 0 || a >= len(q.tracks) || b < 0 || b >= len(q.tracks) {
		return ErrOutOfRange
	}
	q.tracks[a], q.tracks[b] = q.tracks[b], q.tracks[a]
	return nil
}

// Previous pops the most recent history entry and plays it without
// consuming the pending queue. When preserveCurrent is set, the
// interrupted track goes back onto history at position 0.
func (n *Node) Previous(ctx context.Context, preserveCurrent bool) error {
	prev := n.q.history.Pop()
	if prev == nil {
		return ErrNoResult
	}
	if preserveCurrent {
		if current := n.q.Current(); current != nil {
			n.q.history.InsertAt(0, current)
		}
	}
	return n.Play(ctx, prev, PlayOptions{})
}

func recoverPanic(where string) {
	if r := recover(); r != nil {
		sys.LogError("panic in %s: %v", where, r)
	}
}
