package player

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		BufferingTimeout:   10 * time.Millisecond,
		LeaveOnEndCooldown: 80 * time.Millisecond,
	}
}

// playbackFixture wires a player, a connected queue and one extractor
// that accepts everything.
func playbackFixture(t *testing.T, opts Options) (*Player, *Queue, *fakeSink, *fakeExtractor, *eventRecorder) {
	t.Helper()
	p, sink := newTestPlayer(opts)
	ex := &fakeExtractor{id: "src", priority: 10}
	p.Extractors().Register(ex)
	rec := recordEvents(p)
	q := p.Queue(testGuild)
	require.NoError(t, q.Connect(context.Background(), testChannel))
	return p, q, sink, ex, rec
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestPlayWithoutConnection(t *testing.T) {
	p, _ := newTestPlayer(fastOptions())
	q := p.Queue(testGuild)

	err := q.Node().Play(context.Background(), testTrack("a"), PlayOptions{})
	assert.ErrorIs(t, err, ErrNoVoiceConnection)
}

func TestPlayDequeuesAndStarts(t *testing.T) {
	_, q, sink, _, rec := playbackFixture(t, fastOptions())

	a := testTrack("a")
	require.NoError(t, q.AddTrack(a))
	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))

	assert.Same(t, a, q.Current())
	assert.Equal(t, StatePlaying, q.Node().State())
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, 1, sink.createdStreams())
	require.Equal(t, 1, rec.count(EventPlayerStart))
	assert.Same(t, a, rec.ofType(EventPlayerStart)[0].Track)
}

func TestPlayEmptyQueueNoResult(t *testing.T) {
	_, q, _, _, _ := playbackFixture(t, fastOptions())

	err := q.Node().Play(context.Background(), nil, PlayOptions{})
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestPlayEnqueueDegradesWhileBusy(t *testing.T) {
	_, q, sink, _, _ := playbackFixture(t, fastOptions())

	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, q.Node().Play(context.Background(), a, PlayOptions{}))
	require.NoError(t, q.Node().Play(context.Background(), b, PlayOptions{Enqueue: true}))

	assert.Same(t, a, q.Current())
	assert.Equal(t, []*Track{b}, q.Tracks())
	assert.Equal(t, 1, sink.createdStreams())
}

func TestFinishAdvancesToNext(t *testing.T) {
	_, q, sink, _, rec := playbackFixture(t, fastOptions())

	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, q.AddTrack(a))
	require.NoError(t, q.AddTrack(b))
	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))

	sink.finishCurrent()

	waitFor(t, func() bool { return q.Current() == b }, "next track not started")
	assert.Equal(t, 1, rec.count(EventPlayerFinish))
	assert.True(t, q.History().Contains(a))
	assert.Equal(t, 0, q.Size())
}

func TestFinishEmptyQueueGoesIdle(t *testing.T) {
	_, q, sink, _, rec := playbackFixture(t, fastOptions())

	require.NoError(t, q.Node().Play(context.Background(), testTrack("a"), PlayOptions{}))
	sink.finishCurrent()

	waitFor(t, func() bool { return q.Node().State() == StateIdle }, "engine not idle")
	assert.Equal(t, 1, rec.count(EventPlayerFinish))
	assert.Equal(t, 1, rec.count(EventEmptyQueue))
	assert.Nil(t, q.Current())

	// the idle cooldown expires and the sink disconnects
	waitFor(t, sink.isDisconnected, "idle disconnect never fired")
	assert.Equal(t, 1, rec.count(EventDisconnect))
}

func TestEndTimerSelfCancels(t *testing.T) {
	_, q, sink, _, _ := playbackFixture(t, fastOptions())

	require.NoError(t, q.Node().Play(context.Background(), testTrack("a"), PlayOptions{}))
	sink.finishCurrent()
	waitFor(t, func() bool { return q.Node().State() == StateIdle }, "engine not idle")

	// playback resumes before the cooldown expires
	require.NoError(t, q.Node().Play(context.Background(), testTrack("b"), PlayOptions{}))
	time.Sleep(200 * time.Millisecond)
	assert.False(t, sink.isDisconnected())
}

func TestRepeatTrackReplaysByIdentity(t *testing.T) {
	_, q, sink, _, rec := playbackFixture(t, fastOptions())
	q.SetRepeatMode(RepeatTrack)

	a := testTrack("a")
	require.NoError(t, q.Node().Play(context.Background(), a, PlayOptions{}))
	sink.finishCurrent()

	waitFor(t, func() bool { return sink.createdStreams() == 2 }, "track not replayed")
	waitFor(t, func() bool { return q.Current() == a }, "replay did not rebind current")

	// the pending queue was never consumed and history holds no copy
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, 0, q.History().Size())
	assert.Equal(t, 1, rec.count(EventPlayerFinish))
}

func TestRepeatQueueCycles(t *testing.T) {
	_, q, sink, _, _ := playbackFixture(t, fastOptions())
	q.SetRepeatMode(RepeatQueue)

	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, q.AddTrack(a))
	require.NoError(t, q.AddTrack(b))
	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))
	require.Same(t, a, q.Current())

	sink.finishCurrent()

	waitFor(t, func() bool { return q.Current() == b }, "next track not started")
	// the finished track rejoined the tail instead of entering history
	assert.Equal(t, []*Track{a}, q.Tracks())
	assert.Equal(t, 0, q.History().Size())
}

func TestRepeatQueueLIFOReaddsAtHead(t *testing.T) {
	_, q, sink, _, _ := playbackFixture(t, fastOptions())
	q.SetRepeatMode(RepeatQueue)
	q.SetDequeueStrategy(DequeueLIFO)

	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, q.AddTrack(a))
	require.NoError(t, q.AddTrack(b))
	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))
	// LIFO consumes the tail
	require.Same(t, b, q.Current())

	sink.finishCurrent()

	waitFor(t, func() bool { return q.Current() == a }, "next track not started")
	// the finished track rejoined the head, so it plays last in the cycle
	assert.Equal(t, []*Track{b}, q.Tracks())
	assert.Equal(t, 0, q.History().Size())
}

func TestSkipAdvances(t *testing.T) {
	_, q, _, _, rec := playbackFixture(t, fastOptions())

	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, q.AddTrack(a))
	require.NoError(t, q.AddTrack(b))
	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))

	assert.True(t, q.Node().Skip())

	waitFor(t, func() bool { return q.Current() == b }, "skip did not advance")
	assert.Equal(t, 1, rec.count(EventPlayerSkip))
	assert.True(t, q.History().Contains(a))
}

func TestSkipIdleReportsFalse(t *testing.T) {
	_, q, _, _, _ := playbackFixture(t, fastOptions())
	assert.False(t, q.Node().Skip())
}

func TestStopClearsQueueAndMode(t *testing.T) {
	_, q, _, _, _ := playbackFixture(t, fastOptions())
	q.SetRepeatMode(RepeatQueue)

	require.NoError(t, q.AddTrack(testTrack("a")))
	require.NoError(t, q.AddTrack(testTrack("b")))
	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))

	q.Node().Stop()

	waitFor(t, func() bool { return q.Node().State() == StateIdle }, "engine not idle after stop")
	assert.Equal(t, 0, q.Size())
	assert.Equal(t, RepeatOff, q.RepeatMode())
}

func TestStopArmsStopCooldown(t *testing.T) {
	opts := fastOptions()
	opts.LeaveOnEndCooldown = 10 * time.Second
	opts.LeaveOnStopCooldown = 60 * time.Millisecond
	_, q, sink, _, _ := playbackFixture(t, opts)

	require.NoError(t, q.Node().Play(context.Background(), testTrack("a"), PlayOptions{}))
	q.Node().Stop()

	// the stop cooldown fires long before the end cooldown would
	waitFor(t, sink.isDisconnected, "stop cooldown never disconnected")
}

func TestStopWhileIdleArmsStopCooldown(t *testing.T) {
	opts := fastOptions()
	opts.LeaveOnStopCooldown = 60 * time.Millisecond
	_, q, sink, _, _ := playbackFixture(t, opts)

	q.Node().Stop()

	waitFor(t, sink.isDisconnected, "stop cooldown never disconnected")
}

func TestEmptyDisconnectFiresWhilePaused(t *testing.T) {
	opts := fastOptions()
	opts.LeaveOnEmptyCooldown = 60 * time.Millisecond
	_, q, sink, _, _ := playbackFixture(t, opts)

	require.NoError(t, q.Node().Play(context.Background(), testTrack("a"), PlayOptions{}))
	q.Node().Pause(true)
	q.Node().ScheduleEmptyDisconnect()

	// fires even though a paused resource is still bound
	waitFor(t, sink.isDisconnected, "empty cooldown never disconnected")
}

func TestEmptyDisconnectCancelsOnReturn(t *testing.T) {
	opts := fastOptions()
	opts.LeaveOnEmptyCooldown = 60 * time.Millisecond
	_, q, sink, _, _ := playbackFixture(t, opts)

	require.NoError(t, q.Node().Play(context.Background(), testTrack("a"), PlayOptions{}))
	q.Node().Pause(true)
	q.Node().ScheduleEmptyDisconnect()

	q.Node().CancelDisconnect()
	q.Node().Pause(false)

	time.Sleep(150 * time.Millisecond)
	assert.False(t, sink.isDisconnected())
}

func TestPauseGatesSink(t *testing.T) {
	_, q, sink, _, _ := playbackFixture(t, fastOptions())

	q.Node().Pause(true)
	assert.True(t, q.Node().Paused())
	sink.mu.Lock()
	paused := sink.paused
	sink.mu.Unlock()
	assert.True(t, paused)

	q.Node().Pause(false)
	assert.False(t, q.Node().Paused())
}

func TestTransitionReplaySuppressesEvents(t *testing.T) {
	_, q, sink, _, rec := playbackFixture(t, fastOptions())

	a := testTrack("a")
	require.NoError(t, q.Node().Play(context.Background(), a, PlayOptions{}))
	require.Equal(t, 1, rec.count(EventPlayerStart))

	require.NoError(t, q.Node().TriggerReplay(context.Background(), 5*time.Second))

	// a fresh resource replaced the old one silently
	assert.Equal(t, 2, sink.createdStreams())
	assert.Equal(t, 1, rec.count(EventPlayerStart))
	assert.Equal(t, 0, rec.count(EventPlayerFinish))
	assert.Same(t, a, q.Current())
	assert.Equal(t, 5*time.Second, q.Node().Position())
}

func TestSeekBoundsAndReplay(t *testing.T) {
	_, q, _, _, rec := playbackFixture(t, fastOptions())
	node := q.Node()
	ctx := context.Background()

	assert.ErrorIs(t, node.Seek(ctx, 10*time.Second), ErrNoResult)

	a := testTrack("a") // 3:00
	require.NoError(t, node.Play(ctx, a, PlayOptions{}))

	assert.ErrorIs(t, node.Seek(ctx, -time.Second), ErrOutOfRange)
	assert.ErrorIs(t, node.Seek(ctx, 4*time.Minute), ErrOutOfRange)

	require.NoError(t, node.Seek(ctx, 30*time.Second))
	assert.Equal(t, 1, rec.count(EventSeek))
	assert.Equal(t, 30*time.Second, node.Position())
	// the seek replay swaps silently
	assert.Equal(t, 1, rec.count(EventPlayerStart))
}

func TestFilterChangeReplaysLivePlayback(t *testing.T) {
	_, q, sink, _, rec := playbackFixture(t, fastOptions())
	ctx := context.Background()

	require.NoError(t, q.Node().Play(ctx, testTrack("a"), PlayOptions{}))
	require.NoError(t, q.SetVolume(ctx, 50))

	assert.Equal(t, 2, sink.createdStreams())
	assert.Equal(t, 50, sink.lastCfg.Volume)
	assert.Equal(t, 1, rec.count(EventPlayerStart))
}

func TestEffectiveDurationUnderTempoPreset(t *testing.T) {
	_, q, _, _, _ := playbackFixture(t, fastOptions())
	ctx := context.Background()

	assert.Equal(t, time.Duration(0), q.Node().EffectiveDuration())

	require.NoError(t, q.Node().Play(ctx, testTrack("a"), PlayOptions{})) // 3:00
	assert.Equal(t, 3*time.Minute, q.Node().EffectiveDuration())

	_, err := q.TogglePreset(ctx, "nightcore")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(float64(3*time.Minute)/1.25), q.Node().EffectiveDuration())
}

func TestExtractionFailureSkipsToNext(t *testing.T) {
	p, sink := newTestPlayer(fastOptions())
	rec := recordEvents(p)

	broken := &fakeExtractor{id: "broken", priority: 10, streamErr: errors.New("unavailable")}
	picky := &fakeExtractor{
		id:       "picky",
		priority: 5,
		validate: func(query string, qt QueryType) bool { return !strings.Contains(query, "dead") },
	}
	p.Extractors().Register(broken)
	p.Extractors().Register(picky)

	q := p.Queue(testGuild)
	require.NoError(t, q.Connect(context.Background(), testChannel))

	bad := testTrack("dead-link")
	good := testTrack("alive")
	require.NoError(t, q.AddTrack(bad))
	require.NoError(t, q.AddTrack(good))

	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))

	// the unstreamable track was skipped with an error, the next one plays
	assert.Same(t, good, q.Current())
	assert.Equal(t, 1, sink.createdStreams())
	assert.Equal(t, 1, rec.count(EventPlayerSkip))
	assert.Equal(t, 1, rec.count(EventPlayerError))
	assert.Same(t, picky, good.Extractor.(*fakeExtractor))
}

func TestWillPlayTrackHookMutatesConfig(t *testing.T) {
	p, sink := newTestPlayer(fastOptions())
	p.Extractors().Register(&fakeExtractor{id: "src", priority: 10})
	p.SetHooks(Hooks{
		WillPlayTrack: func(q *Queue, track *Track, cfg *StreamConfig, done func()) {
			cfg.Volume = 42
			done()
		},
	})

	q := p.Queue(testGuild)
	require.NoError(t, q.Connect(context.Background(), testChannel))
	require.NoError(t, q.Node().Play(context.Background(), testTrack("a"), PlayOptions{}))

	require.NotNil(t, sink.lastCfg)
	assert.Equal(t, 42, sink.lastCfg.Volume)
}

func TestWillPlayEventCarriesConfig(t *testing.T) {
	_, q, _, _, rec := playbackFixture(t, fastOptions())

	a := testTrack("a")
	require.NoError(t, q.Node().Play(context.Background(), a, PlayOptions{}))

	evs := rec.ofType(EventWillPlay)
	require.Len(t, evs, 1)
	assert.Same(t, a, evs[0].Track)
	_, ok := evs[0].Data.(*StreamConfig)
	assert.True(t, ok, "event payload is the stream config")
}

func TestWillAutoPlayEventListsCandidates(t *testing.T) {
	_, q, sink, ex, rec := playbackFixture(t, fastOptions())
	q.SetRepeatMode(RepeatAutoplay)

	first, second := testTrack("first"), testTrack("second")
	ex.mu.Lock()
	ex.related = []*Track{first, second}
	ex.mu.Unlock()

	require.NoError(t, q.Node().Play(context.Background(), testTrack("seed"), PlayOptions{}))
	sink.finishCurrent()

	waitFor(t, func() bool { return rec.count(EventWillAutoPlay) == 1 }, "will-autoplay event missing")
	assert.Equal(t, []*Track{first, second}, rec.ofType(EventWillAutoPlay)[0].Tracks)
}

func TestAutoplayDefaultPolicySkipsHistory(t *testing.T) {
	_, q, sink, ex, _ := playbackFixture(t, fastOptions())
	q.SetRepeatMode(RepeatAutoplay)

	seed := testTrack("seed")
	repeatOfSeed := NewTrack("seed again", "artist", seed.URL)
	fresh := testTrack("fresh")
	ex.mu.Lock()
	ex.related = []*Track{repeatOfSeed, fresh}
	ex.mu.Unlock()

	require.NoError(t, q.Node().Play(context.Background(), seed, PlayOptions{}))
	sink.finishCurrent()

	// the candidate sharing the seed's URL is in history and skipped
	waitFor(t, func() bool { return q.Current() == fresh }, "autoplay did not pick fresh candidate")
}

func TestAutoplayHookSelects(t *testing.T) {
	p, sink := newTestPlayer(fastOptions())
	ex := &fakeExtractor{id: "src", priority: 10}
	p.Extractors().Register(ex)

	first, second := testTrack("first"), testTrack("second")
	ex.mu.Lock()
	ex.related = []*Track{first, second}
	ex.mu.Unlock()

	p.SetHooks(Hooks{
		WillAutoPlay: func(q *Queue, candidates []*Track, done func(*Track)) {
			done(candidates[1])
		},
	})

	q := p.Queue(testGuild)
	q.SetRepeatMode(RepeatAutoplay)
	require.NoError(t, q.Connect(context.Background(), testChannel))
	require.NoError(t, q.Node().Play(context.Background(), testTrack("seed"), PlayOptions{}))
	sink.finishCurrent()

	waitFor(t, func() bool { return q.Current() == second }, "autoplay hook selection ignored")
}

func TestAutoplayNoCandidatesGoesIdle(t *testing.T) {
	_, q, sink, _, rec := playbackFixture(t, fastOptions())
	q.SetRepeatMode(RepeatAutoplay)

	require.NoError(t, q.Node().Play(context.Background(), testTrack("seed"), PlayOptions{}))
	sink.finishCurrent()

	waitFor(t, func() bool { return rec.count(EventEmptyQueue) == 1 }, "empty queue event missing")
	assert.Equal(t, StateIdle, q.Node().State())
}

func TestPreviousPreservesCurrent(t *testing.T) {
	_, q, sink, _, _ := playbackFixture(t, fastOptions())
	ctx := context.Background()
	node := q.Node()

	assert.ErrorIs(t, node.Previous(ctx, false), ErrNoResult)

	a := testTrack("a")
	require.NoError(t, node.Play(ctx, a, PlayOptions{}))
	sink.finishCurrent()
	waitFor(t, func() bool { return q.History().Size() == 1 }, "finished track not in history")

	b := testTrack("b")
	require.NoError(t, node.Play(ctx, b, PlayOptions{}))

	require.NoError(t, node.Previous(ctx, true))
	assert.Same(t, a, q.Current())
	// the interrupted track went back onto history at position 0
	assert.Same(t, b, q.History().Peek())
}

func TestNavigationOps(t *testing.T) {
	_, q, _, _, _ := playbackFixture(t, fastOptions())
	node := q.Node()

	a, b, c := testTrack("a"), testTrack("b"), testTrack("c")
	require.NoError(t, q.AddTracks([]*Track{a, b, c}))

	require.NoError(t, node.Move(2, 0))
	assert.Equal(t, []*Track{c, a, b}, q.Tracks())

	require.NoError(t, node.Swap(0, 2))
	assert.Equal(t, []*Track{b, a, c}, q.Tracks())

	require.NoError(t, node.Copy(0, 3))
	tracks := q.Tracks()
	require.Len(t, tracks, 4)
	assert.Equal(t, "b", tracks[3].Title)
	assert.NotSame(t, tracks[0], tracks[3])

	assert.ErrorIs(t, node.Move(0, 99), ErrOutOfRange)
	assert.ErrorIs(t, node.Swap(-1, 0), ErrOutOfRange)
	assert.ErrorIs(t, node.Copy(99, 0), ErrOutOfRange)
}

func TestJumpPlaysImmediately(t *testing.T) {
	_, q, _, _, _ := playbackFixture(t, fastOptions())

	a, b, c := testTrack("a"), testTrack("b"), testTrack("c")
	require.NoError(t, q.AddTracks([]*Track{a, b, c}))
	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))
	require.Same(t, a, q.Current())

	// jump to what is now position 1 ("c")
	require.NoError(t, q.Node().Jump(1))
	waitFor(t, func() bool { return q.Current() == c }, "jump target not playing")
	assert.Equal(t, []*Track{b}, q.Tracks())
}

func TestSkipToDropsPreceding(t *testing.T) {
	_, q, _, _, _ := playbackFixture(t, fastOptions())

	a, b, c, d := testTrack("a"), testTrack("b"), testTrack("c"), testTrack("d")
	require.NoError(t, q.AddTracks([]*Track{a, b, c, d}))
	require.NoError(t, q.Node().Play(context.Background(), nil, PlayOptions{}))

	require.NoError(t, q.Node().SkipTo(2)) // d
	waitFor(t, func() bool { return q.Current() == d }, "skip-to target not playing")
	assert.Equal(t, 0, q.Size())

	assert.ErrorIs(t, q.Node().SkipTo(99), ErrOutOfRange)
}
