package player

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeineian/hibiki/player/dsp"
)

func TestQueueCapacity(t *testing.T) {
	p, _ := newTestPlayer(Options{MaxSize: 2})
	q := p.Queue(testGuild)

	a, b, c := testTrack("a"), testTrack("b"), testTrack("c")
	require.NoError(t, q.AddTrack(a))
	require.NoError(t, q.AddTrack(b))

	err := q.AddTrack(c)
	require.Error(t, err)
	var oos *OutOfSpaceError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, 2, oos.Size)
	assert.Equal(t, 2, oos.Capacity)
	assert.ErrorIs(t, err, ErrOutOfSpace)

	// the failed add must not mutate the queue
	tracks := q.Tracks()
	require.Len(t, tracks, 2)
	assert.Same(t, a, tracks[0])
	assert.Same(t, b, tracks[1])
}

func TestQueueAddTracksAtomicOverflow(t *testing.T) {
	p, _ := newTestPlayer(Options{MaxSize: 3})
	q := p.Queue(testGuild)
	require.NoError(t, q.AddTrack(testTrack("a")))

	err := q.AddTracks([]*Track{testTrack("b"), testTrack("c"), testTrack("d")})
	assert.ErrorIs(t, err, ErrOutOfSpace)
	assert.Equal(t, 1, q.Size())
}

func TestQueueInsertAndRemove(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)

	a, b, c := testTrack("a"), testTrack("b"), testTrack("c")
	require.NoError(t, q.AddTrack(a))
	require.NoError(t, q.AddTrack(c))
	require.NoError(t, q.InsertTrack(b, 1))

	assert.Equal(t, []*Track{a, b, c}, q.Tracks())

	assert.ErrorIs(t, q.InsertTrack(testTrack("x"), 99), ErrOutOfRange)

	removed, err := q.RemoveTrack(1)
	require.NoError(t, err)
	assert.Same(t, b, removed)

	_, err = q.RemoveTrack(99)
	assert.ErrorIs(t, err, ErrOutOfRange)

	removed, err = q.RemoveTrackBy(func(t *Track) bool { return t.Title == "c" })
	require.NoError(t, err)
	assert.Same(t, c, removed)

	_, err = q.RemoveTrackBy(func(t *Track) bool { return false })
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestQueuePrepend(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)

	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, q.AddTrack(a))
	require.NoError(t, q.Prepend(b))
	assert.Same(t, b, q.Tracks()[0])
}

func TestQueueAddEvents(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	rec := recordEvents(p)
	q := p.Queue(testGuild)

	require.NoError(t, q.AddTrack(testTrack("a")))
	require.NoError(t, q.AddTracks([]*Track{testTrack("b"), testTrack("c")}))
	_, err := q.RemoveTrack(0)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count(EventTrackAdd))
	assert.Equal(t, 1, rec.count(EventTracksAdd))
	assert.Equal(t, 1, rec.count(EventTrackRemove))
	assert.Len(t, rec.ofType(EventTracksAdd)[0].Tracks, 2)
}

func TestQueueDeleteDropsEvents(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	rec := recordEvents(p)
	q := p.Queue(testGuild)

	q.Delete()
	assert.True(t, q.Deleted())
	assert.Equal(t, 1, rec.count(EventQueueDelete))
	assert.Nil(t, p.ExistingQueue(testGuild))

	// mutations still work but emit nothing
	require.NoError(t, q.AddTrack(testTrack("a")))
	assert.Equal(t, 0, rec.count(EventTrackAdd))

	// deleting twice emits nothing further
	q.Delete()
	assert.Equal(t, 1, rec.count(EventQueueDelete))
}

func TestQueueRevive(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)
	q.Delete()

	assert.True(t, q.Revive())
	assert.False(t, q.Deleted())
	assert.Same(t, q, p.ExistingQueue(testGuild))

	// reviving a live queue is a no-op success
	assert.True(t, q.Revive())

	// a replacement queue blocks revival of the deleted one
	q.Delete()
	replacement := p.Queue(testGuild)
	require.NotSame(t, q, replacement)
	assert.False(t, q.Revive())
	assert.Same(t, replacement, p.ExistingQueue(testGuild))
}

func TestQueueDeletePlayRejected(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)
	require.NoError(t, q.Connect(context.Background(), testChannel))
	q.Delete()

	err := q.Node().Play(context.Background(), testTrack("a"), PlayOptions{})
	assert.ErrorIs(t, err, ErrQueueDeleted)
}

func TestQueueImmediateShuffle(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)

	var titles []string
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		require.NoError(t, q.AddTrack(testTrack(name)))
		titles = append(titles, name)
	}

	q.EnableShuffle(false)
	assert.True(t, q.Shuffled())

	// the stored order is permuted destructively but keeps the same set
	var got []string
	for _, tr := range q.Tracks() {
		got = append(got, tr.Title)
	}
	sort.Strings(got)
	assert.Equal(t, titles, got)

	// disabling does not undo the permutation
	q.DisableShuffle()
	assert.False(t, q.Shuffled())
	assert.Equal(t, 8, q.Size())
}

func TestQueueDynamicShuffleDequeue(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)

	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.AddTrack(testTrack(name)))
	}
	q.EnableShuffle(true)

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		tr := q.dequeue()
		require.NotNil(t, tr)
		assert.False(t, seen[tr.Title], "track dequeued twice")
		seen[tr.Title] = true
	}
	assert.Nil(t, q.dequeue())
}

func TestQueueDequeueStrategy(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)

	a, b, c := testTrack("a"), testTrack("b"), testTrack("c")
	require.NoError(t, q.AddTracks([]*Track{a, b, c}))

	assert.Equal(t, DequeueFIFO, q.DequeueStrategy())
	assert.Same(t, a, q.dequeue())

	q.SetDequeueStrategy(DequeueLIFO)
	assert.Same(t, c, q.dequeue())
	assert.Same(t, b, q.dequeue())
	assert.Nil(t, q.dequeue())
}

func TestQueueToggleShuffle(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)

	assert.True(t, q.ToggleShuffle())
	assert.True(t, q.Shuffled())
	assert.False(t, q.ToggleShuffle())
	assert.False(t, q.Shuffled())
}

func TestQueueVolumeBounds(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	rec := recordEvents(p)
	q := p.Queue(testGuild)
	ctx := context.Background()

	assert.Equal(t, 100, q.Volume())
	assert.ErrorIs(t, q.SetVolume(ctx, -1), ErrOutOfRange)
	assert.ErrorIs(t, q.SetVolume(ctx, 201), ErrOutOfRange)

	require.NoError(t, q.SetVolume(ctx, 150))
	assert.Equal(t, 150, q.Volume())
	assert.Equal(t, 1, rec.count(EventVolumeChange))
}

func TestQueueSampleRateBounds(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)
	ctx := context.Background()

	assert.ErrorIs(t, q.SetSampleRate(ctx, 4000), ErrOutOfRange)
	assert.ErrorIs(t, q.SetSampleRate(ctx, 200000), ErrOutOfRange)
	require.NoError(t, q.SetSampleRate(ctx, 44100))
}

func TestQueueTogglePreset(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	rec := recordEvents(p)
	q := p.Queue(testGuild)
	ctx := context.Background()

	_, err := q.TogglePreset(ctx, "nosuchpreset")
	assert.ErrorIs(t, err, ErrInvalidArg)

	enabled, err := q.TogglePreset(ctx, "nightcore")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, []string{"nightcore"}, q.Presets())

	enabled, err = q.TogglePreset(ctx, "bassboost")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, []string{"nightcore", "bassboost"}, q.Presets())

	enabled, err = q.TogglePreset(ctx, "nightcore")
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Equal(t, []string{"bassboost"}, q.Presets())

	assert.Equal(t, 3, rec.count(EventFiltersChange))
}

func TestQueueEqualizerBandLimit(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)

	tooMany := make([]float64, dsp.EqualizerBands+1)
	assert.ErrorIs(t, q.SetEqualizer(context.Background(), tooMany), ErrOutOfRange)
	require.NoError(t, q.SetEqualizer(context.Background(), []float64{3, 3, 2}))
}

func TestStreamConfigSnapshotIsolation(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	q := p.Queue(testGuild)
	ctx := context.Background()

	require.NoError(t, q.SetVolume(ctx, 80))
	require.NoError(t, q.SetEqualizer(ctx, []float64{1, 2, 3}))
	require.NoError(t, q.SetBiquad(ctx, &dsp.BiquadParams{Type: dsp.LowPass, Frequency: 3500}))

	cfg := q.streamConfig(0, false)
	assert.Equal(t, 80, cfg.Volume)
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, 2, cfg.Channels)

	// mutating the snapshot must not leak back into the cache
	cfg.EqualizerGains[0] = 99
	cfg.Biquad.Frequency = 1
	cfg2 := q.streamConfig(0, false)
	assert.Equal(t, float64(1), cfg2.EqualizerGains[0])
	assert.Equal(t, float64(3500), cfg2.Biquad.Frequency)
}

func TestQueueConnectDisconnect(t *testing.T) {
	p, sink := newTestPlayer(Options{})
	rec := recordEvents(p)
	q := p.Queue(testGuild)

	require.NoError(t, q.Connect(context.Background(), testChannel))
	assert.NotNil(t, q.Sink())
	assert.Equal(t, testChannel, q.ChannelID())

	require.NoError(t, q.Disconnect(context.Background()))
	assert.Nil(t, q.Sink())
	assert.True(t, sink.isDisconnected())
	assert.Equal(t, 1, rec.count(EventDisconnect))

	// disconnecting again is a no-op
	require.NoError(t, q.Disconnect(context.Background()))
	assert.Equal(t, 1, rec.count(EventDisconnect))
}
