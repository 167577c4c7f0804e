package player

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGuild   = snowflake.ID(1234567890)
	testChannel = snowflake.ID(9876543210)
)

// ===========================
// Fakes
// ===========================

type fakeResource struct {
	sink    *fakeSink
	track   *Track
	cfg     *StreamConfig
	stopped sync.Once
}

func (r *fakeResource) Track() *Track { return r.track }

func (r *fakeResource) Stop() {
	r.stopped.Do(func() { r.sink.finish(r) })
}

type fakeSink struct {
	mu           sync.Mutex
	ev           SinkEvents
	created      int
	lastCfg      *StreamConfig
	current      *fakeResource
	paused       bool
	disconnected bool
	streamTime   time.Duration
}

func (s *fakeSink) CreateStream(ctx context.Context, src *ExtractedStream, track *Track, cfg *StreamConfig) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	s.lastCfg = cfg
	return &fakeResource{sink: s, track: track, cfg: cfg}, nil
}

func (s *fakeSink) PlayStream(ctx context.Context, r Resource) error {
	fr := r.(*fakeResource)
	s.mu.Lock()
	s.current = fr
	ev := s.ev
	s.mu.Unlock()
	if ev.OnStart != nil {
		ev.OnStart(fr)
	}
	return nil
}

func (s *fakeSink) StreamTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamTime
}

func (s *fakeSink) SetEvents(ev SinkEvents) {
	s.mu.Lock()
	s.ev = ev
	s.mu.Unlock()
}

func (s *fakeSink) Pause(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

func (s *fakeSink) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.disconnected = true
	s.current = nil
	s.mu.Unlock()
	return nil
}

// finish raises the engine's completion callback for the resource,
// simulating a natural end of stream or a forced stop.
func (s *fakeSink) finish(r *fakeResource) {
	s.mu.Lock()
	if s.current == r {
		s.current = nil
	}
	ev := s.ev
	s.mu.Unlock()
	if ev.OnFinish != nil {
		ev.OnFinish(r)
	}
}

// finishCurrent ends the playing resource as if the stream ran out.
func (s *fakeSink) finishCurrent() {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

func (s *fakeSink) createdStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *fakeSink) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

type fakeExtractor struct {
	id       string
	priority int
	validate func(query string, qt QueryType) bool

	mu        sync.Mutex
	tracks    []*Track
	related   []*Track
	searchErr error
	streamErr error
	searches  int
	streams   int
}

func (e *fakeExtractor) Identifier() string { return e.id }
func (e *fakeExtractor) Priority() int      { return e.priority }

func (e *fakeExtractor) Validate(query string, qt QueryType) bool {
	if e.validate == nil {
		return true
	}
	return e.validate(query, qt)
}

func (e *fakeExtractor) Search(ctx context.Context, query string, qt QueryType) ([]*Track, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.searches++
	if e.searchErr != nil {
		return nil, e.searchErr
	}
	return e.tracks, nil
}

func (e *fakeExtractor) Stream(ctx context.Context, track *Track) (*ExtractedStream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streams++
	if e.streamErr != nil {
		return nil, e.streamErr
	}
	return &ExtractedStream{Reader: io.NopCloser(strings.NewReader("pcm")), Format: "wav"}, nil
}

func (e *fakeExtractor) Related(ctx context.Context, track *Track) ([]*Track, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.related, nil
}

func (e *fakeExtractor) streamCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams
}

// eventRecorder collects bus emissions for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func recordEvents(p *Player) *eventRecorder {
	r := &eventRecorder{}
	p.Events().Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) count(t EventType) int {
	return len(r.ofType(t))
}

func newTestPlayer(opts Options) (*Player, *fakeSink) {
	sink := &fakeSink{}
	p := New(opts, func(ctx context.Context, guildID, channelID snowflake.ID) (OutputSink, error) {
		return sink, nil
	})
	return p, sink
}

func testTrack(title string) *Track {
	t := NewTrack(title, "artist", "https://example.com/"+title)
	t.Duration = "3:00"
	return t
}

// ===========================
// Player surface
// ===========================

func TestQueueCreatedOnFirstUse(t *testing.T) {
	p, _ := newTestPlayer(Options{})

	assert.Nil(t, p.ExistingQueue(testGuild))
	q := p.Queue(testGuild)
	require.NotNil(t, q)
	assert.Same(t, q, p.Queue(testGuild))
	assert.Same(t, q, p.ExistingQueue(testGuild))
	assert.Len(t, p.Queues(), 1)
}

func TestPlayerSearchInfersQueryType(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	ex := &fakeExtractor{
		id:       "fake",
		priority: 10,
		tracks:   []*Track{testTrack("hit")},
		validate: func(query string, qt QueryType) bool { return qt == QueryAutoSearch },
	}
	p.Extractors().Register(ex)

	tracks, err := p.Search(context.Background(), "some song", QueryAuto)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Same(t, ex, tracks[0].Extractor.(*fakeExtractor))
	assert.Equal(t, QueryAutoSearch, tracks[0].QueryType)
}

func TestPlayerSearchNoResult(t *testing.T) {
	p, _ := newTestPlayer(Options{})

	_, err := p.Search(context.Background(), "nothing", QueryAutoSearch)
	require.Error(t, err)
	var nre *NoResultError
	assert.ErrorAs(t, err, &nre)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestOptionsDefaults(t *testing.T) {
	p, _ := newTestPlayer(Options{})
	opts := p.Options()

	assert.Equal(t, time.Second, opts.BufferingTimeout)
	assert.Equal(t, 20*time.Second, opts.ConnectionTimeout)
	assert.Equal(t, 5*time.Minute, opts.LeaveOnEndCooldown)
	assert.Equal(t, 48000, opts.SampleRate)
}
