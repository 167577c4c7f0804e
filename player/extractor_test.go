package player

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPriorityOrder(t *testing.T) {
	r := NewRegistry()
	low := &fakeExtractor{id: "low", priority: 1}
	high := &fakeExtractor{id: "high", priority: 10}
	mid := &fakeExtractor{id: "mid", priority: 5}
	r.Register(low)
	r.Register(high)
	r.Register(mid)

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "high", all[0].Identifier())
	assert.Equal(t, "mid", all[1].Identifier())
	assert.Equal(t, "low", all[2].Identifier())
}

func TestRegistryBlock(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeExtractor{id: "a", priority: 1})
	r.Register(&fakeExtractor{id: "b", priority: 2})

	r.Block("b")
	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].Identifier())

	// Get still resolves blocked extractors
	assert.NotNil(t, r.Get("b"))
	assert.Nil(t, r.Get("missing"))

	r.Unblock("b")
	assert.Len(t, r.All(), 2)
}

func TestSearchFirstValidatingWins(t *testing.T) {
	r := NewRegistry()
	rejecting := &fakeExtractor{
		id:       "rejecting",
		priority: 10,
		validate: func(string, QueryType) bool { return false },
	}
	accepting := &fakeExtractor{
		id:       "accepting",
		priority: 5,
		tracks:   []*Track{testTrack("hit")},
	}
	r.Register(rejecting)
	r.Register(accepting)

	session := newExtractionSession()
	tracks, err := r.search(context.Background(), session, "query", QueryAutoSearch)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Same(t, accepting, tracks[0].Extractor.(*fakeExtractor))

	// the failed extractor is still recorded as consulted
	assert.True(t, session.tried("rejecting"))
	assert.True(t, session.tried("accepting"))
}

func TestSearchSkipsErroringExtractor(t *testing.T) {
	r := NewRegistry()
	broken := &fakeExtractor{id: "broken", priority: 10, searchErr: errors.New("boom")}
	working := &fakeExtractor{id: "working", priority: 5, tracks: []*Track{testTrack("hit")}}
	r.Register(broken)
	r.Register(working)

	tracks, err := r.search(context.Background(), newExtractionSession(), "query", QueryAutoSearch)
	require.NoError(t, err)
	assert.Len(t, tracks, 1)
}

func TestSearchNoResult(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeExtractor{id: "empty", priority: 1})

	_, err := r.search(context.Background(), newExtractionSession(), "query", QueryAutoSearch)
	require.Error(t, err)
	var nre *NoResultError
	assert.ErrorAs(t, err, &nre)
	assert.Equal(t, "query", nre.Query)
}

func TestStreamOwnExtractorFirst(t *testing.T) {
	r := NewRegistry()
	owner := &fakeExtractor{id: "owner", priority: 1}
	other := &fakeExtractor{id: "other", priority: 10}
	r.Register(owner)
	r.Register(other)

	track := testTrack("song")
	track.Extractor = owner

	es, err := r.stream(context.Background(), newExtractionSession(), track)
	require.NoError(t, err)
	require.NotNil(t, es)
	defer es.Close()
	assert.Equal(t, 1, owner.streamCount())
	assert.Equal(t, 0, other.streamCount())
}

func TestStreamBridgesWhenOwnerFails(t *testing.T) {
	r := NewRegistry()
	owner := &fakeExtractor{id: "owner", priority: 10, streamErr: errors.New("geo blocked")}
	bridge := &fakeExtractor{id: "bridge", priority: 5}
	r.Register(owner)
	r.Register(bridge)

	track := testTrack("song")
	track.Extractor = owner

	es, err := r.stream(context.Background(), newExtractionSession(), track)
	require.NoError(t, err)
	require.NotNil(t, es)
	defer es.Close()

	// the owner was tried exactly once, then the bridge took over
	assert.Equal(t, 1, owner.streamCount())
	assert.Equal(t, 1, bridge.streamCount())
	assert.Same(t, bridge, track.Extractor.(*fakeExtractor))
}

func TestBridgeFailsWhenNothingStreams(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeExtractor{id: "a", priority: 1, streamErr: errors.New("nope")})

	track := testTrack("song")
	_, err := r.stream(context.Background(), newExtractionSession(), track)
	assert.ErrorIs(t, err, ErrBridgeFailed)
}

func TestBridgeQueryFromMetadataOnlyTrack(t *testing.T) {
	r := NewRegistry()
	var seenQuery string
	var seenType QueryType
	ex := &fakeExtractor{
		id:       "catcher",
		priority: 1,
		validate: func(query string, qt QueryType) bool {
			seenQuery, seenType = query, qt
			return true
		},
	}
	r.Register(ex)

	track := &Track{ID: "x", Title: "Song", Author: "Artist"}
	es, err := r.bridge(context.Background(), newExtractionSession(), track)
	require.NoError(t, err)
	defer es.Close()

	assert.Equal(t, "Artist Song", seenQuery)
	assert.Equal(t, QueryAutoSearch, seenType)
}

func TestRelatedPrefersOwnExtractor(t *testing.T) {
	r := NewRegistry()
	owner := &fakeExtractor{id: "owner", priority: 1, related: []*Track{testTrack("own-pick")}}
	other := &fakeExtractor{id: "other", priority: 10, related: []*Track{testTrack("other-pick")}}
	r.Register(owner)
	r.Register(other)

	track := testTrack("seed")
	track.Extractor = owner

	related := r.related(context.Background(), track)
	require.Len(t, related, 1)
	assert.Equal(t, "own-pick", related[0].Title)
}

func TestExtractedStreamNilClose(t *testing.T) {
	var es *ExtractedStream
	assert.NoError(t, es.Close())
	assert.NoError(t, (&ExtractedStream{URL: "https://example.com"}).Close())
}
