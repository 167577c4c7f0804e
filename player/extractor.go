package player

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ExtractedStream is an extractor's answer to a stream request: either
// an open byte stream or a direct URL the transcoder can pull itself.
type ExtractedStream struct {
	Reader io.ReadCloser
	// URL is set instead of Reader when the source is directly fetchable.
	URL string
	// Format tags payloads already in a directly playable demuxable
	// format ("wav", "mp3", "flac", "opus"). Empty means unknown.
	Format string
}

// Close releases the underlying reader, if any.
func (s *ExtractedStream) Close() error {
	if s == nil || s.Reader == nil {
		return nil
	}
	return s.Reader.Close()
}

// Extractor resolves queries and tracks into playable streams.
// Implementations are consulted in descending Priority order.
type Extractor interface {
	Identifier() string
	Priority() int
	// Validate reports whether this extractor can handle the query.
	Validate(query string, qt QueryType) bool
	// Search resolves a query into tracks without opening streams.
	Search(ctx context.Context, query string, qt QueryType) ([]*Track, error)
	// Stream opens the byte stream for a track.
	Stream(ctx context.Context, track *Track) (*ExtractedStream, error)
	// Related returns autoplay candidates for a finished track.
	Related(ctx context.Context, track *Track) ([]*Track, error)
}

// Registry holds the registered extractors, sorted by priority.
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
	blocked    map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{blocked: make(map[string]bool)}
}

// Register adds an extractor, keeping descending priority order.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
	sort.SliceStable(r.extractors, func(i, j int) bool {
		return r.extractors[i].Priority() > r.extractors[j].Priority()
	})
}

// Block excludes an extractor identifier from all future consultation.
func (r *Registry) Block(identifier string) {
	r.mu.Lock()
	r.blocked[identifier] = true
	r.mu.Unlock()
}

// Unblock reverses Block.
func (r *Registry) Unblock(identifier string) {
	r.mu.Lock()
	delete(r.blocked, identifier)
	r.mu.Unlock()
}

// Get returns the extractor with the given identifier, or nil.
func (r *Registry) Get(identifier string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.extractors {
		if e.Identifier() == identifier {
			return e
		}
	}
	return nil
}

// All returns the usable extractors in descending priority order,
// excluding blocked ones.
func (r *Registry) All() []Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Extractor, 0, len(r.extractors))
	for _, e := range r.extractors {
		if !r.blocked[e.Identifier()] {
			out = append(out, e)
		}
	}
	return out
}

// extractionSession tracks which extractors one play attempt has
// already consulted, across nested bridge calls, so retries terminate.
// One session spans exactly one Play invocation and is passed
// explicitly down the extraction call graph.
type extractionSession struct {
	attempted map[string]bool
}

func newExtractionSession() *extractionSession {
	return &extractionSession{attempted: make(map[string]bool)}
}

func (s *extractionSession) tried(identifier string) bool {
	return s.attempted[identifier]
}

func (s *extractionSession) markTried(identifier string) {
	s.attempted[identifier] = true
}

// search runs the query against the extractor chain: the first
// extractor that validates and returns results wins, and the returned
// tracks carry that extractor as their owner.
func (r *Registry) search(ctx context.Context, session *extractionSession, query string, qt QueryType) ([]*Track, error) {
	var lastErr error
	for _, e := range r.All() {
		if session.tried(e.Identifier()) {
			continue
		}
		// consulted extractors are recorded even on failed validation,
		// so nested bridge calls never retry them
		session.markTried(e.Identifier())
		if !e.Validate(query, qt) {
			continue
		}
		tracks, err := e.Search(ctx, query, qt)
		if err != nil {
			lastErr = err
			continue
		}
		if len(tracks) == 0 {
			continue
		}
		for _, t := range tracks {
			if t.Extractor == nil {
				t.Extractor = e
			}
			if t.QueryType == "" {
				t.QueryType = qt
			}
		}
		return tracks, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoResult, lastErr)
	}
	return nil, &NoResultError{Query: query}
}

// stream opens the byte stream for a track: its own extractor first,
// then a bridge across the remaining chain in priority order.
func (r *Registry) stream(ctx context.Context, session *extractionSession, track *Track) (*ExtractedStream, error) {
	if track.Extractor != nil && !session.tried(track.Extractor.Identifier()) {
		session.markTried(track.Extractor.Identifier())
		if es, err := track.Extractor.Stream(ctx, track); err == nil && es != nil {
			return es, nil
		}
	}
	return r.bridge(ctx, session, track)
}

// bridge resolves a metadata-only track to a streamable source via any
// extractor that validates its URL or title.
func (r *Registry) bridge(ctx context.Context, session *extractionSession, track *Track) (*ExtractedStream, error) {
	query := track.URL
	qt := track.QueryType
	if query == "" {
		query = fmt.Sprintf("%s %s", track.Author, track.Title)
		qt = QueryAutoSearch
	}
	if qt == "" {
		qt = InferQueryType(query)
	}

	var lastErr error
	for _, e := range r.All() {
		if session.tried(e.Identifier()) {
			continue
		}
		session.markTried(e.Identifier())
		if !e.Validate(query, qt) {
			continue
		}
		es, err := e.Stream(ctx, track)
		if err != nil {
			lastErr = err
			continue
		}
		if es != nil {
			track.Extractor = e
			return es, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrBridgeFailed, lastErr)
	}
	return nil, fmt.Errorf("%w: no extractor could stream %q", ErrBridgeFailed, track.Title)
}

// related gathers autoplay candidates: the finished track's own
// extractor first, then every registered extractor by priority.
func (r *Registry) related(ctx context.Context, track *Track) []*Track {
	if track.Extractor != nil {
		if tracks, err := track.Extractor.Related(ctx, track); err == nil && len(tracks) > 0 {
			return tracks
		}
	}
	for _, e := range r.All() {
		if track.Extractor != nil && e.Identifier() == track.Extractor.Identifier() {
			continue
		}
		if tracks, err := e.Related(ctx, track); err == nil && len(tracks) > 0 {
			return tracks
		}
	}
	return nil
}
