package player

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// parseDurationColon parses duration strings like "3:20" or "1:05:20".
func parseDurationColon(s string) time.Duration {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

// ===========================
// YouTube search extractor
// ===========================

// YtSearchExtractor resolves search queries against YouTube natively,
// without spawning a subprocess. It is metadata-only: streaming bridges
// to the yt-dlp extractor.
type YtSearchExtractor struct{}

func NewYtSearchExtractor() *YtSearchExtractor { return &YtSearchExtractor{} }

func (e *YtSearchExtractor) Identifier() string { return "com.hibiki.ytsearch" }

func (e *YtSearchExtractor) Priority() int { return 5 }

func (e *YtSearchExtractor) Validate(query string, qt QueryType) bool {
	return qt == QueryYouTubeSearch || qt == QueryAutoSearch
}

func (e *YtSearchExtractor) Search(ctx context.Context, query string, qt QueryType) ([]*Track, error) {
	c := ytsearch.NewClient(nil)
	res, err := c.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	var tracks []*Track
	seen := make(map[string]bool)
	for _, v := range res.Results {
		if v.VideoID == "" || seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		t := NewTrack(v.Title, v.Channel, "https://www.youtube.com/watch?v="+v.VideoID)
		t.Duration = FormatDurationLabel(parseDurationColon(v.Duration))
		t.QueryType = QueryYouTubeVideo
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, &NoResultError{Query: query}
	}
	return tracks, nil
}

// Stream is unsupported; tracks found here bridge to yt-dlp.
func (e *YtSearchExtractor) Stream(ctx context.Context, track *Track) (*ExtractedStream, error) {
	return nil, ErrBridgeFailed
}

// Related searches for the finished track's title and author, dropping
// the seed itself from the results.
func (e *YtSearchExtractor) Related(ctx context.Context, track *Track) ([]*Track, error) {
	query := track.Title
	if track.Author != "" {
		query += " " + track.Author
	}
	tracks, err := e.Search(ctx, query, QueryAutoSearch)
	if err != nil {
		return nil, err
	}
	out := tracks[:0]
	for _, t := range tracks {
		if t.URL != track.URL {
			out = append(out, t)
		}
	}
	return out, nil
}

// ===========================
// YouTube Music search extractor
// ===========================

// YtMusicExtractor resolves search queries against YouTube Music.
// Metadata-only, like YtSearchExtractor.
type YtMusicExtractor struct{}

func NewYtMusicExtractor() *YtMusicExtractor { return &YtMusicExtractor{} }

func (e *YtMusicExtractor) Identifier() string { return "com.hibiki.ytmusic" }

func (e *YtMusicExtractor) Priority() int { return 4 }

func (e *YtMusicExtractor) Validate(query string, qt QueryType) bool {
	return qt == QueryYTMusicSearch || qt == QueryAutoSearch
}

func (e *YtMusicExtractor) Search(ctx context.Context, query string, qt QueryType) ([]*Track, error) {
	s := ytmusic.TrackSearch(query)
	res, err := s.Next()
	if err != nil {
		return nil, err
	}

	var tracks []*Track
	seen := make(map[string]bool)
	for _, v := range res.Tracks {
		if v.VideoID == "" || seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		artist := ""
		if len(v.Artists) > 0 {
			artist = v.Artists[0].Name
		}
		t := NewTrack(v.Title, artist, "https://music.youtube.com/watch?v="+v.VideoID)
		t.Duration = FormatDurationLabel(time.Duration(v.Duration) * time.Second)
		t.QueryType = QueryYouTubeVideo
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, &NoResultError{Query: query}
	}
	return tracks, nil
}

// Stream is unsupported; tracks found here bridge to yt-dlp.
func (e *YtMusicExtractor) Stream(ctx context.Context, track *Track) (*ExtractedStream, error) {
	return nil, ErrBridgeFailed
}

// Related runs a music search seeded by the finished track.
func (e *YtMusicExtractor) Related(ctx context.Context, track *Track) ([]*Track, error) {
	query := track.Title
	if track.Author != "" {
		query += " " + track.Author
	}
	tracks, err := e.Search(ctx, query, QueryYTMusicSearch)
	if err != nil {
		return nil, err
	}
	out := tracks[:0]
	for _, t := range tracks {
		if t.URL != track.URL {
			out = append(out, t)
		}
	}
	return out, nil
}
