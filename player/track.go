package player

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueryType routes a query or track to the extractor that should
// handle it.
type QueryType string

const (
	QueryAuto            QueryType = "auto"
	QueryAutoSearch      QueryType = "autoSearch"
	QueryYouTubeVideo    QueryType = "youtubeVideo"
	QueryYouTubePlaylist QueryType = "youtubePlaylist"
	QueryYouTubeSearch   QueryType = "youtubeSearch"
	QueryYTMusicSearch   QueryType = "youtubeMusicSearch"
	QueryArbitraryURL    QueryType = "arbitraryURL"
	QueryFile            QueryType = "file"
)

var (
	youtubeVideoRe    = regexp.MustCompile(`(?:youtube\.com/(?:watch\?.*v=|shorts/|live/)|youtu\.be/)([\w-]{11})`)
	youtubePlaylistRe = regexp.MustCompile(`youtube\.com/(?:playlist\?.*list=|watch\?.*list=)([\w-]+)`)
)

// InferQueryType classifies a raw query string when the caller did not
// tag it explicitly.
func InferQueryType(query string) QueryType {
	q := strings.TrimSpace(query)
	switch {
	case youtubePlaylistRe.MatchString(q):
		return QueryYouTubePlaylist
	case youtubeVideoRe.MatchString(q):
		return QueryYouTubeVideo
	case strings.HasPrefix(q, "file://"), strings.HasPrefix(q, "/"), strings.HasPrefix(q, "./"):
		return QueryFile
	}
	if u, err := url.Parse(q); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return QueryArbitraryURL
	}
	return QueryAutoSearch
}

// Track is one playable item. Identity is immutable; presentation
// fields may be refined by extractors after creation.
type Track struct {
	ID        string
	Title     string
	Author    string
	Duration  string // human label, e.g. "3:51"
	Thumbnail string
	URL       string
	QueryType QueryType

	// Resource is a pre-built playable handle that bypasses extraction.
	Resource Resource

	// Extractor is the collaborator that produced this track, consulted
	// first for streaming and for autoplay candidates.
	Extractor Extractor

	// Metadata is caller-defined and round-trips through serialization.
	Metadata map[string]any

	// RequestedBy identifies who queued the track, for display.
	RequestedBy string
}

// NewTrack mints a track with a fresh id.
func NewTrack(title, author, rawURL string) *Track {
	return &Track{
		ID:     uuid.NewString(),
		Title:  title,
		Author: author,
		URL:    rawURL,
	}
}

// DurationMS derives milliseconds from the human duration label.
// Unparseable labels yield 0.
func (t *Track) DurationMS() int64 {
	return parseDurationLabel(t.Duration).Milliseconds()
}

// DurationTime derives a time.Duration from the human duration label.
func (t *Track) DurationTime() time.Duration {
	return parseDurationLabel(t.Duration)
}

func parseDurationLabel(label string) time.Duration {
	parts := strings.Split(strings.TrimSpace(label), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := time.Duration(0)
	for _, p := range parts {
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &n); err != nil {
			return 0
		}
		total = total*60 + time.Duration(n)*time.Second
	}
	return total
}

// FormatDurationLabel renders a duration as h:mm:ss or m:ss.
func FormatDurationLabel(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Playlist groups tracks resolved from one playlist query.
type Playlist struct {
	ID        string
	Title     string
	Author    string
	Thumbnail string
	URL       string
	Tracks    []*Track
}

// ===========================
// Serialization
// ===========================

// encoderVersion tags serialized payloads so future format changes can
// stay decodable.
const encoderVersion = 2

type serializedTrack struct {
	Type           string         `json:"$type"`
	EncoderVersion int            `json:"$encoder_version"`
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Author         string         `json:"author"`
	Duration       string         `json:"duration"`
	Thumbnail      string         `json:"thumbnail,omitempty"`
	URL            string         `json:"url"`
	QueryType      QueryType      `json:"queryType,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RequestedBy    string         `json:"requestedBy,omitempty"`
}

type serializedPlaylist struct {
	Type           string            `json:"$type"`
	EncoderVersion int               `json:"$encoder_version"`
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Author         string            `json:"author"`
	Thumbnail      string            `json:"thumbnail,omitempty"`
	URL            string            `json:"url"`
	Tracks         []serializedTrack `json:"tracks"`
}

// Serialize produces the tagged JSON value for transport or storage.
func (t *Track) Serialize() ([]byte, error) {
	return json.Marshal(t.toSerialized())
}

func (t *Track) toSerialized() serializedTrack {
	return serializedTrack{
		Type:           "track",
		EncoderVersion: encoderVersion,
		ID:             t.ID,
		Title:          t.Title,
		Author:         t.Author,
		Duration:       t.Duration,
		Thumbnail:      t.Thumbnail,
		URL:            t.URL,
		QueryType:      t.QueryType,
		Metadata:       t.Metadata,
		RequestedBy:    t.RequestedBy,
	}
}

// DeserializeTrack reverses Serialize. The bound resource and extractor
// do not round-trip; the track re-enters the extraction path on play.
func DeserializeTrack(data []byte) (*Track, error) {
	var s serializedTrack
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArg, err)
	}
	if s.Type != "track" {
		return nil, fmt.Errorf("%w: expected $type track, got %q", ErrInvalidArg, s.Type)
	}
	return trackFromSerialized(s), nil
}

func trackFromSerialized(s serializedTrack) *Track {
	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Track{
		ID:          id,
		Title:       s.Title,
		Author:      s.Author,
		Duration:    s.Duration,
		Thumbnail:   s.Thumbnail,
		URL:         s.URL,
		QueryType:   s.QueryType,
		Metadata:    s.Metadata,
		RequestedBy: s.RequestedBy,
	}
}

// Serialize produces the tagged JSON value for the playlist and all of
// its tracks.
func (p *Playlist) Serialize() ([]byte, error) {
	s := serializedPlaylist{
		Type:           "playlist",
		EncoderVersion: encoderVersion,
		ID:             p.ID,
		Title:          p.Title,
		Author:         p.Author,
		Thumbnail:      p.Thumbnail,
		URL:            p.URL,
	}
	for _, t := range p.Tracks {
		s.Tracks = append(s.Tracks, t.toSerialized())
	}
	return json.Marshal(s)
}

// DeserializePlaylist reverses Playlist.Serialize.
func DeserializePlaylist(data []byte) (*Playlist, error) {
	var s serializedPlaylist
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArg, err)
	}
	if s.Type != "playlist" {
		return nil, fmt.Errorf("%w: expected $type playlist, got %q", ErrInvalidArg, s.Type)
	}
	p := &Playlist{
		ID:        s.ID,
		Title:     s.Title,
		Author:    s.Author,
		Thumbnail: s.Thumbnail,
		URL:       s.URL,
	}
	for _, st := range s.Tracks {
		p.Tracks = append(p.Tracks, trackFromSerialized(st))
	}
	return p, nil
}

// EncodeTrack packs a track into an opaque base64 string.
func EncodeTrack(t *Track) (string, error) {
	data, err := t.Serialize()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeTrack reverses EncodeTrack.
func DecodeTrack(encoded string) (*Track, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArg, err)
	}
	return DeserializeTrack(data)
}
