package player

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	tcmp3 "github.com/tcolgate/mp3"

	"github.com/leeineian/hibiki/sys"
)

// LocalFileExtractor plays audio files on disk. Lowest priority: it
// only claims file paths, never network queries. Payloads in a
// directly demuxable format carry a format tag so the transcoder can
// take the in-process shortcut.
type LocalFileExtractor struct{}

func NewLocalFileExtractor() *LocalFileExtractor { return &LocalFileExtractor{} }

func (e *LocalFileExtractor) Identifier() string { return "com.hibiki.localfile" }

func (e *LocalFileExtractor) Priority() int { return 1 }

func (e *LocalFileExtractor) Validate(query string, qt QueryType) bool {
	if qt != QueryFile {
		return false
	}
	_, err := os.Stat(strings.TrimPrefix(query, "file://"))
	return err == nil
}

// Search probes the file's tags and duration and returns a single
// track for it.
func (e *LocalFileExtractor) Search(ctx context.Context, query string, qt QueryType) ([]*Track, error) {
	path := strings.TrimPrefix(query, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	author := ""
	if meta, err := tag.ReadFrom(f); err == nil {
		if meta.Title() != "" {
			title = meta.Title()
		}
		author = meta.Artist()
	}

	t := NewTrack(title, author, "file://"+path)
	t.QueryType = QueryFile
	t.Extractor = e
	if d := probeDuration(path); d > 0 {
		t.Duration = FormatDurationLabel(d)
	}
	return []*Track{t}, nil
}

// probeDuration scans the container natively for the formats with
// cheap Go decoders. Anything else reports 0 and the transcoder finds
// the duration itself.
func probeDuration(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		dec := wav.NewDecoder(f)
		if d, err := dec.Duration(); err == nil {
			return d
		}
	case ".mp3":
		d := time.Duration(0)
		dec := tcmp3.NewDecoder(f)
		var frame tcmp3.Frame
		skipped := 0
		for {
			if err := dec.Decode(&frame, &skipped); err != nil {
				break
			}
			d += frame.Duration()
		}
		return d
	case ".flac":
		stream, err := flac.Parse(f)
		if err != nil {
			return 0
		}
		defer stream.Close()
		info := stream.Info
		if info != nil && info.SampleRate > 0 {
			return time.Duration(info.NSamples) * time.Second / time.Duration(info.SampleRate)
		}
	}
	return 0
}

// Stream opens the file, tagging directly demuxable formats.
func (e *LocalFileExtractor) Stream(ctx context.Context, track *Track) (*ExtractedStream, error) {
	path := strings.TrimPrefix(track.URL, "file://")
	f, err := os.Open(path)
	if err != nil {
		sys.LogExtractor("local file open failed: %v", err)
		return nil, err
	}

	format := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		format = "wav"
	case ".mp3":
		format = "mp3"
	case ".flac":
		format = "flac"
	case ".ogg", ".opus":
		format = "ogg"
	}
	return &ExtractedStream{Reader: f, Format: format}, nil
}

// Related walks sibling files in the same directory, skipping the
// finished track itself.
func (e *LocalFileExtractor) Related(ctx context.Context, track *Track) ([]*Track, error) {
	path := strings.TrimPrefix(track.URL, "file://")
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var tracks []*Track
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sibling := filepath.Join(dir, entry.Name())
		if sibling == path || !isAudioFile(sibling) {
			continue
		}
		found, err := e.Search(ctx, sibling, QueryFile)
		if err == nil {
			tracks = append(tracks, found...)
		}
		if len(tracks) >= 10 {
			break
		}
	}
	return tracks, nil
}

func isAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".mp3", ".flac", ".ogg", ".opus", ".m4a", ".webm", ".aac":
		return true
	}
	return false
}
