package player

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"golang.org/x/time/rate"

	"github.com/leeineian/hibiki/sys"
)

// ===========================
// yt-dlp extractor
// ===========================

var (
	jsOnce       sync.Once
	cachedJSArgs []string
)

// newYtdlpCmd returns a yt-dlp command with quiet defaults and an
// optional proxy from the environment.
func newYtdlpCmd() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()
	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		cmd.Proxy(proxy)
	}
	return cmd
}

// buildYtdlpArgs returns the common args shared by all yt-dlp calls.
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "20",
		"--fragment-retries", "20",
	)
	return args
}

// YtdlpExtractor streams anything yt-dlp can reach. It is the highest
// priority extractor and the bridge target for metadata-only tracks.
type YtdlpExtractor struct {
	// limiter bounds metadata/search subprocess spawns.
	limiter *rate.Limiter
	// searchLimit caps results per search call.
	searchLimit int
}

func NewYtdlpExtractor() *YtdlpExtractor {
	return &YtdlpExtractor{
		limiter:     rate.NewLimiter(rate.Every(300*time.Millisecond), 5),
		searchLimit: 10,
	}
}

func (e *YtdlpExtractor) Identifier() string { return "com.hibiki.ytdlp" }

func (e *YtdlpExtractor) Priority() int { return 10 }

func (e *YtdlpExtractor) Validate(query string, qt QueryType) bool {
	switch qt {
	case QueryYouTubeVideo, QueryYouTubePlaylist, QueryArbitraryURL,
		QueryYouTubeSearch, QueryAutoSearch, QueryAuto:
		return true
	}
	return false
}

// Search resolves a URL's metadata or runs a ytsearch query, using the
// tab-separated print format so no JSON parse is needed.
func (e *YtdlpExtractor) Search(ctx context.Context, query string, qt QueryType) ([]*Track, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	switch qt {
	case QueryYouTubeVideo, QueryArbitraryURL:
		t, err := e.resolveMetadata(ctx, query)
		if err != nil {
			return nil, err
		}
		return []*Track{t}, nil
	case QueryYouTubePlaylist:
		return e.resolvePlaylist(ctx, query)
	}
	return e.searchTracks(ctx, query)
}

func (e *YtdlpExtractor) resolveMetadata(ctx context.Context, u string) (*Track, error) {
	u = strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)

	args := append(buildYtdlpArgs(), "--skip-download")
	res, err := newYtdlpCmd().
		Print("%(webpage_url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s").
		IgnoreConfig().
		NoWarnings().
		Run(ctx, append(args, u)...)
	if err != nil {
		sys.LogExtractor("yt-dlp metadata failed: %v (URL: %s)", err, u)
		return nil, err
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 5 {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		t := NewTrack(ps[1], ps[2], ps[0])
		t.Duration = FormatDurationLabel(d)
		t.Thumbnail = ps[4]
		t.QueryType = QueryYouTubeVideo
		return t, nil
	}
	return nil, &NoResultError{Query: u}
}

func (e *YtdlpExtractor) resolvePlaylist(ctx context.Context, u string) ([]*Track, error) {
	args := buildYtdlpArgs()
	res, err := newYtdlpCmd().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
		IgnoreConfig().
		NoWarnings().
		Run(ctx, append(args, u, "--yes-playlist")...)
	if err != nil {
		return nil, err
	}
	return parseTabTracks(res.Stdout), nil
}

func (e *YtdlpExtractor) searchTracks(ctx context.Context, query string) ([]*Track, error) {
	args := buildYtdlpArgs()
	res, err := newYtdlpCmd().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
		PlaylistItems(fmt.Sprintf("1-%d", e.searchLimit)).
		NoWarnings().
		IgnoreConfig().
		PreferFreeFormats().
		Run(ctx, append(args, fmt.Sprintf("ytsearch%d:%s", e.searchLimit, query))...)
	if err != nil {
		return nil, err
	}
	tracks := parseTabTracks(res.Stdout)
	if len(tracks) == 0 {
		return nil, &NoResultError{Query: query}
	}
	return tracks, nil
}

func parseTabTracks(stdout string) []*Track {
	var tracks []*Track
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 4 || ps[1] == "" || ps[1] == "NA" {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		t := NewTrack(ps[1], ps[2], ps[0])
		t.Duration = FormatDurationLabel(d)
		t.QueryType = QueryYouTubeVideo
		tracks = append(tracks, t)
	}
	return tracks
}

// Stream spawns yt-dlp writing the best audio format to a pipe. The
// subprocess lives until the reader side closes.
func (e *YtdlpExtractor) Stream(ctx context.Context, track *Track) (*ExtractedStream, error) {
	u := strings.Replace(track.URL, "music.youtube.com", "www.youtube.com", 1)
	if u == "" {
		return nil, &NoResultError{Query: track.Title}
	}

	args := append(buildYtdlpArgs(), "--ignore-config")
	execCmd := newYtdlpCmd().
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		NoCheckCertificates().
		BuildCommand(ctx, append(args, u)...)

	pr, pw := io.Pipe()
	execCmd.Stdout = pw
	execCmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		execCmd.Env = append(execCmd.Env, "http_proxy="+proxy, "https_proxy="+proxy, "all_proxy="+proxy)
	}
	execCmd.WaitDelay = 0

	var stderr bytes.Buffer
	execCmd.Stderr = &stderr

	if err := execCmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		err := execCmd.Wait()
		if err != nil {
			msg := strings.ToLower(err.Error() + stderr.String())
			// expected when the decoder closes the pipe at track end
			if !strings.Contains(msg, "broken pipe") && !strings.Contains(msg, "signal: killed") {
				sys.LogExtractor("yt-dlp stream exited: %v, stderr: %s", err, stderr.String())
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()

	return &ExtractedStream{Reader: pr}, nil
}

// Related pulls the YouTube mix playlist seeded by the finished track,
// the same radio endpoint autoplaying clients use.
func (e *YtdlpExtractor) Related(ctx context.Context, track *Track) ([]*Track, error) {
	m := youtubeVideoRe.FindStringSubmatch(track.URL)
	if m == nil {
		return nil, &NoResultError{Query: track.URL}
	}
	id := m[1]

	mixURL := "https://music.youtube.com/watch?v=" + id + "&list=RDAMVM" + id
	tracks, err := e.resolvePlaylist(ctx, mixURL)
	if err != nil || len(tracks) == 0 {
		tracks, err = e.resolvePlaylist(ctx, "https://www.youtube.com/watch?v="+id+"&list=RD"+id)
	}
	if err != nil {
		return nil, err
	}

	// the seed track itself leads the mix
	out := tracks[:0]
	for _, t := range tracks {
		if sm := youtubeVideoRe.FindStringSubmatch(t.URL); sm != nil && sm[1] == id {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
