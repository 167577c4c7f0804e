package player

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/sys"
)

// OpusSilence is the opus frame decoders treat as silence, sent at
// track boundaries so jitter buffers drain cleanly.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

// silenceDuration is how much trailing silence pads each track.
const silenceDuration = time.Second

// ===========================
// Opus frame provider
// ===========================

// opusProvider feeds encoded frames to the voice connection at its
// pace. A nil frame from the transcoder starts the drain; the provider
// then pads silence and reports EOF.
type opusProvider struct {
	frames        chan []byte
	ctx           context.Context
	paused        func() <-chan struct{}
	draining      bool
	silenceFrames int
	framesSent    int64
	once          sync.Once
	onFinish      func()
}

func newOpusProvider(ctx context.Context, paused func() <-chan struct{}, onFinish func()) *opusProvider {
	return &opusProvider{
		frames:   make(chan []byte, 100),
		ctx:      ctx,
		paused:   paused,
		onFinish: onFinish,
	}
}

func (p *opusProvider) push(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *opusProvider) finish() {
	p.once.Do(func() {
		if p.onFinish != nil {
			p.onFinish()
		}
	})
}

// streamTime reports audible time from delivered frames, 20ms each.
func (p *opusProvider) streamTime() time.Duration {
	return time.Duration(atomic.LoadInt64(&p.framesSent)) * 20 * time.Millisecond
}

func (p *opusProvider) ProvideOpusFrame() ([]byte, error) {
	// pause gate: blocks while the channel is open
	select {
	case <-p.paused():
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	}

	if p.draining {
		target := int(silenceDuration.Milliseconds() / 20)
		if p.silenceFrames < target {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.finish()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		atomic.AddInt64(&p.framesSent, 1)
		return f, nil
	case <-p.ctx.Done():
		p.finish()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		// upstream stall, keep the connection fed
		return OpusSilence, nil
	}
}

func (p *opusProvider) Close() {}

// ===========================
// Discord output sink
// ===========================

// DiscordSink plays resources over a disgo voice connection. One sink
// per guild.
type DiscordSink struct {
	conn    voice.Conn
	guildID snowflake.ID

	mu       sync.Mutex
	events   SinkEvents
	current  *discordResource
	pauseCh  chan struct{}
	isPaused bool
}

// NewDiscordSink wraps an open voice connection.
func NewDiscordSink(conn voice.Conn, guildID snowflake.ID) *DiscordSink {
	s := &DiscordSink{conn: conn, guildID: guildID, pauseCh: make(chan struct{})}
	close(s.pauseCh)
	return s
}

// Open joins the voice channel with retry and exponential backoff.
func (s *DiscordSink) Open(ctx context.Context, channelID snowflake.ID) error {
	var lastErr error
	for i := range 5 {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			sys.LogVoice("Retrying voice connection in %v (Attempt %d/5)", backoff, i+1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := s.conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	s.conn.Close(ctx)
	return lastErr
}

func (s *DiscordSink) SetEvents(ev SinkEvents) {
	s.mu.Lock()
	s.events = ev
	s.mu.Unlock()
}

// pausedGate returns the channel that blocks while paused.
func (s *DiscordSink) pausedGate() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseCh
}

func (s *DiscordSink) Pause(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused == s.isPaused {
		return
	}
	s.isPaused = paused
	if paused {
		s.pauseCh = make(chan struct{})
	} else {
		close(s.pauseCh)
	}
}

// discordResource is one track's transcode pipeline bound to the sink.
type discordResource struct {
	sink     *DiscordSink
	track    *Track
	trans    *Transcoder
	provider *opusProvider
	cancel   context.CancelFunc
	seek     time.Duration
	src      *ExtractedStream
	stopOnce sync.Once
}

func (r *discordResource) Track() *Track { return r.track }

func (r *discordResource) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
	})
}

// CreateStream builds the transcode pipeline for an extracted source.
// Direct-URL sources use native container seeking; piped sources fall
// back to the chain's sample-dropping seeker.
func (s *DiscordSink) CreateStream(ctx context.Context, src *ExtractedStream, track *Track, cfg *StreamConfig) (Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chainCfg := *cfg
	nativeSeek := src.URL != "" && cfg.Seek > 0
	if nativeSeek {
		chainCfg.Seek = 0
	}

	trans := NewTranscoder(chainCfg.BuildChain())
	input := src.URL
	var reader io.Reader
	if src.Reader != nil {
		reader = src.Reader
		input = ""
	}
	if err := trans.OpenInput(input, reader, src.Format); err != nil {
		return nil, err
	}
	if err := trans.SetupDecoder(); err != nil {
		trans.Close()
		return nil, err
	}
	if err := trans.SetupEncoder(); err != nil {
		trans.Close()
		return nil, err
	}

	playCtx, cancel := context.WithCancel(context.Background())
	r := &discordResource{
		sink:   s,
		track:  track,
		trans:  trans,
		cancel: cancel,
		src:    src,
	}
	if nativeSeek {
		r.seek = cfg.Seek
	}
	r.provider = newOpusProvider(playCtx, s.pausedGate, func() {
		s.onResourceDone(r)
	})
	return r, nil
}

// PlayStream dispatches the resource: installs the opus provider and
// starts the transcode goroutine.
func (s *DiscordSink) PlayStream(ctx context.Context, res Resource) error {
	r, ok := res.(*discordResource)
	if !ok {
		return ErrInvalidArg
	}

	s.mu.Lock()
	old := s.current
	s.current = r
	s.mu.Unlock()
	if old != nil && old != r {
		old.Stop()
	}

	if err := s.conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		sys.LogVoice("SetSpeaking failed in guild %s: %v", s.guildID, err)
	}
	s.conn.SetOpusFrameProvider(r.provider)

	go func() {
		defer recoverPanic("transcode")
		defer r.trans.Close()
		defer r.src.Close()

		if r.seek > 0 {
			go func() {
				// native seek once the transcode loop is receiving
				if _, err := r.trans.Seek(int64(r.seek.Seconds()*48000), 0); err != nil {
					sys.LogPlayer("native seek failed: %v", err)
				}
			}()
		}

		playCtx := r.providerContext()
		err := r.trans.Transcode(playCtx, r.provider.push)
		if err != nil && !IsBenignClose(err) && playCtx.Err() == nil {
			s.mu.Lock()
			ev := s.events
			s.mu.Unlock()
			if ev.OnError != nil {
				ev.OnError(r, err)
			}
		}
		// transcode done; the provider drains its silence then finishes
	}()

	s.mu.Lock()
	ev := s.events
	s.mu.Unlock()
	if ev.OnStart != nil {
		ev.OnStart(r)
	}
	return nil
}

func (r *discordResource) providerContext() context.Context {
	return r.provider.ctx
}

// onResourceDone fires when the provider hits EOF, either from natural
// drain or a stop.
func (s *DiscordSink) onResourceDone(r *discordResource) {
	r.cancel()
	s.mu.Lock()
	if s.current == r {
		s.current = nil
		s.conn.SetOpusFrameProvider(nil)
	}
	ev := s.events
	s.mu.Unlock()
	if ev.OnFinish != nil {
		ev.OnFinish(r)
	}
}

// StreamTime reports how long the current resource has been audible.
func (s *DiscordSink) StreamTime() time.Duration {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.provider.streamTime()
}

func (s *DiscordSink) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	r := s.current
	s.current = nil
	s.mu.Unlock()
	if r != nil {
		r.Stop()
	}
	s.conn.Close(ctx)
	return nil
}
