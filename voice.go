package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/hibiki/player"
	"github.com/leeineian/hibiki/player/dsp"
	"github.com/leeineian/hibiki/sys"
)

// ============================================================================
// Voice / Music Surface
// ============================================================================

const (
	MsgVoiceNotInChannel   = "Join a voice channel first."
	MsgVoiceNothingPlaying = "Not playing anything."
	MsgVoiceNotInGuild     = "This command only works in a guild."
	MsgVoiceNoResults      = "No results for: %s"
	MsgVoiceSearchFail     = "Search failed: %v"
	MsgVoiceJoinFail       = "Failed to join voice: %v"
	MsgVoicePlayFail       = "Playback failed: %v"
	MsgVoiceStopped        = "🛑 Stopped and disconnected."
	MsgVoiceSkipped        = "⏭️ Skipped: %s"
	MsgVoiceSkipEmpty      = "Nothing to skip."
	MsgVoicePrevious       = "⏮️ Playing previous track."
	MsgVoicePreviousEmpty  = "No previous track."
	MsgVoicePaused         = "⏸️ Paused."
	MsgVoiceResumed        = "▶️ Resumed."
	MsgVoiceSeeked         = "%s to `%s`."
	MsgVoiceSeekFail       = "Seek failed: %v"
	MsgVoiceBadDuration    = "Invalid duration format (use 10s, 1m etc)."
	MsgVoiceVolumeSet      = "🔊 Volume set to **%d%%**."
	MsgVoiceVolumeFail     = "Volume change failed: %v"
	MsgVoiceShuffleOn      = "🔀 Shuffle enabled."
	MsgVoiceShuffleOff     = "Shuffle disabled."
	MsgVoiceRepeatSet      = "🔁 Repeat mode: **%s**"
	MsgVoiceFilterOn       = "🎛️ Enabled filter **%s**."
	MsgVoiceFilterOff      = "Disabled filter **%s**."
	MsgVoiceFilterFail     = "Unknown filter: %s"
	MsgVoiceRemoved        = "🗑️ Removed: %s"
	MsgVoiceRemoveFail     = "Remove failed: %v"
	MsgVoiceJumped         = "⏭️ Jumped to position %d."
	MsgVoiceJumpFail       = "Jump failed: %v"
	MsgVoiceMoved          = "Moved track from %d to %d."
	MsgVoiceMoveFail       = "Move failed: %v"
)

func init() {
	OnClientReady(func(ctx context.Context, client bot.Client) {
		GetMusicPlayer(client)

		RegisterDaemon(sys.LogPlayer, func(ctx context.Context) (bool, func(), func()) {
			return true, func() {}, func() {
				shutdownMusicPlayer()
			}
		})
	})

	RegisterVoiceStateUpdateHandler(onMusicVoiceStateUpdate)

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "voice",
		Description: "Voice System",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play audio from a URL or search query",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "The URL or song name to play",
						Required:     true,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionString{
						Name:         "queue",
						Description:  "Playback mode (now, next, or a number)",
						Required:     false,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionBool{
						Name:        "autoplay",
						Description: "Keep playing related tracks when the queue empties",
						Required:    false,
					},
					discord.ApplicationCommandOptionBool{
						Name:        "loop",
						Description: "Loop the playback",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop audio and leave",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the current queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "previous",
				Description: "Play the previous track from history",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause or resume playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "forward",
				Description: "Forward the track by a duration",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "duration",
						Description: "Duration to seek (e.g. 10s, 1m)",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "rewind",
				Description: "Rewind the track by a duration",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "duration",
						Description: "Duration to seek (e.g. 10s, 1m)",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "volume",
				Description: "Adjust the volume of the current session",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "set",
						Description: "Volume percentage (0-200)",
						Required:    true,
						MinValue:    intPtr(0),
						MaxValue:    intPtr(200),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Toggle queue shuffle",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "repeat",
				Description: "Set the repeat mode",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "mode",
						Description: "Repeat mode",
						Required:    true,
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "Off", Value: "off"},
							{Name: "Track", Value: "track"},
							{Name: "Queue", Value: "queue"},
							{Name: "Autoplay", Value: "autoplay"},
						},
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "filter",
				Description: "Toggle an audio filter preset",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "name",
						Description:  "Filter preset name",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a track from the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Queue position to remove (1-based)",
						Required:    true,
						MinValue:    intPtr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "jump",
				Description: "Jump to a track in the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Queue position to jump to (1-based)",
						Required:    true,
						MinValue:    intPtr(1),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "move",
				Description: "Move a track within the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "from",
						Description: "Current position (1-based)",
						Required:    true,
						MinValue:    intPtr(1),
					},
					discord.ApplicationCommandOptionInt{
						Name:        "to",
						Description: "Target position (1-based)",
						Required:    true,
						MinValue:    intPtr(1),
					},
				},
			},
		},
	}, handleVoice)

	RegisterAutocompleteHandler("voice", handleMusicAutocomplete)
}

// ===========================
// Player Singleton
// ===========================

var (
	musicPlayer *player.Player
	musicClient bot.Client
	musicOnce   sync.Once

	musicMu        sync.Mutex
	musicStates    = map[snowflake.ID]*guildMusicState{}
	restoredGuilds = map[snowflake.ID]bool{}

	searchCache = &queryCache{items: map[string]cachedSearch{}}
)

// guildMusicState tracks presentation state the queue itself does not
// own: the channel currently showing our voice status and whether the
// last pause was triggered by the empty-channel watcher.
type guildMusicState struct {
	channelID  snowflake.ID
	status     string
	autoPaused bool
}

// ActivePlayer returns the music player, nil before the client is ready.
func ActivePlayer() *player.Player {
	musicMu.Lock()
	defer musicMu.Unlock()
	return musicPlayer
}

// GetMusicPlayer returns the singleton player, creating it on first use.
func GetMusicPlayer(client bot.Client) *player.Player {
	musicOnce.Do(func() {
		cfg := sys.GlobalConfig

		p := player.New(player.Options{
			MaxSize:            cfg.MaxQueueSize,
			MaxHistorySize:     cfg.MaxHistorySize,
			BufferingTimeout:   cfg.BufferingTimeout,
			ConnectionTimeout:  cfg.ConnectionTimeout,
			LeaveOnEndCooldown: cfg.LeaveOnEndCooldown,
		}, func(ctx context.Context, guildID, channelID snowflake.ID) (player.OutputSink, error) {
			conn := client.VoiceManager.CreateConn(guildID)
			sink := player.NewDiscordSink(conn, guildID)
			if err := sink.Open(ctx, channelID); err != nil {
				return nil, err
			}
			return sink, nil
		})

		reg := p.Extractors()
		reg.Register(player.NewYtdlpExtractor())
		reg.Register(player.NewYtSearchExtractor())
		reg.Register(player.NewYtMusicExtractor())
		reg.Register(player.NewLocalFileExtractor())

		p.Events().Subscribe(func(ev player.Event) { onPlayerEvent(client, ev) })

		safeGo(func() { searchCache.gcLoop(AppContext) })

		musicMu.Lock()
		musicPlayer = p
		musicClient = client
		musicMu.Unlock()
	})
	return ActivePlayer()
}

// shutdownMusicPlayer persists all queues and tears down the sinks.
func shutdownMusicPlayer() {
	p := ActivePlayer()
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p.SaveQueues(ctx)
	for _, q := range p.Queues() {
		if cid := statusChannel(q); cid != 0 {
			_ = SetVoiceStatus(musicClient, cid, "")
		}
		_ = q.Disconnect(ctx)
	}
}

// ===========================
// Player Events
// ===========================

func onPlayerEvent(client bot.Client, ev player.Event) {
	q := ev.Queue
	if q == nil {
		return
	}
	switch ev.Type {
	case player.EventPlayerStart:
		if ev.Track != nil {
			sys.LogPlayer("Now playing %q in guild %s", ev.Track.Title, q.GuildID)
			updateVoiceStatus(client, q, "⏵ "+ev.Track.Title)
		}
	case player.EventPlayerFinish:
		if ev.Track != nil {
			sys.LogPlayer("Finished %q in guild %s", ev.Track.Title, q.GuildID)
		}
	case player.EventPlayerError:
		sys.LogPlayer("Playback error in guild %s: %v", q.GuildID, ev.Err)
	case player.EventEmptyQueue:
		sys.LogPlayer("Queue empty in guild %s", q.GuildID)
		updateVoiceStatus(client, q, "")
	case player.EventDisconnect, player.EventQueueDelete:
		updateVoiceStatus(client, q, "")
		musicMu.Lock()
		delete(musicStates, q.GuildID)
		musicMu.Unlock()
	}
}

// statusChannel resolves where the voice status currently lives. The
// tracked channel wins over the queue's connect-time channel so status
// follows the bot across moves.
func statusChannel(q *player.Queue) snowflake.ID {
	musicMu.Lock()
	defer musicMu.Unlock()
	if st := musicStates[q.GuildID]; st != nil && st.channelID != 0 {
		return st.channelID
	}
	return q.ChannelID()
}

func guildState(guildID snowflake.ID) *guildMusicState {
	st := musicStates[guildID]
	if st == nil {
		st = &guildMusicState{}
		musicStates[guildID] = st
	}
	return st
}

func updateVoiceStatus(client bot.Client, q *player.Queue, status string) {
	if len([]rune(status)) > 128 {
		status = TruncateCenter(status, 128)
	}

	musicMu.Lock()
	st := guildState(q.GuildID)
	if st.channelID == 0 {
		st.channelID = q.ChannelID()
	}
	cid := st.channelID
	if cid == 0 || st.status == status {
		musicMu.Unlock()
		return
	}
	st.status = status
	musicMu.Unlock()

	safeGo(func() {
		if err := SetVoiceStatus(client, cid, status); err != nil {
			sys.LogVoice("Failed to set voice status in channel %s: %v", cid, err)
		}
	})
}

// ===========================
// Query Cache
// ===========================

const searchCacheTTL = 2 * time.Minute

type queryCache struct {
	mu    sync.RWMutex
	items map[string]cachedSearch
}

type cachedSearch struct {
	tracks    []*player.Track
	expiresAt time.Time
}

func (c *queryCache) get(query string) []*player.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[query]
	if !ok || time.Now().After(item.expiresAt) {
		return nil
	}
	return item.tracks
}

func (c *queryCache) put(query string, tracks []*player.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[query] = cachedSearch{tracks: tracks, expiresAt: time.Now().Add(searchCacheTTL)}
}

func (c *queryCache) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for q, item := range c.items {
				if now.After(item.expiresAt) {
					delete(c.items, q)
				}
			}
			c.mu.Unlock()
		}
	}
}

// ===========================
// Command Handlers
// ===========================

// handleVoice routes voice subcommands to their respective handlers
func handleVoice(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	if event.GuildID() == nil {
		_ = RespondInteractionV2(*event.Client(), event, MsgVoiceNotInGuild, true)
		return
	}
	switch *data.SubCommandName {
	case "play":
		handleMusicPlay(event, data)
	case "stop":
		handleMusicStop(event)
	case "queue":
		handleMusicQueue(event)
	case "skip":
		handleMusicSkip(event)
	case "previous":
		handleMusicPrevious(event)
	case "pause":
		handleMusicPause(event)
	case "forward":
		handleMusicSeek(event, data, 1)
	case "rewind":
		handleMusicSeek(event, data, -1)
	case "volume":
		handleMusicVolume(event, data)
	case "shuffle":
		handleMusicShuffle(event)
	case "repeat":
		handleMusicRepeat(event, data)
	case "filter":
		handleMusicFilter(event, data)
	case "remove":
		handleMusicRemove(event, data)
	case "jump":
		handleMusicJump(event, data)
	case "move":
		handleMusicMove(event, data)
	}
}

// existingQueue fetches the live queue for the interaction's guild,
// responding ephemerally when there is none.
func existingQueue(event *events.ApplicationCommandInteractionCreate) *player.Queue {
	p := ActivePlayer()
	if p == nil {
		_ = RespondInteractionV2(*event.Client(), event, MsgVoiceNothingPlaying, true)
		return nil
	}
	q := p.ExistingQueue(*event.GuildID())
	if q == nil {
		_ = RespondInteractionV2(*event.Client(), event, MsgVoiceNothingPlaying, true)
		return nil
	}
	return q
}

func parseQueueMode(data discord.SlashCommandInteractionData) (mode string, pos int) {
	qv, _ := data.OptString("queue")
	switch qv {
	case "":
	case "now", "next":
		mode = qv
	default:
		pos, _ = strconv.Atoi(qv)
	}
	return
}

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")
	mode, pos := parseQueueMode(data)
	autoplay, hasAutoplay := data.OptBool("autoplay")
	loop, hasLoop := data.OptBool("loop")

	client := *event.Client()
	guildID := *event.GuildID()
	user := event.User()

	voiceState, ok := client.Caches.VoiceState(guildID, user.ID)
	if !ok || voiceState.ChannelID == nil {
		_ = RespondInteractionV2(client, event, MsgVoiceNotInChannel, true)
		return
	}
	channelID := *voiceState.ChannelID

	_ = event.DeferCreateMessage(false)

	sys.LogVoice("User %s (%s) requested playback: %s", user.Username, user.ID, query)

	p := GetMusicPlayer(client)
	q := p.Queue(guildID)
	restoreSavedQueue(q)

	searchCtx, searchCancel := context.WithTimeout(context.Background(), 60*time.Second)
	tracks, err := p.Search(searchCtx, query, player.QueryAuto)
	searchCancel()
	if err != nil {
		_ = EditInteractionV2(client, event, fmt.Sprintf(MsgVoiceSearchFail, err))
		return
	}
	if len(tracks) == 0 {
		_ = EditInteractionV2(client, event, fmt.Sprintf(MsgVoiceNoResults, Truncate(query, 200)))
		return
	}
	for _, t := range tracks {
		t.RequestedBy = user.Username
	}

	if q.Sink() == nil {
		connCtx, connCancel := context.WithTimeout(context.Background(), p.Options().ConnectionTimeout)
		err := q.Connect(connCtx, channelID)
		connCancel()
		if err != nil {
			_ = EditInteractionV2(client, event, fmt.Sprintf(MsgVoiceJoinFail, err))
			return
		}
		musicMu.Lock()
		guildState(guildID).channelID = channelID
		musicMu.Unlock()
	}

	if hasAutoplay {
		if autoplay {
			q.SetRepeatMode(player.RepeatAutoplay)
		} else if q.RepeatMode() == player.RepeatAutoplay {
			q.SetRepeatMode(player.RepeatOff)
		}
	}
	if hasLoop {
		if loop {
			q.SetRepeatMode(player.RepeatTrack)
		} else if q.RepeatMode() == player.RepeatTrack {
			q.SetRepeatMode(player.RepeatOff)
		}
	}

	first, rest := tracks[0], tracks[1:]
	playing := q.Current() != nil

	playCtx, playCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer playCancel()

	switch {
	case mode == "now":
		err = q.Node().Play(playCtx, first, player.PlayOptions{})
		if err == nil && len(rest) > 0 {
			err = q.AddTracks(rest)
		}
	case mode == "next" && playing:
		for i := len(tracks) - 1; i >= 0 && err == nil; i-- {
			err = q.Prepend(tracks[i])
		}
	case pos > 0 && playing:
		for i, t := range tracks {
			if err = q.InsertTrack(t, pos-1+i); err != nil {
				break
			}
		}
	default:
		err = q.Node().Play(playCtx, first, player.PlayOptions{Enqueue: true})
		if err == nil && len(rest) > 0 {
			err = q.AddTracks(rest)
		}
	}
	if err != nil {
		_ = EditInteractionV2(client, event, fmt.Sprintf(MsgVoicePlayFail, err))
		return
	}

	_ = EditInteractionContainerV2(client, event, buildPlayResponse(tracks, mode, pos, q))
}

// buildPlayResponse renders the queued-track confirmation.
func buildPlayResponse(tracks []*player.Track, mode string, pos int, q *player.Queue) Container {
	t := tracks[0]
	title := t.Title
	if title == "" {
		title = t.URL
	}

	prefix := "Added to queue:"
	if len(tracks) > 1 {
		prefix = fmt.Sprintf("📂 Added **%d** tracks to queue:", len(tracks))
		switch mode {
		case "now":
			prefix = fmt.Sprintf("▶️ Playing Now (**%d** tracks):", len(tracks))
		case "next":
			prefix = fmt.Sprintf("⏭️ Added **%d** tracks to play next:", len(tracks))
		}
	} else {
		switch mode {
		case "now":
			prefix = "▶️ Playing Now (Skipped Current):"
		case "next":
			prefix = "⏭️ Next up:"
		}
		if pos > 0 {
			prefix = "Added to queue at position " + strconv.Itoa(pos) + ":"
		}
	}

	line := fmt.Sprintf("[%s](%s)", title, t.URL)
	if t.Author != "" {
		line += " · " + t.Author
	}
	if t.Duration != "" {
		line += " `" + t.Duration + "`"
	}

	var suffixes []string
	switch q.RepeatMode() {
	case player.RepeatAutoplay:
		suffixes = append(suffixes, "Autoplay")
	case player.RepeatTrack:
		suffixes = append(suffixes, "Looping")
	case player.RepeatQueue:
		suffixes = append(suffixes, "Repeat Queue")
	}
	if q.Shuffled() {
		suffixes = append(suffixes, "Shuffle")
	}
	if len(suffixes) > 0 {
		line += "\n-# " + strings.Join(suffixes, " · ")
	}

	body := prefix + "\n" + line
	if t.Thumbnail != "" {
		return NewV2Container(NewSection(body, NewThumbnail(t.Thumbnail)))
	}
	return NewV2Container(NewTextDisplay(body))
}

func handleMusicStop(event *events.ApplicationCommandInteractionCreate) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	client := *event.Client()
	user := event.User()
	sys.LogVoice("User %s (%s) stopped playback in guild %s", user.Username, user.ID, q.GuildID)

	q.Node().Stop()
	updateVoiceStatus(client, q, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = q.Disconnect(ctx)
	q.Delete()

	_ = RespondInteractionV2(client, event, MsgVoiceStopped, false)
}

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	title := ""
	if current := q.Current(); current != nil {
		title = current.Title
	}
	if !q.Node().Skip() {
		_ = RespondInteractionV2(*event.Client(), event, MsgVoiceSkipEmpty, true)
		return
	}
	_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceSkipped, title), false)
}

func handleMusicPrevious(event *events.ApplicationCommandInteractionCreate) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	_ = event.DeferCreateMessage(false)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := q.Node().Previous(ctx, true); err != nil {
		_ = EditInteractionV2(*event.Client(), event, MsgVoicePreviousEmpty)
		return
	}
	_ = EditInteractionV2(*event.Client(), event, MsgVoicePrevious)
}

func handleMusicPause(event *events.ApplicationCommandInteractionCreate) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	node := q.Node()
	paused := !node.Paused()
	node.Pause(paused)

	// manual pause overrides the empty-channel watcher
	musicMu.Lock()
	guildState(q.GuildID).autoPaused = false
	musicMu.Unlock()

	msg := MsgVoiceResumed
	if paused {
		msg = MsgVoicePaused
	}
	_ = RespondInteractionV2(*event.Client(), event, msg, false)
}

func handleMusicSeek(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, factor int) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	d, err := time.ParseDuration(data.String("duration"))
	if err != nil {
		_ = RespondInteractionV2(*event.Client(), event, MsgVoiceBadDuration, true)
		return
	}

	node := q.Node()
	target := node.Position() + time.Duration(factor)*d
	if target < 0 {
		target = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := node.Seek(ctx, target); err != nil {
		_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceSeekFail, err), true)
		return
	}
	action := "⏩ Forwarded"
	if factor < 0 {
		action = "⏪ Rewound"
	}
	_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceSeeked, action, player.FormatDurationLabel(target)), false)
}

func handleMusicVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	vol := data.Int("set")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := q.SetVolume(ctx, vol); err != nil {
		_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceVolumeFail, err), true)
		return
	}
	_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceVolumeSet, vol), false)
}

func handleMusicShuffle(event *events.ApplicationCommandInteractionCreate) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	msg := MsgVoiceShuffleOff
	if q.ToggleShuffle() {
		msg = MsgVoiceShuffleOn
	}
	_ = RespondInteractionV2(*event.Client(), event, msg, false)
}

func handleMusicRepeat(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	mode := player.RepeatOff
	switch data.String("mode") {
	case "track":
		mode = player.RepeatTrack
	case "queue":
		mode = player.RepeatQueue
	case "autoplay":
		mode = player.RepeatAutoplay
	}
	q.SetRepeatMode(mode)
	_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceRepeatSet, mode), false)
}

func handleMusicFilter(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	name := data.String("name")

	_ = event.DeferCreateMessage(false)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	enabled, err := q.TogglePreset(ctx, name)
	if err != nil {
		_ = EditInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceFilterFail, name))
		return
	}
	msg := fmt.Sprintf(MsgVoiceFilterOff, name)
	if enabled {
		msg = fmt.Sprintf(MsgVoiceFilterOn, name)
	}
	if active := q.Presets(); len(active) > 0 {
		msg += "\n-# Active: " + strings.Join(active, ", ")
	}
	_ = EditInteractionV2(*event.Client(), event, msg)
}

func handleMusicRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	t, err := q.RemoveTrack(data.Int("position") - 1)
	if err != nil {
		_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceRemoveFail, err), true)
		return
	}
	_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceRemoved, t.Title), false)
}

func handleMusicJump(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	pos := data.Int("position")
	if err := q.Node().Jump(pos - 1); err != nil {
		_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceJumpFail, err), true)
		return
	}
	_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceJumped, pos), false)
}

func handleMusicMove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	from, to := data.Int("from"), data.Int("to")
	if err := q.Node().Move(from-1, to-1); err != nil {
		_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceMoveFail, err), true)
		return
	}
	_ = RespondInteractionV2(*event.Client(), event, fmt.Sprintf(MsgVoiceMoved, from, to), false)
}

// handleMusicQueue renders the current queue as a V2 container.
func handleMusicQueue(event *events.ApplicationCommandInteractionCreate) {
	q := existingQueue(event)
	if q == nil {
		return
	}
	client := *event.Client()
	node := q.Node()

	var components []any

	if current := q.Current(); current != nil {
		line := fmt.Sprintf("**Now Playing:**\n[%s](%s)", current.Title, current.URL)
		if current.Author != "" {
			line += " · " + current.Author
		}
		if current.Duration != "" {
			line += fmt.Sprintf("\n`%s / %s`", player.FormatDurationLabel(node.Position()), current.Duration)
		}
		if current.RequestedBy != "" {
			line += "\n-# Requested by " + current.RequestedBy
		}
		if current.Thumbnail != "" {
			components = append(components, NewSection(line, NewThumbnail(current.Thumbnail)))
		} else {
			components = append(components, NewTextDisplay(line))
		}
		components = append(components, NewSeparator(true))
	}

	components = append(components, NewTextDisplay("**Queue:**"))
	tracks := q.Tracks()
	if len(tracks) == 0 {
		if q.RepeatMode() == player.RepeatAutoplay {
			components = append(components, NewTextDisplay("_Empty (Autoplay Ready)_"))
		} else {
			components = append(components, NewTextDisplay("_Empty_"))
		}
	} else {
		var list strings.Builder
		for i, t := range tracks {
			if i >= 10 {
				list.WriteString(fmt.Sprintf("\n*...and %d more*", len(tracks)-10))
				break
			}
			list.WriteString(fmt.Sprintf("`%d.` [%s](%s)", i+1, Truncate(t.Title, 80), t.URL))
			if t.Duration != "" {
				list.WriteString(" `" + t.Duration + "`")
			}
			list.WriteString("\n")
		}
		components = append(components, NewTextDisplay(list.String()))
	}

	var footer []string
	if mode := q.RepeatMode(); mode != player.RepeatOff {
		footer = append(footer, "Repeat: "+mode.String())
	}
	if q.Shuffled() {
		footer = append(footer, "Shuffle: On")
	}
	if active := q.Presets(); len(active) > 0 {
		footer = append(footer, "Filters: "+strings.Join(active, ", "))
	}
	if len(footer) > 0 {
		components = append(components, NewSeparator(true))
		components = append(components, NewTextDisplay("-# "+strings.Join(footer, " · ")))
	}

	if err := RespondInteractionContainerV2(client, event, NewV2Container(components...), true); err != nil {
		sys.LogVoice("Failed to display queue: %v", err)
	}
}

// ===========================
// Autocomplete
// ===========================

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	switch focused.Name {
	case "queue":
		v := event.Data.String("queue")
		choices := []discord.AutocompleteChoice{
			discord.AutocompleteChoiceString{Name: "Play Now", Value: "now"},
			discord.AutocompleteChoiceString{Name: "Play Next", Value: "next"},
		}
		if v != "" {
			if _, err := strconv.Atoi(v); err == nil {
				choices = append([]discord.AutocompleteChoice{
					discord.AutocompleteChoiceString{Name: "Position: " + v, Value: v},
				}, choices...)
			}
		}
		_ = event.AutocompleteResult(choices)
	case "name":
		v := strings.TrimSpace(event.Data.String("name"))
		var choices []discord.AutocompleteChoice
		for _, name := range dsp.PresetNames() {
			if v != "" && !ContainsLower(name, v) {
				continue
			}
			choices = append(choices, discord.AutocompleteChoiceString{Name: name, Value: name})
			if len(choices) >= 25 {
				break
			}
		}
		_ = event.AutocompleteResult(choices)
	case "query":
		handleQueryAutocomplete(event)
	}
}

func handleQueryAutocomplete(event *events.AutocompleteInteractionCreate) {
	query := strings.TrimSpace(event.Data.String("query"))
	if query == "" || strings.Contains(query, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}

	p := ActivePlayer()
	if p == nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	tracks := searchCache.get(query)
	if tracks == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		var err error
		tracks, err = p.Search(ctx, query, player.QueryYouTubeSearch)
		if err != nil {
			_ = event.AutocompleteResult(nil)
			return
		}
		searchCache.put(query, tracks)
	}

	var choices []discord.AutocompleteChoice
	for i, t := range tracks {
		if i >= 25 {
			break
		}
		name := t.Title
		if t.Author != "" {
			name += " · " + t.Author
		}
		value := t.URL
		if len(value) > 100 {
			value = Truncate(t.Title, 100)
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  Truncate(name, 100),
			Value: value,
		})
	}
	_ = event.AutocompleteResult(choices)
}

// ===========================
// Voice State Tracking
// ===========================

func onMusicVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	p := ActivePlayer()
	if p == nil {
		return
	}
	q := p.ExistingQueue(event.VoiceState.GuildID)
	if q == nil {
		return
	}
	client := *event.Client()
	if event.VoiceState.UserID == client.ID() {
		handleBotVoiceStateUpdate(client, event, q)
		return
	}
	updateAutoPauseState(client, event, q)
}

func handleBotVoiceStateUpdate(client bot.Client, event *events.GuildVoiceStateUpdate, q *player.Queue) {
	guildID := event.VoiceState.GuildID

	if event.VoiceState.ChannelID == nil {
		sys.LogVoice("Bot disconnected by external event in guild %s", guildID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Disconnect(ctx)
		q.Delete()
		musicMu.Lock()
		delete(musicStates, guildID)
		musicMu.Unlock()
		return
	}

	newChannelID := *event.VoiceState.ChannelID
	musicMu.Lock()
	st := guildState(guildID)
	if st.channelID == 0 {
		st.channelID = q.ChannelID()
	}
	if st.channelID == newChannelID {
		musicMu.Unlock()
		return
	}
	oldChannelID, status := st.channelID, st.status
	st.channelID = newChannelID
	musicMu.Unlock()

	sys.LogVoice("Bot moved from %s to %s in guild %s", oldChannelID, newChannelID, guildID)
	safeGo(func() {
		if oldChannelID != 0 {
			_ = SetVoiceStatus(client, oldChannelID, "")
		}
		if status != "" {
			_ = SetVoiceStatus(client, newChannelID, status)
		}
	})
}

// updateAutoPauseState pauses playback when no undeafened humans remain
// in the channel and resumes when one returns. Manual pauses stick.
// While auto-paused, the empty-channel cooldown counts down toward a
// disconnect; a returning listener cancels it.
func updateAutoPauseState(client bot.Client, event *events.GuildVoiceStateUpdate, q *player.Queue) {
	channelID := statusChannel(q)
	if channelID == 0 {
		return
	}

	humanCount := 0
	for state := range client.Caches.VoiceStates(event.VoiceState.GuildID) {
		if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == client.ID() {
			continue
		}
		if state.SelfDeaf {
			continue
		}
		if m, ok := client.Caches.Member(event.VoiceState.GuildID, state.UserID); !ok || !m.User.Bot {
			humanCount++
		}
	}

	node := q.Node()
	musicMu.Lock()
	st := guildState(q.GuildID)
	switch {
	case humanCount == 0 && !node.Paused():
		st.autoPaused = true
		musicMu.Unlock()
		sys.LogVoice("Pausing playback in guild %s (No humans)", q.GuildID)
		node.Pause(true)
		node.ScheduleEmptyDisconnect()
	case humanCount > 0 && st.autoPaused && node.Paused():
		st.autoPaused = false
		musicMu.Unlock()
		sys.LogVoice("Resuming playback in guild %s", q.GuildID)
		node.CancelDisconnect()
		node.Pause(false)
	default:
		musicMu.Unlock()
	}
}

// ===========================
// Queue Persistence
// ===========================

// restoreSavedQueue reloads a previously persisted queue the first time
// a guild's queue is touched after startup.
func restoreSavedQueue(q *player.Queue) {
	musicMu.Lock()
	if restoredGuilds[q.GuildID] {
		musicMu.Unlock()
		return
	}
	restoredGuilds[q.GuildID] = true
	musicMu.Unlock()

	p := ActivePlayer()
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.RestoreQueue(ctx, q); err != nil {
		sys.LogPlayer(sys.MsgPlayerStoreFail, err)
	}
}
