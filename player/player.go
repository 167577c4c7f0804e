package player

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Options are the per-player tunables. Zero values pick the defaults.
type Options struct {
	// MaxSize bounds the pending queue; <= 0 means unbounded.
	MaxSize int
	// MaxHistorySize bounds history; <= 0 means unbounded.
	MaxHistorySize int
	// DisableHistory turns history pushes into no-ops.
	DisableHistory bool
	// BufferingTimeout is the pause before swapping resources in
	// transition mode, to avoid an audible pop.
	BufferingTimeout time.Duration
	// ConnectionTimeout bounds voice readiness waits.
	ConnectionTimeout time.Duration
	// Idle-disconnect cooldowns. Timers self-cancel when playback resumes.
	LeaveOnEndCooldown   time.Duration
	LeaveOnEmptyCooldown time.Duration
	LeaveOnStopCooldown  time.Duration
	// SampleRate of the decoded PCM path.
	SampleRate int
}

func (o Options) withDefaults() Options {
	if o.BufferingTimeout <= 0 {
		o.BufferingTimeout = time.Second
	}
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = 20 * time.Second
	}
	if o.LeaveOnEndCooldown <= 0 {
		o.LeaveOnEndCooldown = 5 * time.Minute
	}
	if o.LeaveOnEmptyCooldown <= 0 {
		o.LeaveOnEmptyCooldown = 5 * time.Minute
	}
	if o.LeaveOnStopCooldown <= 0 {
		o.LeaveOnStopCooldown = 5 * time.Minute
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 48000
	}
	return o
}

// Hooks are the optional lifecycle interception points. Each nil hook
// resolves immediately with the unmodified input.
type Hooks struct {
	// OnBeforeCreateStream may supply a stream, bypassing extraction.
	OnBeforeCreateStream func(ctx context.Context, track *Track, qt QueryType, q *Queue) (*ExtractedStream, error)
	// OnAfterCreateStream may replace or re-tag the extracted stream.
	OnAfterCreateStream func(ctx context.Context, es *ExtractedStream, q *Queue, track *Track) (*ExtractedStream, error)
	// OnStreamExtracted may transform the stream before decoding.
	OnStreamExtracted func(ctx context.Context, es *ExtractedStream, track *Track, q *Queue) (*ExtractedStream, error)
	// WillPlayTrack suspends resource construction until done is called.
	// The hook may mutate cfg before releasing.
	WillPlayTrack func(q *Queue, track *Track, cfg *StreamConfig, done func())
	// WillAutoPlay selects the next track from the candidates, or nil
	// to end the queue. Suspends until done is called.
	WillAutoPlay func(q *Queue, candidates []*Track, done func(selected *Track))
}

// SinkFactory builds an output sink for a guild voice channel. Wired by
// the bot layer; tests supply a fake.
type SinkFactory func(ctx context.Context, guildID, channelID snowflake.ID) (OutputSink, error)

// Player owns all per-guild queues, the extractor registry, the shared
// event bus and the lifecycle hooks.
type Player struct {
	opts     Options
	registry *Registry
	bus      *EventBus
	hooks    Hooks
	sinks    SinkFactory
	queues   *queueMap
}

func New(opts Options, sinks SinkFactory) *Player {
	return &Player{
		opts:     opts.withDefaults(),
		registry: NewRegistry(),
		bus:      NewEventBus(),
		sinks:    sinks,
		queues:   newQueueMap(),
	}
}

// Extractors exposes the registry for extractor registration.
func (p *Player) Extractors() *Registry { return p.registry }

// Events exposes the shared bus for subscription.
func (p *Player) Events() *EventBus { return p.bus }

// SetHooks installs the lifecycle hooks. Call before playback starts.
func (p *Player) SetHooks(h Hooks) { p.hooks = h }

// Options returns the effective tunables.
func (p *Player) Options() Options { return p.opts }

// Queue returns the guild's queue, creating it on first use.
func (p *Player) Queue(guildID snowflake.ID) *Queue {
	if q := p.queues.get(guildID); q != nil {
		return q
	}
	q := newQueue(p, guildID)
	if existing, loaded := p.queues.putIfAbsent(guildID, q); loaded {
		return existing
	}
	return q
}

// ExistingQueue returns the guild's queue only if one is live.
func (p *Player) ExistingQueue(guildID snowflake.ID) *Queue {
	return p.queues.get(guildID)
}

// Queues snapshots all live queues.
func (p *Player) Queues() []*Queue {
	return p.queues.all()
}

// Search resolves a query through the extractor chain.
func (p *Player) Search(ctx context.Context, query string, qt QueryType) ([]*Track, error) {
	if qt == "" || qt == QueryAuto {
		qt = InferQueryType(query)
	}
	return p.registry.search(ctx, newExtractionSession(), query, qt)
}
