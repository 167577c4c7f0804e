package player

import (
	"context"
	"encoding/json"

	"github.com/leeineian/hibiki/sys"
)

// SaveQueues persists every live queue's pending tracks and history so
// a restart can pick up where it left off. Called on shutdown.
func (p *Player) SaveQueues(ctx context.Context) {
	for _, q := range p.Queues() {
		if err := saveQueue(ctx, q); err != nil {
			sys.LogPlayer(sys.MsgPlayerStoreFail, err)
		}
	}
}

func saveQueue(ctx context.Context, q *Queue) error {
	tracks := q.Tracks()
	history := q.history.Tracks()
	if len(tracks) == 0 && len(history) == 0 && q.Current() == nil {
		return sys.DeleteQueue(ctx, q.GuildID)
	}

	tracksJSON, err := serializeTracks(tracks)
	if err != nil {
		return err
	}
	historyJSON, err := serializeTracks(history)
	if err != nil {
		return err
	}

	current := ""
	if c := q.Current(); c != nil {
		if data, err := c.Serialize(); err == nil {
			current = string(data)
		}
	}

	if err := sys.SaveQueue(ctx, &sys.SavedQueue{
		GuildID:      q.GuildID,
		CurrentTrack: current,
		Tracks:       tracksJSON,
		History:      historyJSON,
	}); err != nil {
		return err
	}
	sys.LogPlayer(sys.MsgPlayerQueueSaved, len(tracks), q.GuildID)
	return nil
}

// RestoreQueue loads a guild's saved state back into a fresh queue.
// The interrupted current track rejoins at the head of the pending
// sequence. Reports whether anything was restored.
func (p *Player) RestoreQueue(ctx context.Context, q *Queue) (bool, error) {
	sq, err := sys.LoadQueue(ctx, q.GuildID)
	if err != nil || sq == nil {
		return false, err
	}

	tracks, err := deserializeTracks(sq.Tracks)
	if err != nil {
		return false, err
	}
	if sq.CurrentTrack != "" {
		if current, err := DeserializeTrack([]byte(sq.CurrentTrack)); err == nil {
			tracks = append([]*Track{current}, tracks...)
		}
	}
	if err := q.AddTracks(tracks); err != nil {
		return false, err
	}

	if history, err := deserializeTracks(sq.History); err == nil {
		// restore oldest first so order survives the LIFO pushes
		for i := len(history) - 1; i >= 0; i-- {
			q.history.Push(history[i])
		}
	}

	_ = sys.DeleteQueue(ctx, q.GuildID)
	sys.LogPlayer(sys.MsgPlayerQueueRestored, len(tracks), q.GuildID)
	return len(tracks) > 0, nil
}

func serializeTracks(tracks []*Track) (string, error) {
	payload := make([]json.RawMessage, 0, len(tracks))
	for _, t := range tracks {
		data, err := t.Serialize()
		if err != nil {
			return "", err
		}
		payload = append(payload, data)
	}
	out, err := json.Marshal(payload)
	return string(out), err
}

func deserializeTracks(data string) ([]*Track, error) {
	if data == "" {
		return nil, nil
	}
	var payload []json.RawMessage
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, err
	}
	tracks := make([]*Track, 0, len(payload))
	for _, raw := range payload {
		t, err := DeserializeTrack(raw)
		if err != nil {
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
