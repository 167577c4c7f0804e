package player

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// queueMap is the guild-to-queue registry. Guilds are independent;
// the map lock covers only slot lookup, never playback state.
type queueMap struct {
	mu sync.RWMutex
	m  map[snowflake.ID]*Queue
}

func newQueueMap() *queueMap {
	return &queueMap{m: make(map[snowflake.ID]*Queue)}
}

func (qm *queueMap) get(id snowflake.ID) *Queue {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.m[id]
}

// putIfAbsent installs q unless the slot is taken; reports the winner.
func (qm *queueMap) putIfAbsent(id snowflake.ID, q *Queue) (*Queue, bool) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if existing, ok := qm.m[id]; ok {
		return existing, true
	}
	qm.m[id] = q
	return q, false
}

func (qm *queueMap) remove(id snowflake.ID, q *Queue) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if qm.m[id] == q {
		delete(qm.m, id)
	}
}

func (qm *queueMap) all() []*Queue {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	out := make([]*Queue, 0, len(qm.m))
	for _, q := range qm.m {
		out = append(out, q)
	}
	return out
}
