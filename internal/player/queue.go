package player

import "sync"

// EntryRole is the queue an entry currently sits in.
type EntryRole int

const (
	// RoleUpcoming holds entries not yet read from.
	RoleUpcoming EntryRole = iota
	// RoleBuffering holds entries being read ahead but not yet playing.
	RoleBuffering
)

// entryQueue groups pending entries by role. An entry appears in at most one
// role at a time; only the ingestion/orchestration path mutates the queue,
// so a single mutex suffices.
type entryQueue struct {
	mu        sync.Mutex
	upcoming  []*PlaybackEntry
	buffering []*PlaybackEntry
}

func newEntryQueue() *entryQueue {
	return &entryQueue{}
}

// Enqueue appends the entry to the given role.
func (q *entryQueue) Enqueue(e *PlaybackEntry, role EntryRole) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch role {
	case RoleUpcoming:
		q.upcoming = append(q.upcoming, e)
	case RoleBuffering:
		q.buffering = append(q.buffering, e)
	}
}

// Dequeue pops the oldest entry of the given role, nil when empty.
func (q *entryQueue) Dequeue(role EntryRole) *PlaybackEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var list *[]*PlaybackEntry
	switch role {
	case RoleUpcoming:
		list = &q.upcoming
	case RoleBuffering:
		list = &q.buffering
	default:
		return nil
	}
	if len(*list) == 0 {
		return nil
	}
	e := (*list)[0]
	*list = (*list)[1:]
	return e
}

// Peek returns the oldest entry of the given role without removing it.
func (q *entryQueue) Peek(role EntryRole) *PlaybackEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch role {
	case RoleUpcoming:
		if len(q.upcoming) > 0 {
			return q.upcoming[0]
		}
	case RoleBuffering:
		if len(q.buffering) > 0 {
			return q.buffering[0]
		}
	}
	return nil
}

// Remove deletes the entry from whichever role holds it.
func (q *entryQueue) Remove(e *PlaybackEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.upcoming = removeEntry(q.upcoming, e)
	q.buffering = removeEntry(q.buffering, e)
}

func removeEntry(list []*PlaybackEntry, e *PlaybackEntry) []*PlaybackEntry {
	for i, it := range list {
		if it == e {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// PendingIDs returns the identities of every queued entry across all roles,
// in queue order, without mutating the queue.
func (q *entryQueue) PendingIDs() []EntryID {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]EntryID, 0, len(q.upcoming)+len(q.buffering))
	for _, e := range q.buffering {
		ids = append(ids, e.ID())
	}
	for _, e := range q.upcoming {
		ids = append(ids, e.ID())
	}
	return ids
}

// RemoveAll clears every role atomically and returns the removed entries.
func (q *entryQueue) RemoveAll() []*PlaybackEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := make([]*PlaybackEntry, 0, len(q.upcoming)+len(q.buffering))
	removed = append(removed, q.buffering...)
	removed = append(removed, q.upcoming...)
	q.upcoming = nil
	q.buffering = nil
	return removed
}

// Len returns how many entries sit in the given role.
func (q *entryQueue) Len(role EntryRole) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch role {
	case RoleUpcoming:
		return len(q.upcoming)
	case RoleBuffering:
		return len(q.buffering)
	default:
		return 0
	}
}
