package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue keeps queues in process memory. They do not survive a restart;
// the reconnect catch-up pass covers that gap.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]Entry
	opts    Options
	now     func() time.Time
}

func NewMemoryQueue(opts Options) *MemoryQueue {
	if opts.MaxPerUser <= 0 {
		opts.MaxPerUser = DefaultOptions().MaxPerUser
	}
	return &MemoryQueue{
		entries: make(map[uuid.UUID][]Entry),
		opts:    opts,
		now:     time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, e Entry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.now()
	}
	list := q.live(e.RecipientID)
	for _, existing := range list {
		if existing.MessageID == e.MessageID {
			return 0, nil
		}
	}

	evicted := 0
	if over := len(list) + 1 - q.opts.MaxPerUser; over > 0 {
		evicted = over
		list = list[over:]
	}
	q.entries[e.RecipientID] = append(list, e)
	return evicted, nil
}

func (q *MemoryQueue) Pending(_ context.Context, userID uuid.UUID) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.live(userID)...), nil
}

func (q *MemoryQueue) Ack(_ context.Context, userID, messageID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := q.entries[userID]
	for i, e := range list {
		if e.MessageID == messageID {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(q.entries, userID)
		return nil
	}
	q.entries[userID] = list
	return nil
}

func (q *MemoryQueue) Len(_ context.Context, userID uuid.UUID) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live(userID)), nil
}

// live drops expired entries from the head of the user's queue.
func (q *MemoryQueue) live(userID uuid.UUID) []Entry {
	list := q.entries[userID]
	if q.opts.TTL <= 0 {
		return list
	}
	cutoff := q.now().Add(-q.opts.TTL)
	i := 0
	for i < len(list) && list[i].EnqueuedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		list = list[i:]
		if len(list) == 0 {
			delete(q.entries, userID)
		} else {
			q.entries[userID] = list
		}
	}
	return list
}
