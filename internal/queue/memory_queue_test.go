package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(recipient uuid.UUID, content string) Entry {
	id := uuid.New()
	e := Entry{MessageID: id, RecipientID: recipient}
	e.Payload.MessageID = id
	e.Payload.Content = content
	return e
}

func contents(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Payload.Content)
	}
	return out
}

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(DefaultOptions())
	bob := uuid.New()

	first, second, third := entry(bob, "m1"), entry(bob, "m2"), entry(bob, "m3")
	for _, e := range []Entry{first, second, third} {
		_, err := q.Enqueue(ctx, e)
		require.NoError(t, err)
	}
	_, err := q.Enqueue(ctx, second)
	require.NoError(t, err)

	pending, err := q.Pending(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, contents(pending))

	require.NoError(t, q.Ack(ctx, bob, second.MessageID))
	pending, _ = q.Pending(ctx, bob)
	assert.Equal(t, []string{"m1", "m3"}, contents(pending))

	require.NoError(t, q.Ack(ctx, bob, first.MessageID))
	require.NoError(t, q.Ack(ctx, bob, third.MessageID))
	n, _ := q.Len(ctx, bob)
	assert.Zero(t, n)
}

func TestMemoryQueueEvictsOldest(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{MaxPerUser: 2})
	bob := uuid.New()

	var evicted int
	for _, c := range []string{"m1", "m2", "m3"} {
		n, err := q.Enqueue(ctx, entry(bob, c))
		require.NoError(t, err)
		evicted += n
	}

	assert.Equal(t, 1, evicted)
	pending, _ := q.Pending(ctx, bob)
	assert.Equal(t, []string{"m2", "m3"}, contents(pending))
}

func TestMemoryQueueExpiresEntries(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(Options{MaxPerUser: 10, TTL: time.Hour})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	bob := uuid.New()

	_, _ = q.Enqueue(ctx, entry(bob, "old"))
	now = now.Add(30 * time.Minute)
	_, _ = q.Enqueue(ctx, entry(bob, "new"))
	now = now.Add(45 * time.Minute)

	pending, err := q.Pending(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, contents(pending))
}

func TestMemoryQueueIsolatesUsers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(DefaultOptions())
	alice, bob := uuid.New(), uuid.New()
	_, _ = q.Enqueue(ctx, entry(alice, "for alice"))

	pending, _ := q.Pending(ctx, bob)
	assert.Empty(t, pending)
	n, _ := q.Len(ctx, alice)
	assert.Equal(t, 1, n)
}
