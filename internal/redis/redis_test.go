package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/user"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/queue"
	"sentinal-relay/internal/redis"
	"sentinal-relay/internal/repository"
	"sentinal-relay/internal/repository/memory"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func entry(recipient uuid.UUID, content string) queue.Entry {
	id := uuid.New()
	return queue.Entry{
		MessageID:   id,
		RecipientID: recipient,
		Payload:     events.MessagePayload{MessageID: id, Content: content},
	}
}

func TestOfflineQueueOrderAckAndIdempotence(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	q := redis.NewOfflineQueue(client, queue.Options{MaxPerUser: 10, TTL: time.Hour})
	bob := uuid.New()

	first, second := entry(bob, "one"), entry(bob, "two")
	for _, e := range []queue.Entry{first, second, first} {
		_, err := q.Enqueue(ctx, e)
		require.NoError(t, err)
	}

	pending, err := q.Pending(ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "one", pending[0].Payload.Content)
	assert.Equal(t, "two", pending[1].Payload.Content)

	require.NoError(t, q.Ack(ctx, bob, first.MessageID))
	n, err := q.Len(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOfflineQueueEvictsOldest(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	q := redis.NewOfflineQueue(client, queue.Options{MaxPerUser: 2, TTL: time.Hour})
	bob := uuid.New()

	var total int
	for _, c := range []string{"a", "b", "c"} {
		evicted, err := q.Enqueue(ctx, entry(bob, c))
		require.NoError(t, err)
		total += evicted
	}
	assert.Equal(t, 1, total)

	pending, err := q.Pending(ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].Payload.Content)
}

func TestOfflineQueueDropsExpiredEntries(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	q := redis.NewOfflineQueue(client, queue.Options{MaxPerUser: 10, TTL: time.Minute})
	bob := uuid.New()

	_, err := q.Enqueue(ctx, entry(bob, "stale"))
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	pending, err := q.Pending(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRateLimiterWindow(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	cfg := redis.DefaultRateLimitConfig()
	cfg.CallLimit = 2
	rl := redis.NewRateLimiter(client, cfg)
	alice := uuid.New()

	for i := 0; i < 2; i++ {
		ok, err := rl.AllowCall(ctx, alice)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.AllowCall(ctx, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.AllowMessage(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ok, "limits are tracked per action")

	mr.FastForward(cfg.CallWindow + time.Second)
	ok, err = rl.AllowCall(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, rl.ResetUser(ctx, alice))
}

func TestPresenceStorePublishes(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	store := redis.NewPresenceStore(client, redis.NewPublisher(client), time.Hour)
	alice := uuid.New()

	feed, err := redis.SubscribePresence(ctx, client)
	require.NoError(t, err)
	defer feed.Close()

	require.NoError(t, store.Set(ctx, alice, domain.PresenceOnline, time.Now()))
	online, err := store.IsOnline(ctx, alice)
	require.NoError(t, err)
	assert.True(t, online)

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := feed.Next(readCtx)
	require.NoError(t, err)
	assert.Equal(t, alice, got.UserID)
	assert.Equal(t, domain.PresenceOnline, got.Status)

	left := time.Now().Truncate(time.Second)
	require.NoError(t, store.Set(ctx, alice, domain.PresenceOffline, left))
	online, err = store.IsOnline(ctx, alice)
	require.NoError(t, err)
	assert.False(t, online)

	seen, ok, err := store.LastSeen(ctx, alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, seen.Equal(left))

	record, err := store.Get(ctx, alice)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.False(t, record.IsOnline)

	gone, err := feed.Next(readCtx)
	require.NoError(t, err)
	assert.False(t, gone.IsOnline)
	assert.Equal(t, domain.PresenceOffline, gone.Status)
}

type countingUsers struct {
	repository.UserRepository
	keyLookups int
}

func (c *countingUsers) GetPublicKey(ctx context.Context, id uuid.UUID) (string, error) {
	c.keyLookups++
	return c.UserRepository.GetPublicKey(ctx, id)
}

func TestCachedUserRepositoryServesPublicKeys(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	store := memory.NewStore()
	inner := &countingUsers{UserRepository: store.Users()}
	users := redis.NewCachedUserRepository(inner, redis.NewCacheStore(client, redis.DefaultCacheConfig()))

	u := &user.User{Handle: "alice"}
	require.NoError(t, users.Create(ctx, u))
	require.NoError(t, users.SetKeyPair(ctx, u.ID, "pub-1", "priv-1"))

	for i := 0; i < 3; i++ {
		key, err := users.GetPublicKey(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "pub-1", key)
	}
	assert.Equal(t, 1, inner.keyLookups)

	require.NoError(t, users.SetKeyPair(ctx, u.ID, "pub-2", "priv-2"))
	key, err := users.GetPublicKey(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "pub-2", key)
}

func TestCachedConversationRepositoryInvalidatesOnMembershipChange(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	store := memory.NewStore()
	convs := redis.NewCachedConversationRepository(store.Conversations(), redis.NewCacheStore(client, redis.DefaultCacheConfig()))
	alice, bob := uuid.New(), uuid.New()

	c := &conversation.Conversation{
		Type:         string(domain.ConversationTypeGroup),
		Participants: []conversation.Participant{{UserID: alice}},
	}
	require.NoError(t, convs.Create(ctx, c))

	ok, err := convs.IsParticipant(ctx, c.ID, bob)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, convs.AddParticipant(ctx, &conversation.Participant{ConversationID: c.ID, UserID: bob}))
	ok, err = convs.IsParticipant(ctx, c.ID, bob)
	require.NoError(t, err)
	assert.True(t, ok)
}
