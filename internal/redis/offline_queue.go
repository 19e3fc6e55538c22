package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"sentinal-relay/internal/queue"
)

// Offline queue key patterns:
// - offline:queue:{user_id} - list of message ids, oldest first
// - offline:entry:{user_id}:{message_id} - JSON entry, expires after the queue TTL
const (
	offlineQueuePrefix = "offline:queue:"
	offlineEntryPrefix = "offline:entry:"
)

// OfflineQueue keeps per-user queues in Redis so they survive a restart.
// Only the hub calls it, which keeps each user's list single-writer.
type OfflineQueue struct {
	client *goredis.Client
	opts   queue.Options
}

var _ queue.Queue = (*OfflineQueue)(nil)

func NewOfflineQueue(client *goredis.Client, opts queue.Options) *OfflineQueue {
	defaults := queue.DefaultOptions()
	if opts.MaxPerUser <= 0 {
		opts.MaxPerUser = defaults.MaxPerUser
	}
	if opts.TTL <= 0 {
		opts.TTL = defaults.TTL
	}
	return &OfflineQueue{client: client, opts: opts}
}

func queueKey(userID uuid.UUID) string {
	return offlineQueuePrefix + userID.String()
}

func entryKey(userID uuid.UUID, messageID string) string {
	return fmt.Sprintf("%s%s:%s", offlineEntryPrefix, userID.String(), messageID)
}

func (q *OfflineQueue) Enqueue(ctx context.Context, e queue.Entry) (int, error) {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}

	created, err := q.client.SetNX(ctx, entryKey(e.RecipientID, e.MessageID.String()), data, q.opts.TTL).Result()
	if err != nil {
		return 0, err
	}
	if !created {
		return 0, nil
	}

	listKey := queueKey(e.RecipientID)
	pipe := q.client.Pipeline()
	lenCmd := pipe.RPush(ctx, listKey, e.MessageID.String())
	pipe.Expire(ctx, listKey, q.opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	evicted := 0
	for over := int(lenCmd.Val()) - q.opts.MaxPerUser; over > 0; over-- {
		id, err := q.client.LPop(ctx, listKey).Result()
		if err == goredis.Nil {
			break
		}
		if err != nil {
			return evicted, err
		}
		if err := q.client.Del(ctx, entryKey(e.RecipientID, id)).Err(); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

// Pending loads the live entries in order and prunes ids whose entry expired.
func (q *OfflineQueue) Pending(ctx context.Context, userID uuid.UUID) ([]queue.Entry, error) {
	listKey := queueKey(userID)
	ids, err := q.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(userID, id)
	}
	values, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]queue.Entry, 0, len(ids))
	var expired []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var e queue.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			expired = append(expired, ids[i])
			continue
		}
		entries = append(entries, e)
	}

	if len(expired) > 0 {
		pipe := q.client.Pipeline()
		for _, id := range expired {
			pipe.LRem(ctx, listKey, 1, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return entries, err
		}
	}
	return entries, nil
}

func (q *OfflineQueue) Ack(ctx context.Context, userID, messageID uuid.UUID) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, queueKey(userID), 1, messageID.String())
	pipe.Del(ctx, entryKey(userID, messageID.String()))
	_, err := pipe.Exec(ctx)
	return err
}

func (q *OfflineQueue) Len(ctx context.Context, userID uuid.UUID) (int, error) {
	entries, err := q.Pending(ctx, userID)
	return len(entries), err
}
