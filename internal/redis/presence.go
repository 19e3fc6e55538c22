package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"sentinal-relay/internal/domain"
)

// PresenceChannel receives a JSON PresenceStatus on every change.
const PresenceChannel = "channel:presence"

// PresenceStatus represents a user's online status
type PresenceStatus struct {
	UserID   uuid.UUID             `json:"user_id"`
	IsOnline bool                  `json:"is_online"`
	LastSeen time.Time             `json:"last_seen"`
	Status   domain.PresenceStatus `json:"status"`
}

// PresenceStore mirrors presence into Redis for readers outside the hub.
type PresenceStore struct {
	client    *goredis.Client
	publisher *Publisher
	ttl       time.Duration
}

// Redis key prefixes for presence
const (
	presenceKeyPrefix = "presence:"       // JSON presence record
	presenceOnlineSet = "presence:online" // Set of online user IDs
	lastSeenKeyPrefix = "presence:seen:"  // unix seconds, kept without TTL
)

func NewPresenceStore(client *goredis.Client, publisher *Publisher, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &PresenceStore{
		client:    client,
		publisher: publisher,
		ttl:       ttl,
	}
}

// Set records status for userID. Offline removes the user from the online
// set and stamps last seen.
func (p *PresenceStore) Set(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, at time.Time) error {
	record := PresenceStatus{
		UserID:   userID,
		IsOnline: status != domain.PresenceOffline,
		LastSeen: at,
		Status:   status,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, presenceKeyPrefix+userID.String(), data, p.ttl)
	if record.IsOnline {
		pipe.SAdd(ctx, presenceOnlineSet, userID.String())
	} else {
		pipe.SRem(ctx, presenceOnlineSet, userID.String())
		pipe.Set(ctx, LastSeenKey(userID), at.Unix(), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if p.publisher == nil {
		return nil
	}
	return p.publisher.PublishJSON(ctx, PresenceChannel, record)
}

// Get returns the stored record, or nil when none exists.
func (p *PresenceStore) Get(ctx context.Context, userID uuid.UUID) (*PresenceStatus, error) {
	data, err := p.client.Get(ctx, presenceKeyPrefix+userID.String()).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var status PresenceStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (p *PresenceStore) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return p.client.SIsMember(ctx, presenceOnlineSet, userID.String()).Result()
}

func (p *PresenceStore) OnlineCount(ctx context.Context) (int64, error) {
	return p.client.SCard(ctx, presenceOnlineSet).Result()
}

// LastSeen returns when userID last went offline.
func (p *PresenceStore) LastSeen(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	secs, err := p.client.Get(ctx, LastSeenKey(userID)).Int64()
	if err == goredis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(secs, 0), true, nil
}

// Reset clears the online set. Run at startup: a fresh process has no
// connections, whatever a previous one left behind.
func (p *PresenceStore) Reset(ctx context.Context) error {
	return p.client.Del(ctx, presenceOnlineSet).Err()
}

// LastSeenKey generates the key for storing last seen time
func LastSeenKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s%s", lastSeenKeyPrefix, userID.String())
}
