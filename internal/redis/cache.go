package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/repository"
)

// Cache key patterns:
// - user:{user_id}:public_key - public key, KeyTTL
// - conversation:{conv_id}:participants - participant list, ParticipantsTTL
//
// Private keys are never cached.

type CacheConfig struct {
	KeyTTL          time.Duration
	ParticipantsTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		KeyTTL:          5 * time.Minute,
		ParticipantsTTL: 5 * time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

func publicKeyKey(userID uuid.UUID) string {
	return fmt.Sprintf("user:%s:public_key", userID.String())
}

func participantsKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s:participants", conversationID.String())
}

// getJSON reports a miss as (false, nil).
func (c *CacheStore) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CacheStore) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *CacheStore) InvalidatePublicKey(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, publicKeyKey(userID)).Err()
}

func (c *CacheStore) InvalidateParticipants(ctx context.Context, conversationID uuid.UUID) error {
	return c.client.Del(ctx, participantsKey(conversationID)).Err()
}

// CachedUserRepository serves public keys from Redis. Cache failures fall
// through to the wrapped repository.
type CachedUserRepository struct {
	repository.UserRepository
	cache *CacheStore
}

func NewCachedUserRepository(inner repository.UserRepository, cache *CacheStore) *CachedUserRepository {
	return &CachedUserRepository{UserRepository: inner, cache: cache}
}

func (r *CachedUserRepository) GetPublicKey(ctx context.Context, userID uuid.UUID) (string, error) {
	var key string
	if hit, err := r.cache.getJSON(ctx, publicKeyKey(userID), &key); err == nil && hit {
		return key, nil
	}
	key, err := r.UserRepository.GetPublicKey(ctx, userID)
	if err != nil {
		return "", err
	}
	_ = r.cache.setJSON(ctx, publicKeyKey(userID), key, r.cache.config.KeyTTL)
	return key, nil
}

func (r *CachedUserRepository) SetKeyPair(ctx context.Context, userID uuid.UUID, publicKey, privateKey string) error {
	if err := r.UserRepository.SetKeyPair(ctx, userID, publicKey, privateKey); err != nil {
		return err
	}
	return r.cache.InvalidatePublicKey(ctx, userID)
}

// CachedConversationRepository serves participant lists from Redis.
type CachedConversationRepository struct {
	repository.ConversationRepository
	cache *CacheStore
}

func NewCachedConversationRepository(inner repository.ConversationRepository, cache *CacheStore) *CachedConversationRepository {
	return &CachedConversationRepository{ConversationRepository: inner, cache: cache}
}

func (r *CachedConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error) {
	var ps []conversation.Participant
	if hit, err := r.cache.getJSON(ctx, participantsKey(conversationID), &ps); err == nil && hit {
		return ps, nil
	}
	ps, err := r.ConversationRepository.GetParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	_ = r.cache.setJSON(ctx, participantsKey(conversationID), ps, r.cache.config.ParticipantsTTL)
	return ps, nil
}

func (r *CachedConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	ps, err := r.GetParticipants(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return conversation.Contains(ps, userID), nil
}

func (r *CachedConversationRepository) AddParticipant(ctx context.Context, p *conversation.Participant) error {
	if err := r.ConversationRepository.AddParticipant(ctx, p); err != nil {
		return err
	}
	return r.cache.InvalidateParticipants(ctx, p.ConversationID)
}

func (r *CachedConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := r.ConversationRepository.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	return r.cache.InvalidateParticipants(ctx, conversationID)
}
