package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, QueueBackendMemory, cfg.OfflineQueueBackend)
	assert.Equal(t, 1000, cfg.OfflineQueueMaxPerUser)
	assert.Equal(t, 7*24*time.Hour, cfg.OfflineQueueTTL)
	assert.Equal(t, 10, cfg.WSMaxConnectionsPerUser)
	assert.True(t, cfg.E2EAutoKeygen)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", StorageDriverMemory)
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("OFFLINE_QUEUE_TTL", "90m")
	t.Setenv("WS_SEND_BUFFER", "64")
	t.Setenv("RATE_LIMIT_CALLS", "3")

	cfg := LoadConfig()
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, 90*time.Minute, cfg.OfflineQueueTTL)
	assert.Equal(t, 64, cfg.WSSendBuffer)
	assert.Equal(t, 3, cfg.RateLimitCalls)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("WS_SEND_BUFFER", "lots")
	t.Setenv("E2E_AUTO_KEYGEN", "maybe")
	t.Setenv("KEY_CACHE_TTL", "5")

	cfg := LoadConfig()
	assert.Equal(t, 256, cfg.WSSendBuffer)
	assert.True(t, cfg.E2EAutoKeygen)
	assert.Equal(t, 5*time.Minute, cfg.KeyCacheTTL)
}
