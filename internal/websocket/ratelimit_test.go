package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentinal-relay/internal/events"
)

func TestClientRateLimiterBuckets(t *testing.T) {
	rl := NewClientRateLimiter(FrameLimits{MaxTypingEvents: 2, MaxPingMessages: 1})

	assert.True(t, rl.Allow(events.KindSetTyping))
	assert.True(t, rl.Allow(events.KindSetTyping))
	assert.False(t, rl.Allow(events.KindSetTyping))

	// buckets are independent
	assert.True(t, rl.Allow(events.KindPing))
	assert.False(t, rl.Allow(events.KindPing))

	// a zero limit blocks the category entirely
	assert.False(t, rl.Allow(events.KindCallOffer))

	// sends are limited per user, not per connection
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(events.KindSendMessage))
	}
}

func TestClientRateLimiterRefillsAfterAMinute(t *testing.T) {
	now := time.Now()
	rl := &ClientRateLimiter{limits: FrameLimits{MaxCallSignals: 1}, now: func() time.Time { return now }}
	rl.refillTokens()
	rl.lastRefill = now

	assert.True(t, rl.Allow(events.KindICECandidate))
	assert.False(t, rl.Allow(events.KindCallAnswer))

	now = now.Add(59 * time.Second)
	assert.False(t, rl.Allow(events.KindCallEnd))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow(events.KindCallEnd))
}
