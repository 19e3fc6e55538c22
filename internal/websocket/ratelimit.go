package websocket

import (
	"sync"
	"time"

	"sentinal-relay/internal/events"
)

// FrameLimits caps inbound frames per minute by category.
type FrameLimits struct {
	MaxTypingEvents    int
	MaxReadReceipts    int
	MaxPresenceUpdates int
	MaxCallSignals     int
	MaxPingMessages    int
}

var DefaultFrameLimits = FrameLimits{
	MaxTypingEvents:    60,
	MaxReadReceipts:    120,
	MaxPresenceUpdates: 30,
	MaxCallSignals:     120,
	MaxPingMessages:    60,
}

type bucket int

const (
	bucketNone bucket = iota
	bucketTyping
	bucketRead
	bucketPresence
	bucketCall
	bucketPing
)

func bucketOf(kind events.Kind) bucket {
	switch kind {
	case events.KindSetTyping:
		return bucketTyping
	case events.KindMarkRead:
		return bucketRead
	case events.KindSetStatus:
		return bucketPresence
	case events.KindCallOffer, events.KindCallAnswer, events.KindCallRejected,
		events.KindCallEnd, events.KindICECandidate:
		return bucketCall
	case events.KindPing:
		return bucketPing
	default:
		return bucketNone
	}
}

// ClientRateLimiter is a per-connection token bucket refilled every minute.
// Message sends are limited elsewhere, per user.
type ClientRateLimiter struct {
	limits     FrameLimits
	tokens     map[bucket]int
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewClientRateLimiter(limits FrameLimits) *ClientRateLimiter {
	rl := &ClientRateLimiter{limits: limits, now: time.Now}
	rl.refillTokens()
	rl.lastRefill = rl.now()
	return rl
}

func (rl *ClientRateLimiter) Allow(kind events.Kind) bool {
	b := bucketOf(kind)
	if b == bucketNone {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refillTokens()
		rl.lastRefill = now
	}
	if rl.tokens[b] <= 0 {
		return false
	}
	rl.tokens[b]--
	return true
}

func (rl *ClientRateLimiter) refillTokens() {
	rl.tokens = map[bucket]int{
		bucketTyping:   rl.limits.MaxTypingEvents,
		bucketRead:     rl.limits.MaxReadReceipts,
		bucketPresence: rl.limits.MaxPresenceUpdates,
		bucketCall:     rl.limits.MaxCallSignals,
		bucketPing:     rl.limits.MaxPingMessages,
	}
}
