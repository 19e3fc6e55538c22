package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"sentinal-relay/internal/events"
)

// Entry is a fully prepared outbound message waiting for its recipient.
// Payload carries ciphertext only when the message was sealed.
type Entry struct {
	MessageID   uuid.UUID             `json:"message_id"`
	RecipientID uuid.UUID             `json:"recipient_id"`
	Payload     events.MessagePayload `json:"payload"`
	EnqueuedAt  time.Time             `json:"enqueued_at"`
}

// Queue is a per-recipient FIFO. Entries leave the queue only through Ack,
// eviction (capacity) or expiry (TTL).
type Queue interface {
	// Enqueue appends e to its recipient's queue and returns how many of the
	// oldest entries were evicted to stay within capacity.
	Enqueue(ctx context.Context, e Entry) (evicted int, err error)
	// Pending returns the live entries for userID, oldest first.
	Pending(ctx context.Context, userID uuid.UUID) ([]Entry, error)
	// Ack removes the entry for messageID once the transport accepted it.
	Ack(ctx context.Context, userID, messageID uuid.UUID) error
	Len(ctx context.Context, userID uuid.UUID) (int, error)
}

type Options struct {
	MaxPerUser int
	TTL        time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxPerUser: 1000,
		TTL:        7 * 24 * time.Hour,
	}
}
