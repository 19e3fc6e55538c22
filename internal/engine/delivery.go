package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/queue"
)

// Recipient is one addressee of a message with both of its renderings:
// Live is pushed to connected sessions, Queued is persisted for later.
type Recipient struct {
	UserID uuid.UUID
	Live   events.MessagePayload
	Queued events.MessagePayload
}

// Delivery is a stored message ready for fan-out.
type Delivery struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	// Echo is what the sender's own connections receive.
	Echo       *events.MessagePayload
	Recipients []Recipient
}

type DeliveryResult struct {
	Delivered []uuid.UUID
	Queued    []uuid.UUID
	Evicted   int
}

// Deliver fans a message out: connected recipients get it immediately and
// are marked delivered, everyone else gets an offline queue entry.
func (h *Hub) Deliver(ctx context.Context, d Delivery) (DeliveryResult, error) {
	var res DeliveryResult
	err := h.exec(ctx, func(ctx context.Context) {
		if d.Echo != nil {
			echo := *d.Echo
			echo.Own = true
			h.emitToUser(d.SenderID, events.NewMessage{MessagePayload: echo})
		}

		for _, r := range d.Recipients {
			if h.registry.IsOnline(r.UserID) {
				if h.emitToUser(r.UserID, events.NewMessage{MessagePayload: r.Live}) > 0 {
					res.Delivered = append(res.Delivered, r.UserID)
					h.markDelivered(DeliveryUpdate{
						MessageID:      d.MessageID,
						ConversationID: d.ConversationID,
						SenderID:       d.SenderID,
						RecipientID:    r.UserID,
						Status:         domain.DeliveryStatusDelivered,
					})
					continue
				}
				// every connection was stale; fall back to the queue
			}

			evicted, err := h.queue.Enqueue(ctx, queue.Entry{
				MessageID:   d.MessageID,
				RecipientID: r.UserID,
				Payload:     r.Queued,
				EnqueuedAt:  h.now(),
			})
			if err != nil {
				h.logger.Error("enqueue offline message failed",
					zap.String("message_id", d.MessageID.String()),
					zap.String("recipient_id", r.UserID.String()),
					zap.Error(err))
				continue
			}
			if evicted > 0 {
				h.logger.Warn("offline queue over capacity, evicted oldest entries",
					zap.String("recipient_id", r.UserID.String()),
					zap.Int("evicted", evicted))
				res.Evicted += evicted
			}
			res.Queued = append(res.Queued, r.UserID)
		}
	})
	return res, err
}
