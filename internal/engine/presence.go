package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/events"
	sentinal_errors "sentinal-relay/pkg/errors"
)

// SetStatus changes the advertised status of a connected user. Offline is
// reserved for the last connection closing.
func (h *Hub) SetStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) error {
	if !status.Valid() || status == domain.PresenceOffline {
		return sentinal_errors.ErrInvalidInput
	}
	var result error
	err := h.exec(ctx, func(context.Context) {
		if !h.registry.IsOnline(userID) {
			result = sentinal_errors.ErrConnectionClosed
			return
		}
		if h.status[userID] == status {
			return
		}
		h.setPresence(userID, status, nil)
	})
	if err != nil {
		return err
	}
	return result
}

// Status reports what the hub currently advertises for userID.
func (h *Hub) Status(ctx context.Context, userID uuid.UUID) (domain.PresenceStatus, error) {
	status := domain.PresenceOffline
	err := h.exec(ctx, func(context.Context) {
		if s, ok := h.status[userID]; ok {
			status = s
		}
	})
	return status, err
}

func (h *Hub) setPresence(userID uuid.UUID, status domain.PresenceStatus, lastSeen *time.Time) {
	if status == domain.PresenceOffline {
		delete(h.status, userID)
	} else {
		h.status[userID] = status
	}

	frame, err := events.Encode(events.UserStatus{
		UserID:   userID,
		Status:   status,
		LastSeen: lastSeen,
	})
	if err == nil {
		for _, c := range h.registry.All() {
			if c.UserID() == userID {
				continue
			}
			h.push(c, frame)
		}
	}

	at := h.now()
	if lastSeen != nil {
		at = *lastSeen
	}
	h.recorder.PresenceChanged(PresenceUpdate{UserID: userID, Status: status, At: at})
}
