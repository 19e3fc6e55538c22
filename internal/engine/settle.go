package engine

import (
	"sync"

	"github.com/google/uuid"
)

// unsettled tracks messages the hub has handed to a recipient whose
// delivered status is not yet persisted. Catch-up consults it so a quick
// reconnect does not replay them as missed.
type unsettled struct {
	mu     sync.Mutex
	byUser map[uuid.UUID]map[uuid.UUID]int
}

func newUnsettled() *unsettled {
	return &unsettled{byUser: make(map[uuid.UUID]map[uuid.UUID]int)}
}

func (u *unsettled) add(recipientID, messageID uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	ids, ok := u.byUser[recipientID]
	if !ok {
		ids = make(map[uuid.UUID]int)
		u.byUser[recipientID] = ids
	}
	ids[messageID]++
}

func (u *unsettled) done(recipientID, messageID uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	ids, ok := u.byUser[recipientID]
	if !ok {
		return
	}
	if ids[messageID] <= 1 {
		delete(ids, messageID)
	} else {
		ids[messageID]--
	}
	if len(ids) == 0 {
		delete(u.byUser, recipientID)
	}
}

func (u *unsettled) snapshot(recipientID uuid.UUID) map[uuid.UUID]bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[uuid.UUID]bool, len(u.byUser[recipientID]))
	for id := range u.byUser[recipientID] {
		out[id] = true
	}
	return out
}

// markDelivered records a delivered transition and hands it to the recorder.
// Runs on the reactor.
func (h *Hub) markDelivered(u DeliveryUpdate) {
	h.unsettled.add(u.RecipientID, u.MessageID)
	h.recorder.DeliveryChanged(u)
}

// DeliverySettled reports that a delivered status reached storage, or that
// the attempt failed for good. It does not go through the reactor, so the
// recorder may call it from any goroutine.
func (h *Hub) DeliverySettled(recipientID, messageID uuid.UUID) {
	h.unsettled.done(recipientID, messageID)
}
