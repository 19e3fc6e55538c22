package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/registry"
	sentinal_errors "sentinal-relay/pkg/errors"
)

// SetTyping updates the typing set of a conversation and broadcasts the full
// set to its joined connections whenever it changes.
func (h *Hub) SetTyping(ctx context.Context, conn registry.Conn, conversationID uuid.UUID, typing bool) error {
	var result error
	err := h.exec(ctx, func(context.Context) {
		if !h.registry.InGroup(conn, conversationID) {
			result = sentinal_errors.ErrNotAuthorized
			return
		}
		if typing {
			h.addTyping(conversationID, conn.UserID())
		} else {
			h.clearTyping(conversationID, conn.UserID())
		}
	})
	if err != nil {
		return err
	}
	return result
}

// Typing returns the users currently typing in a conversation.
func (h *Hub) Typing(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := h.exec(ctx, func(context.Context) {
		ids = h.typingSet(conversationID)
	})
	return ids, err
}

func (h *Hub) addTyping(conversationID, userID uuid.UUID) {
	set, ok := h.typing[conversationID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		h.typing[conversationID] = set
	}
	if _, exists := set[userID]; exists {
		return
	}
	set[userID] = struct{}{}
	h.broadcastTyping(conversationID)
}

func (h *Hub) clearTyping(conversationID, userID uuid.UUID) {
	set, ok := h.typing[conversationID]
	if !ok {
		return
	}
	if _, exists := set[userID]; !exists {
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(h.typing, conversationID)
	}
	h.broadcastTyping(conversationID)
}

func (h *Hub) typingSet(conversationID uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(h.typing[conversationID]))
	for id := range h.typing[conversationID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (h *Hub) broadcastTyping(conversationID uuid.UUID) {
	frame, err := events.Encode(events.Typing{
		ConversationID: conversationID,
		UserIDs:        h.typingSet(conversationID),
	})
	if err != nil {
		return
	}
	for _, c := range h.registry.Members(conversationID) {
		h.push(c, frame)
	}
}
