// Package memory implements the repository interfaces in process memory.
// It backs STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/message"
	"sentinal-relay/internal/domain/user"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
)

type deliveryKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
}

type reactionKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
	code      string
}

// Store holds every table behind one lock.
type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]user.User
	conversations map[uuid.UUID]conversation.Conversation
	participants  map[uuid.UUID][]conversation.Participant
	messages      map[uuid.UUID]message.Message
	deliveries    map[deliveryKey]message.MessageDelivery
	receipts      map[deliveryKey]message.ReadReceipt
	reactions     map[reactionKey]message.MessageReaction
}

func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]user.User),
		conversations: make(map[uuid.UUID]conversation.Conversation),
		participants:  make(map[uuid.UUID][]conversation.Participant),
		messages:      make(map[uuid.UUID]message.Message),
		deliveries:    make(map[deliveryKey]message.MessageDelivery),
		receipts:      make(map[deliveryKey]message.ReadReceipt),
		reactions:     make(map[reactionKey]message.MessageReaction),
	}
}

func (s *Store) Users() repository.UserRepository                 { return &userRepo{s} }
func (s *Store) Conversations() repository.ConversationRepository { return &conversationRepo{s} }
func (s *Store) Messages() repository.MessageRepository           { return &messageRepo{s} }

// ReadReceipts returns recorded receipts for a message.
func (s *Store) ReadReceipts(messageID uuid.UUID) []message.ReadReceipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []message.ReadReceipt
	for k, r := range s.receipts {
		if k.messageID == messageID {
			out = append(out, r)
		}
	}
	return out
}

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, u *user.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Handle, u.Handle) {
			return sentinal_errors.ErrAlreadyExists
		}
	}
	if _, ok := r.s.users[u.ID]; ok {
		return sentinal_errors.ErrAlreadyExists
	}
	if u.Status == "" {
		u.Status = string(domain.PresenceOffline)
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	r.s.users[u.ID] = *u
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return user.User{}, sentinal_errors.ErrNotFound
	}
	return u, nil
}

func (r *userRepo) GetByHandle(_ context.Context, handle string) (user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Handle, handle) {
			return u, nil
		}
	}
	return user.User{}, sentinal_errors.ErrNotFound
}

func (r *userRepo) GetPublicKey(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !u.PublicKey.Valid || u.PublicKey.String == "" {
		return "", sentinal_errors.ErrNotFound
	}
	return u.PublicKey.String, nil
}

func (r *userRepo) GetPrivateKey(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := r.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !u.PrivateKey.Valid || u.PrivateKey.String == "" {
		return "", sentinal_errors.ErrNotFound
	}
	return u.PrivateKey.String, nil
}

func (r *userRepo) update(userID uuid.UUID, fn func(u *user.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return sentinal_errors.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now()
	r.s.users[userID] = u
	return nil
}

func (r *userRepo) SetKeyPair(_ context.Context, userID uuid.UUID, publicKey, privateKey string) error {
	return r.update(userID, func(u *user.User) {
		u.PublicKey = sql.NullString{String: publicKey, Valid: true}
		u.PrivateKey = sql.NullString{String: privateKey, Valid: true}
	})
}

func (r *userRepo) UpdateStatus(_ context.Context, userID uuid.UUID, status domain.PresenceStatus) error {
	return r.update(userID, func(u *user.User) { u.Status = string(status) })
}

func (r *userRepo) UpdateLastSeen(_ context.Context, userID uuid.UUID, lastSeen time.Time) error {
	return r.update(userID, func(u *user.User) { u.LastSeenAt = sql.NullTime{Time: lastSeen, Valid: true} })
}

type conversationRepo struct{ s *Store }

func (r *conversationRepo) Create(_ context.Context, c *conversation.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := r.s.conversations[c.ID]; ok {
		return sentinal_errors.ErrAlreadyExists
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	for i := range c.Participants {
		c.Participants[i].ConversationID = c.ID
		if c.Participants[i].Role == "" {
			c.Participants[i].Role = string(domain.ParticipantRoleMember)
		}
		if c.Participants[i].JoinedAt.IsZero() {
			c.Participants[i].JoinedAt = now
		}
	}
	stored := *c
	stored.Participants = nil
	r.s.conversations[c.ID] = stored
	r.s.participants[c.ID] = append([]conversation.Participant(nil), c.Participants...)
	return nil
}

func (r *conversationRepo) GetByID(_ context.Context, id uuid.UUID) (conversation.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return conversation.Conversation{}, sentinal_errors.ErrNotFound
	}
	c.Participants = append([]conversation.Participant(nil), r.s.participants[id]...)
	return c, nil
}

func (r *conversationRepo) AddParticipant(_ context.Context, p *conversation.Participant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.conversations[p.ConversationID]; !ok {
		return sentinal_errors.ErrNotFound
	}
	if conversation.Contains(r.s.participants[p.ConversationID], p.UserID) {
		return sentinal_errors.ErrAlreadyExists
	}
	if p.Role == "" {
		p.Role = string(domain.ParticipantRoleMember)
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	r.s.participants[p.ConversationID] = append(r.s.participants[p.ConversationID], *p)
	return nil
}

func (r *conversationRepo) RemoveParticipant(_ context.Context, conversationID, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ps := r.s.participants[conversationID]
	for i, p := range ps {
		if p.UserID == userID {
			r.s.participants[conversationID] = append(ps[:i:i], ps[i+1:]...)
			return nil
		}
	}
	return sentinal_errors.ErrNotFound
}

func (r *conversationRepo) GetParticipants(_ context.Context, conversationID uuid.UUID) ([]conversation.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]conversation.Participant(nil), r.s.participants[conversationID]...), nil
}

func (r *conversationRepo) IsParticipant(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return conversation.Contains(r.s.participants[conversationID], userID), nil
}

func (r *conversationRepo) ListUserConversationIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var ids []uuid.UUID
	for convID, ps := range r.s.participants {
		if conversation.Contains(ps, userID) {
			ids = append(ids, convID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

type messageRepo struct{ s *Store }

func (r *messageRepo) Create(_ context.Context, m *message.Message, recipients []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if _, ok := r.s.messages[m.ID]; ok {
		return sentinal_errors.ErrAlreadyExists
	}
	if m.ClientMessageID.Valid {
		for _, existing := range r.s.messages {
			if existing.SenderID == m.SenderID && existing.ClientMessageID == m.ClientMessageID {
				return sentinal_errors.ErrAlreadyExists
			}
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	r.s.messages[m.ID] = *m
	for _, id := range recipients {
		k := deliveryKey{m.ID, id}
		if _, ok := r.s.deliveries[k]; ok {
			continue
		}
		r.s.deliveries[k] = message.MessageDelivery{
			MessageID: m.ID,
			UserID:    id,
			Status:    string(domain.DeliveryStatusSent),
			UpdatedAt: m.CreatedAt,
		}
	}
	return nil
}

func (r *messageRepo) GetByID(_ context.Context, id uuid.UUID) (message.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.messages[id]
	if !ok {
		return message.Message{}, sentinal_errors.ErrNotFound
	}
	return m, nil
}

func (r *messageRepo) ListByConversation(_ context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []message.Message
	for _, m := range r.s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *messageRepo) GetSince(_ context.Context, userID uuid.UUID, since time.Time, limit int) ([]message.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []message.Message
	for _, m := range r.s.messages {
		if m.SenderID == userID || m.IsDeleted() || !m.CreatedAt.After(since) {
			continue
		}
		if !conversation.Contains(r.s.participants[m.ConversationID], userID) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *messageRepo) UpdateContent(_ context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || m.IsDeleted() {
		return sentinal_errors.ErrNotFound
	}
	m.Content = content
	m.EncryptedContent = sql.NullString{}
	m.Signature = sql.NullString{}
	m.EditedAt = sql.NullTime{Time: editedAt, Valid: true}
	r.s.messages[id] = m
	return nil
}

func (r *messageRepo) SoftDelete(_ context.Context, id uuid.UUID, deletedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok || m.IsDeleted() {
		return sentinal_errors.ErrNotFound
	}
	m.DeletedAt = sql.NullTime{Time: deletedAt, Valid: true}
	r.s.messages[id] = m
	return nil
}

func (r *messageRepo) RecordDeliveryStatus(_ context.Context, messageID, userID uuid.UUID, status domain.DeliveryStatus) (bool, error) {
	if !status.Valid() {
		return false, sentinal_errors.ErrInvalidInput
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := deliveryKey{messageID, userID}
	d, ok := r.s.deliveries[k]
	if ok && !domain.DeliveryStatus(d.Status).CanAdvanceTo(status) {
		return false, nil
	}
	r.s.deliveries[k] = message.MessageDelivery{
		MessageID: messageID,
		UserID:    userID,
		Status:    string(status),
		UpdatedAt: time.Now(),
	}
	return true, nil
}

func (r *messageRepo) GetDeliveryStatuses(_ context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (map[uuid.UUID]domain.DeliveryStatus, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[uuid.UUID]domain.DeliveryStatus, len(messageIDs))
	for _, id := range messageIDs {
		if d, ok := r.s.deliveries[deliveryKey{id, userID}]; ok {
			out[id] = domain.DeliveryStatus(d.Status)
		}
	}
	return out, nil
}

func (r *messageRepo) GetDeliveries(_ context.Context, messageID uuid.UUID) ([]message.MessageDelivery, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []message.MessageDelivery
	for k, d := range r.s.deliveries {
		if k.messageID == messageID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

func (r *messageRepo) RecordReadReceipt(_ context.Context, rr message.ReadReceipt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := deliveryKey{rr.MessageID, rr.UserID}
	if _, ok := r.s.receipts[k]; !ok {
		r.s.receipts[k] = rr
	}
	return nil
}

func (r *messageRepo) AddReaction(_ context.Context, mr *message.MessageReaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[mr.MessageID]; !ok {
		return sentinal_errors.ErrNotFound
	}
	k := reactionKey{mr.MessageID, mr.UserID, mr.ReactionCode}
	if _, ok := r.s.reactions[k]; ok {
		return sentinal_errors.ErrAlreadyExists
	}
	if mr.ID == uuid.Nil {
		mr.ID = uuid.New()
	}
	if mr.CreatedAt.IsZero() {
		mr.CreatedAt = time.Now()
	}
	r.s.reactions[k] = *mr
	return nil
}
