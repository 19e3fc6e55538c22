package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/message"
	"sentinal-relay/internal/e2e"
	"sentinal-relay/internal/engine"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
	"sentinal-relay/pkg/logger"
)

const (
	maxContentLength = 8000
	maxEmojiLength   = 16

	// MissedLimit caps one catch-up; it is read in pages of missedPageSize.
	MissedLimit    = 2000
	missedPageSize = 500

	// catch-up window for users with no recorded last seen
	defaultCatchUp = 7 * 24 * time.Hour
)

// Deliverer is the part of the hub message delivery needs.
type Deliverer interface {
	Deliver(ctx context.Context, d engine.Delivery) (engine.DeliveryResult, error)
	SendToUsers(ctx context.Context, userIDs []uuid.UUID, ev events.Event) (int, error)
}

// RateLimiter bounds how often a user may send messages or place calls.
type RateLimiter interface {
	AllowMessage(ctx context.Context, userID uuid.UUID) (bool, error)
	AllowCall(ctx context.Context, userID uuid.UUID) (bool, error)
}

type noRateLimit struct{}

func (noRateLimit) AllowMessage(context.Context, uuid.UUID) (bool, error) { return true, nil }
func (noRateLimit) AllowCall(context.Context, uuid.UUID) (bool, error)    { return true, nil }

// NoRateLimit allows everything.
var NoRateLimit RateLimiter = noRateLimit{}

type DeliveryService struct {
	convs    repository.ConversationRepository
	messages repository.MessageRepository
	users    repository.UserRepository
	crypto   *EncryptionService
	hub      Deliverer
	recorder engine.Recorder
	limiter  RateLimiter
	logger   *logger.Logger
	now      func() time.Time
}

func NewDeliveryService(
	convs repository.ConversationRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	crypto *EncryptionService,
	hub Deliverer,
	recorder engine.Recorder,
	limiter RateLimiter,
	l *logger.Logger,
) *DeliveryService {
	if limiter == nil {
		limiter = NoRateLimit
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &DeliveryService{
		convs:    convs,
		messages: messages,
		users:    users,
		crypto:   crypto,
		hub:      hub,
		recorder: recorder,
		limiter:  limiter,
		logger:   l.Named("delivery"),
		now:      time.Now,
	}
}

type SendInput struct {
	SenderID        uuid.UUID
	ConversationID  uuid.UUID
	Content         string
	ClientMessageID string
	ReplyToID       *uuid.UUID
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return sentinal_errors.ErrInvalidInput
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return sentinal_errors.ErrInvalidInput
	}
	return nil
}

func (s *DeliveryService) participants(ctx context.Context, conversationID, userID uuid.UUID) ([]conversation.Participant, error) {
	ps, err := s.convs.GetParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.Contains(ps, userID) {
		return nil, sentinal_errors.ErrNotAuthorized
	}
	return ps, nil
}

// Send stores a message and fans it out: connected recipients get it now,
// the rest get an offline queue entry. The sender's own connections get the
// message back marked as theirs.
func (s *DeliveryService) Send(ctx context.Context, in SendInput) (message.Message, engine.DeliveryResult, error) {
	if err := validateContent(in.Content); err != nil {
		return message.Message{}, engine.DeliveryResult{}, err
	}

	conv, err := s.convs.GetByID(ctx, in.ConversationID)
	if err != nil {
		return message.Message{}, engine.DeliveryResult{}, err
	}
	ps, err := s.participants(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return message.Message{}, engine.DeliveryResult{}, err
	}

	allowed, err := s.limiter.AllowMessage(ctx, in.SenderID)
	if err != nil {
		s.logger.Warn("message rate limit check failed", zap.Error(err))
	} else if !allowed {
		return message.Message{}, engine.DeliveryResult{}, sentinal_errors.ErrRateLimited
	}

	if _, err := s.crypto.EnsureKeyPair(ctx, in.SenderID); err != nil {
		s.logger.Warn("ensure sender key pair failed", zap.Error(err))
	}

	if in.ReplyToID != nil {
		parent, err := s.messages.GetByID(ctx, *in.ReplyToID)
		if err != nil || parent.ConversationID != in.ConversationID {
			return message.Message{}, engine.DeliveryResult{}, sentinal_errors.ErrInvalidInput
		}
	}

	msg := message.Message{
		ID:             uuid.New(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		CreatedAt:      s.now().UTC(),
	}
	if in.ClientMessageID != "" {
		msg.ClientMessageID = sql.NullString{String: in.ClientMessageID, Valid: true}
	}
	if in.ReplyToID != nil {
		msg.ReplyToMsgID = uuid.NullUUID{UUID: *in.ReplyToID, Valid: true}
	}

	var recipientIDs []uuid.UUID
	for _, p := range ps {
		if p.UserID != in.SenderID {
			recipientIDs = append(recipientIDs, p.UserID)
		}
	}

	sealed := make(map[uuid.UUID]e2e.Sealed, len(recipientIDs))
	for _, rid := range recipientIDs {
		box, ok, err := s.crypto.Seal(ctx, in.Content, in.SenderID, rid)
		if err != nil {
			s.logger.Warn("sealing failed, sending plaintext",
				zap.String("recipient_id", rid.String()), zap.Error(err))
			continue
		}
		if ok {
			sealed[rid] = box
		}
	}
	if conv.Type == string(domain.ConversationTypeDirect) && len(recipientIDs) == 1 {
		if box, ok := sealed[recipientIDs[0]]; ok {
			msg.EncryptedContent = sql.NullString{String: box.Ciphertext, Valid: true}
			msg.Signature = sql.NullString{String: box.Signature, Valid: true}
		}
	}

	if err := s.messages.Create(ctx, &msg, recipientIDs); err != nil {
		return message.Message{}, engine.DeliveryResult{}, err
	}

	echo := basePayload(msg)
	delivery := engine.Delivery{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Echo:           &echo,
	}
	for _, rid := range recipientIDs {
		live, queued := basePayload(msg), basePayload(msg)
		if box, ok := sealed[rid]; ok {
			queued.Content = ""
			queued.Encrypted = true
			queued.EncryptedContent = box.Ciphertext
			queued.Signature = box.Signature
			live = s.OpenPayload(ctx, rid, queued)
		}
		delivery.Recipients = append(delivery.Recipients, engine.Recipient{UserID: rid, Live: live, Queued: queued})
	}

	res, err := s.hub.Deliver(ctx, delivery)
	if err != nil {
		return msg, res, err
	}
	return msg, res, nil
}

func basePayload(m message.Message) events.MessagePayload {
	p := events.MessagePayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if m.ClientMessageID.Valid {
		p.ClientMessageID = m.ClientMessageID.String
	}
	if m.ReplyToMsgID.Valid {
		id := m.ReplyToMsgID.UUID
		p.ReplyToID = &id
	}
	return p
}

// OpenPayload turns a sealed payload into what recipientID reads. Failures
// degrade to the placeholder with the error code attached; the message
// still counts as delivered.
func (s *DeliveryService) OpenPayload(ctx context.Context, recipientID uuid.UUID, p events.MessagePayload) events.MessagePayload {
	if !p.Encrypted || p.EncryptedContent == "" {
		return p
	}
	out := p
	out.EncryptedContent, out.Signature = "", ""

	plaintext, err := s.crypto.Open(ctx, e2e.Sealed{Ciphertext: p.EncryptedContent, Signature: p.Signature}, recipientID, p.SenderID)
	if err != nil {
		s.logger.Warn("could not open message",
			zap.String("message_id", p.MessageID.String()),
			zap.String("recipient_id", recipientID.String()),
			zap.Error(err))
		out.Content = DecryptionPlaceholder
		out.DecryptionError = sentinal_errors.Code(err)
		return out
	}
	out.Content = plaintext
	return out
}

// Missed returns stored messages userID has not received since lastSeen,
// skipping the ids in exclude. Only messages still marked sent qualify.
func (s *DeliveryService) Missed(ctx context.Context, userID uuid.UUID, lastSeen time.Time, exclude map[uuid.UUID]bool) ([]engine.Outbound, error) {
	if lastSeen.IsZero() {
		lastSeen = s.now().Add(-defaultCatchUp)
	}
	msgs, err := s.since(ctx, userID, lastSeen)
	if err != nil {
		return nil, err
	}

	var candidates []message.Message
	var ids []uuid.UUID
	for _, m := range msgs {
		if exclude[m.ID] {
			continue
		}
		candidates = append(candidates, m)
		ids = append(ids, m.ID)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	statuses, err := s.messages.GetDeliveryStatuses(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	var out []engine.Outbound
	for _, m := range candidates {
		if statuses[m.ID] != domain.DeliveryStatusSent {
			continue
		}
		p := basePayload(m)
		if m.IsEncrypted() {
			p.Content = ""
			p.Encrypted = true
			p.EncryptedContent = m.EncryptedContent.String
			p.Signature = m.Signature.String
			p = s.OpenPayload(ctx, userID, p)
		}
		out = append(out, engine.Outbound{
			Event:          events.MissedMessage{MessagePayload: p},
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}

// since pages through messages created after from. A full page is cut
// before its last timestamp so rows sharing it are re-read on the next page.
func (s *DeliveryService) since(ctx context.Context, userID uuid.UUID, from time.Time) ([]message.Message, error) {
	var out []message.Message
	cursor := from
	for len(out) < MissedLimit {
		limit := min(missedPageSize, MissedLimit-len(out))
		page, err := s.messages.GetSince(ctx, userID, cursor, limit)
		if err != nil {
			return nil, err
		}
		if len(page) < limit {
			return append(out, page...), nil
		}

		last := page[len(page)-1].CreatedAt
		cut := len(page)
		for cut > 0 && page[cut-1].CreatedAt.Equal(last) {
			cut--
		}
		if cut == 0 {
			// the whole page shares one timestamp; take it as is
			cut = len(page)
		}
		out = append(out, page[:cut]...)
		cursor = page[cut-1].CreatedAt
	}

	more, err := s.messages.GetSince(ctx, userID, cursor, 1)
	if err != nil {
		s.logger.Warn("checking for messages past the catch-up limit failed", zap.Error(err))
		return out, nil
	}
	if len(more) == 0 {
		return out, nil
	}
	s.logger.Warn("missed message catch-up hit its limit, older messages stay unread",
		zap.String("user_id", userID.String()),
		zap.Time("since", from),
		zap.Time("stopped_at", cursor),
		zap.Int("limit", MissedLimit))
	return out, nil
}

func (s *DeliveryService) ownMessage(ctx context.Context, userID, messageID uuid.UUID) (message.Message, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if m.SenderID != userID {
		return message.Message{}, sentinal_errors.ErrNotAuthorized
	}
	if m.IsDeleted() {
		return message.Message{}, sentinal_errors.ErrNotFound
	}
	return m, nil
}

func (s *DeliveryService) broadcast(ctx context.Context, conversationID uuid.UUID, ev events.Event) {
	ps, err := s.convs.GetParticipants(ctx, conversationID)
	if err != nil {
		s.logger.Error("load participants failed", zap.String("conversation_id", conversationID.String()), zap.Error(err))
		return
	}
	if _, err := s.hub.SendToUsers(ctx, conversation.ParticipantIDs(ps), ev); err != nil {
		s.logger.Warn("broadcast failed", zap.String("type", string(ev.Kind())), zap.Error(err))
	}
}

// Edit replaces the content of the caller's own message. Only connected
// participants are told; others read the new content from the store.
func (s *DeliveryService) Edit(ctx context.Context, userID, messageID uuid.UUID, content string) (message.Message, error) {
	if err := validateContent(content); err != nil {
		return message.Message{}, err
	}
	m, err := s.ownMessage(ctx, userID, messageID)
	if err != nil {
		return message.Message{}, err
	}

	editedAt := s.now().UTC()
	if err := s.messages.UpdateContent(ctx, messageID, content, editedAt); err != nil {
		return message.Message{}, err
	}
	m.Content = content
	m.EncryptedContent, m.Signature = sql.NullString{}, sql.NullString{}
	m.EditedAt = sql.NullTime{Time: editedAt, Valid: true}

	s.broadcast(ctx, m.ConversationID, events.MessageEdited{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Content:        content,
		EditedAt:       editedAt,
	})
	return m, nil
}

func (s *DeliveryService) Delete(ctx context.Context, userID, messageID uuid.UUID) error {
	m, err := s.ownMessage(ctx, userID, messageID)
	if err != nil {
		return err
	}
	deletedAt := s.now().UTC()
	if err := s.messages.SoftDelete(ctx, messageID, deletedAt); err != nil {
		return err
	}
	s.broadcast(ctx, m.ConversationID, events.MessageDeleted{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		DeletedAt:      deletedAt,
	})
	return nil
}

func (s *DeliveryService) React(ctx context.Context, userID, messageID uuid.UUID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLength {
		return sentinal_errors.ErrInvalidInput
	}
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.IsDeleted() {
		return sentinal_errors.ErrNotFound
	}
	if _, err := s.participants(ctx, m.ConversationID, userID); err != nil {
		return err
	}

	reaction := &message.MessageReaction{MessageID: messageID, UserID: userID, ReactionCode: emoji, CreatedAt: s.now().UTC()}
	if err := s.messages.AddReaction(ctx, reaction); err != nil {
		if errors.Is(err, sentinal_errors.ErrAlreadyExists) {
			return nil
		}
		return err
	}
	s.broadcast(ctx, m.ConversationID, events.MessageReaction{
		MessageID:      messageID,
		ConversationID: m.ConversationID,
		UserID:         userID,
		Emoji:          emoji,
		CreatedAt:      reaction.CreatedAt,
	})
	return nil
}

// MarkRead records read receipts for messages in one conversation and
// returns the ids that were accepted.
func (s *DeliveryService) MarkRead(ctx context.Context, userID, conversationID uuid.UUID, messageIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(messageIDs) == 0 {
		return nil, sentinal_errors.ErrInvalidInput
	}
	if _, err := s.participants(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	readAt := s.now().UTC()
	var marked []uuid.UUID
	for _, id := range messageIDs {
		m, err := s.messages.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, sentinal_errors.ErrNotFound) {
				continue
			}
			return marked, err
		}
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		if err := s.messages.RecordReadReceipt(ctx, message.ReadReceipt{MessageID: id, UserID: userID, ReadAt: readAt}); err != nil {
			return marked, err
		}
		s.recorder.DeliveryChanged(engine.DeliveryUpdate{
			MessageID:      id,
			ConversationID: conversationID,
			SenderID:       m.SenderID,
			RecipientID:    userID,
			Status:         domain.DeliveryStatusRead,
		})
		marked = append(marked, id)
	}

	if len(marked) > 0 {
		s.broadcast(ctx, conversationID, events.MessagesMarkedRead{
			ConversationID: conversationID,
			ReaderID:       userID,
			MessageIDs:     marked,
			ReadAt:         readAt,
		})
	}
	return marked, nil
}

// History lists stored messages of a conversation, newest first. A zero
// before means from the latest; a non-zero since drops anything older.
func (s *DeliveryService) History(ctx context.Context, userID, conversationID uuid.UUID, before, since time.Time, limit int) ([]message.Message, error) {
	if _, err := s.participants(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, err := s.messages.ListByConversation(ctx, conversationID, before, limit)
	if err != nil || since.IsZero() {
		return msgs, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Deliveries lists per-recipient status of the caller's own message.
func (s *DeliveryService) Deliveries(ctx context.Context, userID, messageID uuid.UUID) ([]message.MessageDelivery, error) {
	m, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, sentinal_errors.ErrNotAuthorized
	}
	return s.messages.GetDeliveries(ctx, messageID)
}
