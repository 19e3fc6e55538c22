package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/message"
	"sentinal-relay/internal/domain/user"
)

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
	GetByHandle(ctx context.Context, handle string) (user.User, error)

	// GetPublicKey returns ErrNotFound when the user has no key pair yet.
	GetPublicKey(ctx context.Context, userID uuid.UUID) (string, error)
	GetPrivateKey(ctx context.Context, userID uuid.UUID) (string, error)
	SetKeyPair(ctx context.Context, userID uuid.UUID, publicKey, privateKey string) error

	UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) error
	UpdateLastSeen(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error
}

type ConversationRepository interface {
	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	AddParticipant(ctx context.Context, p *conversation.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error

	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	ListUserConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type MessageRepository interface {
	// Create stores m and a sent delivery row for every recipient atomically.
	Create(ctx context.Context, m *message.Message, recipients []uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error)
	// GetSince returns messages in userID's conversations created after since,
	// excluding the user's own and deleted ones, oldest first.
	GetSince(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]message.Message, error)

	UpdateContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error

	// RecordDeliveryStatus moves the status forward and reports whether it changed.
	RecordDeliveryStatus(ctx context.Context, messageID, userID uuid.UUID, status domain.DeliveryStatus) (bool, error)
	GetDeliveryStatuses(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (map[uuid.UUID]domain.DeliveryStatus, error)
	GetDeliveries(ctx context.Context, messageID uuid.UUID) ([]message.MessageDelivery, error)

	RecordReadReceipt(ctx context.Context, r message.ReadReceipt) error
	AddReaction(ctx context.Context, r *message.MessageReaction) error
}
