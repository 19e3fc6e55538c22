package message

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Message represents the messages table
type Message struct {
	ID               uuid.UUID
	ConversationID   uuid.UUID
	SenderID         uuid.UUID
	ClientMessageID  sql.NullString
	Content          string
	EncryptedContent sql.NullString
	Signature        sql.NullString
	ReplyToMsgID     uuid.NullUUID
	CreatedAt        time.Time
	EditedAt         sql.NullTime
	DeletedAt        sql.NullTime
}

func (m Message) IsEncrypted() bool {
	return m.EncryptedContent.Valid && m.Signature.Valid
}

func (m Message) IsDeleted() bool {
	return m.DeletedAt.Valid
}

// MessageDelivery represents message_deliveries, one row per (message, recipient)
type MessageDelivery struct {
	MessageID uuid.UUID
	UserID    uuid.UUID
	Status    string
	UpdatedAt time.Time
}

// ReadReceipt represents read_receipts
type ReadReceipt struct {
	MessageID uuid.UUID
	UserID    uuid.UUID
	ReadAt    time.Time
}

// MessageReaction represents message_reactions
type MessageReaction struct {
	ID           uuid.UUID
	MessageID    uuid.UUID
	UserID       uuid.UUID
	ReactionCode string
	CreatedAt    time.Time
}
