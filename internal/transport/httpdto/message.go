package httpdto

import (
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain/message"
	"sentinal-relay/internal/engine"
)

type SendMessageRequest struct {
	Content     string `json:"content" binding:"required"`
	ClientMsgID string `json:"client_message_id"`
	ReplyToID   string `json:"reply_to_id"`
}

type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids" binding:"required"`
}

type ReactRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// MessageDTO is the stored form of a message. Encrypted messages expose
// only the ciphertext pair alongside the sender's plaintext copy.
type MessageDTO struct {
	ID               string     `json:"id"`
	ConversationID   string     `json:"conversation_id"`
	SenderID         string     `json:"sender_id"`
	ClientMessageID  string     `json:"client_message_id,omitempty"`
	Content          string     `json:"content,omitempty"`
	EncryptedContent string     `json:"encrypted_content,omitempty"`
	Signature        string     `json:"signature,omitempty"`
	ReplyToID        string     `json:"reply_to_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	EditedAt         *time.Time `json:"edited_at,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// FromMessage renders m for viewerID. Only the sender sees plaintext of a
// sealed message; deleted messages carry no content.
func FromMessage(m message.Message, viewerID uuid.UUID) MessageDTO {
	dto := MessageDTO{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		CreatedAt:      m.CreatedAt,
	}
	if m.ClientMessageID.Valid {
		dto.ClientMessageID = m.ClientMessageID.String
	}
	if m.ReplyToMsgID.Valid {
		dto.ReplyToID = m.ReplyToMsgID.UUID.String()
	}
	if m.EditedAt.Valid {
		t := m.EditedAt.Time
		dto.EditedAt = &t
	}
	if m.IsDeleted() {
		t := m.DeletedAt.Time
		dto.DeletedAt = &t
		return dto
	}
	if m.IsEncrypted() && m.SenderID != viewerID {
		dto.EncryptedContent = m.EncryptedContent.String
		dto.Signature = m.Signature.String
		return dto
	}
	dto.Content = m.Content
	return dto
}

func FromMessages(ms []message.Message, viewerID uuid.UUID) []MessageDTO {
	out := make([]MessageDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, FromMessage(m, viewerID))
	}
	return out
}

type SendMessageResponse struct {
	Message   MessageDTO `json:"message"`
	Delivered []string   `json:"delivered"`
	Queued    []string   `json:"queued"`
}

func NewSendMessageResponse(m message.Message, res engine.DeliveryResult) SendMessageResponse {
	return SendMessageResponse{
		Message:   FromMessage(m, m.SenderID),
		Delivered: uuidStrings(res.Delivered),
		Queued:    uuidStrings(res.Queued),
	}
}

type DeliveryDTO struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func FromDeliveries(ds []message.MessageDelivery) []DeliveryDTO {
	out := make([]DeliveryDTO, 0, len(ds))
	for _, d := range ds {
		out = append(out, DeliveryDTO{UserID: d.UserID.String(), Status: d.Status, UpdatedAt: d.UpdatedAt})
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
