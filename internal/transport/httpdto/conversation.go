package httpdto

import (
	"time"

	"sentinal-relay/internal/domain/conversation"
)

type CreateConversationRequest struct {
	Type         string   `json:"type" binding:"required"`
	Subject      string   `json:"subject"`
	Participants []string `json:"participants" binding:"required"`
}

type AddParticipantRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type ParticipantDTO struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type ConversationDTO struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Subject      string           `json:"subject,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Participants []ParticipantDTO `json:"participants"`
}

func FromConversation(c conversation.Conversation) ConversationDTO {
	dto := ConversationDTO{
		ID:           c.ID.String(),
		Type:         c.Type,
		CreatedAt:    c.CreatedAt,
		Participants: make([]ParticipantDTO, 0, len(c.Participants)),
	}
	if c.Subject.Valid {
		dto.Subject = c.Subject.String
	}
	for _, p := range c.Participants {
		dto.Participants = append(dto.Participants, ParticipantDTO{UserID: p.UserID.String(), Role: p.Role, JoinedAt: p.JoinedAt})
	}
	return dto
}
