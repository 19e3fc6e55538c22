package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	sentinal_errors "sentinal-relay/pkg/errors"
)

type conversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	now := time.Now()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt, c.UpdatedAt = now, now

	return WithTx(ctx, r.db, func(tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO conversations (id, type, subject, shared_key, created_by, created_at, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7)
        `, c.ID, c.Type, c.Subject, c.SharedKey, c.CreatedBy, c.CreatedAt, c.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return sentinal_errors.ErrAlreadyExists
			}
			return err
		}
		for i := range c.Participants {
			p := &c.Participants[i]
			p.ConversationID = c.ID
			if err := insertParticipant(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertParticipant(ctx context.Context, db DBTX, p *conversation.Participant) error {
	if p.Role == "" {
		p.Role = string(domain.ParticipantRoleMember)
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
        INSERT INTO participants (conversation_id, user_id, role, joined_at)
        VALUES ($1,$2,$3,$4)
    `, p.ConversationID, p.UserID, p.Role, p.JoinedAt)
	if isUniqueViolation(err) {
		return sentinal_errors.ErrAlreadyExists
	}
	return err
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.QueryRowContext(ctx, `
        SELECT id, type, subject, shared_key, created_by, created_at, updated_at
        FROM conversations
        WHERE id = $1
    `, id).Scan(&c.ID, &c.Type, &c.Subject, &c.SharedKey, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, sentinal_errors.ErrNotFound
	}
	if err != nil {
		return conversation.Conversation{}, err
	}

	c.Participants, err = r.GetParticipants(ctx, id)
	if err != nil {
		return conversation.Conversation{}, err
	}
	return c, nil
}

func (r *conversationRepository) AddParticipant(ctx context.Context, p *conversation.Participant) error {
	return insertParticipant(ctx, r.db, p)
}

func (r *conversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
        DELETE FROM participants
        WHERE conversation_id = $1 AND user_id = $2
    `, conversationID, userID)
	return checkAffected(res, err)
}

func (r *conversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT conversation_id, user_id, role, joined_at
        FROM participants
        WHERE conversation_id = $1
        ORDER BY joined_at ASC
    `, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []conversation.Participant
	for rows.Next() {
		var p conversation.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *conversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2
        )
    `, conversationID, userID).Scan(&exists)
	return exists, err
}

func (r *conversationRepository) ListUserConversationIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT conversation_id
        FROM participants
        WHERE user_id = $1
        ORDER BY joined_at ASC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
