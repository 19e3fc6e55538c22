package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/message"
	sentinal_errors "sentinal-relay/pkg/errors"
)

type messageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, client_message_id, content, encrypted_content, signature, reply_to_msg_id, created_at, edited_at, deleted_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (message.Message, error) {
	var m message.Message
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ClientMessageID,
		&m.Content,
		&m.EncryptedContent,
		&m.Signature,
		&m.ReplyToMsgID,
		&m.CreatedAt,
		&m.EditedAt,
		&m.DeletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Message{}, sentinal_errors.ErrNotFound
	}
	return m, err
}

func scanMessages(rows *sql.Rows) ([]message.Message, error) {
	defer rows.Close()
	var out []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *messageRepository) Create(ctx context.Context, m *message.Message, recipients []uuid.UUID) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	return WithTx(ctx, r.db, func(tx DBTX) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO messages (`+messageColumns+`)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        `,
			m.ID,
			m.ConversationID,
			m.SenderID,
			m.ClientMessageID,
			m.Content,
			m.EncryptedContent,
			m.Signature,
			m.ReplyToMsgID,
			m.CreatedAt,
			m.EditedAt,
			m.DeletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinal_errors.ErrAlreadyExists
			}
			return err
		}

		for _, recipient := range recipients {
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO message_deliveries (message_id, user_id, status, updated_at)
                VALUES ($1,$2,$3,$4)
                ON CONFLICT (message_id, user_id) DO NOTHING
            `, m.ID, recipient, string(domain.DeliveryStatusSent), m.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	return scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error) {
	if before.IsZero() {
		before = time.Now().Add(time.Minute)
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE conversation_id = $1 AND created_at < $2
        ORDER BY created_at DESC
        LIMIT $3
    `, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (r *messageRepository) GetSince(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]message.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT m.id, m.conversation_id, m.sender_id, m.client_message_id, m.content, m.encrypted_content,
               m.signature, m.reply_to_msg_id, m.created_at, m.edited_at, m.deleted_at
        FROM messages m
        JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1
        WHERE m.created_at > $2
          AND m.sender_id <> $1
          AND m.deleted_at IS NULL
        ORDER BY m.created_at ASC
        LIMIT $3
    `, userID, since, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (r *messageRepository) UpdateContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE messages
        SET content = $1, encrypted_content = NULL, signature = NULL, edited_at = $2
        WHERE id = $3 AND deleted_at IS NULL
    `, content, editedAt, id)
	return checkAffected(res, err)
}

func (r *messageRepository) SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE messages
        SET deleted_at = $1
        WHERE id = $2 AND deleted_at IS NULL
    `, deletedAt, id)
	return checkAffected(res, err)
}

func (r *messageRepository) RecordDeliveryStatus(ctx context.Context, messageID, userID uuid.UUID, status domain.DeliveryStatus) (bool, error) {
	if !status.Valid() {
		return false, sentinal_errors.ErrInvalidInput
	}

	changed := false
	err := WithTx(ctx, r.db, func(tx DBTX) error {
		var current string
		err := tx.QueryRowContext(ctx, `
            SELECT status FROM message_deliveries
            WHERE message_id = $1 AND user_id = $2
            FOR UPDATE
        `, messageID, userID).Scan(&current)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
                INSERT INTO message_deliveries (message_id, user_id, status, updated_at)
                VALUES ($1,$2,$3,$4)
            `, messageID, userID, string(status), time.Now())
			changed = err == nil
			return err
		case err != nil:
			return err
		}

		if !domain.DeliveryStatus(current).CanAdvanceTo(status) {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE message_deliveries
            SET status = $1, updated_at = $2
            WHERE message_id = $3 AND user_id = $4
        `, string(status), time.Now(), messageID, userID)
		changed = err == nil
		return err
	})
	return changed, err
}

func (r *messageRepository) GetDeliveryStatuses(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (map[uuid.UUID]domain.DeliveryStatus, error) {
	out := make(map[uuid.UUID]domain.DeliveryStatus, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}

	args := make([]interface{}, 0, len(messageIDs)+1)
	args = append(args, userID)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT message_id, status
        FROM message_deliveries
        WHERE user_id = $1 AND message_id IN (`+buildPlaceholders(2, len(messageIDs))+`)
    `, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = domain.DeliveryStatus(status)
	}
	return out, rows.Err()
}

func (r *messageRepository) GetDeliveries(ctx context.Context, messageID uuid.UUID) ([]message.MessageDelivery, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT message_id, user_id, status, updated_at
        FROM message_deliveries
        WHERE message_id = $1
        ORDER BY updated_at ASC
    `, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []message.MessageDelivery
	for rows.Next() {
		var d message.MessageDelivery
		if err := rows.Scan(&d.MessageID, &d.UserID, &d.Status, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *messageRepository) RecordReadReceipt(ctx context.Context, rr message.ReadReceipt) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO read_receipts (message_id, user_id, read_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (message_id, user_id) DO NOTHING
    `, rr.MessageID, rr.UserID, rr.ReadAt)
	return err
}

func (r *messageRepository) AddReaction(ctx context.Context, mr *message.MessageReaction) error {
	if mr.ID == uuid.Nil {
		mr.ID = uuid.New()
	}
	if mr.CreatedAt.IsZero() {
		mr.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO message_reactions (id, message_id, user_id, reaction_code, created_at)
        VALUES ($1,$2,$3,$4,$5)
    `, mr.ID, mr.MessageID, mr.UserID, mr.ReactionCode, mr.CreatedAt)
	if isUniqueViolation(err) {
		return sentinal_errors.ErrAlreadyExists
	}
	return err
}
