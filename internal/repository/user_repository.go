package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/user"
	sentinal_errors "sentinal-relay/pkg/errors"
)

type userRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, handle, display_name, public_key, private_key, status, last_seen_at, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (user.User, error) {
	var u user.User
	err := row.Scan(
		&u.ID,
		&u.Handle,
		&u.DisplayName,
		&u.PublicKey,
		&u.PrivateKey,
		&u.Status,
		&u.LastSeenAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, sentinal_errors.ErrNotFound
	}
	return u, err
}

func (r *userRepository) Create(ctx context.Context, u *user.User) error {
	now := time.Now()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Status == "" {
		u.Status = string(domain.PresenceOffline)
	}
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `,
		u.ID,
		u.Handle,
		u.DisplayName,
		u.PublicKey,
		u.PrivateKey,
		u.Status,
		u.LastSeenAt,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinal_errors.ErrAlreadyExists
	}
	return err
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *userRepository) GetByHandle(ctx context.Context, handle string) (user.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE handle = $1`, handle))
}

func (r *userRepository) getKey(ctx context.Context, userID uuid.UUID, column string) (string, error) {
	var key sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT `+column+` FROM users WHERE id = $1`, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sentinal_errors.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !key.Valid || key.String == "" {
		return "", sentinal_errors.ErrNotFound
	}
	return key.String, nil
}

func (r *userRepository) GetPublicKey(ctx context.Context, userID uuid.UUID) (string, error) {
	return r.getKey(ctx, userID, "public_key")
}

func (r *userRepository) GetPrivateKey(ctx context.Context, userID uuid.UUID) (string, error) {
	return r.getKey(ctx, userID, "private_key")
}

func (r *userRepository) SetKeyPair(ctx context.Context, userID uuid.UUID, publicKey, privateKey string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE users
        SET public_key = $1, private_key = $2, updated_at = $3
        WHERE id = $4
    `, publicKey, privateKey, time.Now(), userID)
	return checkAffected(res, err)
}

func (r *userRepository) UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE users
        SET status = $1, updated_at = $2
        WHERE id = $3
    `, string(status), time.Now(), userID)
	return checkAffected(res, err)
}

func (r *userRepository) UpdateLastSeen(ctx context.Context, userID uuid.UUID, lastSeen time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE users
        SET last_seen_at = $1, updated_at = $2
        WHERE id = $3
    `, lastSeen, time.Now(), userID)
	return checkAffected(res, err)
}
