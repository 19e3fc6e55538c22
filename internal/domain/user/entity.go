package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User represents the users table
type User struct {
	ID          uuid.UUID
	Handle      string
	DisplayName string
	PublicKey   sql.NullString
	PrivateKey  sql.NullString
	Status      string
	LastSeenAt  sql.NullTime
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasKeyPair reports whether both halves of the key pair are stored.
func (u User) HasKeyPair() bool {
	return u.PublicKey.Valid && u.PublicKey.String != "" && u.PrivateKey.Valid && u.PrivateKey.String != ""
}
