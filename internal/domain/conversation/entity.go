package conversation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Conversation represents the conversations table
type Conversation struct {
	ID        uuid.UUID
	Type      string
	Subject   sql.NullString
	SharedKey sql.NullString
	CreatedBy uuid.NullUUID
	CreatedAt time.Time
	UpdatedAt time.Time

	Participants []Participant
}

// Participant represents the participants table
type Participant struct {
	ConversationID uuid.UUID
	UserID         uuid.UUID
	Role           string
	JoinedAt       time.Time
}

// ParticipantIDs returns the user ids of ps in order.
func ParticipantIDs(ps []Participant) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Contains reports whether userID is among ps.
func Contains(ps []Participant, userID uuid.UUID) bool {
	for _, p := range ps {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
