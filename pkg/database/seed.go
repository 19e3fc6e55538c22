package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/message"
	"sentinal-relay/internal/domain/user"
	"sentinal-relay/internal/e2e"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
)

// SeedConfig holds configuration for seeding the database
type SeedConfig struct {
	Handles     []string
	WithKeys    bool
	WithMessage bool
}

// DefaultSeedConfig returns default seed configuration
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		Handles:     []string{"alice", "bob", "carol"},
		WithKeys:    true,
		WithMessage: true,
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	Users         []user.User
	Conversations []conversation.Conversation
	Messages      []message.Message
}

// Repositories groups what the seeder writes through.
type Repositories struct {
	Users         repository.UserRepository
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
}

// SeedDevelopment creates users with key pairs, a direct conversation
// between the first two and a group holding everyone. Existing handles are
// reused so the seed can run more than once.
func SeedDevelopment(ctx context.Context, repos Repositories, cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	if len(cfg.Handles) < 2 {
		return nil, fmt.Errorf("%w: need at least two handles", sentinal_errors.ErrInvalidInput)
	}

	result := &SeedResult{}
	for _, handle := range cfg.Handles {
		u, err := seedUser(ctx, repos.Users, handle, cfg.WithKeys)
		if err != nil {
			return nil, fmt.Errorf("seed user %s: %w", handle, err)
		}
		result.Users = append(result.Users, u)
	}

	first, second := result.Users[0], result.Users[1]
	direct := conversation.Conversation{
		Type:      string(domain.ConversationTypeDirect),
		CreatedBy: uuid.NullUUID{UUID: first.ID, Valid: true},
		Participants: []conversation.Participant{
			{UserID: first.ID, Role: string(domain.ParticipantRoleOwner)},
			{UserID: second.ID, Role: string(domain.ParticipantRoleMember)},
		},
	}
	if err := repos.Conversations.Create(ctx, &direct); err != nil {
		return nil, fmt.Errorf("seed direct conversation: %w", err)
	}
	result.Conversations = append(result.Conversations, direct)

	group := conversation.Conversation{
		Type:      string(domain.ConversationTypeGroup),
		Subject:   sql.NullString{String: "dev lounge", Valid: true},
		CreatedBy: uuid.NullUUID{UUID: first.ID, Valid: true},
	}
	for i, u := range result.Users {
		role := domain.ParticipantRoleMember
		if i == 0 {
			role = domain.ParticipantRoleOwner
		}
		group.Participants = append(group.Participants, conversation.Participant{UserID: u.ID, Role: string(role)})
	}
	if err := repos.Conversations.Create(ctx, &group); err != nil {
		return nil, fmt.Errorf("seed group conversation: %w", err)
	}
	result.Conversations = append(result.Conversations, group)

	if cfg.WithMessage && repos.Messages != nil {
		var recipients []uuid.UUID
		for _, u := range result.Users[1:] {
			recipients = append(recipients, u.ID)
		}
		m := message.Message{
			ConversationID: group.ID,
			SenderID:       first.ID,
			Content:        "welcome to the lounge",
			CreatedAt:      time.Now(),
		}
		if err := repos.Messages.Create(ctx, &m, recipients); err != nil {
			return nil, fmt.Errorf("seed message: %w", err)
		}
		result.Messages = append(result.Messages, m)
	}
	return result, nil
}

func seedUser(ctx context.Context, users repository.UserRepository, handle string, withKeys bool) (user.User, error) {
	existing, err := users.GetByHandle(ctx, handle)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, sentinal_errors.ErrNotFound):
		return user.User{}, err
	}

	u := user.User{Handle: handle, DisplayName: handle}
	if withKeys {
		kp, err := e2e.GenerateKeyPair()
		if err != nil {
			return user.User{}, err
		}
		u.PublicKey = sql.NullString{String: kp.Public.Encode(), Valid: true}
		u.PrivateKey = sql.NullString{String: kp.Private.Encode(), Valid: true}
	}
	if err := users.Create(ctx, &u); err != nil {
		return user.User{}, err
	}
	return u, nil
}
