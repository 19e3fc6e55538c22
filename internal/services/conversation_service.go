package services

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
	"sentinal-relay/pkg/logger"
)

// GroupMembership keeps live broadcast groups in line with participants.
type GroupMembership interface {
	JoinUser(ctx context.Context, userID, conversationID uuid.UUID) error
	LeaveUser(ctx context.Context, userID, conversationID uuid.UUID) error
}

type ConversationService struct {
	convs  repository.ConversationRepository
	users  repository.UserRepository
	groups GroupMembership
	logger *logger.Logger
}

func NewConversationService(convs repository.ConversationRepository, users repository.UserRepository, groups GroupMembership, l *logger.Logger) *ConversationService {
	if l == nil {
		l = logger.NewNop()
	}
	return &ConversationService{convs: convs, users: users, groups: groups, logger: l.Named("conversation")}
}

type CreateConversationInput struct {
	CreatorID      uuid.UUID
	Type           domain.ConversationType
	ParticipantIDs []uuid.UUID
	Subject        string
}

func (s *ConversationService) Create(ctx context.Context, in CreateConversationInput) (conversation.Conversation, error) {
	others := make([]uuid.UUID, 0, len(in.ParticipantIDs))
	seen := map[uuid.UUID]bool{in.CreatorID: true}
	for _, id := range in.ParticipantIDs {
		if seen[id] || id == uuid.Nil {
			continue
		}
		seen[id] = true
		others = append(others, id)
	}

	switch in.Type {
	case domain.ConversationTypeDirect:
		if len(others) != 1 {
			return conversation.Conversation{}, sentinal_errors.ErrInvalidInput
		}
	case domain.ConversationTypeGroup:
		if len(others) == 0 {
			return conversation.Conversation{}, sentinal_errors.ErrInvalidInput
		}
	default:
		return conversation.Conversation{}, sentinal_errors.ErrInvalidInput
	}

	for _, id := range others {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			return conversation.Conversation{}, err
		}
	}

	c := conversation.Conversation{
		Type:      string(in.Type),
		CreatedBy: uuid.NullUUID{UUID: in.CreatorID, Valid: true},
		Participants: []conversation.Participant{
			{UserID: in.CreatorID, Role: string(domain.ParticipantRoleOwner)},
		},
	}
	if subject := strings.TrimSpace(in.Subject); subject != "" {
		c.Subject = sql.NullString{String: subject, Valid: true}
	}
	for _, id := range others {
		c.Participants = append(c.Participants, conversation.Participant{UserID: id, Role: string(domain.ParticipantRoleMember)})
	}

	if err := s.convs.Create(ctx, &c); err != nil {
		return conversation.Conversation{}, err
	}
	for _, p := range c.Participants {
		s.join(ctx, p.UserID, c.ID)
	}
	return c, nil
}

func (s *ConversationService) join(ctx context.Context, userID, conversationID uuid.UUID) {
	if s.groups == nil {
		return
	}
	if err := s.groups.JoinUser(ctx, userID, conversationID); err != nil {
		s.logger.Warn("join live group failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func (s *ConversationService) Get(ctx context.Context, userID, conversationID uuid.UUID) (conversation.Conversation, error) {
	c, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	ps, err := s.convs.GetParticipants(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !conversation.Contains(ps, userID) {
		return conversation.Conversation{}, sentinal_errors.ErrNotAuthorized
	}
	c.Participants = ps
	return c, nil
}

func (s *ConversationService) List(ctx context.Context, userID uuid.UUID) ([]conversation.Conversation, error) {
	ids, err := s.convs.ListUserConversationIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]conversation.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func roleOf(ps []conversation.Participant, userID uuid.UUID) (domain.ParticipantRole, bool) {
	for _, p := range ps {
		if p.UserID == userID {
			return domain.ParticipantRole(p.Role), true
		}
	}
	return "", false
}

// AddParticipant lets an owner or admin grow a group.
func (s *ConversationService) AddParticipant(ctx context.Context, actorID, conversationID, userID uuid.UUID) error {
	c, err := s.Get(ctx, actorID, conversationID)
	if err != nil {
		return err
	}
	if c.Type != string(domain.ConversationTypeGroup) {
		return sentinal_errors.ErrInvalidInput
	}
	if role, _ := roleOf(c.Participants, actorID); role == domain.ParticipantRoleMember {
		return sentinal_errors.ErrNotAuthorized
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	if err := s.convs.AddParticipant(ctx, &conversation.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           string(domain.ParticipantRoleMember),
	}); err != nil {
		return err
	}
	s.join(ctx, userID, conversationID)
	return nil
}

// RemoveParticipant lets a user leave, or an owner or admin remove someone.
func (s *ConversationService) RemoveParticipant(ctx context.Context, actorID, conversationID, userID uuid.UUID) error {
	c, err := s.Get(ctx, actorID, conversationID)
	if err != nil {
		return err
	}
	if actorID != userID {
		if role, _ := roleOf(c.Participants, actorID); role == domain.ParticipantRoleMember {
			return sentinal_errors.ErrNotAuthorized
		}
	}
	if err := s.convs.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return err
	}
	if s.groups != nil {
		if err := s.groups.LeaveUser(ctx, userID, conversationID); err != nil {
			s.logger.Warn("leave live group failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return nil
}
