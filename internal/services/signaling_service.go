package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
	"sentinal-relay/pkg/logger"
)

const reasonUnreachable = "unreachable"

// Relayer pushes signals to every connection of the target user.
type Relayer interface {
	Relay(ctx context.Context, sig events.Signal) (int, error)
}

// SignalingService forwards call signaling between participants of a
// conversation. It keeps no call state.
type SignalingService struct {
	convs   repository.ConversationRepository
	hub     Relayer
	limiter RateLimiter
	logger  *logger.Logger
}

func NewSignalingService(convs repository.ConversationRepository, hub Relayer, limiter RateLimiter, l *logger.Logger) *SignalingService {
	if limiter == nil {
		limiter = NoRateLimit
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &SignalingService{convs: convs, hub: hub, limiter: limiter, logger: l.Named("signaling")}
}

// Relay stamps sig with fromUserID and forwards it. A call offer to a user
// with no live connection is answered to the caller as rejected.
func (s *SignalingService) Relay(ctx context.Context, fromUserID uuid.UUID, sig events.Signal) (int, error) {
	h := sig.Header()
	if h.CallID == "" || h.TargetUserID == uuid.Nil || h.ConversationID == uuid.Nil {
		return 0, sentinal_errors.ErrInvalidInput
	}
	if h.TargetUserID == fromUserID {
		return 0, sentinal_errors.ErrInvalidInput
	}
	offer, isOffer := sig.(events.CallOffer)
	if isOffer && !offer.CallType.Valid() {
		return 0, sentinal_errors.ErrInvalidInput
	}

	ps, err := s.convs.GetParticipants(ctx, h.ConversationID)
	if err != nil {
		return 0, err
	}
	if !conversation.Contains(ps, fromUserID) || !conversation.Contains(ps, h.TargetUserID) {
		return 0, sentinal_errors.ErrNotAuthorized
	}

	if isOffer {
		allowed, err := s.limiter.AllowCall(ctx, fromUserID)
		if err != nil {
			s.logger.Warn("call rate limit check failed", zap.Error(err))
		} else if !allowed {
			return 0, sentinal_errors.ErrRateLimited
		}
	}

	n, err := s.hub.Relay(ctx, sig.WithSender(fromUserID))
	if err != nil {
		return 0, err
	}
	if n == 0 && isOffer {
		s.logger.Info("callee unreachable",
			zap.String("call_id", h.CallID),
			zap.String("target_user_id", h.TargetUserID.String()))
		rejected := events.CallRejected{
			SignalHeader: events.SignalHeader{
				CallID:         h.CallID,
				ConversationID: h.ConversationID,
				TargetUserID:   fromUserID,
				FromUserID:     h.TargetUserID,
			},
			Reason: reasonUnreachable,
		}
		if _, err := s.hub.Relay(ctx, rejected); err != nil {
			return 0, err
		}
	}
	return n, nil
}
