package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/internal/engine"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/registry"
	"sentinal-relay/internal/repository"
	sentinal_errors "sentinal-relay/pkg/errors"
	"sentinal-relay/pkg/logger"
)

// FrameLimiter is implemented by connections that throttle inbound frames.
type FrameLimiter interface {
	AllowFrame(kind events.Kind) bool
}

// Gateway is the transport-facing entry point: it opens and closes
// sessions on the hub and dispatches every inbound client event.
type Gateway struct {
	hub       *engine.Hub
	users     repository.UserRepository
	convs     repository.ConversationRepository
	crypto    *EncryptionService
	delivery  *DeliveryService
	signaling *SignalingService
	logger    *logger.Logger
}

func NewGateway(
	hub *engine.Hub,
	users repository.UserRepository,
	convs repository.ConversationRepository,
	crypto *EncryptionService,
	delivery *DeliveryService,
	signaling *SignalingService,
	l *logger.Logger,
) *Gateway {
	if l == nil {
		l = logger.NewNop()
	}
	return &Gateway{
		hub:       hub,
		users:     users,
		convs:     convs,
		crypto:    crypto,
		delivery:  delivery,
		signaling: signaling,
		logger:    l.Named("gateway"),
	}
}

// Connect registers conn and writes its backlog: queued entries first
// ordered with the store catch-up by creation time. Catch-up only runs for
// the user's first live connection.
func (g *Gateway) Connect(ctx context.Context, conn registry.Conn) error {
	userID := conn.UserID()
	log := g.logger.With(zap.String("user_id", userID.String()), zap.String("client_id", conn.ID()))

	if generated, err := g.crypto.EnsureKeyPair(ctx, userID); err != nil {
		log.Warn("ensure key pair failed", zap.Error(err))
	} else if generated {
		log.Info("generated key pair")
	}

	convIDs, err := g.convs.ListUserConversationIDs(ctx, userID)
	if err != nil {
		return err
	}
	u, err := g.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	res, err := g.hub.Attach(ctx, conn, convIDs)
	if err != nil {
		return err
	}

	backlog := make([]engine.Outbound, 0, len(res.Queued))
	// skip in catch-up: queued entries and deliveries not yet persisted
	skip := make(map[uuid.UUID]bool, len(res.Queued)+len(res.Unsettled))
	for id := range res.Unsettled {
		skip[id] = true
	}
	for _, e := range res.Queued {
		skip[e.MessageID] = true
		p := g.delivery.OpenPayload(ctx, userID, e.Payload)
		backlog = append(backlog, engine.Outbound{
			Event:          events.NewMessage{MessagePayload: p},
			MessageID:      e.MessageID,
			ConversationID: p.ConversationID,
			SenderID:       p.SenderID,
			CreatedAt:      p.CreatedAt,
			FromQueue:      true,
		})
	}

	if res.First {
		var lastSeen time.Time
		if u.LastSeenAt.Valid {
			lastSeen = u.LastSeenAt.Time
		}
		missed, err := g.delivery.Missed(ctx, userID, lastSeen, skip)
		if err != nil {
			log.Error("missed message catch-up failed", zap.Error(err))
		}
		backlog = append(backlog, missed...)
	}

	sort.SliceStable(backlog, func(i, j int) bool {
		return backlog[i].CreatedAt.Before(backlog[j].CreatedAt)
	})

	if err := g.hub.Activate(ctx, conn, backlog); err != nil {
		return err
	}
	log.Info("connection ready",
		zap.Int("conversations", len(convIDs)),
		zap.Int("backlog", len(backlog)),
		zap.Bool("first", res.First))
	return nil
}

func (g *Gateway) Disconnect(ctx context.Context, conn registry.Conn) {
	if err := g.hub.Detach(ctx, conn); err != nil {
		g.logger.Warn("detach failed", zap.String("client_id", conn.ID()), zap.Error(err))
	}
}

// HandleFrame decodes one inbound frame and dispatches it. Failures are
// reported to the sending connection as an error event.
func (g *Gateway) HandleFrame(ctx context.Context, conn registry.Conn, frame []byte) {
	ev, err := events.Decode(frame)
	if err != nil {
		g.reply(ctx, conn, "", err)
		return
	}
	if l, ok := conn.(FrameLimiter); ok && !l.AllowFrame(ev.Kind()) {
		g.reply(ctx, conn, ev.Kind(), sentinal_errors.ErrRateLimited)
		return
	}
	if err := g.Dispatch(ctx, conn, ev); err != nil {
		g.reply(ctx, conn, ev.Kind(), err)
	}
}

func (g *Gateway) reply(ctx context.Context, conn registry.Conn, kind events.Kind, err error) {
	code := sentinal_errors.Code(err)
	msg := err.Error()
	if code == "INTERNAL_ERROR" {
		g.logger.Error("event handling failed",
			zap.String("user_id", conn.UserID().String()),
			zap.String("type", string(kind)),
			zap.Error(err))
		msg = "internal error"
	}
	if sendErr := g.hub.SendTo(ctx, conn, events.Error{Code: code, Message: msg, RequestKind: kind}); sendErr != nil &&
		!errors.Is(sendErr, sentinal_errors.ErrConnectionClosed) {
		g.logger.Warn("error reply failed", zap.Error(sendErr))
	}
}

// Dispatch routes a decoded client event. Server-originated kinds are
// refused.
func (g *Gateway) Dispatch(ctx context.Context, conn registry.Conn, ev events.Event) error {
	userID := conn.UserID()

	switch e := ev.(type) {
	case events.SendMessage:
		_, _, err := g.delivery.Send(ctx, SendInput{
			SenderID:        userID,
			ConversationID:  e.ConversationID,
			Content:         e.Content,
			ClientMessageID: e.ClientMessageID,
			ReplyToID:       e.ReplyToID,
		})
		return err
	case events.EditMessage:
		_, err := g.delivery.Edit(ctx, userID, e.MessageID, e.Content)
		return err
	case events.DeleteMessage:
		return g.delivery.Delete(ctx, userID, e.MessageID)
	case events.ReactMessage:
		return g.delivery.React(ctx, userID, e.MessageID, e.Emoji)
	case events.MarkRead:
		_, err := g.delivery.MarkRead(ctx, userID, e.ConversationID, e.MessageIDs)
		return err
	case events.SetTyping:
		return g.hub.SetTyping(ctx, conn, e.ConversationID, e.Typing)
	case events.JoinConversation:
		ok, err := g.convs.IsParticipant(ctx, e.ConversationID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return sentinal_errors.ErrNotAuthorized
		}
		return g.hub.Join(ctx, conn, e.ConversationID)
	case events.LeaveConversation:
		return g.hub.Leave(ctx, conn, e.ConversationID)
	case events.SetStatus:
		return g.hub.SetStatus(ctx, userID, e.Status)
	case events.Ping:
		return g.hub.SendTo(ctx, conn, events.Pong{})
	case events.CallOffer, events.CallAnswer, events.CallRejected, events.CallEnd, events.ICECandidate:
		_, err := g.signaling.Relay(ctx, userID, e.(events.Signal))
		return err
	case events.NewMessage, events.MissedMessage, events.MessageEdited, events.MessageDeleted,
		events.MessageReaction, events.MessageStatus, events.Typing, events.UserStatus,
		events.MessagesMarkedRead, events.Pong, events.Error:
		return sentinal_errors.ErrInvalidInput
	default:
		return sentinal_errors.ErrUnknownEvent
	}
}
