package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/queue"
	"sentinal-relay/internal/registry"
	sentinal_errors "sentinal-relay/pkg/errors"
	"sentinal-relay/pkg/logger"
)

// DeliveryUpdate reports a delivery status transition for persistence.
type DeliveryUpdate struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	RecipientID    uuid.UUID
	Status         domain.DeliveryStatus
}

// PresenceUpdate reports a presence transition for persistence.
type PresenceUpdate struct {
	UserID uuid.UUID
	Status domain.PresenceStatus
	At     time.Time
}

// Recorder receives state changes the hub made. Implementations must not
// block: they run on the reactor goroutine.
type Recorder interface {
	DeliveryChanged(u DeliveryUpdate)
	PresenceChanged(u PresenceUpdate)
}

type nopRecorder struct{}

func (nopRecorder) DeliveryChanged(DeliveryUpdate) {}
func (nopRecorder) PresenceChanged(PresenceUpdate) {}

type Options struct {
	MaxConnectionsPerUser int
}

// Hub is the single event-processing unit. The registry, the offline queue,
// typing sets and presence state are only mutated from Run's goroutine.
type Hub struct {
	registry *registry.Registry
	queue    queue.Queue
	recorder Recorder
	logger   *logger.Logger
	opts     Options
	now      func() time.Time

	ops     chan func()
	stopped chan struct{}
	running int32

	// draining holds frames for connections still receiving their backlog
	draining map[string]*drainBuffer
	typing   map[uuid.UUID]map[uuid.UUID]struct{}
	status   map[uuid.UUID]domain.PresenceStatus

	unsettled *unsettled
}

type drainBuffer struct {
	frames [][]byte
}

func NewHub(reg *registry.Registry, q queue.Queue, rec Recorder, l *logger.Logger, opts Options) *Hub {
	if rec == nil {
		rec = nopRecorder{}
	}
	if l == nil {
		l = logger.NewNop()
	}
	if opts.MaxConnectionsPerUser <= 0 {
		opts.MaxConnectionsPerUser = 10
	}
	return &Hub{
		registry: reg,
		queue:    q,
		recorder: rec,
		logger:   l.Named("hub"),
		opts:     opts,
		now:      time.Now,
		ops:      make(chan func(), 256),
		stopped:  make(chan struct{}),
		draining: make(map[string]*drainBuffer),
		typing:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		status:   make(map[uuid.UUID]domain.PresenceStatus),

		unsettled: newUnsettled(),
	}
}

// SetRecorder replaces the recorder. Call before Run.
func (h *Hub) SetRecorder(rec Recorder) {
	if rec != nil {
		h.recorder = rec
	}
}

// Run processes operations until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	atomic.StoreInt32(&h.running, 1)
	defer atomic.StoreInt32(&h.running, 0)

	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			for _, c := range h.registry.All() {
				h.registry.Unregister(c)
				c.Close()
			}
			h.logger.Info("hub stopped")
			return
		case op := <-h.ops:
			op()
		}
	}
}

func (h *Hub) IsRunning() bool {
	return atomic.LoadInt32(&h.running) == 1
}

// exec runs op on the reactor and waits for it. The op itself is not
// cancelled by ctx once started, so state changes are never half-applied.
func (h *Hub) exec(ctx context.Context, op func(ctx context.Context)) error {
	opCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		op(opCtx)
	}

	select {
	case <-h.stopped:
		return sentinal_errors.ErrServiceUnavailable
	default:
	}

	select {
	case h.ops <- wrapped:
	case <-h.stopped:
		return sentinal_errors.ErrServiceUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-h.stopped:
		return sentinal_errors.ErrServiceUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOnline reads the registry directly; it never mutates state.
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	return h.registry.IsOnline(userID)
}

// AttachResult is the snapshot taken when a connection opens.
type AttachResult struct {
	First  bool
	Queued []queue.Entry
	// Unsettled holds ids already handed to the user whose delivered
	// status is still on its way to storage.
	Unsettled map[uuid.UUID]bool
}

// Attach registers conn, joins it to conversations and snapshots the user's
// offline queue. Until Activate, live frames for conn are held back so the
// backlog is always written first.
func (h *Hub) Attach(ctx context.Context, conn registry.Conn, conversations []uuid.UUID) (AttachResult, error) {
	var res AttachResult
	err := h.exec(ctx, func(ctx context.Context) {
		userID := conn.UserID()

		res.First = h.registry.Register(conn)
		h.draining[conn.ID()] = &drainBuffer{}
		for _, convID := range conversations {
			h.registry.Join(conn, convID)
		}

		if conns := h.registry.Connections(userID); len(conns) > h.opts.MaxConnectionsPerUser {
			oldest := conns[0]
			h.logger.Warn("max connections per user reached, evicting oldest",
				zap.String("user_id", userID.String()),
				zap.String("client_id", oldest.ID()))
			h.detach(oldest)
			oldest.Close()
		}

		if res.First {
			h.setPresence(userID, domain.PresenceOnline, nil)
		}

		queued, err := h.queue.Pending(ctx, userID)
		if err != nil {
			h.logger.Error("read offline queue failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
		res.Queued = queued
		res.Unsettled = h.unsettled.snapshot(userID)
	})
	return res, err
}

// Outbound is one backlog item written by Activate.
type Outbound struct {
	Event          events.Event
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	CreatedAt      time.Time
	FromQueue      bool
}

// Activate writes the backlog to conn in order, acknowledging queue entries
// as the transport accepts them, then releases frames held since Attach.
func (h *Hub) Activate(ctx context.Context, conn registry.Conn, backlog []Outbound) error {
	var result error
	err := h.exec(ctx, func(ctx context.Context) {
		buf, ok := h.draining[conn.ID()]
		if !ok {
			result = sentinal_errors.ErrConnectionClosed
			return
		}
		delete(h.draining, conn.ID())
		userID := conn.UserID()

		for _, o := range backlog {
			frame, err := events.Encode(o.Event)
			if err != nil {
				h.logger.Error("encode backlog event failed", zap.Error(err))
				continue
			}
			if err := conn.Send(frame); err != nil {
				h.dropStale(conn, err)
				result = err
				return
			}
			if o.FromQueue {
				if err := h.queue.Ack(ctx, userID, o.MessageID); err != nil {
					h.logger.Error("ack offline entry failed", zap.String("message_id", o.MessageID.String()), zap.Error(err))
				}
			}
			h.markDelivered(DeliveryUpdate{
				MessageID:      o.MessageID,
				ConversationID: o.ConversationID,
				SenderID:       o.SenderID,
				RecipientID:    userID,
				Status:         domain.DeliveryStatusDelivered,
			})
		}

		for _, frame := range buf.frames {
			if err := conn.Send(frame); err != nil {
				h.dropStale(conn, err)
				result = err
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return result
}

// Detach removes conn. It is safe to call for connections already dropped.
func (h *Hub) Detach(ctx context.Context, conn registry.Conn) error {
	return h.exec(ctx, func(context.Context) {
		h.detach(conn)
	})
}

func (h *Hub) detach(conn registry.Conn) {
	userID := conn.UserID()
	groups := h.registry.Groups(conn)
	last, removed := h.registry.Unregister(conn)
	if !removed {
		return
	}
	delete(h.draining, conn.ID())

	for _, convID := range groups {
		if !h.registry.UserInGroup(userID, convID) {
			h.clearTyping(convID, userID)
		}
	}

	if last {
		now := h.now()
		h.setPresence(userID, domain.PresenceOffline, &now)
	}
}

// dropStale treats a connection that refused a frame as gone.
func (h *Hub) dropStale(conn registry.Conn, cause error) {
	h.logger.Warn("dropping stale connection",
		zap.String("user_id", conn.UserID().String()),
		zap.String("client_id", conn.ID()),
		zap.Error(cause))
	h.detach(conn)
	conn.Close()
}

// holdBack queues frame for conn if it is still draining its backlog.
func (h *Hub) holdBack(conn registry.Conn, frame []byte) bool {
	buf, ok := h.draining[conn.ID()]
	if ok {
		buf.frames = append(buf.frames, frame)
	}
	return ok
}

// push writes frame to conn, holding it back while conn drains its backlog.
func (h *Hub) push(conn registry.Conn, frame []byte) bool {
	if h.holdBack(conn, frame) {
		return true
	}
	if err := conn.Send(frame); err != nil {
		h.dropStale(conn, err)
		return false
	}
	return true
}

func (h *Hub) pushToUser(userID uuid.UUID, frame []byte) int {
	reached, stale := h.registry.Send(userID, frame, func(c registry.Conn) bool {
		return h.holdBack(c, frame)
	})
	for _, s := range stale {
		h.dropStale(s.Conn, s.Err)
	}
	return reached
}

func (h *Hub) emitToUser(userID uuid.UUID, ev events.Event) int {
	frame, err := events.Encode(ev)
	if err != nil {
		h.logger.Error("encode event failed", zap.String("type", string(ev.Kind())), zap.Error(err))
		return 0
	}
	return h.pushToUser(userID, frame)
}

// SendToUsers emits ev to every connection of each user.
func (h *Hub) SendToUsers(ctx context.Context, userIDs []uuid.UUID, ev events.Event) (int, error) {
	total := 0
	err := h.exec(ctx, func(context.Context) {
		for _, id := range userIDs {
			total += h.emitToUser(id, ev)
		}
	})
	return total, err
}

// SendTo emits ev to a single connection, e.g. a reply or an error.
func (h *Hub) SendTo(ctx context.Context, conn registry.Conn, ev events.Event) error {
	frame, err := events.Encode(ev)
	if err != nil {
		return err
	}
	var ok bool
	if err := h.exec(ctx, func(context.Context) {
		ok = h.push(conn, frame)
	}); err != nil {
		return err
	}
	if !ok {
		return sentinal_errors.ErrConnectionClosed
	}
	return nil
}

// Relay forwards a signaling message to every connection of its target.
func (h *Hub) Relay(ctx context.Context, sig events.Signal) (int, error) {
	return h.SendToUsers(ctx, []uuid.UUID{sig.Header().TargetUserID}, sig)
}

// Join adds conn to a conversation's broadcast group.
func (h *Hub) Join(ctx context.Context, conn registry.Conn, conversationID uuid.UUID) error {
	return h.exec(ctx, func(context.Context) {
		h.registry.Join(conn, conversationID)
	})
}

// Leave removes conn from the group and stops its user's typing there.
func (h *Hub) Leave(ctx context.Context, conn registry.Conn, conversationID uuid.UUID) error {
	return h.exec(ctx, func(context.Context) {
		if !h.registry.Leave(conn, conversationID) {
			return
		}
		if !h.registry.UserInGroup(conn.UserID(), conversationID) {
			h.clearTyping(conversationID, conn.UserID())
		}
	})
}

// JoinUser adds every live connection of userID to the group, e.g. after
// the user was added to a conversation.
func (h *Hub) JoinUser(ctx context.Context, userID, conversationID uuid.UUID) error {
	return h.exec(ctx, func(context.Context) {
		for _, c := range h.registry.Connections(userID) {
			h.registry.Join(c, conversationID)
		}
	})
}

// LeaveUser removes every connection of userID from the group.
func (h *Hub) LeaveUser(ctx context.Context, userID, conversationID uuid.UUID) error {
	return h.exec(ctx, func(context.Context) {
		for _, c := range h.registry.Connections(userID) {
			h.registry.Leave(c, conversationID)
		}
		h.clearTyping(conversationID, userID)
	})
}

// Stats is a point-in-time view for health endpoints.
type Stats struct {
	OnlineUsers int `json:"online_users"`
	Connections int `json:"connections"`
}

func (h *Hub) Stats() Stats {
	return Stats{
		OnlineUsers: len(h.registry.OnlineUsers()),
		Connections: len(h.registry.All()),
	}
}
