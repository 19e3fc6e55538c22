package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sentinal-relay/internal/domain"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/domain/user"
	"sentinal-relay/internal/engine"
	"sentinal-relay/internal/queue"
	"sentinal-relay/internal/registry"
	"sentinal-relay/internal/registry/registrytest"
	"sentinal-relay/internal/repository/memory"
	"sentinal-relay/pkg/logger"
)

const waitTimeout = 2 * time.Second

type harness struct {
	ctx       context.Context
	store     *memory.Store
	queue     *queue.MemoryQueue
	hub       *engine.Hub
	recorder  *Recorder
	crypto    *EncryptionService
	delivery  *DeliveryService
	signaling *SignalingService
	gateway   *Gateway
	logs      *observer.ObservedLogs
}

// steppingClock returns strictly increasing timestamps.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Now()
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	idleRecorder bool
}

// withIdleRecorder leaves the recorder workers stopped so persisted state
// lags behind the hub until the test calls h.recorder.Start.
func withIdleRecorder() harnessOption {
	return func(c *harnessConfig) { c.idleRecorder = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	var cfg harnessConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	core, logs := observer.New(zap.DebugLevel)
	l := logger.FromZap(zap.New(core))

	h := &harness{
		ctx:   context.Background(),
		store: memory.NewStore(),
		queue: queue.NewMemoryQueue(queue.DefaultOptions()),
		logs:  logs,
	}
	users, convs, messages := h.store.Users(), h.store.Conversations(), h.store.Messages()

	h.recorder = NewRecorder(messages, users, nil, 1, l)
	h.hub = engine.NewHub(registry.New(), h.queue, h.recorder, l, engine.Options{})
	h.recorder.SetNotifier(h.hub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.hub.Run(ctx)
	if !cfg.idleRecorder {
		h.recorder.Start()
	}
	t.Cleanup(h.recorder.Stop)

	h.crypto = NewEncryptionService(users, true, l)
	h.delivery = NewDeliveryService(convs, messages, users, h.crypto, h.hub, h.recorder, nil, l)
	h.delivery.now = steppingClock()
	h.signaling = NewSignalingService(convs, h.hub, nil, l)
	h.gateway = NewGateway(h.hub, users, convs, h.crypto, h.delivery, h.signaling, l)
	return h
}

func (h *harness) user(t *testing.T, handle string) uuid.UUID {
	t.Helper()
	u := &user.User{Handle: handle, DisplayName: handle}
	require.NoError(t, h.store.Users().Create(h.ctx, u))
	_, err := h.crypto.EnsureKeyPair(h.ctx, u.ID)
	require.NoError(t, err)
	return u.ID
}

// keylessUser creates a user without generating a key pair.
func (h *harness) keylessUser(t *testing.T, handle string) uuid.UUID {
	t.Helper()
	u := &user.User{Handle: handle, DisplayName: handle}
	require.NoError(t, h.store.Users().Create(h.ctx, u))
	return u.ID
}

func (h *harness) conversation(t *testing.T, kind domain.ConversationType, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	c := &conversation.Conversation{Type: string(kind)}
	for _, id := range members {
		c.Participants = append(c.Participants, conversation.Participant{UserID: id})
	}
	require.NoError(t, h.store.Conversations().Create(h.ctx, c))
	return c.ID
}

func (h *harness) connect(t *testing.T, userID uuid.UUID) *registrytest.Conn {
	t.Helper()
	conn := registrytest.NewConn(userID)
	require.NoError(t, h.gateway.Connect(h.ctx, conn))
	return conn
}

func (h *harness) send(t *testing.T, from, conv uuid.UUID, content string) uuid.UUID {
	t.Helper()
	msg, _, err := h.delivery.Send(h.ctx, SendInput{SenderID: from, ConversationID: conv, Content: content})
	require.NoError(t, err)
	return msg.ID
}

func (h *harness) statusOf(t *testing.T, messageID, recipientID uuid.UUID) domain.DeliveryStatus {
	t.Helper()
	got, err := h.store.Messages().GetDeliveryStatuses(h.ctx, recipientID, []uuid.UUID{messageID})
	require.NoError(t, err)
	return got[messageID]
}
