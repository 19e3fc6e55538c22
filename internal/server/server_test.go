package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinal-relay/config"
	"sentinal-relay/internal/domain/user"
	"sentinal-relay/internal/engine"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/handler"
	"sentinal-relay/internal/queue"
	"sentinal-relay/internal/registry"
	"sentinal-relay/internal/repository/memory"
	"sentinal-relay/internal/server"
	"sentinal-relay/internal/services"
	"sentinal-relay/internal/websocket"
	"sentinal-relay/pkg/logger"
)

type stack struct {
	ts    *httptest.Server
	store *memory.Store
	auth  *services.AuthService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	cfg := &config.Config{AppMode: server.TestMode, JWTSecret: "test-secret", JWTExpiryMin: 5}
	l := logger.NewNop()

	store := memory.NewStore()
	users, convs, messages := store.Users(), store.Conversations(), store.Messages()

	recorder := services.NewRecorder(messages, users, nil, 1, l)
	hub := engine.NewHub(registry.New(), queue.NewMemoryQueue(queue.DefaultOptions()), recorder, l, engine.Options{})
	recorder.SetNotifier(hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	recorder.Start()

	auth := services.NewAuthService(users, cfg)
	crypto := services.NewEncryptionService(users, true, l)
	delivery := services.NewDeliveryService(convs, messages, users, crypto, hub, recorder, nil, l)
	signaling := services.NewSignalingService(convs, hub, nil, l)
	gateway := services.NewGateway(hub, users, convs, crypto, delivery, signaling, l)
	conversations := services.NewConversationService(convs, users, hub, l)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Auth:          handler.NewAuthHandler(auth),
		Messages:      handler.NewMessageHandler(delivery),
		Conversations: handler.NewConversationHandler(conversations),
		WebSocket:     websocket.NewHandler(gateway, auth, websocket.HandlerOptions{SendBuffer: 1024}, l),
	}, server.RouteDeps{Auth: auth, Stats: hub.Stats})

	ts := httptest.NewServer(srv.Engine())
	t.Cleanup(func() {
		ts.Close()
		recorder.Stop()
		cancel()
	})
	return &stack{ts: ts, store: store, auth: auth}
}

func (s *stack) user(t *testing.T, handle string) (uuid.UUID, string) {
	t.Helper()
	u := &user.User{Handle: handle, DisplayName: handle}
	require.NoError(t, s.store.Users().Create(context.Background(), u))
	token, _, err := s.auth.IssueAccessToken(u.ID, uuid.New())
	require.NoError(t, err)
	return u.ID, token
}

func (s *stack) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *stack) dial(t *testing.T, token string) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws?token=" + token
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of kind arrives. A websocket message may
// carry several newline separated frames.
func readUntil(t *testing.T, conn *gorillaws.Conn, kind events.Kind) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			ev, err := events.Decode(line)
			require.NoError(t, err)
			if ev.Kind() == kind {
				return ev
			}
		}
	}
}

func TestPingAndHealth(t *testing.T) {
	s := newStack(t)

	status, body := s.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, "healthy", data["status"])
}

func TestDevTokenIssuesTokenForKnownHandle(t *testing.T) {
	s := newStack(t)
	s.user(t, "alice")

	status, body := s.do(t, http.MethodPost, "/v1/auth/dev-token", "", map[string]string{"handle": "alice"})
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["access_token"])

	status, body = s.do(t, http.MethodPost, "/v1/auth/dev-token", "", map[string]string{"handle": "nobody"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestRESTRequiresToken(t *testing.T) {
	s := newStack(t)

	status, body := s.do(t, http.MethodGet, "/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	status, _ = s.do(t, http.MethodGet, "/v1/conversations", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := newStack(t)
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRESTSendReachesWebSocket(t *testing.T) {
	s := newStack(t)
	_, aliceToken := s.user(t, "alice")
	bobID, bobToken := s.user(t, "bob")

	status, body := s.do(t, http.MethodPost, "/v1/conversations", aliceToken, map[string]any{
		"type":         "direct",
		"participants": []string{bobID.String()},
	})
	require.Equal(t, http.StatusCreated, status)
	convID := body["data"].(map[string]any)["id"].(string)

	bob := s.dial(t, bobToken)

	status, _ = s.do(t, http.MethodPost, "/v1/conversations/"+convID+"/messages", aliceToken, map[string]string{
		"content": "hello over rest",
	})
	require.Equal(t, http.StatusCreated, status)

	ev := readUntil(t, bob, events.KindNewMessage).(events.NewMessage)
	assert.Equal(t, "hello over rest", ev.Content)
	assert.Equal(t, convID, ev.ConversationID.String())

	status, body = s.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages", bobToken, nil)
	require.Equal(t, http.StatusOK, status)
	msgs := body["data"].(map[string]any)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, ev.MessageID.String(), msgs[0].(map[string]any)["id"])
}

func TestWebSocketPingPong(t *testing.T) {
	s := newStack(t)
	_, token := s.user(t, "alice")
	conn := s.dial(t, token)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, events.MustEncode(events.Ping{})))
	readUntil(t, conn, events.KindPong)

	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"nope"}`)))
	e := readUntil(t, conn, events.KindError).(events.Error)
	assert.Equal(t, "INVALID_INPUT", e.Code)
}
