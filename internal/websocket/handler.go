package websocket

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sentinal-relay/internal/transport/httpdto"
	"sentinal-relay/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authenticator resolves a bearer token to a user and session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID uuid.UUID, sessionID uuid.UUID, err error)
}

type HandlerOptions struct {
	// SendBuffer must hold a full reconnect backlog plus live traffic.
	SendBuffer int
	Limits     FrameLimits
}

// Handler upgrades authenticated requests and runs the client pumps.
type Handler struct {
	gateway Gateway
	auth    Authenticator
	opts    HandlerOptions
	logger  *ConnLogger
}

func NewHandler(gw Gateway, auth Authenticator, opts HandlerOptions, l *logger.Logger) *Handler {
	if opts.Limits == (FrameLimits{}) {
		opts.Limits = DefaultFrameLimits
	}
	return &Handler{gateway: gw, auth: auth, opts: opts, logger: NewConnLogger(l)}
}

// Handle upgrades HTTP to WebSocket
func (h *Handler) Handle(c *gin.Context) {
	token := extractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("missing token", "UNAUTHORIZED"))
		return
	}

	userID, _, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("invalid token", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", userID, "", err)
		return
	}

	// the session outlives the upgrade request
	ctx := context.WithoutCancel(c.Request.Context())

	client := NewClient(conn, userID, h.opts.SendBuffer, h.opts.Limits, h.logger)
	go client.writePump()

	if err := h.gateway.Connect(ctx, client); err != nil {
		h.logger.Error("connect failed", userID, client.ID(), err)
		h.gateway.Disconnect(ctx, client)
		client.Close()
		return
	}
	h.logger.Info("connected", userID, client.ID(), zap.String("remote", c.ClientIP()))

	go client.readPump(ctx, h.gateway)
}

func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return ""
}
