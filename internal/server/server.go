package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"sentinal-relay/config"
	"sentinal-relay/internal/engine"
	"sentinal-relay/internal/handler"
	"sentinal-relay/internal/middleware"
	"sentinal-relay/internal/redis"
	"sentinal-relay/internal/transport/httpdto"
	"sentinal-relay/internal/websocket"
	"sentinal-relay/pkg/logger"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Auth          *handler.AuthHandler
	Messages      *handler.MessageHandler
	Conversations *handler.ConversationHandler
	WebSocket     *websocket.Handler
}

// HealthCheck is one named dependency probe for /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type RouteDeps struct {
	Auth        middleware.Authenticator
	AuthLimiter *redis.RateLimiter
	Stats       func() engine.Stats
	Checks      []HealthCheck
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: router,
		config: cfg,
		logger: l,
	}
}

// Engine exposes the router, e.g. for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps RouteDeps) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for _, hc := range deps.Checks {
			if err := hc.Check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(hc.Name+": "+err.Error(), "UNHEALTHY"))
				return
			}
		}
		body := gin.H{"status": "healthy"}
		if deps.Stats != nil {
			body["connections"] = deps.Stats()
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(body))
	})

	s.engine.GET("/ws", handlers.WebSocket.Handle)

	v1 := s.engine.Group("/v1")

	if s.config.AppMode != ReleaseMode {
		auth := v1.Group("/auth")
		if deps.AuthLimiter != nil {
			auth.Use(middleware.AuthRateLimitMiddleware(deps.AuthLimiter))
		}
		auth.POST("/dev-token", handlers.Auth.DevToken)
	}

	authed := v1.Group("", middleware.AuthMiddleware(deps.Auth))
	{
		authed.POST("/conversations", handlers.Conversations.Create)
		authed.GET("/conversations", handlers.Conversations.List)
		authed.GET("/conversations/:id", handlers.Conversations.Get)
		authed.POST("/conversations/:id/participants", handlers.Conversations.AddParticipant)
		authed.DELETE("/conversations/:id/participants/:userId", handlers.Conversations.RemoveParticipant)

		authed.POST("/conversations/:id/messages", handlers.Messages.Send)
		authed.GET("/conversations/:id/messages", handlers.Messages.List)
		authed.POST("/conversations/:id/read", handlers.Messages.MarkRead)
		authed.PATCH("/messages/:id", handlers.Messages.Edit)
		authed.DELETE("/messages/:id", handlers.Messages.Delete)
		authed.POST("/messages/:id/reactions", handlers.Messages.React)
		authed.GET("/messages/:id/deliveries", handlers.Messages.Deliveries)
	}
}

// Start serves until SIGINT/SIGTERM or ctx is done, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if s.logger != nil {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
		return err
	case <-quit:
	case <-ctx.Done():
	}

	if s.logger != nil {
		s.logger.Infof("Shutting down, waiting up to 5 seconds for requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}
	return nil
}
