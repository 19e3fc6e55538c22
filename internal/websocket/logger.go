package websocket

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinal-relay/pkg/logger"
)

// ConnLogger tags websocket events with the user and client they concern.
type ConnLogger struct {
	logger *logger.Logger
}

func NewConnLogger(l *logger.Logger) *ConnLogger {
	if l == nil {
		l = logger.NewNop()
	}
	return &ConnLogger{logger: l.Named("websocket")}
}

func (l *ConnLogger) fields(event string, userID uuid.UUID, clientID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID.String()),
		zap.String("client_id", clientID),
	}, extra...)
}

func (l *ConnLogger) Info(event string, userID uuid.UUID, clientID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, userID, clientID, fields)...)
}

func (l *ConnLogger) Warn(event string, userID uuid.UUID, clientID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, userID, clientID, fields)...)
}

func (l *ConnLogger) Error(event string, userID uuid.UUID, clientID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, userID, clientID, append(fields, zap.Error(err)))...)
}
