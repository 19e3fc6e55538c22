package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sentinal-relay/internal/transport/httpdto"
	"sentinal-relay/pkg/logger"
)

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, body := httpdto.ErrorFrom(err)
		if status >= 500 && l != nil {
			l.Ctx(c.Request.Context()).Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		}
		c.JSON(status, body)
	}
}
