package log

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const headerRequestID = "X-Request-ID"

// quietPaths are polled by health checks and scrapers; they log at debug.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// GinMiddleware attaches a request-scoped logger to every request and logs
// one line when it finishes. Websocket upgrades log when the connection
// closes, so their latency is the session length.
func GinMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()

		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)

		fields := logger.With().
			Str(FieldRequestID, id).
			Str(FieldMethod, c.Request.Method).
			Str(FieldPath, c.Request.URL.Path)
		if cartID := c.Param("cartId"); cartID != "" {
			fields = fields.Str(FieldCartID, cartID)
		}
		reqLog := fields.Logger()

		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), reqLog))
		c.Next()

		level := zerolog.InfoLevel
		switch status := c.Writer.Status(); {
		case status >= 500:
			level = zerolog.ErrorLevel
		case quietPaths[c.FullPath()]:
			level = zerolog.DebugLevel
		}

		evt := reqLog.WithLevel(level).
			Int(FieldStatus, c.Writer.Status()).
			Str(FieldClientIP, c.ClientIP()).
			Int64(FieldLatency, time.Since(began).Milliseconds())
		// The auth middleware runs inside c.Next, so the user is known only now.
		if userID := c.GetString(FieldUserID); userID != "" {
			evt = evt.Str(FieldUserID, userID)
		}
		evt.Msg("request completed")
	}
}
