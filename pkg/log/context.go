package log

import (
	"context"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Ctx returns the logger stored in ctx, or the global logger when there is
// none.
func Ctx(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return l
		}
	}
	return L()
}

// WithConn derives a context whose logger is tagged with a websocket
// connection and, once it has authenticated, its user.
func WithConn(ctx context.Context, connID, userID string) context.Context {
	fields := Ctx(ctx).With().Str(FieldConnID, connID)
	if userID != "" {
		fields = fields.Str(FieldUserID, userID)
	}
	return WithLogger(ctx, fields.Logger())
}
