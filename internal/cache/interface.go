package cache

import (
	"context"
	"time"

	"github.com/cartpulse/cartpulse/internal/domain"
)

// MessageCache stores history pages. Keys embed a per-cart version that
// every append bumps, so pages cached before a write are never served after
// it.
type MessageCache interface {
	Get(ctx context.Context, key string) ([]domain.ChatMessage, error)
	Set(ctx context.Context, key string, messages []domain.ChatMessage, ttl time.Duration) error
	Version(ctx context.Context, cartID string) (int64, error)
	BumpVersion(ctx context.Context, cartID string) error
	BuildKey(cartID string, version int64, before time.Time, limit int) string
	Close() error
}
