package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cartpulse/cartpulse/internal/domain"
)

// MessageRepository persists cart chat messages.
type MessageRepository interface {
	// Create stores msg, assigning its ID when empty.
	Create(ctx context.Context, msg *domain.ChatMessage) error

	// ListBefore returns up to limit messages of a cart with a timestamp
	// strictly before before (unbounded when nil), newest first.
	ListBefore(ctx context.Context, cartID string, before *time.Time, limit int) ([]domain.ChatMessage, error)

	Close() error
}

// CatalogRepository reads product, price and store data.
type CatalogRepository interface {
	LatestTwoPrices(ctx context.Context, productID, storeID string) (*domain.PricePair, bool, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, bool, error)
	GetStore(ctx context.Context, storeID string) (*domain.Store, bool, error)
}

// MembershipRepository resolves which carts and wishlists track a product.
// Lookups never fail: errors are logged and reported as no match.
type MembershipRepository interface {
	FindCartsContainingProduct(ctx context.Context, productID string) []domain.CartMembershipRecord
	FindWishlistsContainingProduct(ctx context.Context, productID string) []domain.WishlistRecord
	FindCart(ctx context.Context, cartID string) (*domain.CartMembershipRecord, bool)
}

// NewMessageID returns a ULID for a message written at ts. IDs sort by time,
// which breaks timestamp ties in history queries. ts must not precede the
// Unix epoch.
func NewMessageID(ts time.Time) (string, error) {
	if ts.Before(time.Unix(0, 0)) {
		return "", fmt.Errorf("message time %s precedes the unix epoch", ts.Format(time.RFC3339))
	}
	id, err := ulid.New(ulid.Timestamp(ts), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("failed to generate message id: %w", err)
	}
	return id.String(), nil
}

// normalizeTime drops precision beyond what every store keeps.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// cursorTime rounds an exclusive upper bound up to the next millisecond, so
// a stored message earlier than before but in the same millisecond still
// matches "timestamp < cursor".
func cursorTime(before time.Time) time.Time {
	c := normalizeTime(before)
	if c.Before(before) {
		c = c.Add(time.Millisecond)
	}
	return c
}
