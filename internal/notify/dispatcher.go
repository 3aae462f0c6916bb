// Package notify fans price changes and chat messages out to the rooms and
// users that track them.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/pkg/log"
	"github.com/cartpulse/cartpulse/pkg/storage"
)

// Broadcaster delivers events to rooms and knows who is online.
type Broadcaster interface {
	Broadcast(room, event string, payload interface{}, excludeClientID string) int
	OnlineUserIDs() map[string]struct{}
}

// MembershipResolver finds the carts and wishlists that track a product.
// Lookups report failures as empty results.
type MembershipResolver interface {
	FindCartsContainingProduct(ctx context.Context, productID string) []domain.CartMembershipRecord
	FindWishlistsContainingProduct(ctx context.Context, productID string) []domain.WishlistRecord
}

// CatalogReader reads product and store metadata for enrichment.
type CatalogReader interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, bool, error)
	GetStore(ctx context.Context, storeID string) (*domain.Store, bool, error)
}

// UnreadCounter credits unread messages to offline participants.
type UnreadCounter interface {
	Increment(ctx context.Context, userID, chatID string) error
}

type Dispatcher struct {
	hub      Broadcaster
	resolver MembershipResolver
	catalog  CatalogReader
	unread   UnreadCounter
	images   storage.Storage
	imageTTL time.Duration
}

// NewDispatcher creates a dispatcher. images may be nil, in which case
// product image keys are forwarded as stored.
func NewDispatcher(hub Broadcaster, resolver MembershipResolver, catalog CatalogReader, unread UnreadCounter, images storage.Storage, imageTTL time.Duration) *Dispatcher {
	if imageTTL <= 0 {
		imageTTL = time.Hour
	}
	return &Dispatcher{
		hub:      hub,
		resolver: resolver,
		catalog:  catalog,
		unread:   unread,
		images:   images,
		imageTTL: imageTTL,
	}
}

// NotifyPriceChange runs both price-drop fan-outs for one event.
func (d *Dispatcher) NotifyPriceChange(ctx context.Context, ev domain.PriceChangeEvent) {
	d.NotifyCarts(ctx, ev)
	d.NotifyWishlists(ctx, ev)
}

// NotifyWishlists sends price-drop to the owner of every wishlist holding
// the product. It returns the number of wishlists notified.
func (d *Dispatcher) NotifyWishlists(ctx context.Context, ev domain.PriceChangeEvent) int {
	l := log.Ctx(ctx).With().Str(log.FieldProductID, ev.ProductID).Logger()

	wishlists := d.resolver.FindWishlistsContainingProduct(ctx, ev.ProductID)
	if len(wishlists) == 0 {
		l.Debug().Msg("no wishlists contain product")
		return 0
	}

	for _, w := range wishlists {
		d.hub.Broadcast(domain.UserRoom(w.UserID), domain.EventPriceDrop, domain.WishlistPriceDrop{
			PriceChangeEvent: ev,
			WishlistID:       w.WishlistID,
			WishlistName:     w.Name,
		}, "")
		metrics.PriceDrops.WithLabelValues(metrics.TargetWishlist).Inc()
	}

	l.Info().Int("wishlists", len(wishlists)).Msg("wishlist price-drop notifications sent")
	return len(wishlists)
}

// NotifyCarts sends price-drop to the room of every cart holding the product
// that has notifications enabled. It returns the number of carts notified.
func (d *Dispatcher) NotifyCarts(ctx context.Context, ev domain.PriceChangeEvent) int {
	l := log.Ctx(ctx).With().Str(log.FieldProductID, ev.ProductID).Logger()

	carts := d.resolver.FindCartsContainingProduct(ctx, ev.ProductID)
	if len(carts) == 0 {
		l.Info().Msg("no carts contain product")
		return 0
	}

	product, ok, err := d.catalog.GetProduct(ctx, ev.ProductID)
	if err != nil {
		l.Error().Err(err).Msg("product lookup failed, dropping cart notification")
		return 0
	}
	if !ok {
		l.Warn().Msg("product not found, dropping cart notification")
		return 0
	}

	ev = d.enrich(ctx, ev, product)

	notified := 0
	for _, cart := range carts {
		if !cart.NotificationsEnabled {
			l.Debug().Str(log.FieldCartID, cart.CartID).Msg("cart notifications disabled, skipping")
			continue
		}
		d.hub.Broadcast(domain.CartRoom(cart.CartID), domain.EventPriceDrop, domain.CartPriceDrop{
			PriceChangeEvent: ev,
			CartID:           cart.CartID,
		}, "")
		metrics.PriceDrops.WithLabelValues(metrics.TargetCart).Inc()
		notified++
	}

	l.Info().Int("carts", len(carts)).Int("notified", notified).Msg("cart price-drop notifications sent")
	return notified
}

// enrich backfills display fields the producer left empty. Prices are never
// touched.
func (d *Dispatcher) enrich(ctx context.Context, ev domain.PriceChangeEvent, product *domain.Product) domain.PriceChangeEvent {
	if ev.ProductName == "" {
		ev.ProductName = product.Name
	}
	if ev.Image == "" {
		ev.Image = product.Image
	}
	ev.Image = d.resolveImage(ctx, ev.Image)

	if ev.StoreName == "" && ev.StoreID != "" {
		store, ok, err := d.catalog.GetStore(ctx, ev.StoreID)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str("store_id", ev.StoreID).Msg("store lookup failed")
		} else if ok {
			ev.StoreName = store.Name
		}
	}
	return ev
}

func (d *Dispatcher) resolveImage(ctx context.Context, image string) string {
	if image == "" || d.images == nil || isAbsoluteURL(image) {
		return image
	}
	url, err := d.images.GetURL(ctx, image, d.imageTTL)
	if err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Str("image", image).Msg("image key not resolvable, forwarding as stored")
		return image
	}
	return url
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "data:")
}

// NotifyChatMessage delivers a stored message to the cart room, skipping the
// sending connection, and credits one unread message to every participant
// other than the sender with no live authenticated connection. It returns
// the number of participants credited.
func (d *Dispatcher) NotifyChatMessage(ctx context.Context, n domain.ChatNotification) int {
	if n.Message == nil {
		return 0
	}
	l := log.Ctx(ctx).With().Str(log.FieldChatID, n.ChatID).Logger()

	d.hub.Broadcast(domain.CartRoom(n.ChatID), domain.EventReceiveMessage, n.Message.ToWire(), n.ExcludeClientID)

	if d.unread == nil || len(n.Participants) == 0 {
		return 0
	}

	online := d.hub.OnlineUserIDs()
	credited := 0
	for _, userID := range n.Participants {
		if userID == "" || userID == n.SenderID {
			continue
		}
		if _, ok := online[userID]; ok {
			continue
		}
		if err := d.unread.Increment(ctx, userID, n.ChatID); err != nil {
			l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to increment unread count")
			continue
		}
		credited++
	}
	return credited
}
