package consumer

import (
	"context"
	"fmt"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/log"
	"github.com/cartpulse/cartpulse/pkg/pubsub"
)

// PriceNotifier fans a price drop out to carts and wishlists.
type PriceNotifier interface {
	NotifyPriceChange(ctx context.Context, ev domain.PriceChangeEvent)
}

// PriceChecker decides whether a newly recorded price is a drop.
type PriceChecker interface {
	Check(ctx context.Context, productID, storeID string) (*domain.PriceChangeEvent, error)
}

// PriceConsumer feeds catalog events from the bus into the dispatcher.
type PriceConsumer struct {
	sub      pubsub.Subscriber
	notifier PriceNotifier
	checker  PriceChecker
}

func NewPriceConsumer(sub pubsub.Subscriber, notifier PriceNotifier, checker PriceChecker) *PriceConsumer {
	return &PriceConsumer{
		sub:      sub,
		notifier: notifier,
		checker:  checker,
	}
}

// Run subscribes to the catalog channels and handles events until ctx is
// cancelled or both subscriptions close.
func (c *PriceConsumer) Run(ctx context.Context) error {
	drops, err := c.sub.SubscribePattern(ctx, pubsub.PatternPriceDrop)
	if err != nil {
		return fmt.Errorf("failed to subscribe to price drops: %w", err)
	}
	recorded, err := c.sub.SubscribePattern(ctx, pubsub.PatternPriceRecorded)
	if err != nil {
		return fmt.Errorf("failed to subscribe to recorded prices: %w", err)
	}

	l := log.L()
	l.Info().Msg("price consumer started")

	for drops != nil || recorded != nil {
		select {
		case <-ctx.Done():
			l.Info().Msg("price consumer stopping")
			return nil
		case event, ok := <-drops:
			if !ok {
				drops = nil
				continue
			}
			c.HandleEvent(ctx, event)
		case event, ok := <-recorded:
			if !ok {
				recorded = nil
				continue
			}
			c.HandleEvent(ctx, event)
		}
	}
	return nil
}

// HandleEvent processes one catalog event. Failures are logged.
func (c *PriceConsumer) HandleEvent(ctx context.Context, event *pubsub.Event) {
	l := log.Ctx(ctx)

	switch event.Type {
	case pubsub.EventPriceDrop:
		var ev domain.PriceChangeEvent
		if err := event.UnmarshalPayload(&ev); err != nil {
			l.Error().Err(err).Str("key", event.Key).Msg("failed to unmarshal price drop")
			return
		}
		if ev.ProductID == "" {
			ev.ProductID = event.Key
		}
		c.notifier.NotifyPriceChange(ctx, ev)

	case pubsub.EventPriceRecorded:
		var payload pubsub.PriceRecordedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			l.Error().Err(err).Str("key", event.Key).Msg("failed to unmarshal recorded price")
			return
		}
		if payload.ProductID == "" {
			payload.ProductID = event.Key
		}
		if _, err := c.checker.Check(ctx, payload.ProductID, payload.StoreID); err != nil {
			l.Error().Err(err).Str(log.FieldProductID, payload.ProductID).Msg("price check failed")
		}

	default:
		l.Debug().Str("type", event.Type).Msg("ignoring catalog event")
	}
}
