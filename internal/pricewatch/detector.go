// Package pricewatch turns recorded prices into price-drop events.
package pricewatch

import (
	"context"
	"fmt"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// PriceReader reads the latest two price points of a product.
type PriceReader interface {
	LatestTwoPrices(ctx context.Context, productID, storeID string) (*domain.PricePair, bool, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, bool, error)
}

// PriceNotifier receives detected drops.
type PriceNotifier interface {
	NotifyPriceChange(ctx context.Context, ev domain.PriceChangeEvent)
}

type Detector struct {
	prices   PriceReader
	notifier PriceNotifier
}

func NewDetector(prices PriceReader, notifier PriceNotifier) *Detector {
	return &Detector{prices: prices, notifier: notifier}
}

// Check compares the two most recent prices of productID, restricted to
// storeID when it is set, and notifies when the latest is lower. It returns
// the event it emitted, or nil.
func (d *Detector) Check(ctx context.Context, productID, storeID string) (*domain.PriceChangeEvent, error) {
	l := log.Ctx(ctx).With().Str(log.FieldProductID, productID).Logger()

	pair, ok, err := d.prices.LatestTwoPrices(ctx, productID, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices for %s: %w", productID, err)
	}
	if !ok {
		l.Debug().Msg("fewer than two prices recorded")
		return nil, nil
	}
	if !pair.IsDrop() {
		l.Debug().Float64("previous", pair.Previous.Price).Float64("latest", pair.Latest.Price).Msg("no price drop")
		return nil, nil
	}

	ev := domain.PriceChangeEvent{
		ProductID:  productID,
		StoreID:    pair.Latest.StoreID,
		OldPrice:   pair.Previous.Price,
		NewPrice:   pair.Latest.Price,
		ChangeDate: pair.Latest.Date,
	}
	product, ok, err := d.prices.GetProduct(ctx, productID)
	if err != nil {
		l.Warn().Err(err).Msg("product lookup failed")
	} else if ok {
		ev.ProductName = product.Name
		ev.Image = product.Image
	}

	l.Info().Float64("old_price", ev.OldPrice).Float64("new_price", ev.NewPrice).Str("store_id", ev.StoreID).Msg("price drop detected")
	d.notifier.NotifyPriceChange(ctx, ev)
	return &ev, nil
}
