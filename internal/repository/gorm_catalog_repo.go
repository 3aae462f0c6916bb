package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// GormCatalogRepository reads items, their price history and stores.
type GormCatalogRepository struct {
	db *gorm.DB
}

func NewGormCatalogRepository(db *gorm.DB) *GormCatalogRepository {
	return &GormCatalogRepository{db: db}
}

// LatestTwoPrices returns the two most recent price points of a product,
// across all stores or only storeID when set. ok is false when fewer than
// two points exist.
func (r *GormCatalogRepository) LatestTwoPrices(ctx context.Context, productID, storeID string) (*domain.PricePair, bool, error) {
	query := r.db.WithContext(ctx).Where("item_id = ?", productID)
	if storeID != "" {
		query = query.Where("store_id = ?", storeID)
	}

	var rows []domain.ItemPrice
	if err := query.Order("date DESC").Order("id DESC").Limit(2).Find(&rows).Error; err != nil {
		return nil, false, fmt.Errorf("failed to query price history: %w", err)
	}
	if len(rows) < 2 {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldProductID, productID).Int("points", len(rows)).Msg("not enough price history")
		return nil, false, nil
	}

	return &domain.PricePair{
		Latest:   toPricePoint(rows[0]),
		Previous: toPricePoint(rows[1]),
	}, true, nil
}

func (r *GormCatalogRepository) GetProduct(ctx context.Context, productID string) (*domain.Product, bool, error) {
	var item domain.Item
	err := r.db.WithContext(ctx).First(&item, "id = ?", productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get product: %w", err)
	}
	return &domain.Product{ID: item.ID, Name: item.Name, Image: item.Image}, true, nil
}

func (r *GormCatalogRepository) GetStore(ctx context.Context, storeID string) (*domain.Store, bool, error) {
	var store domain.StoreModel
	err := r.db.WithContext(ctx).First(&store, "id = ?", storeID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get store: %w", err)
	}
	return &domain.Store{ID: store.ID, Name: store.Name, Address: store.Address}, true, nil
}

func toPricePoint(p domain.ItemPrice) domain.PricePoint {
	return domain.PricePoint{StoreID: p.StoreID, Date: p.Date.UTC(), Price: p.Price}
}
