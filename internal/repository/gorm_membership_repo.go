package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// GormMembershipRepository resolves carts and wishlists from their item
// tables.
type GormMembershipRepository struct {
	db *gorm.DB
}

func NewGormMembershipRepository(db *gorm.DB) *GormMembershipRepository {
	return &GormMembershipRepository{db: db}
}

func (r *GormMembershipRepository) FindCartsContainingProduct(ctx context.Context, productID string) []domain.CartMembershipRecord {
	l := log.Ctx(ctx)

	sub := r.db.Model(&domain.CartItem{}).Select("cart_id").Where("product_id = ?", productID)

	var carts []domain.Cart
	if err := r.db.WithContext(ctx).Where("id IN (?)", sub).Order("id").Find(&carts).Error; err != nil {
		l.Error().Err(err).Str(log.FieldProductID, productID).Msg("failed to find carts containing product")
		return []domain.CartMembershipRecord{}
	}

	records := make([]domain.CartMembershipRecord, 0, len(carts))
	for i := range carts {
		records = append(records, carts[i].ToMembership())
	}
	return records
}

func (r *GormMembershipRepository) FindWishlistsContainingProduct(ctx context.Context, productID string) []domain.WishlistRecord {
	l := log.Ctx(ctx)

	sub := r.db.Model(&domain.WishlistProduct{}).Select("wishlist_id").Where("product_id = ?", productID)

	var wishlists []domain.Wishlist
	if err := r.db.WithContext(ctx).Where("id IN (?)", sub).Order("id").Find(&wishlists).Error; err != nil {
		l.Error().Err(err).Str(log.FieldProductID, productID).Msg("failed to find wishlists containing product")
		return []domain.WishlistRecord{}
	}

	records := make([]domain.WishlistRecord, 0, len(wishlists))
	for _, w := range wishlists {
		records = append(records, domain.WishlistRecord{WishlistID: w.ID, Name: w.Name, UserID: w.UserID})
	}
	return records
}

func (r *GormMembershipRepository) FindCart(ctx context.Context, cartID string) (*domain.CartMembershipRecord, bool) {
	var cart domain.Cart
	err := r.db.WithContext(ctx).First(&cart, "id = ?", cartID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldCartID, cartID).Msg("failed to find cart")
		}
		return nil, false
	}
	record := cart.ToMembership()
	return &record, true
}
