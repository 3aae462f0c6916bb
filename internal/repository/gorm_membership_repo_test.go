package repository

import (
	"context"
	"testing"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/database"
)

func TestGormMembershipRepository_FindCartsContainingProduct(t *testing.T) {
	db := newTestDB(t, domain.ReadModels()...)
	repo := NewGormMembershipRepository(db)
	ctx := context.Background()

	seed := []interface{}{
		&domain.Cart{ID: "c1", OwnerID: "u1", Participants: database.StringArray{"u2", "u3"}},
		&domain.Cart{ID: "c2", OwnerID: "u4", Notifications: boolPtr(false)},
		&domain.Cart{ID: "c3", OwnerID: "u5"},
		&domain.CartItem{CartID: "c1", ProductID: "p1", Quantity: 2},
		&domain.CartItem{CartID: "c1", ProductID: "p9", Quantity: 1},
		&domain.CartItem{CartID: "c2", ProductID: "p1", Quantity: 1},
		&domain.CartItem{CartID: "c3", ProductID: "p2", Quantity: 1},
	}
	for _, v := range seed {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	carts := repo.FindCartsContainingProduct(ctx, "p1")
	if len(carts) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(carts), carts)
	}
	if carts[0].CartID != "c1" || !carts[0].NotificationsEnabled || len(carts[0].ParticipantIDs) != 2 {
		t.Fatalf("c1 = %+v", carts[0])
	}
	if carts[1].CartID != "c2" || carts[1].NotificationsEnabled {
		t.Fatalf("c2 = %+v, want notifications disabled", carts[1])
	}

	if got := repo.FindCartsContainingProduct(ctx, "unknown"); got == nil || len(got) != 0 {
		t.Fatalf("FindCartsContainingProduct(unknown) = %#v, want empty slice", got)
	}

	rec, ok := repo.FindCart(ctx, "c1")
	if !ok || rec.OwnerID != "u1" {
		t.Fatalf("FindCart(c1) = %+v, %v", rec, ok)
	}
	if _, ok := repo.FindCart(ctx, "nope"); ok {
		t.Fatal("FindCart(nope) reported a cart")
	}
}

func TestGormMembershipRepository_FindWishlistsContainingProduct(t *testing.T) {
	db := newTestDB(t, domain.ReadModels()...)
	repo := NewGormMembershipRepository(db)
	ctx := context.Background()

	seed := []interface{}{
		&domain.Wishlist{ID: "w1", Name: "Breakfast", UserID: "u1"},
		&domain.Wishlist{ID: "w2", Name: "Party", UserID: "u2"},
		&domain.WishlistProduct{WishlistID: "w1", ProductID: "p1"},
		&domain.WishlistProduct{WishlistID: "w2", ProductID: "p2"},
	}
	for _, v := range seed {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got := repo.FindWishlistsContainingProduct(ctx, "p1")
	if len(got) != 1 || got[0] != (domain.WishlistRecord{WishlistID: "w1", Name: "Breakfast", UserID: "u1"}) {
		t.Fatalf("FindWishlistsContainingProduct = %+v", got)
	}
}

func TestGormMembershipRepository_FailureYieldsEmpty(t *testing.T) {
	// No tables migrated: every query fails.
	repo := NewGormMembershipRepository(newTestDB(t))
	ctx := context.Background()

	if got := repo.FindCartsContainingProduct(ctx, "p1"); got == nil || len(got) != 0 {
		t.Fatalf("carts = %#v, want empty", got)
	}
	if got := repo.FindWishlistsContainingProduct(ctx, "p1"); got == nil || len(got) != 0 {
		t.Fatalf("wishlists = %#v, want empty", got)
	}
}
