package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/storage"
)

type broadcast struct {
	room    string
	event   string
	payload interface{}
	exclude string
}

type fakeHub struct {
	mu     sync.Mutex
	sent   []broadcast
	online map[string]struct{}
}

func (h *fakeHub) Broadcast(room, event string, payload interface{}, excludeClientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, broadcast{room, event, payload, excludeClientID})
	return 1
}

func (h *fakeHub) OnlineUserIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(h.online))
	for id := range h.online {
		out[id] = struct{}{}
	}
	return out
}

type fakeResolver struct {
	carts     []domain.CartMembershipRecord
	wishlists []domain.WishlistRecord
}

func (r *fakeResolver) FindCartsContainingProduct(context.Context, string) []domain.CartMembershipRecord {
	return r.carts
}

func (r *fakeResolver) FindWishlistsContainingProduct(context.Context, string) []domain.WishlistRecord {
	return r.wishlists
}

type fakeCatalog struct {
	products   map[string]domain.Product
	stores     map[string]domain.Store
	productErr error
	lookups    int
}

func (c *fakeCatalog) GetProduct(_ context.Context, id string) (*domain.Product, bool, error) {
	c.lookups++
	if c.productErr != nil {
		return nil, false, c.productErr
	}
	p, ok := c.products[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *fakeCatalog) GetStore(_ context.Context, id string) (*domain.Store, bool, error) {
	s, ok := c.stores[id]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

type fakeUnread struct {
	counts map[string]map[string]int
}

func (u *fakeUnread) Increment(_ context.Context, userID, chatID string) error {
	if u.counts == nil {
		u.counts = map[string]map[string]int{}
	}
	if u.counts[userID] == nil {
		u.counts[userID] = map[string]int{}
	}
	u.counts[userID][chatID]++
	return nil
}

func milkCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: map[string]domain.Product{"p1": {ID: "p1", Name: "Milk", Image: "https://cdn.example.com/milk.png"}},
		stores:   map[string]domain.Store{"s1": {ID: "s1", Name: "Corner Shop"}},
	}
}

func TestNotifyCarts_MilkScenario(t *testing.T) {
	h := &fakeHub{}
	resolver := &fakeResolver{carts: []domain.CartMembershipRecord{{CartID: "c1", NotificationsEnabled: true}}}
	d := NewDispatcher(h, resolver, milkCatalog(), nil, nil, 0)

	n := d.NotifyCarts(context.Background(), domain.PriceChangeEvent{ProductID: "p1", OldPrice: 10, NewPrice: 8})
	if n != 1 || len(h.sent) != 1 {
		t.Fatalf("notified %d, broadcasts %d; want 1 and 1", n, len(h.sent))
	}

	got := h.sent[0]
	if got.room != "cart-c1" || got.event != domain.EventPriceDrop {
		t.Fatalf("broadcast to %s/%s", got.room, got.event)
	}
	drop, ok := got.payload.(domain.CartPriceDrop)
	if !ok {
		t.Fatalf("payload type %T", got.payload)
	}
	if drop.ProductName != "Milk" || drop.CartID != "c1" || drop.OldPrice != 10 || drop.NewPrice != 8 {
		t.Fatalf("payload = %+v", drop)
	}
}

func TestNotifyCarts_NoCarts(t *testing.T) {
	h := &fakeHub{}
	catalog := milkCatalog()
	d := NewDispatcher(h, &fakeResolver{}, catalog, nil, nil, 0)

	if n := d.NotifyCarts(context.Background(), domain.PriceChangeEvent{ProductID: "p1", OldPrice: 10, NewPrice: 8}); n != 0 {
		t.Fatalf("notified %d carts, want 0", n)
	}
	if len(h.sent) != 0 {
		t.Fatalf("broadcasts = %v", h.sent)
	}
	if catalog.lookups != 0 {
		t.Fatalf("product looked up %d times with no carts", catalog.lookups)
	}
}

func TestNotifyCarts_OptOutRespected(t *testing.T) {
	h := &fakeHub{}
	resolver := &fakeResolver{carts: []domain.CartMembershipRecord{
		{CartID: "on", NotificationsEnabled: true},
		{CartID: "off", NotificationsEnabled: false},
	}}
	d := NewDispatcher(h, resolver, milkCatalog(), nil, nil, 0)

	d.NotifyCarts(context.Background(), domain.PriceChangeEvent{ProductID: "p1", OldPrice: 3, NewPrice: 2})

	if len(h.sent) != 1 || h.sent[0].room != "cart-on" {
		t.Fatalf("broadcasts = %+v, want only cart-on", h.sent)
	}
}

func TestNotifyCarts_ForwardsPricesUnchecked(t *testing.T) {
	h := &fakeHub{}
	resolver := &fakeResolver{
		carts:     []domain.CartMembershipRecord{{CartID: "c1", NotificationsEnabled: true}},
		wishlists: []domain.WishlistRecord{{WishlistID: "w1", Name: "Weekly", UserID: "u1"}},
	}
	d := NewDispatcher(h, resolver, milkCatalog(), nil, nil, 0)

	// A rise is out of contract for producers; it still goes out as given.
	ev := domain.PriceChangeEvent{ProductID: "p1", OldPrice: 5, NewPrice: 7}
	d.NotifyPriceChange(context.Background(), ev)

	if len(h.sent) != 2 {
		t.Fatalf("broadcasts = %d, want 2", len(h.sent))
	}
	cart := h.sent[0].payload.(domain.CartPriceDrop)
	wish := h.sent[1].payload.(domain.WishlistPriceDrop)
	if cart.OldPrice != 5 || cart.NewPrice != 7 || wish.OldPrice != 5 || wish.NewPrice != 7 {
		t.Fatalf("prices changed: cart %+v wishlist %+v", cart, wish)
	}
}

func TestNotifyCarts_AbortsWhenProductMissing(t *testing.T) {
	resolver := &fakeResolver{carts: []domain.CartMembershipRecord{{CartID: "c1", NotificationsEnabled: true}}}

	h := &fakeHub{}
	d := NewDispatcher(h, resolver, &fakeCatalog{}, nil, nil, 0)
	if n := d.NotifyCarts(context.Background(), domain.PriceChangeEvent{ProductID: "ghost"}); n != 0 || len(h.sent) != 0 {
		t.Fatalf("missing product: notified %d, broadcasts %d", n, len(h.sent))
	}

	h = &fakeHub{}
	d = NewDispatcher(h, resolver, &fakeCatalog{productErr: errors.New("db down")}, nil, nil, 0)
	if n := d.NotifyCarts(context.Background(), domain.PriceChangeEvent{ProductID: "p1"}); n != 0 || len(h.sent) != 0 {
		t.Fatalf("lookup failure: notified %d, broadcasts %d", n, len(h.sent))
	}
}

func TestNotifyCarts_Enrichment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "milk.png"), []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	images, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: dir, URLPrefix: "/images"})
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	catalog := milkCatalog()
	catalog.products["p1"] = domain.Product{ID: "p1", Name: "Milk", Image: "milk.png"}
	h := &fakeHub{}
	resolver := &fakeResolver{carts: []domain.CartMembershipRecord{{CartID: "c1", NotificationsEnabled: true}}}
	d := NewDispatcher(h, resolver, catalog, nil, images, time.Minute)

	d.NotifyCarts(context.Background(), domain.PriceChangeEvent{
		ProductID:   "p1",
		ProductName: "Whole Milk 1L",
		StoreID:     "s1",
		OldPrice:    2,
		NewPrice:    1,
	})

	drop := h.sent[0].payload.(domain.CartPriceDrop)
	if drop.ProductName != "Whole Milk 1L" {
		t.Fatalf("producer name overwritten: %q", drop.ProductName)
	}
	if drop.StoreName != "Corner Shop" {
		t.Fatalf("store name = %q", drop.StoreName)
	}
	if drop.Image != "/images/milk.png" {
		t.Fatalf("image = %q", drop.Image)
	}
}

func TestNotifyWishlists(t *testing.T) {
	h := &fakeHub{}
	resolver := &fakeResolver{wishlists: []domain.WishlistRecord{
		{WishlistID: "w1", Name: "Weekly", UserID: "u1"},
		{WishlistID: "w2", Name: "Party", UserID: "u2"},
	}}
	d := NewDispatcher(h, resolver, milkCatalog(), nil, nil, 0)

	n := d.NotifyWishlists(context.Background(), domain.PriceChangeEvent{ProductID: "p1", ProductName: "Milk", OldPrice: 2, NewPrice: 1})
	if n != 2 || len(h.sent) != 2 {
		t.Fatalf("notified %d, broadcasts %d", n, len(h.sent))
	}
	if h.sent[0].room != "user-u1" || h.sent[1].room != "user-u2" {
		t.Fatalf("rooms = %s, %s", h.sent[0].room, h.sent[1].room)
	}
	wish := h.sent[1].payload.(domain.WishlistPriceDrop)
	if wish.WishlistID != "w2" || wish.WishlistName != "Party" || wish.ProductName != "Milk" {
		t.Fatalf("payload = %+v", wish)
	}

	empty := &fakeHub{}
	d = NewDispatcher(empty, &fakeResolver{}, milkCatalog(), nil, nil, 0)
	if n := d.NotifyWishlists(context.Background(), domain.PriceChangeEvent{ProductID: "p1"}); n != 0 || len(empty.sent) != 0 {
		t.Fatal("empty wishlist lookup produced broadcasts")
	}
}

func TestNotifyChatMessage_CreditsOfflineParticipants(t *testing.T) {
	h := &fakeHub{online: map[string]struct{}{"bob": {}}}
	counter := &fakeUnread{}
	d := NewDispatcher(h, &fakeResolver{}, milkCatalog(), counter, nil, 0)

	msg := &domain.ChatMessage{ID: "m1", CartID: "42", Sender: "alice", Message: "hi", Timestamp: time.Now()}
	n := d.NotifyChatMessage(context.Background(), domain.ChatNotification{
		ChatID:          "42",
		SenderID:        "alice",
		Message:         msg,
		Participants:    []string{"alice", "bob", "carol", "dave"},
		ExcludeClientID: "conn-1",
	})

	if n != 2 {
		t.Fatalf("credited %d, want 2", n)
	}
	if counter.counts["carol"]["42"] != 1 || counter.counts["dave"]["42"] != 1 {
		t.Fatalf("counts = %v", counter.counts)
	}
	if _, ok := counter.counts["alice"]; ok {
		t.Fatal("sender credited")
	}
	if _, ok := counter.counts["bob"]; ok {
		t.Fatal("online participant credited")
	}

	if len(h.sent) != 1 || h.sent[0].room != "cart-42" || h.sent[0].exclude != "conn-1" {
		t.Fatalf("broadcasts = %+v", h.sent)
	}
}
