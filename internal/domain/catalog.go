package domain

import (
	"time"

	"github.com/cartpulse/cartpulse/pkg/database"
)

// Read models. The CRUD layer owns these tables; this service only queries
// them.

type Item struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)"`
	Name      string    `gorm:"type:varchar(255);not null"`
	Image     string    `gorm:"type:varchar(512)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Item) TableName() string { return "items" }

// ItemPrice is one point of an item's price series at a store.
type ItemPrice struct {
	ID      uint      `gorm:"primaryKey;autoIncrement"`
	ItemID  string    `gorm:"type:varchar(64);not null;index:idx_item_prices_item_date,priority:1"`
	StoreID string    `gorm:"type:varchar(64);not null;index"`
	Date    time.Time `gorm:"not null;index:idx_item_prices_item_date,priority:2"`
	Price   float64   `gorm:"not null"`
}

func (ItemPrice) TableName() string { return "item_prices" }

type StoreModel struct {
	ID      string  `gorm:"primaryKey;type:varchar(64)"`
	Name    string  `gorm:"type:varchar(255);not null"`
	Address string  `gorm:"type:varchar(512)"`
	Lat     float64 `gorm:"column:lat"`
	Lng     float64 `gorm:"column:lng"`
}

func (StoreModel) TableName() string { return "stores" }

type Cart struct {
	ID           string               `gorm:"primaryKey;type:varchar(64)"`
	Name         string               `gorm:"type:varchar(255)"`
	OwnerID      string               `gorm:"type:varchar(64);not null;index"`
	Participants database.StringArray `gorm:"type:text"`
	// Nil reads as enabled, matching the column default.
	Notifications *bool     `gorm:"default:true"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (Cart) TableName() string { return "carts" }

// NotificationsEnabled reports the cart's price-drop opt-in.
func (c *Cart) NotificationsEnabled() bool {
	return c.Notifications == nil || *c.Notifications
}

func (c *Cart) ToMembership() CartMembershipRecord {
	participants := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != "" {
			participants = append(participants, p)
		}
	}
	return CartMembershipRecord{
		CartID:               c.ID,
		OwnerID:              c.OwnerID,
		ParticipantIDs:       participants,
		NotificationsEnabled: c.NotificationsEnabled(),
	}
}

type CartItem struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CartID    string `gorm:"type:varchar(64);not null;index"`
	ProductID string `gorm:"type:varchar(64);not null;index"`
	Quantity  int    `gorm:"not null;default:1"`
}

func (CartItem) TableName() string { return "cart_items" }

type Wishlist struct {
	ID     string `gorm:"primaryKey;type:varchar(64)"`
	Name   string `gorm:"type:varchar(255);not null"`
	UserID string `gorm:"type:varchar(64);not null;index"`
}

func (Wishlist) TableName() string { return "wishlists" }

type WishlistProduct struct {
	WishlistID string `gorm:"primaryKey;type:varchar(64)"`
	ProductID  string `gorm:"primaryKey;type:varchar(64);index"`
}

func (WishlistProduct) TableName() string { return "wishlist_products" }

// ReadModels lists the read-model tables, for migrations in development and
// tests.
func ReadModels() []interface{} {
	return []interface{}{
		&Item{}, &ItemPrice{}, &StoreModel{}, &Cart{}, &CartItem{}, &Wishlist{}, &WishlistProduct{},
	}
}

// Projections handed to the notification layer.

type PricePoint struct {
	StoreID string    `json:"storeId"`
	Date    time.Time `json:"date"`
	Price   float64   `json:"price"`
}

// PricePair holds the two most recent points of a price history.
type PricePair struct {
	Previous PricePoint `json:"previous"`
	Latest   PricePoint `json:"latest"`
}

// IsDrop reports whether the latest price is below the previous one.
func (p PricePair) IsDrop() bool {
	return p.Latest.Price < p.Previous.Price
}

type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type Store struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type CartMembershipRecord struct {
	CartID               string   `json:"cartId"`
	OwnerID              string   `json:"ownerId"`
	ParticipantIDs       []string `json:"participantIds"`
	NotificationsEnabled bool     `json:"notificationsEnabled"`
}

// Members returns the owner followed by the participants, deduplicated.
func (r CartMembershipRecord) Members() []string {
	seen := make(map[string]struct{}, len(r.ParticipantIDs)+1)
	members := make([]string, 0, len(r.ParticipantIDs)+1)
	for _, id := range append([]string{r.OwnerID}, r.ParticipantIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	return members
}

type WishlistRecord struct {
	WishlistID string `json:"wishlistId"`
	Name       string `json:"name"`
	UserID     string `json:"userId"`
}

// PriceChangeEvent describes a price drop for one product at one store.
// Producers only emit it when NewPrice < OldPrice.
type PriceChangeEvent struct {
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	StoreID     string    `json:"storeId"`
	StoreName   string    `json:"storeName,omitempty"`
	OldPrice    float64   `json:"oldPrice"`
	NewPrice    float64   `json:"newPrice"`
	ChangeDate  time.Time `json:"changeDate"`
	Image       string    `json:"image,omitempty"`
}

// CartPriceDrop is the price-drop payload sent to a cart room.
type CartPriceDrop struct {
	PriceChangeEvent
	CartID string `json:"cartId"`
}

// WishlistPriceDrop is the price-drop payload sent to a user room.
type WishlistPriceDrop struct {
	PriceChangeEvent
	WishlistID   string `json:"wishlistId"`
	WishlistName string `json:"wishlistName"`
}

// ChatNotification describes a persisted chat message to fan out.
type ChatNotification struct {
	ChatID       string
	SenderID     string
	Message      *ChatMessage
	Participants []string
	// ExcludeClientID is the sending connection, which already has the
	// message locally. Empty for messages that did not arrive over a socket.
	ExcludeClientID string
}
