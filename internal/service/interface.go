package service

import (
	"context"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/internal/hub"
)

// ChatService handles the websocket events of one connection. Handlers
// reply to the client themselves; a returned error is for logging only.
type ChatService interface {
	HandleAuth(ctx context.Context, client *hub.Client, token string) error
	HandleJoinCart(ctx context.Context, client *hub.Client, cartID string) error
	HandleLeaveCart(ctx context.Context, client *hub.Client, cartID string) error
	HandleJoinRoom(ctx context.Context, client *hub.Client, room string) error
	HandleSubscribeWishlists(ctx context.Context, client *hub.Client, userID string) error
	HandleActiveRooms(ctx context.Context, client *hub.Client) error
	HandleSendMessage(ctx context.Context, client *hub.Client, msg domain.SendMessagePayload) error
	HandleTestCartNotification(ctx context.Context, client *hub.Client, msg domain.TestCartNotificationPayload) error
	HandleMarkRead(ctx context.Context, client *hub.Client, chatID string) error
	HandleGetUnread(ctx context.Context, client *hub.Client) error
	HandleDisconnect(ctx context.Context, client *hub.Client) error
}
