package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cartpulse/cartpulse/internal/audit"
	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/internal/hub"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/unread"
	"github.com/cartpulse/cartpulse/pkg/jwt"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// TokenVerifier turns a bearer token into verified claims.
type TokenVerifier interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// CartLookup resolves the members of a single cart.
type CartLookup interface {
	FindCart(ctx context.Context, cartID string) (*domain.CartMembershipRecord, bool)
}

type chatService struct {
	hub     *hub.Hub
	store   MessageStore
	tracker *unread.Tracker
	carts   CartLookup
	tokens  TokenVerifier
}

// NewChatService creates the websocket event service. carts and tokens may
// be nil: without carts no unread counts are credited for socket messages,
// without tokens authenticate is always rejected.
func NewChatService(h *hub.Hub, store MessageStore, tracker *unread.Tracker, carts CartLookup, tokens TokenVerifier) ChatService {
	return &chatService{
		hub:     h,
		store:   store,
		tracker: tracker,
		carts:   carts,
		tokens:  tokens,
	}
}

func (s *chatService) HandleAuth(ctx context.Context, c *hub.Client, token string) error {
	if s.tokens == nil {
		c.Emit(domain.EventAuthError, domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Authentication is not configured"))
		return errors.New("no token verifier configured")
	}

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		audit.Log(ctx, audit.ActionAuthFailed, "", c.ID, "websocket authentication rejected")
		message := "Invalid token"
		if errors.Is(err, jwt.ErrExpiredToken) {
			message = "Token expired"
		}
		c.Emit(domain.EventAuthError, domain.NewErrorMessage(domain.ErrCodeUnauthorized, message))
		return fmt.Errorf("invalid token: %w", err)
	}

	userID := claims.Identity()
	s.hub.Authenticate(c, userID)
	s.join(c, domain.UserRoom(userID))
	audit.Log(ctx, audit.ActionAuth, userID, c.ID, "websocket authenticated")

	c.Emit(domain.EventAuthenticated, domain.AuthenticatedPayload{UserID: userID})

	if s.tracker != nil {
		s.tracker.OnLogin(ctx, userID)
	}
	return nil
}

func (s *chatService) HandleJoinCart(ctx context.Context, c *hub.Client, cartID string) error {
	if cartID == "" {
		return s.badRequest(c, "cartId is required")
	}
	room := domain.CartRoom(cartID)
	s.join(c, room)
	audit.Log(ctx, audit.ActionJoinRoom, c.UserID(), room, "joined cart room")
	return nil
}

func (s *chatService) HandleLeaveCart(ctx context.Context, c *hub.Client, cartID string) error {
	if cartID == "" {
		return s.badRequest(c, "cartId is required")
	}
	room := domain.CartRoom(cartID)
	s.hub.Leave(c, room)
	audit.Log(ctx, audit.ActionLeaveRoom, c.UserID(), room, "left cart room")
	return nil
}

func (s *chatService) HandleJoinRoom(ctx context.Context, c *hub.Client, room string) error {
	if room == "" {
		return s.badRequest(c, "roomId is required")
	}
	s.join(c, room)
	audit.Log(ctx, audit.ActionJoinRoom, c.UserID(), room, "joined room")
	return nil
}

// HandleSubscribeWishlists joins the user room that wishlist price drops are
// sent to.
func (s *chatService) HandleSubscribeWishlists(ctx context.Context, c *hub.Client, userID string) error {
	if userID == "" {
		return s.badRequest(c, "userId is required")
	}
	room := domain.UserRoom(userID)
	s.join(c, room)
	audit.Log(ctx, audit.ActionJoinRoom, c.UserID(), room, "subscribed to wishlist notifications")
	return nil
}

func (s *chatService) HandleActiveRooms(_ context.Context, c *hub.Client) error {
	c.Emit(domain.EventActiveRooms, s.hub.ActiveRooms())
	return nil
}

func (s *chatService) HandleSendMessage(ctx context.Context, c *hub.Client, msg domain.SendMessagePayload) error {
	l := log.Ctx(ctx).With().Str(log.FieldConnID, c.ID).Logger()

	if !c.Allow() {
		metrics.ChatMessages.WithLabelValues(metrics.ResultThrottled).Inc()
		c.Emit(domain.EventMessageError, domain.MessageErrorPayload{
			Error:    "Too many messages, slow down",
			ClientID: msg.ClientID,
		})
		return nil
	}

	stored, err := s.store.AppendMessage(ctx, domain.NewMessage{
		CartID:    msg.CartID.String(),
		Sender:    msg.Sender,
		Message:   msg.Message,
		ClientID:  msg.ClientID,
		Timestamp: msg.Timestamp.Ptr(),
	})
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			metrics.ChatMessages.WithLabelValues(metrics.ResultRejected).Inc()
			l.Warn().Strs("fields", vErr.Fields).Msg("rejecting invalid chat message")
			c.Emit(domain.EventMessageError, domain.MessageErrorPayload{
				Error:    vErr.Error(),
				ClientID: msg.ClientID,
			})
			return nil
		}

		metrics.ChatMessages.WithLabelValues(metrics.ResultFailed).Inc()
		c.Emit(domain.EventMessageError, domain.MessageErrorPayload{
			Error:    "Failed to save message",
			ClientID: msg.ClientID,
		})
		return fmt.Errorf("failed to save message: %w", err)
	}
	metrics.ChatMessages.WithLabelValues(metrics.ResultPersisted).Inc()

	room := domain.CartRoom(stored.CartID)
	s.hub.Broadcast(room, domain.EventReceiveMessage, stored.ToWire(), "")
	s.hub.Broadcast(room, domain.EventNewChatNotification, domain.NewChatNotification{
		CartID:    stored.CartID,
		Sender:    stored.Sender,
		Preview:   domain.Preview(stored.Message),
		Timestamp: domain.FormatTime(stored.Timestamp),
	}, "")

	audit.LogWithDetail(ctx, audit.ActionSendMessage, c.UserID(), room, stored.ID, "chat message sent")

	s.creditOfflineMembers(ctx, c, stored)
	return nil
}

// creditOfflineMembers adds one unread message for every cart member other
// than the sender without a live authenticated connection.
func (s *chatService) creditOfflineMembers(ctx context.Context, c *hub.Client, msg *domain.ChatMessage) {
	if s.carts == nil || s.tracker == nil {
		return
	}
	cart, ok := s.carts.FindCart(ctx, msg.CartID)
	if !ok {
		return
	}

	sender := c.UserID()
	if sender == "" {
		sender = msg.Sender
	}

	l := log.Ctx(ctx)
	for _, member := range cart.Members() {
		if member == sender || s.hub.IsOnline(member) {
			continue
		}
		if err := s.tracker.Increment(ctx, member, msg.CartID); err != nil {
			l.Error().Err(err).Str(log.FieldUserID, member).Str(log.FieldChatID, msg.CartID).Msg("failed to increment unread count")
		}
	}
}

// HandleTestCartNotification sends a synthetic price drop straight to the
// cart room without touching the catalog.
func (s *chatService) HandleTestCartNotification(ctx context.Context, c *hub.Client, msg domain.TestCartNotificationPayload) error {
	cartID := msg.CartID.String()
	if cartID == "" {
		return s.badRequest(c, "cartId is required")
	}
	delivered := SendTestCartNotification(s.hub, msg)
	audit.LogWithDetail(ctx, audit.ActionPriceTrigger, c.UserID(), domain.CartRoom(cartID), msg.ProductID.String(), "test cart notification sent")

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldCartID, cartID).Int("delivered", delivered).Msg("test cart notification")
	return nil
}

// SendTestCartNotification broadcasts a synthetic price-drop to a cart room
// and returns the number of connections it was queued for.
func SendTestCartNotification(h *hub.Hub, msg domain.TestCartNotificationPayload) int {
	cartID := msg.CartID.String()
	return h.Broadcast(domain.CartRoom(cartID), domain.EventPriceDrop, domain.CartPriceDrop{
		PriceChangeEvent: domain.PriceChangeEvent{
			ProductID:   msg.ProductID.String(),
			ProductName: "Test Product",
			OldPrice:    msg.OldPrice,
			NewPrice:    msg.NewPrice,
			ChangeDate:  time.Now().UTC(),
		},
		CartID: cartID,
	}, "")
}

func (s *chatService) HandleMarkRead(ctx context.Context, c *hub.Client, chatID string) error {
	userID := c.UserID()
	if userID == "" {
		c.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
		return nil
	}
	if chatID == "" {
		return s.badRequest(c, "chatId is required")
	}
	if s.tracker == nil {
		return nil
	}
	if err := s.tracker.MarkRead(ctx, userID, chatID); err != nil {
		c.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to mark chat as read"))
		return fmt.Errorf("mark read: %w", err)
	}
	audit.Log(ctx, audit.ActionMarkRead, userID, chatID, "chat marked read")
	return nil
}

func (s *chatService) HandleGetUnread(ctx context.Context, c *hub.Client) error {
	userID := c.UserID()
	if userID == "" {
		c.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
		return nil
	}
	summary := domain.NewUnreadSummary(nil)
	if s.tracker != nil {
		var err error
		summary, err = s.tracker.Summary(ctx, userID)
		if err != nil {
			c.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to load unread counts"))
			return fmt.Errorf("unread summary: %w", err)
		}
	}
	c.Emit(domain.EventUnreadMessages, summary)
	return nil
}

// HandleDisconnect runs after the read pump exits. The hub has already
// dropped the client from every room.
func (s *chatService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	audit.Log(ctx, audit.ActionDisconnect, c.UserID(), c.ID, "websocket disconnected")
	return nil
}

func (s *chatService) join(c *hub.Client, room string) {
	s.hub.Join(c, room)
}

func (s *chatService) badRequest(c *hub.Client, message string) error {
	c.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeBadRequest, message))
	return errors.New(message)
}
