package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cartpulse/cartpulse/internal/audit"
	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/internal/hub"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/internal/service"
	"github.com/cartpulse/cartpulse/pkg/log"
	"github.com/cartpulse/cartpulse/pkg/middleware"
	"github.com/cartpulse/cartpulse/pkg/response"
)

// Dispatcher is the notification fan-out used by the HTTP triggers.
type Dispatcher interface {
	NotifyCarts(ctx context.Context, ev domain.PriceChangeEvent) int
	NotifyWishlists(ctx context.Context, ev domain.PriceChangeEvent) int
	NotifyChatMessage(ctx context.Context, n domain.ChatNotification) int
}

// PriceChecker runs drop detection for one product on demand.
type PriceChecker interface {
	Check(ctx context.Context, productID, storeID string) (*domain.PriceChangeEvent, error)
}

// UnreadReader reads and clears unread counts.
type UnreadReader interface {
	Summary(ctx context.Context, userID string) (domain.UnreadSummary, error)
	MarkRead(ctx context.Context, userID, chatID string) error
}

type SendMessageRequest struct {
	Sender    string           `json:"sender"`
	Message   string           `json:"message"`
	ClientID  string           `json:"clientId"`
	Timestamp *domain.FlexTime `json:"timestamp"`
}

// Handler handles HTTP requests for the cart realtime service.
type Handler struct {
	hub            *hub.Hub
	store          service.MessageStore
	carts          service.CartLookup
	dispatcher     Dispatcher
	checker        PriceChecker
	unread         UnreadReader
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler. carts may be nil.
func NewHandler(
	h *hub.Hub,
	store service.MessageStore,
	carts service.CartLookup,
	dispatcher Dispatcher,
	checker PriceChecker,
	unread UnreadReader,
	authMiddleware *middleware.AuthMiddleware,
) *Handler {
	return &Handler{
		hub:            h,
		store:          store,
		carts:          carts,
		dispatcher:     dispatcher,
		checker:        checker,
		unread:         unread,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		chat := api.Group("/chat")
		{
			chat.GET("/:cartId", h.ListMessages)
			chat.POST("/:cartId", h.authMiddleware.OptionalAuth(), h.PostMessage)
		}

		unread := api.Group("/unread", h.authMiddleware.RequireAuth())
		{
			unread.GET("", h.GetUnread)
			unread.POST("/:chatId/read", h.MarkRead)
		}

		// Producer routes fan out to arbitrary rooms, so callers must identify.
		notifications := api.Group("/notifications", h.authMiddleware.RequireAuth())
		{
			notifications.POST("/price-drop", h.PriceDrop)
			notifications.POST("/products/:productId/check", h.CheckProduct)
		}

		api.POST("/test/cart-notification", h.authMiddleware.RequireAuth(), h.TestCartNotification)
	}
}

func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{
		"status":      "ok",
		"connections": h.hub.ClientCount(),
	})
}

// ListMessages returns up to one page of a cart's history, oldest first.
func (h *Handler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	cartID := c.Param("cartId")
	// An unreadable cursor falls back to the latest page.
	before, err := parseBefore(c.Query("before"))
	if err != nil {
		l.Debug().Err(err).Str(log.FieldCartID, cartID).Msg("ignoring invalid before cursor")
		before = nil
	}

	messages, err := h.store.ListMessages(ctx, cartID, before)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			response.Invalid(c, vErr)
			return
		}
		l.Error().Err(err).Str(log.FieldCartID, cartID).Msg("failed to list messages")
		response.InternalError(c, "failed to list messages")
		return
	}

	response.Success(c, domain.ToWireList(messages))
}

// PostMessage stores a message and delivers it to the cart room.
func (h *Handler) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	cartID := c.Param("cartId")
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	stored, err := h.store.AppendMessage(ctx, domain.NewMessage{
		CartID:    cartID,
		Sender:    req.Sender,
		Message:   req.Message,
		ClientID:  req.ClientID,
		Timestamp: req.Timestamp.Ptr(),
	})
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			metrics.ChatMessages.WithLabelValues(metrics.ResultRejected).Inc()
			response.Invalid(c, vErr)
			return
		}
		metrics.ChatMessages.WithLabelValues(metrics.ResultFailed).Inc()
		l.Error().Err(err).Str(log.FieldCartID, cartID).Msg("failed to save message")
		response.InternalError(c, "failed to save message")
		return
	}
	metrics.ChatMessages.WithLabelValues(metrics.ResultPersisted).Inc()

	var participants []string
	if h.carts != nil {
		if cart, ok := h.carts.FindCart(ctx, cartID); ok {
			participants = cart.Members()
		}
	}
	// sender is a display name; the token, when sent, names the member.
	senderID := middleware.GetUserID(c)
	if senderID == "" {
		senderID = stored.Sender
	}
	h.dispatcher.NotifyChatMessage(ctx, domain.ChatNotification{
		ChatID:       stored.CartID,
		SenderID:     senderID,
		Message:      stored,
		Participants: participants,
	})

	response.Created(c, stored.ToWire())
}

func (h *Handler) GetUnread(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := middleware.GetUserID(c)

	summary, err := h.unread.Summary(ctx, userID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to load unread counts")
		response.InternalError(c, "failed to load unread counts")
		return
	}
	response.Success(c, summary)
}

func (h *Handler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	userID := middleware.GetUserID(c)
	chatID := c.Param("chatId")

	if err := h.unread.MarkRead(ctx, userID, chatID); err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Str(log.FieldChatID, chatID).Msg("failed to mark chat read")
		response.InternalError(c, "failed to mark chat read")
		return
	}
	audit.Log(ctx, audit.ActionMarkRead, userID, chatID, "chat marked read")
	response.NoContent(c)
}

// PriceDrop fans a producer-supplied price change out synchronously.
func (h *Handler) PriceDrop(c *gin.Context) {
	ctx := c.Request.Context()

	var ev domain.PriceChangeEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if ev.ProductID == "" {
		response.BadRequest(c, "productId is required")
		return
	}
	if ev.ChangeDate.IsZero() {
		ev.ChangeDate = time.Now().UTC()
	}

	carts := h.dispatcher.NotifyCarts(ctx, ev)
	wishlists := h.dispatcher.NotifyWishlists(ctx, ev)
	audit.LogWithDetail(ctx, audit.ActionPriceTrigger, middleware.GetUserID(c), ev.ProductID, "http", "price drop dispatched")

	response.Accepted(c, gin.H{
		"cartsNotified":     carts,
		"wishlistsNotified": wishlists,
	})
}

// CheckProduct runs drop detection against the stored price history.
func (h *Handler) CheckProduct(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	productID := c.Param("productId")

	ev, err := h.checker.Check(ctx, productID, c.Query("storeId"))
	if err != nil {
		l.Error().Err(err).Str(log.FieldProductID, productID).Msg("price check failed")
		response.InternalError(c, "price check failed")
		return
	}
	response.Success(c, gin.H{
		"dropped": ev != nil,
		"event":   ev,
	})
}

func (h *Handler) TestCartNotification(c *gin.Context) {
	var req domain.TestCartNotificationPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.CartID.String() == "" {
		response.BadRequest(c, "cartId is required")
		return
	}
	delivered := service.SendTestCartNotification(h.hub, req)
	response.Success(c, gin.H{"delivered": delivered})
}

// parseBefore accepts an RFC 3339 time or unix milliseconds. Empty means no
// cursor.
func parseBefore(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return &t, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.UnixMilli(ms)
	return &t, nil
}
