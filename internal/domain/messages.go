package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// WebSocket events from client.
const (
	EventSubscribeToWishlists = "subscribe-to-wishlists"
	EventJoinCart             = "join-cart"
	EventLeaveCart            = "leave-cart"
	EventJoinRoom             = "join-room"
	EventGetActiveRooms       = "get-active-rooms"
	EventSendMessage          = "send-message"
	EventTestCartNotification = "testCartNotification"
	EventAuthenticate         = "authenticate"
	EventMarkRead             = "mark-read"
	EventGetUnread            = "get-unread"
	EventPing                 = "ping"
)

// WebSocket events to client.
const (
	EventActiveRooms         = "active-rooms"
	EventReceiveMessage      = "receive-message"
	EventNewChatNotification = "new-chat-notification"
	EventMessageError        = "message-error"
	EventPriceDrop           = "price-drop"
	EventUnreadMessages      = "unreadMessages"
	EventAuthenticated       = "authenticated"
	EventAuthError           = "auth-error"
	EventPong                = "pong"
	EventError               = "error"
)

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnknownEvent  = "UNKNOWN_EVENT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Room name prefixes.
const (
	CartRoomPrefix = "cart-"
	UserRoomPrefix = "user-"
)

// PreviewLength is the number of runes kept in a new-chat-notification preview.
const PreviewLength = 30

// CartRoom returns the room name for a cart.
func CartRoom(cartID string) string {
	return CartRoomPrefix + cartID
}

// UserRoom returns the room name for a user.
func UserRoom(userID string) string {
	return UserRoomPrefix + userID
}

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is an Envelope whose payload has not been encoded yet.
type OutboundEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// DecodeID reads an identifier payload. Clients send either a bare JSON
// string or number, or an object carrying the identifier under key.
func DecodeID(data json.RawMessage, key string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("missing %s", key)
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return n.String(), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("invalid %s payload", key)
	}
	raw, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return DecodeID(raw, key)
}

// Client -> Server payloads

type SendMessagePayload struct {
	CartID    FlexString `json:"cartId"`
	Sender    string     `json:"sender"`
	Message   string     `json:"message"`
	ClientID  string     `json:"clientId,omitempty"`
	Timestamp *FlexTime  `json:"timestamp,omitempty"`
}

type TestCartNotificationPayload struct {
	CartID    FlexString `json:"cartId"`
	ProductID FlexString `json:"productId"`
	NewPrice  float64    `json:"newPrice"`
	OldPrice  float64    `json:"oldPrice"`
}

type AuthenticatePayload struct {
	Token string `json:"token"`
}

// Server -> Client payloads

type NewChatNotification struct {
	CartID    string `json:"cartId"`
	Sender    string `json:"sender"`
	Preview   string `json:"preview"`
	Timestamp string `json:"timestamp"`
}

type MessageErrorPayload struct {
	Error    string `json:"error"`
	ClientID string `json:"clientId,omitempty"`
}

type UnreadSummary struct {
	TotalUnread int            `json:"totalUnread"`
	ChatCounts  map[string]int `json:"chatCounts"`
}

type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Code:    code,
		Message: message,
	}
}

// NewUnreadSummary totals counts; chat entries at zero are dropped.
func NewUnreadSummary(counts map[string]int) UnreadSummary {
	summary := UnreadSummary{ChatCounts: make(map[string]int, len(counts))}
	for chatID, n := range counts {
		if n <= 0 {
			continue
		}
		summary.ChatCounts[chatID] = n
		summary.TotalUnread += n
	}
	return summary
}

// Preview truncates a chat message for activity notifications.
func Preview(message string) string {
	runes := []rune(message)
	if len(runes) <= PreviewLength {
		return message
	}
	return string(runes[:PreviewLength]) + "..."
}
