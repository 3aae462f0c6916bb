package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/internal/hub"
	"github.com/cartpulse/cartpulse/internal/service"
	"github.com/cartpulse/cartpulse/pkg/log"
)

const connIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	service service.ChatService
}

func NewWSHandler(h *hub.Hub, svc service.ChatService) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
	}
}

// HandleWebSocket upgrades the request. An optional ?token= authenticates
// the connection before the first frame is read.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id, err := gonanoid.Generate(connIDAlphabet, 16)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Msg("failed to generate connection id")
		conn.Close()
		return
	}

	client := hub.NewClient(id, h.hub, conn, h.hub.Config())
	h.hub.Register(client)
	ctx := h.clientContext(client)

	if token := r.URL.Query().Get("token"); token != "" {
		if err := h.service.HandleAuth(ctx, client, token); err != nil {
			l := log.Ctx(ctx)
			l.Debug().Err(err).Msg("query token rejected")
		}
	}

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		_ = h.service.HandleDisconnect(ctx, client)
	}()
}

func (h *WSHandler) clientContext(client *hub.Client) context.Context {
	return log.WithConn(context.Background(), client.ID, client.UserID())
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
		client.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := h.clientContext(client)
	l := log.Ctx(ctx)

	var err error
	switch env.Event {
	case domain.EventSubscribeToWishlists:
		err = h.withID(client, env.Data, "userId", func(id string) error {
			return h.service.HandleSubscribeWishlists(ctx, client, id)
		})

	case domain.EventJoinCart:
		err = h.withID(client, env.Data, "cartId", func(id string) error {
			return h.service.HandleJoinCart(ctx, client, id)
		})

	case domain.EventLeaveCart:
		err = h.withID(client, env.Data, "cartId", func(id string) error {
			return h.service.HandleLeaveCart(ctx, client, id)
		})

	case domain.EventJoinRoom:
		err = h.withID(client, env.Data, "roomId", func(id string) error {
			return h.service.HandleJoinRoom(ctx, client, id)
		})

	case domain.EventGetActiveRooms:
		err = h.service.HandleActiveRooms(ctx, client)

	case domain.EventSendMessage:
		var msg domain.SendMessagePayload
		if jerr := json.Unmarshal(env.Data, &msg); jerr != nil {
			client.Emit(domain.EventMessageError, domain.MessageErrorPayload{Error: "Invalid send-message payload"})
			return
		}
		err = h.service.HandleSendMessage(ctx, client, msg)

	case domain.EventTestCartNotification:
		var msg domain.TestCartNotificationPayload
		if jerr := json.Unmarshal(env.Data, &msg); jerr != nil {
			client.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid testCartNotification payload"))
			return
		}
		err = h.service.HandleTestCartNotification(ctx, client, msg)

	case domain.EventAuthenticate:
		var msg domain.AuthenticatePayload
		if jerr := json.Unmarshal(env.Data, &msg); jerr != nil {
			client.Emit(domain.EventAuthError, domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid authenticate payload"))
			return
		}
		err = h.service.HandleAuth(ctx, client, msg.Token)

	case domain.EventMarkRead:
		err = h.withID(client, env.Data, "chatId", func(id string) error {
			return h.service.HandleMarkRead(ctx, client, id)
		})

	case domain.EventGetUnread:
		err = h.service.HandleGetUnread(ctx, client)

	case domain.EventPing:
		client.Emit(domain.EventPong, nil)

	default:
		client.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeUnknownEvent, "Unknown event: "+env.Event))
	}

	if err != nil {
		l.Debug().Err(err).Str(log.FieldEvent, env.Event).Msg("event handling failed")
	}
}

func (h *WSHandler) withID(client *hub.Client, data json.RawMessage, key string, fn func(string) error) error {
	id, err := domain.DecodeID(data, key)
	if err != nil || id == "" {
		client.Emit(domain.EventError, domain.NewErrorMessage(domain.ErrCodeBadRequest, key+" is required"))
		return err
	}
	return fn(id)
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", gin.WrapF(h.HandleWebSocket))
}
