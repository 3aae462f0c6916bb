package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/internal/hub"
	"github.com/cartpulse/cartpulse/internal/repository"
	"github.com/cartpulse/cartpulse/internal/unread"
	"github.com/cartpulse/cartpulse/pkg/jwt"
)

type fakeCarts map[string]domain.CartMembershipRecord

func (f fakeCarts) FindCart(_ context.Context, cartID string) (*domain.CartMembershipRecord, bool) {
	rec, ok := f[cartID]
	if !ok {
		return nil, false
	}
	return &rec, true
}

type failingStore struct{}

func (failingStore) ListMessages(context.Context, string, *time.Time) ([]domain.ChatMessage, error) {
	return nil, errors.New("db down")
}

func (failingStore) AppendMessage(_ context.Context, in domain.NewMessage) (*domain.ChatMessage, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return nil, errors.New("db down")
}

type chatFixture struct {
	hub     *hub.Hub
	svc     ChatService
	tracker *unread.Tracker
	tokens  *jwt.Manager
}

func newChatFixture(t *testing.T, wsCfg config.WebSocketConfig, store MessageStore, carts CartLookup) *chatFixture {
	t.Helper()
	if wsCfg.SendBuffer == 0 {
		wsCfg.SendBuffer = 16
	}
	h := hub.NewHub(wsCfg)
	if store == nil {
		store = NewMessageStore(repository.NewGormMessageRepository(newStoreDB(t)), nil, 0)
	}
	tracker := unread.NewTracker(unread.NewMemoryStore(), h, false)
	tokens, err := jwt.NewManager("test-secret", "cartpulse", time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &chatFixture{
		hub:     h,
		svc:     NewChatService(h, store, tracker, carts, tokens),
		tracker: tracker,
		tokens:  tokens,
	}
}

func (f *chatFixture) connect(id string) *hub.Client {
	c := hub.NewClient(id, f.hub, nil, f.hub.Config())
	f.hub.Register(c)
	return c
}

func (f *chatFixture) login(t *testing.T, c *hub.Client, userID string) {
	t.Helper()
	token, err := f.tokens.Issue(userID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := f.svc.HandleAuth(context.Background(), c, token); err != nil {
		t.Fatalf("HandleAuth: %v", err)
	}
	if env := next(t, c); env.Event != domain.EventAuthenticated {
		t.Fatalf("after auth got %q, want authenticated", env.Event)
	}
}

func next(t *testing.T, c *hub.Client) domain.Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("%s: bad frame %s: %v", c.ID, data, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("%s: no message received", c.ID)
	}
	return domain.Envelope{}
}

func quiet(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("%s: unexpected message %s", c.ID, data)
	default:
	}
}

func sendPayload(cartID, sender, message, clientID string) domain.SendMessagePayload {
	return domain.SendMessagePayload{
		CartID:   domain.FlexString(cartID),
		Sender:   sender,
		Message:  message,
		ClientID: clientID,
	}
}

func TestChatService_CartRoomScenario(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, config.WebSocketConfig{}, nil, nil)
	a := f.connect("A")
	b := f.connect("B")
	c := f.connect("C")

	_ = f.svc.HandleJoinCart(ctx, a, "42")
	_ = f.svc.HandleJoinCart(ctx, b, "42")
	_ = f.svc.HandleJoinCart(ctx, c, "7")

	if err := f.svc.HandleSendMessage(ctx, a, sendPayload("42", "alice", "hi", "tmp-1")); err != nil {
		t.Fatalf("HandleSendMessage: %v", err)
	}

	for _, conn := range []*hub.Client{a, b} {
		env := next(t, conn)
		if env.Event != domain.EventReceiveMessage {
			t.Fatalf("%s got %q, want receive-message", conn.ID, env.Event)
		}
		var msg domain.MessageOut
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.ID == "" || msg.CartID != "42" || msg.Sender != "alice" || msg.Message != "hi" || msg.ClientID != "tmp-1" {
			t.Fatalf("%s got %+v", conn.ID, msg)
		}

		env = next(t, conn)
		if env.Event != domain.EventNewChatNotification {
			t.Fatalf("%s got %q, want new-chat-notification", conn.ID, env.Event)
		}
	}
	quiet(t, c)
}

func TestChatService_LeaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, config.WebSocketConfig{}, nil, nil)
	a := f.connect("A")

	if err := f.svc.HandleLeaveCart(ctx, a, "9"); err != nil {
		t.Fatalf("leave without join: %v", err)
	}
	_ = f.svc.HandleJoinCart(ctx, a, "9")
	_ = f.svc.HandleLeaveCart(ctx, a, "9")
	_ = f.svc.HandleLeaveCart(ctx, a, "9")
	quiet(t, a)

	sender := f.connect("S")
	_ = f.svc.HandleSendMessage(ctx, sender, sendPayload("9", "bob", "anyone?", ""))
	quiet(t, a)
}

func TestChatService_InvalidMessageAckedToSenderOnly(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, config.WebSocketConfig{}, nil, nil)
	a := f.connect("A")
	b := f.connect("B")
	_ = f.svc.HandleJoinCart(ctx, a, "42")
	_ = f.svc.HandleJoinCart(ctx, b, "42")

	if err := f.svc.HandleSendMessage(ctx, a, sendPayload("42", "", "hi", "tmp-2")); err != nil {
		t.Fatalf("HandleSendMessage: %v", err)
	}

	env := next(t, a)
	if env.Event != domain.EventMessageError {
		t.Fatalf("got %q, want message-error", env.Event)
	}
	var ack domain.MessageErrorPayload
	_ = json.Unmarshal(env.Data, &ack)
	if ack.ClientID != "tmp-2" {
		t.Fatalf("ack = %+v", ack)
	}
	quiet(t, a)
	quiet(t, b)
}

func TestChatService_PersistFailure(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, config.WebSocketConfig{}, failingStore{}, nil)
	a := f.connect("A")
	b := f.connect("B")
	_ = f.svc.HandleJoinCart(ctx, a, "42")
	_ = f.svc.HandleJoinCart(ctx, b, "42")

	if err := f.svc.HandleSendMessage(ctx, a, sendPayload("42", "alice", "hi", "")); err == nil {
		t.Fatal("expected an error for a failed save")
	}

	env := next(t, a)
	var ack domain.MessageErrorPayload
	_ = json.Unmarshal(env.Data, &ack)
	if env.Event != domain.EventMessageError || ack.Error != "Failed to save message" {
		t.Fatalf("got %s %+v", env.Event, ack)
	}
	quiet(t, b)
}

func TestChatService_ThrottledSend(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, config.WebSocketConfig{RateLimit: 0.001, RateBurst: 1}, nil, nil)
	a := f.connect("A")
	_ = f.svc.HandleJoinCart(ctx, a, "1")

	_ = f.svc.HandleSendMessage(ctx, a, sendPayload("1", "alice", "first", ""))
	if env := next(t, a); env.Event != domain.EventReceiveMessage {
		t.Fatalf("first send got %q", env.Event)
	}
	next(t, a)

	_ = f.svc.HandleSendMessage(ctx, a, sendPayload("1", "alice", "second", "tmp-3"))
	if env := next(t, a); env.Event != domain.EventMessageError {
		t.Fatalf("throttled send got %q, want message-error", env.Event)
	}
	quiet(t, a)
}

func TestChatService_OfflineMembersGetUnread(t *testing.T) {
	ctx := context.Background()
	carts := fakeCarts{"42": {CartID: "42", OwnerID: "alice", ParticipantIDs: []string{"bob", "carol"}}}
	f := newChatFixture(t, config.WebSocketConfig{}, nil, carts)

	alice := f.connect("A")
	f.login(t, alice, "alice")
	bob := f.connect("B")
	f.login(t, bob, "bob")

	_ = f.svc.HandleJoinCart(ctx, alice, "42")
	_ = f.svc.HandleSendMessage(ctx, alice, sendPayload("42", "alice", "milk is cheap", ""))

	carol, _ := f.tracker.Counts(ctx, "carol")
	if carol["42"] != 1 {
		t.Fatalf("carol counts = %v, want 42:1", carol)
	}
	for _, user := range []string{"alice", "bob"} {
		counts, _ := f.tracker.Counts(ctx, user)
		if len(counts) != 0 {
			t.Fatalf("%s counts = %v, want none", user, counts)
		}
	}

	carolConn := f.connect("C")
	f.login(t, carolConn, "carol")
	env := next(t, carolConn)
	if env.Event != domain.EventUnreadMessages {
		t.Fatalf("carol got %q after login, want unreadMessages", env.Event)
	}
	var summary domain.UnreadSummary
	_ = json.Unmarshal(env.Data, &summary)
	if summary.TotalUnread != 1 || summary.ChatCounts["42"] != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	_ = f.svc.HandleMarkRead(ctx, carolConn, "42")
	_ = f.svc.HandleGetUnread(ctx, carolConn)
	env = next(t, carolConn)
	_ = json.Unmarshal(env.Data, &summary)
	if summary.TotalUnread != 0 {
		t.Fatalf("after mark-read summary = %+v", summary)
	}
}

func TestChatService_AuthRejected(t *testing.T) {
	f := newChatFixture(t, config.WebSocketConfig{}, nil, nil)
	a := f.connect("A")

	if err := f.svc.HandleAuth(context.Background(), a, "not-a-token"); err == nil {
		t.Fatal("expected error for a bad token")
	}
	if env := next(t, a); env.Event != domain.EventAuthError {
		t.Fatalf("got %q, want auth-error", env.Event)
	}
	if a.UserID() != "" {
		t.Fatalf("client authenticated as %q", a.UserID())
	}
}

func TestChatService_ActiveRoomsRepliesToCaller(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, config.WebSocketConfig{}, nil, nil)
	a := f.connect("A")
	b := f.connect("B")
	_ = f.svc.HandleJoinCart(ctx, a, "1")
	_ = f.svc.HandleJoinRoom(ctx, b, "lobby")
	_ = f.svc.HandleSubscribeWishlists(ctx, b, "u1")

	_ = f.svc.HandleActiveRooms(ctx, a)
	env := next(t, a)
	var rooms []string
	_ = json.Unmarshal(env.Data, &rooms)
	want := []string{"cart-1", "lobby", "user-u1"}
	if env.Event != domain.EventActiveRooms || len(rooms) != len(want) {
		t.Fatalf("got %s %v", env.Event, rooms)
	}
	for i := range want {
		if rooms[i] != want[i] {
			t.Fatalf("rooms = %v, want %v", rooms, want)
		}
	}
	quiet(t, b)
}

func TestChatService_TestCartNotification(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t, config.WebSocketConfig{}, nil, nil)
	a := f.connect("A")
	other := f.connect("O")
	_ = f.svc.HandleJoinCart(ctx, a, "5")

	_ = f.svc.HandleTestCartNotification(ctx, other, domain.TestCartNotificationPayload{
		CartID:    "5",
		ProductID: "p1",
		NewPrice:  1.5,
		OldPrice:  2,
	})

	env := next(t, a)
	if env.Event != domain.EventPriceDrop {
		t.Fatalf("got %q, want price-drop", env.Event)
	}
	var drop domain.CartPriceDrop
	_ = json.Unmarshal(env.Data, &drop)
	if drop.CartID != "5" || drop.ProductID != "p1" || drop.NewPrice != 1.5 || drop.OldPrice != 2 {
		t.Fatalf("payload = %+v", drop)
	}
	quiet(t, other)
}
