package hub

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/internal/metrics"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// Hub is the registry of live connections and their room memberships.
// Broadcasts are delivered synchronously to the members present at call
// time; each client's write pump drains its own buffer.
type Hub struct {
	clients     map[string]*Client            // clientID -> client
	rooms       map[string]map[string]*Client // room -> clientID -> client
	clientRooms map[string]map[string]struct{} // clientID -> rooms
	users       map[string]map[string]*Client // userID -> clientID -> client
	mu          sync.RWMutex
	config      config.WebSocketConfig
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		clientRooms: make(map[string]map[string]struct{}),
		users:       make(map[string]map[string]*Client),
		config:      cfg,
	}
}

// Config returns the websocket settings clients are created with.
func (h *Hub) Config() config.WebSocketConfig {
	return h.config
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.clientRooms[client.ID] = make(map[string]struct{})
	h.mu.Unlock()

	metrics.Connections.Inc()
	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client registered")
}

// Unregister removes the client from the registry, every room and the user
// index, then closes its send buffer. Repeated calls are no-ops.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}

	for room := range h.clientRooms[client.ID] {
		h.removeFromRoomLocked(room, client.ID)
	}
	delete(h.clientRooms, client.ID)

	if userID := client.Session.GetUserID(); userID != "" {
		h.removeUserLocked(userID, client.ID)
	}

	delete(h.clients, client.ID)
	close(client.Send)
	h.mu.Unlock()

	metrics.Connections.Dec()
	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client unregistered")
}

// Join adds the client to room. It reports false when the client is no
// longer registered.
func (h *Hub) Join(client *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.clientRooms[client.ID]
	if !ok {
		return false
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]*Client)
	}
	if _, already := h.rooms[room][client.ID]; !already {
		metrics.RoomJoins.WithLabelValues(metrics.RoomKind(room)).Inc()
	}
	h.rooms[room][client.ID] = client
	rooms[room] = struct{}{}

	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Str(log.FieldRoom, room).Msg("client joined room")
	return true
}

// Leave removes the client from room. Leaving a room the client is not in
// does nothing.
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rooms, ok := h.clientRooms[client.ID]; ok {
		delete(rooms, room)
	}
	h.removeFromRoomLocked(room, client.ID)
}

func (h *Hub) removeFromRoomLocked(room, clientID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Authenticate tags the client with userID and indexes it for SendToUser.
func (h *Hub) Authenticate(client *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if prev := client.Session.Authenticate(userID); prev != "" && prev != userID {
		h.removeUserLocked(prev, client.ID)
	}
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[string]*Client)
	}
	h.users[userID][client.ID] = client
}

func (h *Hub) removeUserLocked(userID, clientID string) {
	if conns, ok := h.users[userID]; ok {
		delete(conns, clientID)
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
}

// ActiveRooms lists every room with at least one member, sorted.
func (h *Hub) ActiveRooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// MembersOf lists the client IDs in room, sorted.
func (h *Hub) MembersOf(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// IsOnline reports whether any live connection is authenticated as userID.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// OnlineUserIDs returns the set of users with a live authenticated connection.
func (h *Hub) OnlineUserIDs() map[string]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	online := make(map[string]struct{}, len(h.users))
	for userID := range h.users {
		online[userID] = struct{}{}
	}
	return online
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to every member of room except excludeClientID and
// returns the number of clients it was queued for.
func (h *Hub) Broadcast(room, event string, payload interface{}, excludeClientID string) int {
	data, err := encode(event, payload)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoom, room).Str(log.FieldEvent, event).Msg("failed to encode broadcast")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for clientID, client := range h.rooms[room] {
		if clientID == excludeClientID {
			continue
		}
		if h.enqueueLocked(client, data) {
			delivered++
		}
	}
	metrics.Broadcasts.WithLabelValues(event).Inc()
	return delivered
}

// SendToUser sends event to every live connection authenticated as userID.
func (h *Hub) SendToUser(userID, event string, payload interface{}) int {
	data, err := encode(event, payload)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldUserID, userID).Str(log.FieldEvent, event).Msg("failed to encode user message")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, client := range h.users[userID] {
		if h.enqueueLocked(client, data) {
			delivered++
		}
	}
	return delivered
}

// SendToClient sends event to a single client.
func (h *Hub) SendToClient(client *Client, event string, payload interface{}) bool {
	data, err := encode(event, payload)
	if err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldConnID, client.ID).Str(log.FieldEvent, event).Msg("failed to encode message")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	return h.enqueueLocked(client, data)
}

// enqueueLocked must run under at least the read lock so Unregister cannot
// close the buffer mid-send. A full buffer drops the slow client.
func (h *Hub) enqueueLocked(client *Client, data []byte) bool {
	select {
	case client.Send <- data:
		return true
	default:
		metrics.DroppedSends.Inc()
		l := log.L()
		l.Warn().Str(log.FieldConnID, client.ID).Msg("send buffer full, dropping client")
		go h.Unregister(client)
		return false
	}
}

func encode(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(domain.OutboundEnvelope{Event: event, Data: payload})
}
