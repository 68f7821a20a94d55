package chatws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/metrics"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

// Hub owns every connection and room membership. The maps are only touched
// from the Run goroutine; callers submit closures through ops.
type Hub struct {
	clients map[*Client]struct{}
	users   map[int64]*Client
	rooms   map[int64]map[*Client]struct{}

	ops    chan func()
	done   chan struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		users:   make(map[int64]*Client),
		rooms:   make(map[int64]map[*Client]struct{}),
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

// exec runs fn on the hub goroutine and waits for it. It reports false when
// the hub has stopped.
func (h *Hub) exec(fn func()) bool {
	finished := make(chan struct{})
	select {
	case h.ops <- func() { fn(); close(finished) }:
	case <-h.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

// Register adds the client and makes it the user's current handle. The
// previous handle, if any, stays connected but no longer counts for presence.
func (h *Hub) Register(client *Client) (replaced *Client) {
	h.exec(func() {
		h.clients[client] = struct{}{}
		if previous, ok := h.users[client.UserID]; ok && previous != client {
			replaced = previous
		}
		h.users[client.UserID] = client
		metrics.SocketConnections.Inc()
	})
	return replaced
}

// Unregister removes the client from all rooms. wasCurrent is true when the
// client was the user's current handle.
func (h *Hub) Unregister(client *Client) (wasCurrent bool) {
	h.exec(func() {
		if h.users[client.UserID] == client {
			delete(h.users, client.UserID)
			wasCurrent = true
		}
		h.drop(client)
	})
	return wasCurrent
}

func (h *Hub) IsOnline(userID int64) bool {
	var online bool
	h.exec(func() {
		_, online = h.users[userID]
	})
	return online
}

func (h *Hub) Lookup(userID int64) *Client {
	var client *Client
	h.exec(func() {
		client = h.users[userID]
	})
	return client
}

func (h *Hub) Join(client *Client, conversationID int64) {
	h.exec(func() {
		if _, ok := h.clients[client]; !ok {
			return
		}
		room, ok := h.rooms[conversationID]
		if !ok {
			room = make(map[*Client]struct{})
			h.rooms[conversationID] = room
		}
		room[client] = struct{}{}
		client.rooms[conversationID] = struct{}{}
	})
}

func (h *Hub) Leave(client *Client, conversationID int64) {
	h.exec(func() {
		h.leave(client, conversationID)
	})
}

func (h *Hub) InRoom(client *Client, conversationID int64) bool {
	var in bool
	h.exec(func() {
		_, in = h.rooms[conversationID][client]
	})
	return in
}

// BroadcastToRoom sends the event to every client in the room and to the
// current handle of each notified user. A client receives it at most once.
func (h *Hub) BroadcastToRoom(conversationID int64, event models.Event, notify ...int64) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.exec(func() {
		targets := make(map[*Client]struct{}, len(h.rooms[conversationID])+len(notify))
		for client := range h.rooms[conversationID] {
			targets[client] = struct{}{}
		}
		for _, userID := range notify {
			if client, ok := h.users[userID]; ok {
				targets[client] = struct{}{}
			}
		}
		for client := range targets {
			h.deliver(client, event.Name, payload)
		}
	})
}

func (h *Hub) BroadcastExcept(conversationID int64, event models.Event, except *Client) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.exec(func() {
		for client := range h.rooms[conversationID] {
			if client != except {
				h.deliver(client, event.Name, payload)
			}
		}
	})
}

func (h *Hub) BroadcastToUser(userID int64, event models.Event) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.exec(func() {
		if client, ok := h.users[userID]; ok {
			h.deliver(client, event.Name, payload)
		}
	})
}

func (h *Hub) BroadcastAll(event models.Event) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	h.exec(func() {
		for client := range h.clients {
			h.deliver(client, event.Name, payload)
		}
	})
}

func (h *Hub) encode(event models.Event) ([]byte, bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode socket event", zap.String("event", event.Name), zap.Error(err))
		return nil, false
	}
	return payload, true
}

// deliver must run on the hub goroutine.
func (h *Hub) deliver(client *Client, name string, payload []byte) {
	if client.closed {
		return
	}
	select {
	case client.send <- payload:
		metrics.Broadcasts.WithLabelValues(name).Inc()
	default:
		// the user handle is released by Unregister once the pumps exit
		h.logger.Warn("dropping slow socket client", zap.Int64("user_id", client.UserID))
		h.drop(client)
	}
}

func (h *Hub) leave(client *Client, conversationID int64) {
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, client)
	delete(client.rooms, conversationID)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	for conversationID := range client.rooms {
		h.leave(client, conversationID)
	}
	delete(h.clients, client)
	metrics.SocketConnections.Dec()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}
