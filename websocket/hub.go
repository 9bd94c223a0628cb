package websocket

import (
	"sync"
	"time"

	"resqlink/models"

	"github.com/sirupsen/logrus"
)

// Hub tracks connected clients and routes messages to group rooms and
// individual users. Delivery is best-effort: a client whose send buffer is
// full gets disconnected and will re-sync from the next snapshot after
// reconnecting.
type Hub struct {
	clients     map[*Client]bool
	userClients map[string][]*Client
	groupRooms  map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	mutex sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		userClients: make(map[string][]*Client),
		groupRooms:  make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	h.userClients[client.userID] = append(h.userClients[client.userID], client)
	for _, groupID := range client.groupIDs {
		if h.groupRooms[groupID] == nil {
			h.groupRooms[groupID] = make(map[*Client]bool)
		}
		h.groupRooms[groupID][client] = true
	}

	logrus.Debugf("WebSocket client connected: user %s (%d groups)", client.userID, len(client.groupIDs))
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)

	remaining := h.userClients[client.userID][:0]
	for _, c := range h.userClients[client.userID] {
		if c != client {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		delete(h.userClients, client.userID)
	} else {
		h.userClients[client.userID] = remaining
	}

	for _, groupID := range client.groupIDs {
		if room := h.groupRooms[groupID]; room != nil {
			delete(room, client)
			if len(room) == 0 {
				delete(h.groupRooms, groupID)
			}
		}
	}

	logrus.Debugf("WebSocket client disconnected: user %s", client.userID)
}

// BroadcastToGroup sends a message to every client subscribed to the group
// room.
func (h *Hub) BroadcastToGroup(groupID string, message models.WSMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	h.mutex.RLock()
	room := h.groupRooms[groupID]
	targets := make([]*Client, 0, len(room))
	for client := range room {
		targets = append(targets, client)
	}
	h.mutex.RUnlock()

	for _, client := range targets {
		client.enqueue(message)
	}
}

// SendToUser delivers a message to every connection the user currently
// holds.
func (h *Hub) SendToUser(userID string, message models.WSMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	h.mutex.RLock()
	targets := make([]*Client, len(h.userClients[userID]))
	copy(targets, h.userClients[userID])
	h.mutex.RUnlock()

	for _, client := range targets {
		client.enqueue(message)
	}
}

// IsUserOnline reports whether the user has at least one open connection.
func (h *Hub) IsUserOnline(userID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.userClients[userID]) > 0
}

// ConnectedUsers returns the IDs of everyone with an open connection.
func (h *Hub) ConnectedUsers() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	users := make([]string, 0, len(h.userClients))
	for userID := range h.userClients {
		users = append(users, userID)
	}
	return users
}
