package websocket

import (
	"encoding/json"
	"time"

	"resqlink/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is one websocket connection. A user may hold several at once, one
// per device.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	userID   string
	groupIDs []string
	send     chan models.WSMessage
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, groupIDs []string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		userID:   userID,
		groupIDs: groupIDs,
		send:     make(chan models.WSMessage, sendBufferSize),
	}
}

// Start registers the client and runs its pumps. Blocks until the
// connection drops.
func (c *Client) Start() {
	c.hub.register <- c
	go c.writePump()
	c.readPump()
}

// enqueue hands a message to the client's writer without blocking. A full
// buffer kicks the client off; it re-syncs on reconnect.
func (c *Client) enqueue(message models.WSMessage) {
	select {
	case c.send <- message:
	default:
		logrus.Warnf("WebSocket send buffer full for user %s, disconnecting", c.userID)
		c.hub.unregister <- c
	}
}

// readPump drains inbound frames. Clients only send pings and location
// updates over HTTP, so inbound traffic is limited to keepalives.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.Debugf("WebSocket read error for user %s: %v", c.userID, err)
			}
			return
		}

		var message models.WSMessage
		if err := json.Unmarshal(data, &message); err != nil {
			continue
		}
		if message.Type == models.WSTypePing {
			c.enqueue(models.WSMessage{Type: models.WSTypePong, Timestamp: time.Now()})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
