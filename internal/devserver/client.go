package devserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// WSClient is a gorilla/websocket push connection implementing Client.
type WSClient struct {
	userID string
	conn   *websocket.Conn
	hub    *Hub
	log    *zap.SugaredLogger

	send      chan []byte
	closeOnce sync.Once
}

// NewWSClient wraps an upgraded connection for the given user.
func NewWSClient(userID string, conn *websocket.Conn, hub *Hub, log *zap.SugaredLogger) *WSClient {
	return &WSClient{
		userID: userID,
		conn:   conn,
		hub:    hub,
		log:    log,
		send:   make(chan []byte, 256),
	}
}

func (c *WSClient) UserID() string      { return c.userID }
func (c *WSClient) Send() chan<- []byte { return c.send }

// Run starts the read and write pumps.
func (c *WSClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close shuts the write pump down; the read pump follows once the
// connection closes underneath it.
func (c *WSClient) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// inboundFrame is the only frame clients are expected to send: a read
// receipt for a message they received.
type inboundFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.UnregisterCh <- c:
		case <-c.hub.Done():
			// The dispatch loop is gone; nobody is reading.
		}
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debugw("websocket read error", "user", c.userID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "read" || frame.MessageID == "" {
			c.log.Debugw("dropping unrecognized inbound frame", "user", c.userID)
			continue
		}
		c.hub.MarkRead(c.userID, frame.MessageID)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
