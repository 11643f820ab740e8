package fanout

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// maxMessageSize bounds inbound frames; oversized frames close the
	// connection with 1009.
	maxMessageSize = 64 << 10

	pingInterval   = 30 * time.Second
	maxMissedPongs = 2

	writeWait = 10 * time.Second
)

// client is one dashboard connection. Outbound messages queue on send;
// rooms membership is guarded by the hub mutex.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string
	send    chan []byte
	done    chan struct{}
	rooms   map[string]struct{}

	missedPongs atomic.Int32
	degraded    atomic.Bool
	dropped     atomic.Uint64
}

func newClient(h *Hub, conn *websocket.Conn, subject string, bufferSize int) *client {
	return &client{
		hub:     h,
		conn:    conn,
		subject: subject,
		send:    make(chan []byte, bufferSize),
		done:    make(chan struct{}),
		rooms:   make(map[string]struct{}),
	}
}

// enqueue appends a frame without ever blocking a broadcaster. A full
// buffer evicts the oldest frame and flags the connection degraded; the
// peer stays connected.
func (c *client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
		return
	default:
	}

	select {
	case <-c.send:
		c.recordDrop()
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.recordDrop()
	}
}

func (c *client) recordDrop() {
	c.dropped.Add(1)
	if c.degraded.CompareAndSwap(false, true) {
		c.hub.logger.Warn("connection degraded, outbound buffer full",
			zap.String("subject", c.subject),
			zap.String("remote", c.conn.RemoteAddr().String()))
	}
}

func (c *client) enqueueMessage(msg serverMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("marshal server message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	c.enqueue(raw)
}

// readPump consumes client frames until the connection dies. Runs on the
// HTTP handler goroutine.
func (c *client) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.missedPongs.Store(0)
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handle(raw)
	}
}

func (c *client) handle(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueueMessage(serverMessage{
			Type:      msgSubscription,
			Data:      subscriptionAck{Status: "error", Reason: "malformed message"},
			Timestamp: time.Now().UTC(),
		})
		return
	}

	switch msg.Type {
	case "subscribe":
		if !validRoom(msg.Room) {
			c.enqueueMessage(serverMessage{
				Type:      msgSubscription,
				Data:      subscriptionAck{Room: msg.Room, Status: "error", Reason: "unknown room"},
				Timestamp: time.Now().UTC(),
			})
			return
		}
		c.hub.subscribe(c, msg.Room)
		c.enqueueMessage(serverMessage{
			Type:      msgSubscription,
			Data:      subscriptionAck{Room: msg.Room, Status: "subscribed"},
			Timestamp: time.Now().UTC(),
		})

	case "unsubscribe":
		c.hub.unsubscribe(c, msg.Room)
		c.enqueueMessage(serverMessage{
			Type:      msgSubscription,
			Data:      subscriptionAck{Room: msg.Room, Status: "unsubscribed"},
			Timestamp: time.Now().UTC(),
		})

	case "ping":
		c.enqueueMessage(serverMessage{Type: msgPong, Timestamp: time.Now().UTC()})

	default:
		c.enqueueMessage(serverMessage{
			Type:      msgSubscription,
			Data:      subscriptionAck{Status: "error", Reason: "unknown message type"},
			Timestamp: time.Now().UTC(),
		})
	}
}

// writePump drains the send queue and keeps the connection alive with
// protocol pings. Two unanswered pings end the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			if c.missedPongs.Load() >= maxMissedPongs {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "pong timeout"),
					time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.missedPongs.Add(1)
		}
	}
}
