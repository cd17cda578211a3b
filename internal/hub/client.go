package hub

import (
	"bytes"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PratikDhanave/shotlog/internal/idgen"
	"github.com/PratikDhanave/shotlog/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

var (
	pingText = []byte("ping")
	pongText = []byte("pong")
)

// Client is a websocket Subscriber. Liveness is the remote side's problem:
// there is no read deadline, a dead peer is dropped when a write fails.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn; buffer bounds the queued outbound messages.
func NewClient(h *Hub, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		id:   idgen.MustGenerate("sub-"),
		hub:  h,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues msg without blocking.
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrSubscriberGone
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrSubscriberGone
	default:
		return ErrSlowSubscriber
	}
}

// Close stops the write pump, which closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Start registers the client with the hub and runs its pumps.
func (c *Client) Start() {
	c.hub.Subscribe(c)
	go c.writePump()
	go c.readPump()
}

// readPump answers application pings and detects the peer going away.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("subscriber", c.id).Msg("unexpected websocket close")
			}
			return
		}
		if mt == websocket.TextMessage && bytes.Equal(bytes.TrimSpace(data), pingText) {
			_ = c.Send(pongText)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logging.Debug().Err(err).Str("subscriber", c.id).Msg("websocket write failed")
				c.hub.Unsubscribe(c)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.Unsubscribe(c)
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
