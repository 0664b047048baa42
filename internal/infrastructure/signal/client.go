package signal

import (
	"sync"
	"time"

	"roomrelay/internal/core/domain"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is one websocket connection. Outbound frames go through a bounded
// send channel drained by writePump, so a slow reader never blocks the
// room service.
type Client struct {
	id      domain.ParticipantID
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

func newClient(id domain.ParticipantID, conn *websocket.Conn, bufferSize int, limiter *rate.Limiter) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, bufferSize),
		limiter: limiter,
	}
}

// Enqueue implements ports.Sink. It reports false when the buffer is full
// or the connection is already closing.
func (c *Client) Enqueue(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// allow applies the per-connection message rate limit.
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// close stops writePump after it flushes what is already queued.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads frames until the connection fails and hands each one to
// handle in arrival order.
func (c *Client) readPump(maxMessageSize int64, pongTimeout time.Duration, handle func([]byte)) error {
	if maxMessageSize > 0 {
		c.conn.SetReadLimit(maxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		handle(data)
	}
}

// writePump writes queued frames and pings the peer. It closes the
// underlying connection on exit, which also ends readPump.
func (c *Client) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
