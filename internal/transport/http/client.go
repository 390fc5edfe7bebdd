package http

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBuffer = 64

// client is one websocket connection registered with the hub. A dedicated
// writer goroutine owns the connection for writes; everything else goes
// through the send channel. The channel is never closed: emitters (reveal
// timers included) may race a disconnect, so teardown is signaled through
// quit instead.
type client struct {
	userID   string
	lessonID string
	conn     *websocket.Conn
	send     chan outboundMessage[any]
	quit     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func newClient(userID, lessonID string, conn *websocket.Conn, logger *zap.Logger) *client {
	return &client{
		userID:   userID,
		lessonID: lessonID,
		conn:     conn,
		send:     make(chan outboundMessage[any], sendBuffer),
		quit:     make(chan struct{}),
		logger:   logger,
	}
}

// enqueue hands a message to the writer without blocking. A full buffer means
// the client is too slow; the event is dropped. After shutdown everything is
// dropped.
func (c *client) enqueue(msg outboundMessage[any]) {
	select {
	case <-c.quit:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Debug("client buffer full, dropping event",
			zap.String("user_id", c.userID), zap.String("type", msg.Type))
	}
}

// shutdown stops the writer. Safe to call more than once.
func (c *client) shutdown() {
	c.stopOnce.Do(func() { close(c.quit) })
}

// writeLoop drains the send channel onto the socket until shutdown or a
// write failure.
func (c *client) writeLoop(done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-c.quit:
			return
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("ws write error", zap.String("user_id", c.userID), zap.Error(err))
				return
			}
		}
	}
}
