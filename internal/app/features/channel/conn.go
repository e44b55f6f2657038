// internal/app/features/channel/conn.go
package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/josefm09/tracker/internal/app/realtime"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var (
	ErrSendBufferFull = errors.New("channel: send buffer full")
	ErrConnClosed     = errors.New("channel: connection closed")
)

// conn adapts a websocket to realtime.Conn. Outbound events are queued on
// send and written by a single writer goroutine, so Send never blocks.
type conn struct {
	id     string
	userID primitive.ObjectID
	ws     *websocket.Conn
	log    *zap.Logger

	writeTimeout time.Duration
	pingPeriod   time.Duration

	send chan realtime.Event
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
	mu          sync.Mutex
}

func newConn(ws *websocket.Conn, userID primitive.ObjectID, cfg Config, log *zap.Logger) *conn {
	id := uuid.NewString()
	return &conn{
		id:           id,
		userID:       userID,
		ws:           ws,
		log:          log.With(zap.String("conn_id", id), zap.String("user_id", userID.Hex())),
		writeTimeout: cfg.WriteTimeout,
		pingPeriod:   cfg.PingPeriod,
		send:         make(chan realtime.Event, cfg.SendBuffer),
		done:         make(chan struct{}),
		closeCode:    websocket.CloseNormalClosure,
	}
}

func (c *conn) ID() string                 { return c.id }
func (c *conn) UserID() primitive.ObjectID { return c.userID }

// Send queues ev for delivery.
func (c *conn) Send(ev realtime.Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer, which sends a normal close frame.
func (c *conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

// closeWith stops the writer with the given close frame. Only the first
// call has an effect.
func (c *conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.mu.Unlock()
		close(c.done)
	})
}

// writePump owns every write to the socket. It drains queued events,
// keeps the peer alive with pings, and closes the socket on exit.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.log.Debug("channel: write failed", zap.String("event", ev.Name), zap.Error(err))
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			c.mu.Lock()
			code, reason := c.closeCode, c.closeReason
			c.mu.Unlock()
			if code != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(code, reason)
				_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
			}
			return
		}
	}
}

// flush writes events queued before the close so a final error event
// still reaches the client.
func (c *conn) flush() {
	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}
