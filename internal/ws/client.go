package ws

import (
	"errors"
	"sync"
	"time"

	"crewlink/internal/events"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errClientClosed   = errors.New("client closed")
)

// Client is the send-capable half of one websocket connection. It is the
// handle the presence registry hands out: Send never blocks, and a single
// writer goroutine preserves per-recipient event order.
type Client struct {
	conn         *websocket.Conn
	send         chan events.Envelope
	done         chan struct{}
	writeTimeout time.Duration
	pingPeriod   time.Duration
	closeOnce    sync.Once
	logger       zerolog.Logger
}

func newClient(conn *websocket.Conn, bufferSize int, writeTimeout, idleTimeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		conn:         conn,
		send:         make(chan events.Envelope, bufferSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingPeriod:   idleTimeout / 2,
		logger:       logger,
	}
}

// Send queues an event for the connection. A full queue means the recipient
// is too slow; the event is dropped for them alone. Publishes racing a
// disconnect come back as errClientClosed, never a panic: the send channel
// is never closed, only the writer stops draining it.
func (c *Client) Send(env events.Envelope) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close stops the writer. Safe to call more than once and concurrently with
// Send; the registry calls it when a session is replaced or unregistered.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. It owns all writes; it exits when Close is called or a
// write fails, closing the underlying connection either way.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, dropping connection")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
