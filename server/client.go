package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/pit/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const sendBuffer = 64

type frame struct {
	kind int
	data []byte
}

// client is one websocket connection. It satisfies lobby.Conn; Send never
// blocks, a full buffer drops the response.
type client struct {
	id   string
	conn *websocket.Conn
	log  zerolog.Logger

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

func newClient(conn *websocket.Conn, log zerolog.Logger) *client {
	id := uuid.NewString()
	return &client{
		id:   id,
		conn: conn,
		log:  log.With().Str("conn", id).Logger(),
		send: make(chan frame, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

func (c *client) Send(r protocol.Response) {
	body, err := json.Marshal(r)
	if err != nil {
		c.log.Error().Err(err).Stringer("code", r.Code).Msg("encode response")
		return
	}
	if !c.enqueue(frame{websocket.TextMessage, body}) {
		return
	}
	if len(r.Frame) > 0 {
		c.enqueue(frame{websocket.BinaryMessage, r.Frame})
	}
}

func (c *client) enqueue(f frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	default:
		n := c.dropped.Add(1)
		c.log.Warn().Int64("dropped", n).Msg("send buffer full")
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump owns all writes to the connection. It pings every pingEvery,
// busy or not, and returns when the client closes or a write fails.
func (c *client) writePump(pingEvery, writeTimeout time.Duration) error {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return nil
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		}
	}
}
