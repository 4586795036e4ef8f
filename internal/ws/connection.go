package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"telecare/internal/domain"
	"telecare/internal/presence"
	"telecare/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection buffer exceeded")
)

// Connection wraps one participant's websocket. Writes go through a buffered
// channel drained by a single writer goroutine; Push is safe for concurrent use.
type Connection struct {
	id   string
	peer domain.Peer

	ws     *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed chan struct{}
	log    *slog.Logger
}

var _ presence.Session = (*Connection)(nil)

func NewConnection(peer domain.Peer, ws *websocket.Conn, bufferSize int, log *slog.Logger) *Connection {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	return &Connection{
		id:     uuid.NewString(),
		peer:   peer,
		ws:     ws,
		send:   make(chan []byte, bufferSize),
		closed: make(chan struct{}),
		log:    log,
	}
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) Peer() domain.Peer { return c.peer }

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Push encodes p and queues it. A client too slow to drain its buffer is
// disconnected rather than allowed to stall the sender.
func (c *Connection) Push(p protocol.Push) error {
	payload, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.closed:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.ClosePolicyViolation, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close sends a close frame and tears the socket down. Later calls are no-ops.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// ReadLoop hands every inbound text frame to handle until the peer goes away.
func (c *Connection) ReadLoop(handle func(raw []byte)) error {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, raw, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		handle(raw)
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("ws: write failed", "participant", c.peer.ID, "session", c.id, "err", err)
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) writeMessage(kind int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, payload)
}
