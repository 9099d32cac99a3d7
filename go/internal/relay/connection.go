package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBufferSize  int           `yaml:"send_buffer_size"`

	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1 << 20, // scripts travel in LOAD_SCRIPT
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Connection is one WebSocket peer of the hub
type Connection struct {
	id         string
	remoteAddr string
	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
	config     ConnectionConfig

	ConnectedAt time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

var _ Peer = (*Connection)(nil)

func newConnection(conn *websocket.Conn, hub *Hub, config ConnectionConfig, remoteAddr string) *Connection {
	return &Connection{
		id:          uuid.NewString(),
		remoteAddr:  remoteAddr,
		conn:        conn,
		send:        make(chan []byte, config.SendBufferSize),
		hub:         hub,
		config:      config,
		ConnectedAt: time.Now(),
		closed:      make(chan struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

func (c *Connection) Enqueue(raw []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

// Close signals the write pump to send a close frame and shut the socket
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// serve runs both pumps and blocks until the connection is gone
func (c *Connection) serve(ctx context.Context) {
	c.hub.Register(c)
	go c.writePump()
	c.readPump(ctx)
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				c.hub.Unregister(c)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				c.hub.Unregister(c)
				c.Close()
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.hub.HandleInbound(ctx, c, message)
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
