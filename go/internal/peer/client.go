// Package peer is the WebSocket client used by presenter and controller nodes
// to reach the relay. It reconnects with exponential backoff when the link
// drops.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotConnected is returned by Send while the link is down
	ErrNotConnected = errors.New("peer: not connected")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("peer: client closed")
)

// Options for Client
type Options struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64

	Reconnect      bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxElapsed bounds one reconnect attempt series; zero retries forever
	MaxElapsed time.Duration

	Header http.Header
	Dialer *websocket.Dialer
}

// DefaultOptions returns options with reconnect enabled
func DefaultOptions() Options {
	return Options{
		WriteTimeout:   10 * time.Second,
		PingInterval:   15 * time.Second,
		PongWait:       45 * time.Second,
		MaxMessageSize: 1 << 20,
		Reconnect:      true,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// Handler receives every inbound frame, in order, on the read goroutine
type Handler func(raw []byte)

// Client is a reconnecting WebSocket connection to the relay
type Client struct {
	url  string
	opts Options

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	started atomic.Bool

	mu          sync.RWMutex
	conn        *websocket.Conn
	onMessage   Handler
	onReconnect func()

	writeMu sync.Mutex
	logger  zerolog.Logger
}

// New creates a client for url. Register handlers before calling Connect.
func New(url string, opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:    url,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: log.With().Str("component", "peer").Str("url", url).Logger(),
	}
}

// OnMessage sets the inbound frame handler
func (c *Client) OnMessage(h Handler) {
	c.mu.Lock()
	c.onMessage = h
	c.mu.Unlock()
}

// OnReconnect sets a hook run in its own goroutine after every successful reconnect
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

// Connect dials the relay once and starts the read loop. Later drops are
// handled by reconnecting when Options.Reconnect is set.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.setConn(conn)
	c.started.Store(true)
	go c.run(conn)
	c.logger.Info().Msg("connected to relay")
	return nil
}

// Done is closed when the client stops for good
func (c *Client) Done() <-chan struct{} { return c.done }

// Connected reports whether a link is currently up
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Send writes one text frame
func (c *Client) Send(raw []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close stops reconnecting and closes the current link
func (c *Client) Close() error {
	c.cancel()
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if !c.started.Load() {
		c.once.Do(func() { close(c.done) })
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	if c.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(c.opts.MaxMessageSize)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) run(conn *websocket.Conn) {
	defer c.once.Do(func() { close(c.done) })
	for {
		err := c.serve(conn)
		c.setConn(nil)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("relay link lost")
		if !c.opts.Reconnect {
			return
		}

		next, err := c.redial()
		if err != nil {
			c.logger.Error().Err(err).Msg("giving up on relay")
			return
		}
		conn = next
		c.setConn(conn)
		c.logger.Info().Msg("reconnected to relay")

		c.mu.RLock()
		hook := c.onReconnect
		c.mu.RUnlock()
		if hook != nil {
			go hook()
		}
	}
}

func (c *Client) redial() (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = c.opts.MaxElapsed

	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, err = c.dial(c.ctx)
		if err != nil && c.ctx.Err() != nil {
			return backoff.Permanent(ErrClosed)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		c.logger.Debug().Err(err).Dur("retry_in", next).Msg("reconnect attempt failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, c.ctx), notify); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrClosed
	}
	return conn, nil
}

// serve runs the read loop and keepalive for one link until it breaks
func (c *Client) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = conn.Close()
	}()

	if c.opts.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		})
	}
	if c.opts.PingInterval > 0 {
		go c.keepalive(conn, stop)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.opts.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		}
		c.mu.RLock()
		h := c.onMessage
		c.mu.RUnlock()
		if h != nil {
			h(msg)
		}
	}
}

func (c *Client) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug().Err(err).Msg("keepalive ping failed")
				return
			}
		}
	}
}
