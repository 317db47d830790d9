// Package transport maintains the websocket push channel to the
// orchestrator.
//
// # Connection state machine
//
// The channel moves through four states:
//
//	CLOSED → CONNECTING → OPEN ⇄ RECONNECTING
//
// The first dial runs in CONNECTING. Any later drop or failed dial
// puts the channel in RECONNECTING until a dial succeeds. Stop returns
// the channel to CLOSED.
//
// Reconnects back off exponentially: base delay doubled per attempt,
// capped, plus random jitter. The attempt counter resets on every
// successful open.
//
// # Subscriptions
//
// Topics registered with Subscribe are remembered and re-issued after
// every (re)open, so a reconnect never silently loses the event feed.
// Delivery is at-least-once; consumers deduplicate by sequence number.
//
// # Sending
//
// Send fails fast with *NotConnectedError while the channel is not
// OPEN. The channel never buffers outbound frames; queueing across
// disconnects is the store's job, where mutations can be superseded
// and rolled back.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/stagekit/stagehand/internal/types"
)

// NotConnectedError reports a Send attempted while the channel was
// not OPEN.
type NotConnectedError struct {
	State types.ConnectionState
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("transport not connected (state: %s)", e.State)
}

// Config holds channel configuration.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:port/ws.
	URL string

	// ClientID identifies this engine instance in the hello frame.
	ClientID string

	// Version is the client version reported in the hello frame.
	Version string

	// BaseBackoff is the first reconnect delay (default: 1s).
	BaseBackoff time.Duration

	// MaxBackoff caps the reconnect delay (default: 30s).
	MaxBackoff time.Duration

	// DialTimeout bounds a single dial attempt (default: 10s).
	DialTimeout time.Duration

	// WriteTimeout bounds a single frame write (default: 5s).
	WriteTimeout time.Duration

	// OnMessage receives every decoded inbound frame. Called from the
	// channel's read goroutine.
	OnMessage func(Message)

	// OnStateChange receives every connection state transition.
	OnStateChange func(types.ConnectionState)

	// Logger for channel activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseBackoff:  1 * time.Second,
		MaxBackoff:   30 * time.Second,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Channel is a reconnecting websocket client.
type Channel struct {
	cfg Config

	mu    sync.Mutex
	conn  *websocket.Conn
	state types.ConnectionState
	subs  []string

	wmu sync.Mutex // serializes frame writes

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnects atomic.Int64
	rnd        func() float64

	logger *log.Logger
}

// New creates a channel from config. The channel is CLOSED until
// Start is called.
func New(cfg *Config) *Channel {
	d := DefaultConfig()
	if cfg == nil {
		cfg = d
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = d.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = d.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}

	return &Channel{
		cfg:    *cfg,
		state:  types.ConnClosed,
		rnd:    rand.Float64,
		logger: logger,
	}
}

// Start launches the connect loop. It does not block; state
// transitions arrive via OnStateChange.
func (c *Channel) Start(ctx context.Context) error {
	if c.cfg.URL == "" {
		return fmt.Errorf("transport URL is required")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()
	return nil
}

// Stop closes the connection and waits for the connect loop to exit.
// The channel ends in CLOSED.
func (c *Channel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "client shutting down")
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.setState(types.ConnClosed)
	return nil
}

// State returns the current connection state.
func (c *Channel) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnects returns how many times the channel has re-entered
// RECONNECTING.
func (c *Channel) Reconnects() int {
	return int(c.reconnects.Load())
}

// Subscribe registers topics for server events. Topics are remembered
// and re-issued on every (re)open; if the channel is currently OPEN
// the subscribe frame is sent immediately.
func (c *Channel) Subscribe(topics ...string) error {
	c.mu.Lock()
	c.subs = append(c.subs, topics...)
	open := c.state == types.ConnOpen
	c.mu.Unlock()

	if !open {
		return nil
	}
	return c.sendSubscribe(topics)
}

// Send writes a frame to the server. It fails fast with
// *NotConnectedError while the channel is not OPEN.
func (c *Channel) Send(msg Message) error {
	c.mu.Lock()
	state := c.state
	conn := c.conn
	c.mu.Unlock()

	if state != types.ConnOpen || conn == nil {
		return &NotConnectedError{State: state}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return c.write(conn, data)
}

func (c *Channel) write(conn *websocket.Conn, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// run is the connect loop: dial, greet, resubscribe, read until the
// connection drops, back off, repeat.
func (c *Channel) run() {
	defer c.wg.Done()

	attempt := 0
	first := true

	for {
		if c.ctx.Err() != nil {
			return
		}

		if first {
			c.setState(types.ConnConnecting)
		}

		conn, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if first {
				first = false
				c.reconnects.Add(1)
				c.setState(types.ConnReconnecting)
			}
			delay := backoffDelay(attempt, c.cfg.BaseBackoff, c.cfg.MaxBackoff, c.rnd)
			attempt++
			c.logger.Printf("Dial failed (attempt %d, retrying in %s): %v", attempt, delay.Round(time.Millisecond), err)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		first = false

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(types.ConnOpen)
		c.logger.Printf("Connected to %s", c.cfg.URL)

		c.greet(conn)
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.ctx.Err() != nil {
			return
		}
		c.reconnects.Add(1)
		c.setState(types.ConnReconnecting)
		c.logger.Printf("Connection lost, reconnecting")
	}
}

func (c *Channel) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// greet sends the hello frame and re-issues every recorded
// subscription. Failures here surface as a read error and trigger the
// normal reconnect path.
func (c *Channel) greet(conn *websocket.Conn) {
	hello, err := json.Marshal(HelloData{ClientID: c.cfg.ClientID, Version: c.cfg.Version})
	if err == nil {
		msg, merr := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now(), Data: hello})
		if merr == nil {
			if werr := c.write(conn, msg); werr != nil {
				c.logger.Printf("Failed to send hello: %v", werr)
				return
			}
		}
	}

	c.mu.Lock()
	topics := make([]string, len(c.subs))
	copy(topics, c.subs)
	c.mu.Unlock()

	if len(topics) > 0 {
		if err := c.sendSubscribe(topics); err != nil {
			c.logger.Printf("Failed to resubscribe: %v", err)
		}
	}
}

func (c *Channel) sendSubscribe(topics []string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return &NotConnectedError{State: c.State()}
	}

	data, err := json.Marshal(SubscribeData{Topics: topics})
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe: %w", err)
	}
	msg, err := json.Marshal(Message{Type: MessageTypeSubscribe, Timestamp: time.Now(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return c.write(conn, msg)
}

// readLoop decodes inbound frames until the connection drops.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(msg)
		}
	}
}

func (c *Channel) setState(s types.ConnectionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}
