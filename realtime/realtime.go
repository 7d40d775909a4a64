/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Harbor Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package realtime implements the WebSocket client for Harbor's keyed
// realtime store. Callers subscribe to paths and receive child-added events
// for keys written under them; call signaling (caller-side cancellation)
// and media signaling both ride on it.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harborchat/voip-go-sdk/voipsdk"
)

// Config holds configuration for the realtime client.
type Config struct {
	// PingInterval is how often keepalive pings are sent.
	PingInterval time.Duration

	// PongTimeout is how long to wait for a pong before the connection is
	// considered dead.
	PongTimeout time.Duration

	// ForceCloseDelay bounds how long Disconnect waits for a clean close
	// handshake before tearing the socket down.
	ForceCloseDelay time.Duration

	// BackoffTimeMax caps the reconnect backoff.
	BackoffTimeMax time.Duration

	// BackoffTimeReset is the initial reconnect backoff.
	BackoffTimeReset time.Duration

	// MaxRetries is the number of reconnect attempts after a drop.
	MaxRetries int

	// InitialConnectionMaxRetries is the number of attempts for the first
	// connection.
	InitialConnectionMaxRetries int

	// WebSocketURL is the realtime store endpoint.
	WebSocketURL string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PingInterval:                30 * time.Second,
		PongTimeout:                 10 * time.Second,
		ForceCloseDelay:             10 * time.Second,
		BackoffTimeMax:              32 * time.Second,
		BackoffTimeReset:            1 * time.Second,
		MaxRetries:                  3,
		InitialConnectionMaxRetries: 5,
		WebSocketURL:                "wss://rt.harbor.chat/store",
	}
}

// frame is a client-to-server message.
type frame struct {
	Action string          `json:"action"`
	Path   string          `json:"path,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Event is a server-to-client message.
type Event struct {
	Type  string          `json:"type"`
	Path  string          `json:"path"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

const eventChildAdded = "child_added"

// Subscription is a live path subscription. Cancel stops delivery and tells
// the server to drop the watch.
type Subscription struct {
	client *Client
	path   string
	id     int
	once   sync.Once
}

// Cancel stops the subscription. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.client.unsubscribe(s.path, s.id)
	})
}

// Client is the realtime store WebSocket client.
type Client struct {
	core   *voipsdk.Client
	config *Config
	logger voipsdk.Logger

	mu                 sync.Mutex
	conn               *websocket.Conn
	connected          bool
	connecting         bool
	customWebSocketURL string
	subs               map[string]map[int]func(key string, value json.RawMessage)
	nextSubID          int
	done               chan struct{}

	writeMu sync.Mutex
}

// New creates a new realtime client.
func New(core *voipsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	logger := voipsdk.NewDefaultLogger()
	if core != nil {
		logger = core.GetLogger()
	}
	return &Client{
		core:   core,
		config: config,
		logger: logger,
		subs:   make(map[string]map[int]func(key string, value json.RawMessage)),
	}
}

// SetCustomWebSocketURL overrides the configured endpoint. Useful for tests
// and regional failover.
func (c *Client) SetCustomWebSocketURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customWebSocketURL = url
}

// IsConnected reports whether the socket is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect dials the realtime store and starts the read and keepalive loops.
// Already connected is a no-op; a concurrent connection attempt is an error.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	c.connecting = true
	c.mu.Unlock()

	err := c.connectWithRetry(c.config.InitialConnectionMaxRetries)

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	return err
}

func (c *Client) connectWithRetry(maxRetries int) error {
	backoff := c.config.BackoffTimeReset
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > c.config.BackoffTimeMax {
				backoff = c.config.BackoffTimeMax
			}
		}
		if err := c.dial(); err != nil {
			lastErr = err
			c.logger.Printf("realtime: connection attempt %d failed: %v", attempt+1, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("connecting to realtime store: %w", lastErr)
}

func (c *Client) dial() error {
	url := c.websocketURL()
	if url == "" {
		return fmt.Errorf("no websocket URL configured")
	}

	header := http.Header{}
	if c.core != nil {
		header.Set("Authorization", "Bearer "+c.core.GetAccessToken())
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.config.PingInterval + c.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.PingInterval + c.config.PongTimeout))
		return nil
	})

	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.done = done
	paths := make([]string, 0, len(c.subs))
	for path := range c.subs {
		paths = append(paths, path)
	}
	c.mu.Unlock()

	// Re-arm server-side watches that survived a reconnect.
	for _, path := range paths {
		if err := c.send(frame{Action: "subscribe", Path: path}); err != nil {
			c.logger.Printf("realtime: re-subscribing %s: %v", path, err)
		}
	}

	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)
	return nil
}

func (c *Client) websocketURL() string {
	c.mu.Lock()
	custom := c.customWebSocketURL
	c.mu.Unlock()
	if custom != "" {
		return custom
	}
	return c.config.WebSocketURL
}

// Disconnect performs a clean close. Not connected is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	done := c.done
	c.conn = nil
	c.connected = false
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.config.ForceCloseDelay))
	c.writeMu.Unlock()

	return conn.Close()
}

// Subscribe watches path for child-added events. The handler receives the
// key of every new child. Subscribing while disconnected is allowed; the
// watch is armed on the server when the connection comes up.
func (c *Client) Subscribe(path string, onChildAdded func(key string)) (*Subscription, error) {
	if onChildAdded == nil {
		return nil, fmt.Errorf("nil subscription handler")
	}
	return c.SubscribeValues(path, func(key string, _ json.RawMessage) {
		onChildAdded(key)
	})
}

// SubscribeValues is Subscribe with the child's value included. Used by
// media signaling, where the value carries the message.
func (c *Client) SubscribeValues(path string, onChildAdded func(key string, value json.RawMessage)) (*Subscription, error) {
	if path == "" {
		return nil, fmt.Errorf("empty subscription path")
	}
	if onChildAdded == nil {
		return nil, fmt.Errorf("nil subscription handler")
	}

	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	first := len(c.subs[path]) == 0
	if c.subs[path] == nil {
		c.subs[path] = make(map[int]func(key string, value json.RawMessage))
	}
	c.subs[path][id] = onChildAdded
	connected := c.connected
	c.mu.Unlock()

	if first && connected {
		if err := c.send(frame{Action: "subscribe", Path: path}); err != nil {
			c.mu.Lock()
			delete(c.subs[path], id)
			c.mu.Unlock()
			return nil, err
		}
	}
	return &Subscription{client: c, path: path, id: id}, nil
}

func (c *Client) unsubscribe(path string, id int) {
	c.mu.Lock()
	handlers := c.subs[path]
	delete(handlers, id)
	last := len(handlers) == 0
	if last {
		delete(c.subs, path)
	}
	connected := c.connected
	c.mu.Unlock()

	if last && connected {
		if err := c.send(frame{Action: "unsubscribe", Path: path}); err != nil {
			c.logger.Printf("realtime: unsubscribing %s: %v", path, err)
		}
	}
}

// Put appends a child with the given value under path. The server assigns
// the child key.
func (c *Client) Put(path string, value json.RawMessage) error {
	if path == "" {
		return fmt.Errorf("empty put path")
	}
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return fmt.Errorf("not connected")
	}
	return c.send(frame{Action: "put", Path: path, Value: value})
}

// Delete removes a path and everything under it.
func (c *Client) Delete(path string) error {
	if path == "" {
		return fmt.Errorf("empty delete path")
	}
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return fmt.Errorf("not connected")
	}
	return c.send(frame{Action: "delete", Path: path})
}

func (c *Client) send(f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			select {
			case <-done:
				return
			default:
			}
			c.logger.Printf("realtime: read error: %v", err)
			c.handleDrop(conn)
			return
		}
		if event.Type == eventChildAdded {
			c.dispatchChildAdded(&event)
		}
	}
}

func (c *Client) dispatchChildAdded(event *Event) {
	c.mu.Lock()
	handlers := make([]func(key string, value json.RawMessage), 0, len(c.subs[event.Path]))
	for _, h := range c.subs[event.Path] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(event.Key, event.Value)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.PongTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Printf("realtime: ping error: %v", err)
				return
			}
		}
	}
}

// handleDrop marks the connection down after an unexpected read failure and
// kicks off reconnection.
func (c *Client) handleDrop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()
	conn.Close()

	if err := c.connectWithRetry(c.config.MaxRetries); err != nil {
		c.logger.Printf("realtime: reconnect failed: %v", err)
	}
}
