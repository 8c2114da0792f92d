package iotconnect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by sends issued while no session is open.
var ErrNotConnected = errors.New("iotconnect: not connected")

// connectionState represents the WebSocket connection status
type connectionState int

const (
	stateDisconnected connectionState = iota
	stateConnecting
	stateConnected
	stateReconnecting
)

func (s connectionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// Client is the device session to the management service.
type Client struct {
	URL string

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	state    connectionState
	shutdown bool

	handlers       map[string]MessageHandler
	reconnectHooks []func()

	httpClient        *http.Client
	logger            *zap.Logger
	reconnectMu       sync.Mutex
	dialTimeout       time.Duration
	writeTimeout      time.Duration
	reconnectInterval time.Duration
	heartbeatDuration time.Duration
	heartbeatInterval time.Duration
	heartbeatCancel   context.CancelFunc
}

type Option func(*Client)

// WithHTTPClient sets the HTTP client used for the websocket handshake,
// typically one carrying the device TLS configuration.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) { c.heartbeatInterval = d }
}

func WithReconnectInterval(d time.Duration) Option {
	return func(c *Client) { c.reconnectInterval = d }
}

// NewClient initializes a Client for the given websocket URL. It does not dial.
func NewClient(url string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		URL:               url,
		logger:            logger,
		dialTimeout:       10 * time.Second,
		writeTimeout:      10 * time.Second,
		heartbeatDuration: 5 * time.Second,
		heartbeatInterval: 20 * time.Second,
		reconnectInterval: 500 * time.Millisecond,
		state:             stateDisconnected,
		handlers:          make(map[string]MessageHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the WebSocket connection and starts the reader and
// heartbeat goroutines.
func (client *Client) Connect() error {
	client.mu.Lock()
	if client.shutdown {
		client.mu.Unlock()
		return errors.New("connect: client is shut down")
	}
	if client.ctx != nil && client.state == stateConnected && client.conn != nil {
		client.mu.Unlock()
		return nil
	}

	client.ctx, client.cancel = context.WithCancel(context.Background())
	client.closed = make(chan struct{})
	client.state = stateConnecting
	client.mu.Unlock()

	if err := client.dialServer(); err != nil {
		client.dropConnection()
		return fmt.Errorf("connect failed: %w", err)
	}

	client.mu.Lock()
	client.state = stateConnected
	client.mu.Unlock()

	client.startHeartbeats()
	go client.listenForMessages()

	return nil
}

// Disconnect gracefully closes the WebSocket connection. The client does
// not reconnect afterwards.
func (client *Client) Disconnect() error {
	client.mu.Lock()
	client.shutdown = true
	client.mu.Unlock()

	client.dropConnection()
	return nil
}

// dropConnection tears down the current connection without marking the
// client as shut down, so a reconnect may follow.
func (client *Client) dropConnection() {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.heartbeatCancel != nil {
		client.heartbeatCancel()
		client.heartbeatCancel = nil
	}

	if client.cancel != nil {
		client.cancel()
		client.cancel = nil
		client.ctx = nil
	}

	if client.conn != nil {
		_ = client.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		client.conn = nil
	}

	if client.closed != nil {
		close(client.closed)
		client.closed = nil
	}

	client.state = stateDisconnected
}

// IsClientAlive checks if client is connected and healthy
func (client *Client) IsClientAlive() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.state == stateConnected && client.conn != nil && client.closed != nil
}

// Done returns a channel closed when the current connection goes away, or
// nil when there is none.
func (client *Client) Done() <-chan struct{} {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.closed
}

// dialServer connects to the WebSocket server
func (client *Client) dialServer() error {
	ctx, cancel := context.WithTimeout(context.Background(), client.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, client.URL, &websocket.DialOptions{
		HTTPClient: client.httpClient,
	})
	if err != nil {
		client.logger.Error("Dial failed", zap.String("url", client.URL), zap.Error(err))
		return err
	}

	client.mu.Lock()
	client.conn = conn
	client.mu.Unlock()
	client.logger.Info("WebSocket connected", zap.String("url", client.URL))
	return nil
}

// reconnect retries Connect until it succeeds, ctx ends or the client is shut down.
func (client *Client) reconnect(ctx context.Context) {
	client.reconnectMu.Lock()
	defer client.reconnectMu.Unlock()

	// another goroutine got there first
	if client.IsClientAlive() {
		return
	}

	client.mu.Lock()
	if client.shutdown {
		client.mu.Unlock()
		client.logger.Info("Reconnect skipped: client is shutting down")
		return
	}
	client.state = stateReconnecting
	client.mu.Unlock()

	client.logger.Warn("Starting reconnect loop...")

	retryTicker := time.NewTicker(client.reconnectInterval)
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			client.logger.Warn("Reconnect context done, giving up")
			return
		case <-retryTicker.C:
			client.mu.Lock()
			if client.shutdown {
				client.mu.Unlock()
				client.logger.Info("Reconnect stopped: client is shutting down")
				return
			}
			client.mu.Unlock()

			if err := client.Connect(); err != nil {
				client.logger.Warn("Reconnect failed", zap.Error(err))
				continue
			}
			client.logger.Info("Reconnected successfully")
			client.runReconnectHooks()
			return
		}
	}
}

// isConnectionAlive determines if a connection error means a dead connection
func (client *Client) isConnectionAlive(err error) bool {
	return !(errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, new(net.Error)) ||
		errors.As(err, new(websocket.CloseError)))
}
