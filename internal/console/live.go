package console

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Close code the host sends when the session token is rejected mid-session.
const closeCodeTokenRejected = 4001

// LiveConfig configures a LiveConnection.
type LiveConfig struct {
	// URL is the ws:// or wss:// URL of the interactive console endpoint.
	URL string

	// Token is sent as a bearer token during the WebSocket handshake.
	Token string

	// Backoff controls reconnect delays. Zero value falls back to DefaultBackoff.
	Backoff Backoff

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// LiveConnection maintains one logical WebSocket session to the server's
// interactive console. It reconnects automatically after unexpected drops
// with capped exponential backoff, but never retries out of Forbidden or
// TokenError - those require an explicit Reconnect.
//
// State change and output handlers are invoked without the connection's
// mutex held, so they may call back into the connection.
type LiveConnection struct {
	url     string
	token   string
	backoff Backoff
	dialer  *websocket.Dialer
	logger  *zap.SugaredLogger

	mu           sync.Mutex
	state        State
	retryCount   int
	reconnecting bool
	conn         *websocket.Conn
	retryTimer   *time.Timer
	onOutput     OutputFunc
	onState      StateFunc

	// gen invalidates in-flight dials, read loops and retry timers when the
	// owner disconnects or reconnects. Guarded by mu.
	gen uint64
}

// NewLiveConnection creates a live console connection. It does not dial
// until Connect is called.
func NewLiveConnection(cfg LiveConfig, logger *zap.SugaredLogger) *LiveConnection {
	backoff := cfg.Backoff
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &LiveConnection{
		url:     cfg.URL,
		token:   cfg.Token,
		backoff: backoff,
		dialer:  dialer,
		logger:  logger,
		state:   StateDisconnected,
	}
}

// SetHandlers replaces the output and state handlers. Passing nil detaches
// a handler. The owner rebinds handlers when it re-adopts the connection
// after a source switch.
func (c *LiveConnection) SetHandlers(onOutput OutputFunc, onState StateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOutput = onOutput
	c.onState = onState
}

// State returns the current connection state.
func (c *LiveConnection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount returns the number of automatic reconnect attempts since the
// last successful connect.
func (c *LiveConnection) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// IsReconnecting reports whether an automatic retry is pending or in flight.
func (c *LiveConnection) IsReconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnecting
}

// Connect starts a connection attempt. No-op while already connecting or
// connected, and while in a terminal state (use Reconnect for those).
func (c *LiveConnection) Connect() {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected || c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.stopRetryTimerLocked()
	c.gen++
	gen := c.gen
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	notify()

	go c.dial(gen)
}

// Reconnect abandons the current session, resets the retry counter and
// starts a fresh connection attempt. This is the only way out of Forbidden
// and TokenError.
func (c *LiveConnection) Reconnect() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.stopRetryTimerLocked()
	c.closeConnLocked()
	c.retryCount = 0
	c.reconnecting = false
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	notify()

	go c.dial(gen)
}

// Disconnect closes the socket and cancels any pending retry without
// incrementing the retry counter or scheduling a new attempt. Idempotent.
func (c *LiveConnection) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopRetryTimerLocked()
	c.closeConnLocked()
	c.reconnecting = false
	notify := func() {}
	if c.state != StateDisconnected {
		notify = c.setStateLocked(StateDisconnected)
	}
	c.mu.Unlock()
	notify()
}

// SendCommand transmits text as a single command frame. It is a silent
// no-op unless the connection is Connected. Empty commands are never sent.
func (c *LiveConnection) SendCommand(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text == "" || c.state != StateConnected || c.conn == nil {
		return
	}
	// Holding mu serializes writes; gorilla/websocket allows at most one
	// concurrent writer per connection.
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		if c.logger != nil {
			c.logger.Debugw("Failed to write command frame", "error", err)
		}
	}
}

// dial performs the WebSocket handshake for the given generation. Results
// for superseded generations are discarded.
func (c *LiveConnection) dial(gen uint64) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.Dial(c.url, header)
	if err != nil && resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		notify := c.handleDialErrorLocked(resp, err)
		c.mu.Unlock()
		notify()
		return
	}

	c.conn = conn
	c.retryCount = 0
	c.reconnecting = false
	notify := c.setStateLocked(StateConnected)
	c.mu.Unlock()
	notify()

	go c.readLoop(conn, gen)
}

// readLoop delivers incoming frames in receipt order until the connection
// drops or is superseded.
func (c *LiveConnection) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		deliver := c.onOutput
		c.mu.Unlock()

		if deliver != nil {
			deliver(string(data))
		}
	}
}

func (c *LiveConnection) handleReadError(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		// Superseded by Disconnect/Reconnect; the owner already moved on.
		c.mu.Unlock()
		return
	}
	c.conn = nil

	var notify func()
	switch {
	case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
		c.reconnecting = false
		notify = c.setStateLocked(StateForbidden)
	case isCloseCode(err, closeCodeTokenRejected):
		c.reconnecting = false
		notify = c.setStateLocked(StateTokenError)
	default:
		if c.logger != nil {
			c.logger.Debugw("Console connection dropped", "error", err)
		}
		notify = c.scheduleRetryLocked()
	}
	c.mu.Unlock()
	notify()
}

// handleDialErrorLocked classifies a handshake failure. Callers hold mu and
// must invoke the returned notify func after unlocking.
func (c *LiveConnection) handleDialErrorLocked(resp *http.Response, err error) func() {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			c.reconnecting = false
			return c.setStateLocked(StateTokenError)
		case http.StatusForbidden:
			c.reconnecting = false
			return c.setStateLocked(StateForbidden)
		}
	}
	if c.logger != nil {
		c.logger.Debugw("Console dial failed", "url", c.url, "error", err)
	}
	return c.scheduleRetryLocked()
}

// scheduleRetryLocked records an unexpected disconnect and arms the backoff
// timer for the next attempt. Callers hold mu.
func (c *LiveConnection) scheduleRetryLocked() func() {
	c.retryCount++
	c.reconnecting = true
	gen := c.gen
	delay := c.backoff.Delay(c.retryCount)
	c.retryTimer = time.AfterFunc(delay, func() { c.retry(gen) })
	return c.setStateLocked(StateDisconnected)
}

func (c *LiveConnection) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	notify()

	c.dial(gen)
}

// setStateLocked updates the state and returns the notification to run after
// the caller releases mu. Handlers never run under the connection's mutex.
func (c *LiveConnection) setStateLocked(s State) func() {
	c.state = s
	fn := c.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(s) }
}

func (c *LiveConnection) stopRetryTimerLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *LiveConnection) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func isCloseCode(err error, code int) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == code
	}
	return false
}
