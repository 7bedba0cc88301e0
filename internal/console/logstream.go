package console

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LogStreamConfig configures a LogStreamConnection.
type LogStreamConfig struct {
	// BaseURL is the base URL of the host API, e.g. http://localhost:8080.
	BaseURL string

	// TailPath is the base path of the tail endpoint; the file name is
	// appended as an escaped path segment.
	TailPath string

	// Token is sent as a bearer token on the tail request.
	Token string

	// File is the log file name to tail.
	File string

	// Backoff controls reconnect delays. Zero value falls back to DefaultBackoff.
	Backoff Backoff

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// LogStreamConnection tails one named log file as a read-only ordered
// sequence of text chunks over a streaming HTTP response. It has the same
// state-machine shape as LiveConnection but no send path: transient faults
// are retried with capped exponential backoff, while NotFound and Invalid
// are terminal for this file selection. A different file always gets a
// fresh instance.
type LogStreamConnection struct {
	baseURL  string
	tailPath string
	token    string
	file     string
	backoff  Backoff
	client   *http.Client
	logger   *zap.SugaredLogger

	mu           sync.Mutex
	state        LogState
	retryCount   int
	reconnecting bool
	onChunk      OutputFunc
	onState      LogStateFunc
	started      bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLogStreamConnection creates a log tail connection. It does not issue
// any request until Start is called.
func NewLogStreamConnection(cfg LogStreamConfig, logger *zap.SugaredLogger) *LogStreamConnection {
	backoff := cfg.Backoff
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff()
	}
	client := cfg.Client
	if client == nil {
		// No overall timeout: the tail response streams indefinitely.
		client = &http.Client{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LogStreamConnection{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		tailPath: cfg.TailPath,
		token:    cfg.Token,
		file:     cfg.File,
		backoff:  backoff,
		client:   client,
		logger:   logger,
		state:    LogStateDisconnected,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ValidateLogName rejects file names that are empty, contain path
// separators, or attempt directory traversal.
func ValidateLogName(name string) error {
	if name == "" {
		return fmt.Errorf("log file name is empty")
	}
	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("log file name %q contains a path separator", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("log file name %q attempts path traversal", name)
	}
	return nil
}

// SetHandlers replaces the chunk and state handlers. Passing nil detaches a
// handler. Handlers are invoked without the connection's mutex held.
func (c *LogStreamConnection) SetHandlers(onChunk OutputFunc, onState LogStateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChunk = onChunk
	c.onState = onState
}

// State returns the current stream state.
func (c *LogStreamConnection) State() LogState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount returns the number of automatic reconnect attempts since the
// last successful connect.
func (c *LogStreamConnection) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// IsReconnecting reports whether an automatic retry is pending or in flight.
func (c *LogStreamConnection) IsReconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnecting
}

// File returns the tailed file name.
func (c *LogStreamConnection) File() string {
	return c.file
}

// Start validates the file name and begins tailing. Invalid names are
// rejected locally without any network I/O. Start is a no-op after the
// first call.
func (c *LogStreamConnection) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true

	if err := ValidateLogName(c.file); err != nil {
		notify := c.setStateLocked(LogStateInvalid)
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Warnw("Rejected log file selection", "file", c.file, "error", err)
		}
		notify()
		return
	}
	c.mu.Unlock()

	go c.run()
}

// Stop cancels the stream. Safe to call multiple times, including before
// Start. Stopping never counts as a retry.
func (c *LogStreamConnection) Stop() {
	c.cancel()

	c.mu.Lock()
	c.reconnecting = false
	notify := func() {}
	if !c.state.Terminal() && c.state != LogStateDisconnected {
		notify = c.setStateLocked(LogStateDisconnected)
	}
	c.mu.Unlock()
	notify()
}

// run is the connect/stream/retry loop. It exits on cancellation and on
// terminal states.
func (c *LogStreamConnection) run() {
	for {
		if c.ctx.Err() != nil {
			return
		}

		c.transition(LogStateConnecting)

		if terminal := c.streamOnce(); terminal || c.ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.retryCount++
		c.reconnecting = true
		delay := c.backoff.Delay(c.retryCount)
		notify := c.setStateLocked(LogStateDisconnected)
		c.mu.Unlock()
		notify()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// streamOnce performs one tail request and drains it. It reports whether a
// terminal state was reached (including cancellation).
func (c *LogStreamConnection) streamOnce() bool {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.tailURL(), http.NoBody)
	if err != nil {
		if c.logger != nil {
			c.logger.Errorw("Failed to build tail request", "file", c.file, "error", err)
		}
		return false
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if c.ctx.Err() != nil {
			return true
		}
		if c.logger != nil {
			c.logger.Debugw("Tail request failed", "file", c.file, "error", err)
		}
		return false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.transition(LogStateNotFound)
		return true
	case resp.StatusCode == http.StatusBadRequest:
		// Host-side name validation disagreed with ours; same terminal outcome.
		c.transition(LogStateInvalid)
		return true
	case resp.StatusCode != http.StatusOK:
		if c.logger != nil {
			c.logger.Warnw("Tail request rejected", "file", c.file, "status", resp.StatusCode)
		}
		return false
	}

	c.mu.Lock()
	c.retryCount = 0
	c.reconnecting = false
	notify := c.setStateLocked(LogStateConnected)
	c.mu.Unlock()
	notify()

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			c.deliver(string(buf[:n]))
		}
		if err != nil {
			if c.ctx.Err() != nil {
				return true
			}
			return false
		}
	}
}

func (c *LogStreamConnection) deliver(text string) {
	c.mu.Lock()
	fn := c.onChunk
	c.mu.Unlock()
	if fn != nil && c.ctx.Err() == nil {
		fn(text)
	}
}

func (c *LogStreamConnection) transition(s LogState) {
	c.mu.Lock()
	notify := c.setStateLocked(s)
	c.mu.Unlock()
	notify()
}

func (c *LogStreamConnection) setStateLocked(s LogState) func() {
	c.state = s
	fn := c.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(s) }
}

func (c *LogStreamConnection) tailURL() string {
	return c.baseURL + strings.TrimSuffix(c.tailPath, "/") + "/" + url.PathEscape(c.file) + "/tail"
}
