package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProcessState is the host-reported lifecycle state of the game server
// process.
type ProcessState string

const (
	ProcessRunning    ProcessState = "running"
	ProcessStopped    ProcessState = "stopped"
	ProcessInstalling ProcessState = "installing"
	ProcessUnknown    ProcessState = "unknown"
)

// Sentinel errors for authentication failures so callers can distinguish a
// bad token from a missing permission.
var (
	ErrUnauthorized = errors.New("api: token rejected")
	ErrForbidden    = errors.New("api: access denied")
)

// ServerStatus is the response of the status endpoint.
type ServerStatus struct {
	Process    ProcessState `json:"process"`
	Version    string       `json:"version,omitempty"`
	PlayerList []string     `json:"players,omitempty"`
	UptimeSecs int64        `json:"uptime_seconds,omitempty"`
}

// LogFile describes one entry of the log catalog.
type LogFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Client talks to the panel's management REST API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.SugaredLogger
}

// NewClient creates an API client for the given base URL. The token is sent
// as a bearer token on every request.
func NewClient(baseURL, token string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// GetStatus fetches the current server process status.
func (c *Client) GetStatus(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.getJSON(ctx, "/api/v1/status", &status); err != nil {
		return nil, err
	}
	if status.Process == "" {
		status.Process = ProcessUnknown
	}
	return &status, nil
}

// GetLogFiles fetches the catalog of log files available for tailing.
func (c *Client) GetLogFiles(ctx context.Context) ([]LogFile, error) {
	var files []LogFile
	if err := c.getJSON(ctx, "/api/v1/logs", &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// StartPolling polls the status endpoint at the given interval until ctx is
// canceled, feeding each successful observation to onStatus. The first poll
// fires immediately. Failures are logged and skipped; the previous
// observation stays in effect.
func (c *Client) StartPolling(ctx context.Context, interval time.Duration, onStatus func(ServerStatus)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		poll := func() {
			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			status, err := c.GetStatus(reqCtx)
			if err != nil {
				if c.logger != nil && ctx.Err() == nil {
					c.logger.Debugw("Status poll failed", "error", err)
				}
				return
			}
			onStatus(*status)
		}

		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()
}

// Tracker caches the most recently observed server status so synchronous
// consumers (command gating, status bars) never block on a network call.
type Tracker struct {
	mu     sync.RWMutex
	status ServerStatus
	known  bool
}

// NewTracker creates a tracker reporting ProcessUnknown until the first
// update.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update records the latest observed status.
func (t *Tracker) Update(status ServerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.known = true
}

// Process returns the last observed process state, or ProcessUnknown when
// no status has been observed yet.
func (t *Tracker) Process() ProcessState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.known {
		return ProcessUnknown
	}
	return t.status.Process
}

// Status returns the last observed status and whether one has been seen.
func (t *Tracker) Status() (ServerStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status, t.known
}
