package console

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastBackoff() Backoff {
	return Backoff{Initial: 20 * time.Millisecond, Max: 80 * time.Millisecond}
}

func newTestLive(t *testing.T, url string) (*LiveConnection, chan State, chan string) {
	t.Helper()
	conn := NewLiveConnection(LiveConfig{URL: url, Backoff: fastBackoff()}, zap.NewNop().Sugar())
	states := make(chan State, 64)
	output := make(chan string, 64)
	conn.SetHandlers(
		func(text string) { output <- text },
		func(s State) { states <- s },
	)
	t.Cleanup(conn.Disconnect)
	return conn, states, output
}

// expectStates asserts the next transitions arrive exactly in the given order.
func expectStates(t *testing.T, states chan State, want ...State) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-states:
			require.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for state %q", w)
		}
	}
}

// expectNoState asserts no transition arrives within the window.
func expectNoState(t *testing.T, states chan State, window time.Duration) {
	t.Helper()
	select {
	case got := <-states:
		t.Fatalf("unexpected state transition %q", got)
	case <-time.After(window):
	}
}

func TestLiveConnectAndReceive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("first line\n")))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("second line\n")))
		<-r.Context().Done()
	}))
	defer srv.Close()

	conn := NewLiveConnection(LiveConfig{URL: wsURL(srv), Token: "secret"}, zap.NewNop().Sugar())
	states := make(chan State, 64)
	output := make(chan string, 64)
	conn.SetHandlers(
		func(text string) { output <- text },
		func(s State) { states <- s },
	)
	defer conn.Disconnect()

	conn.Connect()
	expectStates(t, states, StateConnecting, StateConnected)

	assert.Equal(t, "first line\n", <-output)
	assert.Equal(t, "second line\n", <-output)
	assert.Equal(t, 0, conn.RetryCount())
	assert.False(t, conn.IsReconnecting())

	conn.Disconnect()
	expectStates(t, states, StateDisconnected)
}

func TestLiveSendCommand(t *testing.T) {
	received := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}))
	defer srv.Close()

	conn, states, _ := newTestLive(t, wsURL(srv))

	// Not connected yet: silently dropped.
	conn.SendCommand("/stop")

	conn.Connect()
	expectStates(t, states, StateConnecting, StateConnected)

	conn.SendCommand("")
	conn.SendCommand("/list clients")

	select {
	case got := <-received:
		assert.Equal(t, "/list clients", got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the command frame")
	}
	select {
	case got := <-received:
		t.Fatalf("unexpected extra frame %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLiveRetriesAfterDropAndFailedDial(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch attempts.Add(1) {
		case 1:
			ws, err := testUpgrader.Upgrade(w, r, nil)
			require.NoError(t, err)
			ws.Close()
		case 2:
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			ws, err := testUpgrader.Upgrade(w, r, nil)
			require.NoError(t, err)
			defer ws.Close()
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	conn, states, _ := newTestLive(t, wsURL(srv))
	conn.Connect()

	// Drop after connect, failed handshake, then success.
	expectStates(t, states,
		StateConnecting, StateConnected,
		StateDisconnected, StateConnecting,
		StateDisconnected, StateConnecting,
		StateConnected,
	)
	assert.Equal(t, 0, conn.RetryCount())
	assert.False(t, conn.IsReconnecting())
}

func TestLiveForbiddenRequiresExplicitReconnect(t *testing.T) {
	var allow atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		if !allow.Load() {
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "console permission required")
			_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	conn, states, _ := newTestLive(t, wsURL(srv))
	conn.Connect()
	expectStates(t, states, StateConnecting, StateConnected, StateForbidden)
	assert.False(t, conn.IsReconnecting())

	// Terminal: Connect is a no-op and no retry fires.
	conn.Connect()
	expectNoState(t, states, 200*time.Millisecond)

	allow.Store(true)
	conn.Reconnect()
	expectStates(t, states, StateConnecting, StateConnected)
	assert.Equal(t, 0, conn.RetryCount())
}

func TestLiveTokenErrorOnUnauthorizedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	conn, states, _ := newTestLive(t, wsURL(srv))
	conn.Connect()
	expectStates(t, states, StateConnecting, StateTokenError)
	expectNoState(t, states, 200*time.Millisecond)
	assert.True(t, conn.State().Terminal())
}

func TestLiveTokenErrorOnRejectionCloseCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(closeCodeTokenRejected, "token expired")
		_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
	}))
	defer srv.Close()

	conn, states, _ := newTestLive(t, wsURL(srv))
	conn.Connect()
	expectStates(t, states, StateConnecting, StateConnected, StateTokenError)
	expectNoState(t, states, 200*time.Millisecond)
}

func TestLiveForbiddenOnHandshake403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no console permission", http.StatusForbidden)
	}))
	defer srv.Close()

	conn, states, _ := newTestLive(t, wsURL(srv))
	conn.Connect()
	expectStates(t, states, StateConnecting, StateForbidden)
}

func TestLiveDisconnectCancelsPendingRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not yet", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	conn := NewLiveConnection(LiveConfig{
		URL:     wsURL(srv),
		Backoff: Backoff{Initial: 150 * time.Millisecond, Max: 150 * time.Millisecond},
	}, zap.NewNop().Sugar())
	states := make(chan State, 64)
	conn.SetHandlers(nil, func(s State) { states <- s })

	conn.Connect()
	expectStates(t, states, StateConnecting, StateDisconnected)
	assert.True(t, conn.IsReconnecting())

	conn.Disconnect()
	assert.False(t, conn.IsReconnecting())
	expectNoState(t, states, 400*time.Millisecond)
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestLiveDisconnectIsIdempotent(t *testing.T) {
	conn, states, _ := newTestLive(t, "ws://127.0.0.1:0/never")
	conn.Disconnect()
	conn.Disconnect()
	expectNoState(t, states, 100*time.Millisecond)
	assert.Equal(t, StateDisconnected, conn.State())
}
