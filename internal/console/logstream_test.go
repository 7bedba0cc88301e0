package console

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStream(t *testing.T, baseURL, file string) (*LogStreamConnection, chan LogState, chan string) {
	t.Helper()
	conn := NewLogStreamConnection(LogStreamConfig{
		BaseURL:  baseURL,
		TailPath: "/api/v1/logs",
		Token:    "secret",
		File:     file,
		Backoff:  fastBackoff(),
	}, zap.NewNop().Sugar())
	states := make(chan LogState, 64)
	output := make(chan string, 64)
	conn.SetHandlers(
		func(text string) { output <- text },
		func(s LogState) { states <- s },
	)
	t.Cleanup(conn.Stop)
	return conn, states, output
}

func expectLogStates(t *testing.T, states chan LogState, want ...LogState) {
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

func collectOutput(t *testing.T, output chan string, want string) {
	t.Helper()
	var got strings.Builder
	deadline := time.After(2 * time.Second)
	for got.Len() < len(want) {
		select {
		case chunk := <-output:
			got.WriteString(chunk)
		case <-deadline:
			t.Fatalf("timed out collecting output, got %q so far", got.String())
		}
	}
	assert.Equal(t, want, got.String())
}

func TestLogStreamDeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/logs/server-main.log/tail", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("[09:00:01] Server started\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("[09:00:02] Player joined\n"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	conn, states, output := newTestStream(t, srv.URL, "server-main.log")
	conn.Start()
	expectLogStates(t, states, LogStateConnecting, LogStateConnected)

	collectOutput(t, output, "[09:00:01] Server started\n[09:00:02] Player joined\n")

	conn.Stop()
	expectLogStates(t, states, LogStateDisconnected)
	assert.Equal(t, 0, conn.RetryCount())
}

func TestLogStreamNotFoundIsTerminal(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	conn, states, _ := newTestStream(t, srv.URL, "missing.log")
	conn.Start()
	expectLogStates(t, states, LogStateConnecting, LogStateNotFound)

	// No retry out of a terminal state.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), requests.Load())
	assert.True(t, conn.State().Terminal())
	assert.False(t, conn.IsReconnecting())
}

func TestLogStreamInvalidNameSkipsNetwork(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer srv.Close()

	for _, name := range []string{"", "../etc/passwd", "sub/dir.log", "back\\slash.log"} {
		conn, states, _ := newTestStream(t, srv.URL, name)
		conn.Start()
		expectLogStates(t, states, LogStateInvalid)
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), requests.Load())
}

func TestLogStreamInvalidOnHostRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad name", http.StatusBadRequest)
	}))
	defer srv.Close()

	conn, states, _ := newTestStream(t, srv.URL, "weird.log")
	conn.Start()
	expectLogStates(t, states, LogStateConnecting, LogStateInvalid)
}

func TestLogStreamReconnectsAfterDrop(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		if attempts.Add(1) == 1 {
			_, _ = w.Write([]byte("before drop\n"))
			flusher.Flush()
			return
		}
		_, _ = w.Write([]byte("after reconnect\n"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	conn, states, output := newTestStream(t, srv.URL, "server-main.log")
	conn.Start()
	expectLogStates(t, states,
		LogStateConnecting, LogStateConnected,
		LogStateDisconnected,
		LogStateConnecting, LogStateConnected,
	)
	assert.Equal(t, 0, conn.RetryCount())

	collectOutput(t, output, "before drop\n")
	collectOutput(t, output, "after reconnect\n")
}

func TestLogStreamRetriesTransientServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	conn, states, _ := newTestStream(t, srv.URL, "server-main.log")
	conn.Start()
	expectLogStates(t, states,
		LogStateConnecting, LogStateDisconnected,
		LogStateConnecting, LogStateDisconnected,
		LogStateConnecting, LogStateConnected,
	)
	assert.Equal(t, 0, conn.RetryCount())
}

func TestLogStreamStopIsIdempotent(t *testing.T) {
	conn, states, _ := newTestStream(t, "http://127.0.0.1:0", "server-main.log")
	conn.Stop()
	conn.Stop()
	select {
	case got := <-states:
		t.Fatalf("unexpected state transition %q", got)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, LogStateDisconnected, conn.State())
}

func TestValidateLogName(t *testing.T) {
	assert.NoError(t, ValidateLogName("server-main.log"))
	assert.NoError(t, ValidateLogName("server-debug.log"))

	assert.Error(t, ValidateLogName(""))
	assert.Error(t, ValidateLogName("../secrets.txt"))
	assert.Error(t, ValidateLogName("dir/file.log"))
	assert.Error(t, ValidateLogName("dir\\file.log"))
	assert.Error(t, ValidateLogName(".."))
}
