package session

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/craquehouse/vintagestory-server-sub003/internal/api"
	"github.com/craquehouse/vintagestory-server-sub003/internal/console"
)

// LiveConn is the orchestrator's view of the live console connection.
// Implemented by console.LiveConnection.
type LiveConn interface {
	SetHandlers(onOutput console.OutputFunc, onState console.StateFunc)
	Connect()
	Disconnect()
	Reconnect()
	SendCommand(text string)
	State() console.State
	RetryCount() int
	IsReconnecting() bool
}

// LogConn is the orchestrator's view of a log stream connection.
// Implemented by console.LogStreamConnection.
type LogConn interface {
	SetHandlers(onChunk console.OutputFunc, onState console.LogStateFunc)
	Start()
	Stop()
	State() console.LogState
	RetryCount() int
	IsReconnecting() bool
	File() string
}

// Options wires the orchestrator's collaborators.
type Options struct {
	// NewLive constructs the live console connection. Called at most once;
	// the instance is reused across switches back to the live source.
	NewLive func() LiveConn

	// NewLogStream constructs a fresh tail connection for the named file.
	NewLogStream func(file string) LogConn

	// ProcessState reports the externally-observed server process state.
	// Commands are transmitted only while it reports running.
	ProcessState func() api.ProcessState

	// OnChange is invoked after any connection state transition of the
	// active source. It must not call back into the orchestrator
	// synchronously; read Status from your own event loop instead.
	OnChange func()
}

// Status is a snapshot of the session for status indicators.
type Status struct {
	Source       *Source
	LiveState    console.State
	LogState     console.LogState
	RetryCount   int
	Reconnecting bool
	Process      api.ProcessState
}

// Orchestrator is the single point of truth for what feeds the output sink.
// It owns exactly one active source at a time, clears the sink on every
// source switch, and discards output from superseded connections via a
// generation counter checked at write time.
type Orchestrator struct {
	logger *zap.SugaredLogger
	sink   Sink
	opts   Options

	// generation is the connection handle guard: every SelectSource bumps
	// it, and routing callbacks captured by older connections compare
	// against it before touching the sink.
	generation atomic.Uint64

	// sinkMu serializes sink access so the generation re-check and the
	// write happen atomically with respect to a concurrent switch.
	sinkMu sync.Mutex

	mu        sync.Mutex
	active    *Source
	live      LiveConn
	logStream LogConn
	closed    bool
}

// NewOrchestrator creates a session orchestrator owning the given sink.
func NewOrchestrator(sink Sink, opts Options, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		logger: logger,
		sink:   sink,
		opts:   opts,
	}
}

// ActiveSource returns the currently selected source, or nil when nothing
// has been selected yet.
func (o *Orchestrator) ActiveSource() *Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	src := *o.active
	return &src
}

// SelectSource switches the sink to a new source. Selecting the already
// active source is a no-op. The previous connection is torn down before the
// sink is cleared, and any of its chunks still in flight are discarded by
// the generation guard.
func (o *Orchestrator) SelectSource(src Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.active != nil && *o.active == src {
		return
	}

	o.teardownLocked()

	gen := o.generation.Add(1)
	selected := src
	o.active = &selected

	o.sinkMu.Lock()
	o.sink.Clear()
	o.sinkMu.Unlock()

	switch src.Kind {
	case SourceLive:
		if o.live == nil {
			o.live = o.opts.NewLive()
		}
		o.live.SetHandlers(
			func(text string) { o.route(gen, text) },
			func(console.State) { o.changed(gen) },
		)
		o.live.Connect()
	case SourceLog:
		ls := o.opts.NewLogStream(src.File)
		ls.SetHandlers(
			func(text string) { o.route(gen, text) },
			func(console.LogState) { o.changed(gen) },
		)
		o.logStream = ls
		ls.Start()
	}

	if o.logger != nil {
		o.logger.Infow("Selected console source", "source", src.String())
	}
}

// SubmitCommand transmits a command over the live console. It is a silent
// no-op unless the live source is active, the connection is Connected, and
// the server process is running. The eligibility check is independent of
// any UI disabled state, which can lag behind the real conditions.
func (o *Orchestrator) SubmitCommand(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	o.mu.Lock()
	live := o.live
	eligible := !o.closed &&
		o.active != nil && o.active.Kind == SourceLive &&
		live != nil && live.State() == console.StateConnected &&
		o.opts.ProcessState != nil && o.opts.ProcessState() == api.ProcessRunning
	o.mu.Unlock()

	if !eligible {
		return
	}
	live.SendCommand(text)
}

// CanSubmit reports whether SubmitCommand would currently transmit. Used by
// the UI to disable the input control.
func (o *Orchestrator) CanSubmit() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed &&
		o.active != nil && o.active.Kind == SourceLive &&
		o.live != nil && o.live.State() == console.StateConnected &&
		o.opts.ProcessState != nil && o.opts.ProcessState() == api.ProcessRunning
}

// Reconnect retries the active source. For the live console this is the
// only way out of Forbidden and TokenError. For a log file it starts a
// fresh tail of the same file.
func (o *Orchestrator) Reconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.active == nil {
		return
	}

	switch o.active.Kind {
	case SourceLive:
		if o.live != nil {
			o.live.Reconnect()
		}
	case SourceLog:
		file := o.active.File
		if o.logStream != nil {
			o.logStream.SetHandlers(nil, nil)
			o.logStream.Stop()
		}
		gen := o.generation.Add(1)
		ls := o.opts.NewLogStream(file)
		ls.SetHandlers(
			func(text string) { o.route(gen, text) },
			func(console.LogState) { o.changed(gen) },
		)
		o.logStream = ls
		ls.Start()
	}
}

// Disconnect pauses the active source without tearing down the selection.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.active == nil {
		return
	}
	switch o.active.Kind {
	case SourceLive:
		if o.live != nil {
			o.live.Disconnect()
		}
	case SourceLog:
		if o.logStream != nil {
			o.logStream.Stop()
		}
	}
}

// Status returns a snapshot for status indicators.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{}
	if o.active != nil {
		src := *o.active
		st.Source = &src
	}
	if o.opts.ProcessState != nil {
		st.Process = o.opts.ProcessState()
	}
	if o.active == nil {
		return st
	}
	switch o.active.Kind {
	case SourceLive:
		if o.live != nil {
			st.LiveState = o.live.State()
			st.RetryCount = o.live.RetryCount()
			st.Reconnecting = o.live.IsReconnecting()
		}
	case SourceLog:
		if o.logStream != nil {
			st.LogState = o.logStream.State()
			st.RetryCount = o.logStream.RetryCount()
			st.Reconnecting = o.logStream.IsReconnecting()
		}
	}
	return st
}

// Close tears down the active connection and disposes the sink. Idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.teardownLocked()
	o.generation.Add(1)
	o.mu.Unlock()

	o.sinkMu.Lock()
	o.sink.Dispose()
	o.sinkMu.Unlock()
}

// teardownLocked disconnects the active connection and detaches its
// handlers. The live connection instance survives for reuse; log streams
// are dropped. Callers hold mu.
func (o *Orchestrator) teardownLocked() {
	if o.active == nil {
		return
	}
	switch o.active.Kind {
	case SourceLive:
		if o.live != nil {
			o.live.SetHandlers(nil, nil)
			o.live.Disconnect()
		}
	case SourceLog:
		if o.logStream != nil {
			o.logStream.SetHandlers(nil, nil)
			o.logStream.Stop()
			o.logStream = nil
		}
	}
	o.active = nil
}

// route forwards a chunk from the connection holding the given generation
// to the sink, dropping it if that connection has been superseded. This is
// the single enforcement point of the handle guard.
func (o *Orchestrator) route(gen uint64, text string) {
	if gen != o.generation.Load() {
		return
	}
	o.sinkMu.Lock()
	defer o.sinkMu.Unlock()
	// Re-check: a switch may have cleared the sink while we waited.
	if gen != o.generation.Load() {
		return
	}
	o.sink.Write(text)
}

// changed fans out a state transition of the current connection.
func (o *Orchestrator) changed(gen uint64) {
	if gen != o.generation.Load() {
		return
	}
	if o.opts.OnChange != nil {
		o.opts.OnChange()
	}
}
