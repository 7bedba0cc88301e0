package console

// State represents the current state of the live console connection.
type State string

const (
	// StateConnecting represents a connection attempt in progress.
	StateConnecting State = "connecting"

	// StateConnected represents an established console session.
	StateConnected State = "connected"

	// StateDisconnected represents no active connection. Reached after an
	// unexpected drop (with a retry pending) or an operator disconnect.
	StateDisconnected State = "disconnected"

	// StateForbidden represents a permission rejection from the host.
	// No automatic retry; only an explicit Reconnect leaves this state.
	StateForbidden State = "forbidden"

	// StateTokenError represents an invalid or expired credential.
	// No automatic retry; the caller must refresh the token first.
	StateTokenError State = "token_error"
)

// Terminal reports whether the state requires external intervention.
// The connection never retries out of a terminal state on its own.
func (s State) Terminal() bool {
	return s == StateForbidden || s == StateTokenError
}

// LogState represents the current state of a log stream connection.
type LogState string

const (
	// LogStateConnecting represents a tail request in progress.
	LogStateConnecting LogState = "connecting"

	// LogStateConnected represents an established tail stream.
	LogStateConnected LogState = "connected"

	// LogStateDisconnected represents no active stream.
	LogStateDisconnected LogState = "disconnected"

	// LogStateNotFound means the selected file does not exist on the host.
	// Terminal for this file selection.
	LogStateNotFound LogState = "not_found"

	// LogStateInvalid means the file name failed validation before any
	// network I/O. Terminal for this file selection.
	LogStateInvalid LogState = "invalid"
)

// Terminal reports whether the state is terminal for the current file
// selection. Selecting a different file starts a fresh state machine.
func (s LogState) Terminal() bool {
	return s == LogStateNotFound || s == LogStateInvalid
}

// Info provides user-facing metadata about a connection state.
type Info struct {
	Name        string
	UserMessage string
	IsError     bool
}

// GetInfo returns metadata for a given live connection state.
func GetInfo(state State) Info {
	info := Info{Name: string(state), UserMessage: string(state)}
	switch state {
	case StateConnecting:
		info.UserMessage = "Connecting to console..."
	case StateConnected:
		info.UserMessage = "Connected"
	case StateDisconnected:
		info.UserMessage = "Disconnected"
	case StateForbidden:
		info.UserMessage = "Access denied - console permission required"
		info.IsError = true
	case StateTokenError:
		info.UserMessage = "Session expired - refresh your token"
		info.IsError = true
	}
	return info
}

// GetLogInfo returns metadata for a given log stream state.
func GetLogInfo(state LogState) Info {
	info := Info{Name: string(state), UserMessage: string(state)}
	switch state {
	case LogStateConnecting:
		info.UserMessage = "Opening log stream..."
	case LogStateConnected:
		info.UserMessage = "Tailing log"
	case LogStateDisconnected:
		info.UserMessage = "Log stream closed"
	case LogStateNotFound:
		info.UserMessage = "Log file not found"
		info.IsError = true
	case LogStateInvalid:
		info.UserMessage = "Invalid log file name"
		info.IsError = true
	}
	return info
}

// OutputFunc receives console output chunks in receipt order.
type OutputFunc func(text string)

// StateFunc receives live connection state transitions.
type StateFunc func(state State)

// LogStateFunc receives log stream state transitions.
type LogStateFunc func(state LogState)
