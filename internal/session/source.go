package session

import "fmt"

// SourceKind discriminates the tagged Source union.
type SourceKind int

const (
	// SourceLive is the interactive console of the running server process.
	SourceLive SourceKind = iota

	// SourceLog is a read-only tail of one named log file.
	SourceLog
)

// Source identifies which feed supplies the output sink: the live console,
// or a specific log file. The zero value is the live console.
type Source struct {
	Kind SourceKind
	File string
}

// LiveSource returns the live console source.
func LiveSource() Source {
	return Source{Kind: SourceLive}
}

// LogSource returns the source tailing the named log file.
func LogSource(file string) Source {
	return Source{Kind: SourceLog, File: file}
}

func (s Source) String() string {
	if s.Kind == SourceLive {
		return "live console"
	}
	return fmt.Sprintf("log %q", s.File)
}

// Sink is the append-only text display owned by the orchestrator. The
// orchestrator is the only component that calls Clear, and every Write
// passes through its routing guard first.
type Sink interface {
	Write(text string)
	Clear()
	Dispose()
}
