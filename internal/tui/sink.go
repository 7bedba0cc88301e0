package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// OutputMsg carries one chunk of console or log text to the model.
type OutputMsg struct {
	Text string
}

// ClearMsg empties the output buffer. Sent on every source switch.
type ClearMsg struct{}

// RefreshMsg asks the model to re-read the session status.
type RefreshMsg struct{}

// ProgramSink bridges the session orchestrator to the bubbletea program.
// Writes arriving before SetProgram (or after Dispose) are dropped; the
// orchestrator clears the buffer on source selection anyway, so nothing of
// value is lost during startup.
type ProgramSink struct {
	mu       sync.Mutex
	program  *tea.Program
	disposed bool
}

// NewProgramSink creates a sink that is not yet attached to a program.
func NewProgramSink() *ProgramSink {
	return &ProgramSink{}
}

// SetProgram attaches the running program. Called once after tea.NewProgram.
func (s *ProgramSink) SetProgram(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = p
}

// Write appends text to the output view.
func (s *ProgramSink) Write(text string) {
	s.send(OutputMsg{Text: text})
}

// Clear empties the output view.
func (s *ProgramSink) Clear() {
	s.send(ClearMsg{})
}

// Dispose detaches the program; later writes are dropped.
func (s *ProgramSink) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.program = nil
}

// Refresh nudges the model to re-read session status.
func (s *ProgramSink) Refresh() {
	s.send(RefreshMsg{})
}

func (s *ProgramSink) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	disposed := s.disposed
	s.mu.Unlock()
	if p == nil || disposed {
		return
	}
	p.Send(msg)
}
