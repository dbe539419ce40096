// Package session models analysis-backend sessions and the registry
// that owns them. A session is one independent backend connection with
// its own connection state and diagnostics stream; the registry is the
// sole owner of the session set, and everything else holds non-owning
// references.
package session

import (
	"github.com/google/uuid"

	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/scope"
	"github.com/spyglass-ide/spyglass/internal/stream"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

// State is a session's connection state.
type State int

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

// String renders the state for logs and the status endpoint.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one live analysis backend instance.
type Session struct {
	ID      uuid.UUID
	Project *workspace.Project

	state       *stream.Value[State]
	diagnostics *stream.Value[diag.Snapshot]

	// Scope releases everything bound to this session's lifetime when
	// the registry removes it.
	Scope *scope.Bag
}

func newSession(loop *stream.Loop, project *workspace.Project) *Session {
	return &Session{
		ID:          uuid.New(),
		Project:     project,
		state:       stream.NewValue(loop, Disconnected),
		diagnostics: stream.NewValue(loop, diag.Snapshot{}),
		Scope:       scope.NewBag(),
	}
}

// State is the session's connection-state stream.
func (s *Session) State() *stream.Value[State] { return s.state }

// Diagnostics is the session's own diagnostics stream.
func (s *Session) Diagnostics() *stream.Value[diag.Snapshot] { return s.diagnostics }

// Publish replaces the session's current findings.
func (s *Session) Publish(items []diag.Location) {
	s.diagnostics.Set(diag.Snapshot{Items: items})
}

// Fail records a diagnostics fetch failure. The session contributes no
// findings until the next successful publish; the failure never
// propagates beyond this session.
func (s *Session) Fail(err error) {
	s.diagnostics.Set(diag.Snapshot{Err: err})
}
