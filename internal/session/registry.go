package session

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/stream"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

// Registry owns the session set. It is constructed explicitly and
// injected into the tracker and aggregator; nothing reaches for a
// process-wide instance. All methods run on the hub's event loop.
//
// Session iteration order is creation order and stable within one
// snapshot; cross-session merges depend on that.
type Registry struct {
	loop   *stream.Loop
	logger *slog.Logger

	projects []*workspace.Project
	order    []*Session
	byID     map[uuid.UUID]*Session
	byProj   map[*workspace.Project]*Session

	active    *stream.Value[*Session]
	aggregate *stream.Value[State]

	added *stream.Signal[*Session]

	// fanoutSubs counts SubscribeEachDiagnostics calls so the
	// idempotent-edge behavior of mode switching is observable.
	fanoutSubs int
}

// NewRegistry creates an empty registry.
func NewRegistry(loop *stream.Loop, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		loop:      loop,
		logger:    logger,
		byID:      make(map[uuid.UUID]*Session),
		byProj:    make(map[*workspace.Project]*Session),
		active:    stream.NewValue[*Session](loop, nil),
		aggregate: stream.NewValue(loop, Disconnected),
		added:     stream.NewSignal[*Session](),
	}
}

// RegisterProject makes a project resolvable. This is the
// configuration-registration hook the hub forwards to.
func (r *Registry) RegisterProject(p *workspace.Project) {
	r.projects = append(r.projects, p)
	r.logger.Debug("project registered", "name", p.Name, "dir", p.Dir)
}

// Projects returns the registered projects.
func (r *Registry) Projects() []*workspace.Project { return r.projects }

// Resolve binds a document to its owning session, creating the session
// on first use. Resolution fails (returns nil) when no registered
// project owns the document's path, which looks the same to callers as
// a document that is not yet ready. The document's session and project
// bindings are assigned at most once.
func (r *Registry) Resolve(doc *workspace.Document) *Session {
	if doc == nil || doc.Destroyed() {
		return nil
	}
	if doc.Bound() {
		return r.byID[doc.SessionID]
	}

	var owner *workspace.Project
	for _, p := range r.projects {
		if p.Owns(doc.Path) {
			// Prefer the deepest matching project directory.
			if owner == nil || len(p.Dir) > len(owner.Dir) {
				owner = p
			}
		}
	}
	if owner == nil {
		return nil
	}

	s := r.byProj[owner]
	if s == nil {
		s = newSession(r.loop, owner)
		r.order = append(r.order, s)
		r.byID[s.ID] = s
		r.byProj[owner] = s
		s.state.Subscribe(func(State) { r.recomputeAggregate() })
		r.logger.Info("session created", "id", s.ID, "project", owner.Name)
		r.added.Emit(s)
	}

	doc.SessionID = s.ID
	doc.Project = owner
	return s
}

// Sessions returns a point-in-time snapshot in creation order.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns a session by identity.
func (r *Registry) Get(id uuid.UUID) *Session { return r.byID[id] }

// Active is the currently active session stream (nil when no document
// with a session is active).
func (r *Registry) Active() *stream.Value[*Session] { return r.active }

// SetActive commits a new active session. Driven by the hub from the
// committed active context.
func (r *Registry) SetActive(s *Session) {
	if r.active.Get() == s {
		return
	}
	r.active.Set(s)
}

// Added fires when a session is created.
func (r *Registry) Added() *stream.Signal[*Session] { return r.added }

// AggregateState summarizes all sessions' connection states: Failed
// dominates, then Connecting, then Connected when every session is
// connected, otherwise Disconnected.
func (r *Registry) AggregateState() *stream.Value[State] { return r.aggregate }

func (r *Registry) recomputeAggregate() {
	if len(r.order) == 0 {
		r.aggregate.Set(Disconnected)
		return
	}
	anyConnecting := false
	allConnected := true
	for _, s := range r.order {
		switch s.state.Get() {
		case Failed:
			r.aggregate.Set(Failed)
			return
		case Connecting:
			anyConnecting = true
			allConnected = false
		case Disconnected:
			allConnected = false
		}
	}
	switch {
	case anyConnecting:
		r.aggregate.Set(Connecting)
	case allConnected:
		r.aggregate.Set(Connected)
	default:
		r.aggregate.Set(Disconnected)
	}
}

// Connect moves a session to Connected (through Connecting).
func (r *Registry) Connect(s *Session) {
	if s == nil {
		return
	}
	s.state.Set(Connecting)
	s.state.Set(Connected)
	r.logger.Info("session connected", "id", s.ID, "project", s.Project.Name)
}

// Disconnect moves a session to Disconnected and clears its findings.
func (r *Registry) Disconnect(s *Session) {
	if s == nil {
		return
	}
	s.state.Set(Disconnected)
	s.diagnostics.Set(diag.Snapshot{})
	r.logger.Info("session disconnected", "id", s.ID, "project", s.Project.Name)
}

// Toggle connects a disconnected session and disconnects a connected
// one.
func (r *Registry) Toggle(s *Session) {
	if s == nil {
		return
	}
	if s.state.Get() == Connected {
		r.Disconnect(s)
	} else {
		r.Connect(s)
	}
}

// Connected reports whether any session is currently connected.
func (r *Registry) Connected() bool {
	for _, s := range r.order {
		if s.state.Get() == Connected {
			return true
		}
	}
	return false
}

// SubscribeEachDiagnostics is the fan-out merge primitive: fn observes
// every current session's diagnostics stream and every session created
// later, until the returned cancel runs. The cross-session aggregation
// facets are its only intended consumers.
func (r *Registry) SubscribeEachDiagnostics(fn func(*Session, diag.Snapshot)) (cancel func()) {
	r.fanoutSubs++

	var cancels []func()
	attach := func(s *Session) {
		c := s.diagnostics.Subscribe(func(snap diag.Snapshot) {
			fn(s, snap)
		})
		cancels = append(cancels, c)
	}
	for _, s := range r.order {
		attach(s)
	}
	cancels = append(cancels, r.added.Subscribe(attach))

	return func() {
		for _, c := range cancels {
			c()
		}
		cancels = nil
	}
}

// FanoutSubscriptions returns how many times the merge primitive has
// been subscribed. Test hook for the idempotent mode-switch edge.
func (r *Registry) FanoutSubscriptions() int { return r.fanoutSubs }
