// Package hub wires the document registry, session registry, context
// tracker and diagnostics aggregator into one façade, and exposes the
// streams, scoped-switch bindings and mutation operations consumers
// rely on. Every exposed stream replays its latest committed value to
// new subscribers.
package hub

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/spyglass-ide/spyglass/internal/aggregator"
	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/scope"
	"github.com/spyglass-ide/spyglass/internal/session"
	"github.com/spyglass-ide/spyglass/internal/stream"
	"github.com/spyglass-ide/spyglass/internal/tracker"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

// Options configures a Hub.
type Options struct {
	// Clock drives debounce windows; nil means the system clock.
	Clock stream.Clock

	Logger *slog.Logger

	// ConfigSuffixes mark configuration documents by path suffix.
	ConfigSuffixes []string

	// AggregateMode is the initial aggregation-mode toggle value.
	AggregateMode bool

	CommitWindow    time.Duration
	SaveWindow      time.Duration
	AggregateWindow time.Duration
}

// Hub is the reactive orchestration core: one per editor-integration
// instance, explicitly constructed, no global state. All hub methods
// except Run must be called from the hub's event loop (host adapters
// post into it); off-loop readers go through Loop().Call.
type Hub struct {
	loop   *stream.Loop
	logger *slog.Logger

	arena *scope.Arena
	root  scope.Handle

	docs     *workspace.Registry
	sessions *session.Registry
	tracker  *tracker.Tracker
	projects *tracker.ProjectTracker
	mode     *stream.Value[bool]
	diags    *aggregator.Aggregator
}

// New constructs and wires a hub.
func New(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	loop := stream.NewLoop(opts.Clock, logger)
	arena := scope.NewArena()

	docs := workspace.NewRegistry(loop, opts.ConfigSuffixes, logger)
	sessions := session.NewRegistry(loop, logger)

	tr := tracker.New(loop, docs, tracker.Config{
		CommitWindow: opts.CommitWindow,
		SaveWindow:   opts.SaveWindow,
		Bind: func(doc *workspace.Document) bool {
			return sessions.Resolve(doc) != nil
		},
		Logger: logger,
	})

	// The committed context drives the active session.
	tr.Combined().Subscribe(func(doc *workspace.Document) {
		if doc == nil {
			sessions.SetActive(nil)
			return
		}
		sessions.SetActive(sessions.Resolve(doc))
	})

	mode := stream.NewValue(loop, opts.AggregateMode)

	h := &Hub{
		loop:     loop,
		logger:   logger,
		arena:    arena,
		root:     arena.Acquire(scope.Handle{}),
		docs:     docs,
		sessions: sessions,
		tracker:  tr,
		projects: tracker.NewProjectTracker(loop, tr.Combined()),
		mode:     mode,
		diags:    aggregator.New(loop, sessions, mode, opts.AggregateWindow, logger),
	}
	return h
}

// Loop returns the hub's event loop.
func (h *Hub) Loop() *stream.Loop { return h.loop }

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error { return h.loop.Run(ctx) }

// Close releases the hub's root scope, tearing down every scoped
// binding still live.
func (h *Hub) Close() { h.root.Release() }

// Documents returns the live document registry.
func (h *Hub) Documents() *workspace.Registry { return h.docs }

// Sessions returns the session registry.
func (h *Hub) Sessions() *session.Registry { return h.sessions }

// --- Context streams ---

// ActiveContext is the committed combined context.
func (h *Hub) ActiveContext() *stream.Value[*workspace.Document] { return h.tracker.Combined() }

// ActiveEditor is the active non-config document, nil otherwise.
func (h *Hub) ActiveEditor() *stream.Value[*workspace.Document] { return h.tracker.Editor() }

// ActiveConfigDocument is the active config document, nil otherwise.
func (h *Hub) ActiveConfigDocument() *stream.Value[*workspace.Document] {
	return h.tracker.ConfigDocument()
}

// ActiveEditorOnly mirrors ActiveEditor on an isolated stream.
func (h *Hub) ActiveEditorOnly() *stream.Value[*workspace.Document] { return h.tracker.EditorOnly() }

// ActiveProject is the project owning the active context.
func (h *Hub) ActiveProject() *stream.Value[*workspace.Project] { return h.projects.Project() }

// ActiveTarget is the active project+build-target pairing.
func (h *Hub) ActiveTarget() *stream.Value[tracker.ProjectTarget] { return h.projects.Target() }

// --- Diagnostics facets ---

// Diagnostics is the flat findings facet.
func (h *Hub) Diagnostics() *stream.Value[[]diag.Location] { return h.diags.List() }

// DiagnosticCounts is the per-severity count facet.
func (h *Hub) DiagnosticCounts() *stream.Value[map[diag.Severity]int] { return h.diags.Counts() }

// DiagnosticsByFile is the file-to-findings facet.
func (h *Hub) DiagnosticsByFile() *stream.Value[map[string][]diag.Location] {
	return h.diags.ByFile()
}

// AggregationMode is the live aggregation toggle stream.
func (h *Hub) AggregationMode() *stream.Value[bool] { return h.mode }

// SetAggregationMode switches between single-session and cross-session
// diagnostics.
func (h *Hub) SetAggregationMode(aggregate bool) { h.mode.Set(aggregate) }

// --- Mutation operations ---

// RegisterProject registers a project with the session registry. This
// is the configuration-registration hook.
func (h *Hub) RegisterProject(name, dir string, targets []string) *workspace.Project {
	ts := make([]*workspace.Target, 0, len(targets))
	for _, name := range targets {
		ts = append(ts, &workspace.Target{Name: name})
	}
	p := workspace.NewProject(h.loop, name, dir, ts)
	h.sessions.RegisterProject(p)
	return p
}

// Connect connects the active session's backend.
func (h *Hub) Connect() { h.sessions.Connect(h.sessions.Active().Get()) }

// Disconnect disconnects the active session's backend.
func (h *Hub) Disconnect() { h.sessions.Disconnect(h.sessions.Active().Get()) }

// ToggleConnection flips the active session's connection.
func (h *Hub) ToggleConnection() { h.sessions.Toggle(h.sessions.Active().Get()) }

// Connected reports whether any session is connected.
func (h *Hub) Connected() bool { return h.sessions.Connected() }

// --- Host event entry points ---

// OpenDocument registers a document the host opened.
func (h *Hub) OpenDocument(path string) *workspace.Document { return h.docs.Open(path) }

// OpenUntitled registers a not-yet-persisted document.
func (h *Hub) OpenUntitled() *workspace.Document { return h.docs.Open("") }

// CloseDocument destroys a document; if it was the active context the
// context is driven to null within one commit window.
func (h *Hub) CloseDocument(id uuid.UUID) {
	if doc := h.docs.Get(id); doc != nil {
		h.docs.Destroy(doc)
	}
}

// SaveDocumentAs records the save path the host assigned to an
// untitled document.
func (h *Hub) SaveDocumentAs(id uuid.UUID, path string) {
	if doc := h.docs.Get(id); doc != nil {
		h.docs.AssignPath(doc, path)
	}
}

// FocusDocument announces a focus change to the given document.
func (h *Hub) FocusDocument(id uuid.UUID) {
	h.tracker.Announce(h.docs.Get(id))
}

// FocusNone announces that no document has focus.
func (h *Hub) FocusNone() { h.tracker.Announce(nil) }

// --- Scoped bindings ---

// ScopeActiveEditor binds a callback to the lifetime of the active
// plain editor.
func (h *Hub) ScopeActiveEditor(onActive func(*workspace.Document, scope.Handle)) (stop func()) {
	return scope.Switch(h.arena, h.root, h.tracker.Editor(), documentBag, onActive, h.logger)
}

// ScopeActiveConfigDocument binds a callback to the lifetime of the
// active config document.
func (h *Hub) ScopeActiveConfigDocument(onActive func(*workspace.Document, scope.Handle)) (stop func()) {
	return scope.Switch(h.arena, h.root, h.tracker.ConfigDocument(), documentBag, onActive, h.logger)
}

// ScopeActiveContext binds a callback to the lifetime of the combined
// context, editor or config document alike.
func (h *Hub) ScopeActiveContext(onActive func(*workspace.Document, scope.Handle)) (stop func()) {
	return scope.Switch(h.arena, h.root, h.tracker.Combined(), documentBag, onActive, h.logger)
}

// ScopeActiveSession binds a callback to the lifetime of the active
// session.
func (h *Hub) ScopeActiveSession(onActive func(*session.Session, scope.Handle)) (stop func()) {
	return scope.Switch(h.arena, h.root, h.sessions.Active(), sessionBag, onActive, h.logger)
}

// ScopeEachDocument binds a callback to every live document: it fires
// for each currently open and each newly opened document, and the scope
// tears down when that document is destroyed.
func (h *Hub) ScopeEachDocument(onOpen func(*workspace.Document, scope.Handle)) (stop func()) {
	return h.docs.EachDocument(h.arena, h.root, onOpen, h.logger)
}

func documentBag(d *workspace.Document) *scope.Bag {
	if d == nil {
		return nil
	}
	return d.Scope
}

func sessionBag(s *session.Session) *scope.Bag {
	if s == nil {
		return nil
	}
	return s.Scope
}
