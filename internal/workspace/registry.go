package workspace

import (
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/spyglass-ide/spyglass/internal/scope"
	"github.com/spyglass-ide/spyglass/internal/stream"
)

// Registry is the live document set. It is explicitly constructed and
// injected wherever documents are consumed; there is no process-wide
// instance. All methods run on the hub's event loop, so no locking is
// required; iteration order of snapshots is insertion order and stable
// within one snapshot.
type Registry struct {
	loop   *stream.Loop
	logger *slog.Logger

	docs  map[uuid.UUID]*Document
	order []uuid.UUID

	// suffixes marking configuration documents, matched against the
	// path at first observation.
	configSuffixes []string

	opened       *stream.Signal[*Document]
	pathAssigned *stream.Signal[*Document]
	destroyed    *stream.Signal[*Document]
}

// NewRegistry creates an empty registry. configSuffixes decide which
// documents are configuration documents.
func NewRegistry(loop *stream.Loop, configSuffixes []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		loop:           loop,
		logger:         logger,
		docs:           make(map[uuid.UUID]*Document),
		configSuffixes: configSuffixes,
		opened:         stream.NewSignal[*Document](),
		pathAssigned:   stream.NewSignal[*Document](),
		destroyed:      stream.NewSignal[*Document](),
	}
}

// Open registers a document the host reported. An empty path means an
// untitled (not yet persisted) document. The config flag is computed
// here, once, and never revisited.
func (r *Registry) Open(path string) *Document {
	doc := &Document{
		ID:     uuid.New(),
		Path:   path,
		Config: r.isConfigPath(path),
		Scope:  scope.NewBag(),
	}
	r.docs[doc.ID] = doc
	r.order = append(r.order, doc.ID)
	r.logger.Debug("document opened", "id", doc.ID, "path", path, "config", doc.Config)
	r.opened.Emit(doc)
	return doc
}

// AssignPath records the save path the host assigned to an untitled
// document. The config flag stays as decided at first observation.
func (r *Registry) AssignPath(doc *Document, path string) {
	if doc.destroyed || path == "" || doc.Path != "" {
		return
	}
	doc.Path = path
	r.logger.Debug("document path assigned", "id", doc.ID, "path", path)
	r.pathAssigned.Emit(doc)
}

// Destroy removes the document from the live set, marks it destroyed,
// and releases every scope bound to its lifetime.
func (r *Registry) Destroy(doc *Document) {
	if doc.destroyed {
		return
	}
	doc.destroyed = true
	delete(r.docs, doc.ID)
	for i, id := range r.order {
		if id == doc.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("document destroyed", "id", doc.ID, "path", doc.Path)
	doc.Scope.Release()
	r.destroyed.Emit(doc)
}

// Get returns a live document by identity.
func (r *Registry) Get(id uuid.UUID) *Document { return r.docs[id] }

// Snapshot returns the live documents in insertion order.
func (r *Registry) Snapshot() []*Document {
	out := make([]*Document, 0, len(r.order))
	for _, id := range r.order {
		if d, ok := r.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of live documents.
func (r *Registry) Len() int { return len(r.docs) }

// Opened fires for every newly registered document.
func (r *Registry) Opened() *stream.Signal[*Document] { return r.opened }

// PathAssigned fires when an untitled document receives its save path.
func (r *Registry) PathAssigned() *stream.Signal[*Document] { return r.pathAssigned }

// Destroyed fires after a document has been removed and its scopes
// released.
func (r *Registry) Destroyed() *stream.Signal[*Document] { return r.destroyed }

func (r *Registry) isConfigPath(path string) bool {
	if path == "" {
		return false
	}
	for _, suffix := range r.configSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// EachDocument invokes onOpen for every currently live document and for
// each document opened later, with a scope handle torn down when that
// document is destroyed or when outer is released. This is the
// per-document variant of the active-value scoping pattern: it fires
// for every document, not just the active one.
func (r *Registry) EachDocument(
	arena *scope.Arena,
	outer scope.Handle,
	onOpen func(*Document, scope.Handle),
	logger *slog.Logger,
) (stop func()) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	stopped := false

	activate := func(doc *Document) {
		if stopped || doc.destroyed || !outer.Valid() {
			return
		}
		h := arena.Acquire(outer)
		doc.Scope.Attach(h)
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("document scope callback panicked", "panic", rec, "id", doc.ID)
				}
			}()
			onOpen(doc, h)
		}()
	}

	for _, doc := range r.Snapshot() {
		activate(doc)
	}
	cancel := r.opened.Subscribe(activate)

	stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
	}
	outer.Defer(func() { stop() })
	return stop
}
