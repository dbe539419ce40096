// Package tracker turns the churn of raw focus and document-lifecycle
// events into one debounced "active context" value and the read-only
// facets derived from it.
package tracker

import (
	"io"
	"log/slog"
	"time"

	"github.com/spyglass-ide/spyglass/internal/stream"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

// Default quiescence windows.
const (
	DefaultCommitWindow = 100 * time.Millisecond
	DefaultSaveWindow   = 50 * time.Millisecond
)

// Config parameterizes a Tracker.
type Config struct {
	// CommitWindow is how long raw activity must be quiescent before a
	// candidate is committed as the active context.
	CommitWindow time.Duration

	// SaveWindow is how long an untitled document may wait for its
	// save path before binding is attempted anyway.
	SaveWindow time.Duration

	// Bind attempts to establish the document's session binding and
	// reports whether the document is now bound. Candidates are only
	// promoted once bound.
	Bind func(*workspace.Document) bool

	Logger *slog.Logger
}

// Tracker debounces raw "candidate active document" events into the
// committed active context and derives the editor, config-document and
// editor-only facets from it. All four facets commit from the same
// debounced upstream value, so they can never disagree on ordering or
// timing for the same underlying event.
type Tracker struct {
	loop   *stream.Loop
	cfg    Config
	logger *slog.Logger

	raw *stream.Value[*workspace.Document]

	combined   *stream.Value[*workspace.Document]
	editor     *stream.Value[*workspace.Document]
	configDoc  *stream.Value[*workspace.Document]
	editorOnly *stream.Value[*workspace.Document]

	// Unsaved-document safeguard state: at most one pathless candidate
	// waits for its save path at a time.
	pending       *workspace.Document
	cancelPending func()
}

// New creates a tracker wired to the document registry's lifecycle
// signals.
func New(loop *stream.Loop, docs *workspace.Registry, cfg Config) *Tracker {
	if cfg.CommitWindow == 0 {
		cfg.CommitWindow = DefaultCommitWindow
	}
	if cfg.SaveWindow == 0 {
		cfg.SaveWindow = DefaultSaveWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	// All streams suppress same-document re-emissions: announcing the
	// already-active document must not restart the commit cycle, and a
	// facet whose document did not change stays silent.
	sameDoc := func(a, b *workspace.Document) bool { return a == b }
	t := &Tracker{
		loop:       loop,
		cfg:        cfg,
		logger:     cfg.Logger,
		raw:        stream.NewDistinctValue[*workspace.Document](loop, nil, sameDoc),
		combined:   stream.NewDistinctValue[*workspace.Document](loop, nil, sameDoc),
		editor:     stream.NewDistinctValue[*workspace.Document](loop, nil, sameDoc),
		configDoc:  stream.NewDistinctValue[*workspace.Document](loop, nil, sameDoc),
		editorOnly: stream.NewDistinctValue[*workspace.Document](loop, nil, sameDoc),
	}

	debounced := stream.Debounce(loop, t.raw, cfg.CommitWindow)
	debounced.Subscribe(t.commit)

	// A document can be destroyed after entering the debounce window;
	// drive the context to null and drop any stale pending candidate.
	docs.Destroyed().Subscribe(func(doc *workspace.Document) {
		if t.pending == doc {
			t.clearPending()
		}
		if t.raw.Get() == doc || t.combined.Get() == doc {
			t.raw.Set(nil)
		}
	})

	// Safeguard completion: the awaited save path arrived.
	docs.PathAssigned().Subscribe(func(doc *workspace.Document) {
		if t.pending != doc {
			return
		}
		t.clearPending()
		t.promote(doc)
	})

	return t
}

// Combined is the committed active context: editor or config document,
// or nil.
func (t *Tracker) Combined() *stream.Value[*workspace.Document] { return t.combined }

// Editor is the combined context filtered to non-config documents.
func (t *Tracker) Editor() *stream.Value[*workspace.Document] { return t.editor }

// ConfigDocument is the combined context filtered to config documents.
func (t *Tracker) ConfigDocument() *stream.Value[*workspace.Document] { return t.configDoc }

// EditorOnly carries the same filter as Editor, kept as a distinct
// stream for consumers that must never observe config documents, not
// even as transient nulls interleaved with another facet's values.
func (t *Tracker) EditorOnly() *stream.Value[*workspace.Document] { return t.editorOnly }

// Announce feeds a raw candidate from focus or pane-change events. A
// nil candidate means no document has focus. Already-destroyed
// candidates are treated as nil; unbound candidates are either routed
// through the unsaved-document safeguard or dropped.
func (t *Tracker) Announce(candidate *workspace.Document) {
	t.clearPending()

	if candidate != nil && candidate.Destroyed() {
		candidate = nil
	}
	if candidate == nil {
		t.raw.Set(nil)
		return
	}
	if candidate.Bound() {
		t.raw.Set(candidate)
		return
	}

	if candidate.Untitled() {
		// Not yet persisted: give the host one save window to assign a
		// path before attempting to bind anyway.
		t.pending = candidate
		doc := candidate
		t.cancelPending = t.loop.PostAfter(t.cfg.SaveWindow, func() {
			if t.pending != doc {
				return
			}
			t.pending = nil
			t.cancelPending = nil
			t.promote(doc)
		})
		return
	}

	t.promote(candidate)
}

// promote attempts session binding and publishes the candidate if it
// succeeds. An unresolvable document is simply never promoted; there is
// no distinct error state.
func (t *Tracker) promote(doc *workspace.Document) {
	if doc.Destroyed() {
		return
	}
	if !doc.Bound() && (t.cfg.Bind == nil || !t.cfg.Bind(doc)) {
		t.logger.Debug("candidate not promoted, no session binding", "id", doc.ID, "path", doc.Path)
		return
	}
	t.raw.Set(doc)
}

// commit publishes one debounced value to all four facets. The stale
// filter runs again here: the value crossed the scheduling boundary and
// may refer to a document destroyed while queued.
func (t *Tracker) commit(doc *workspace.Document) {
	if doc != nil && doc.Destroyed() {
		doc = nil
	}
	t.combined.Set(doc)

	var editor, config *workspace.Document
	if doc != nil {
		if doc.Config {
			config = doc
		} else {
			editor = doc
		}
	}
	t.editor.Set(editor)
	t.configDoc.Set(config)
	t.editorOnly.Set(editor)
}

func (t *Tracker) clearPending() {
	if t.cancelPending != nil {
		t.cancelPending()
		t.cancelPending = nil
	}
	t.pending = nil
}
