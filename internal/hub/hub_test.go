package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-ide/spyglass/internal/aggregator"
	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/scope"
	"github.com/spyglass-ide/spyglass/internal/session"
	"github.com/spyglass-ide/spyglass/internal/stream"
	"github.com/spyglass-ide/spyglass/internal/tracker"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

type env struct {
	clock *stream.ManualClock
	hub   *Hub
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	clock := stream.NewManualClock()
	opts.Clock = clock
	h := New(opts)
	h.Loop().Flush()
	return &env{clock: clock, hub: h}
}

func (e *env) do(fn func()) {
	e.hub.Loop().Post(fn)
	e.hub.Loop().Flush()
}

func (e *env) commit() {
	e.clock.Advance(tracker.DefaultCommitWindow)
	e.hub.Loop().Flush()
}

func (e *env) settle() {
	e.clock.Advance(aggregator.DefaultWindow)
	e.hub.Loop().Flush()
}

func TestHub_FocusToActiveContext(t *testing.T) {
	e := newEnv(t, Options{})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", []string{"net8.0"}) })

	var doc *workspace.Document
	e.do(func() { doc = e.hub.OpenDocument("/w/app/main.cs") })
	e.do(func() { e.hub.FocusDocument(doc.ID) })
	e.commit()

	assert.Same(t, doc, e.hub.ActiveContext().Get())
	assert.Same(t, doc, e.hub.ActiveEditor().Get())
	assert.Nil(t, e.hub.ActiveConfigDocument().Get())

	active := e.hub.Sessions().Active().Get()
	require.NotNil(t, active)
	assert.Equal(t, "app", active.Project.Name)
	assert.Equal(t, "app", e.hub.ActiveProject().Get().Name)
	assert.Equal(t, "net8.0", e.hub.ActiveTarget().Get().Target.Name)
}

func TestHub_ConfigDocumentFacetRouting(t *testing.T) {
	e := newEnv(t, Options{ConfigSuffixes: []string{".csproj"}})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", nil) })

	var conf *workspace.Document
	e.do(func() { conf = e.hub.OpenDocument("/w/app/app.csproj") })
	e.do(func() { e.hub.FocusDocument(conf.ID) })
	e.commit()

	assert.Same(t, conf, e.hub.ActiveContext().Get())
	assert.Same(t, conf, e.hub.ActiveConfigDocument().Get())
	assert.Nil(t, e.hub.ActiveEditor().Get())
	assert.Nil(t, e.hub.ActiveEditorOnly().Get())
}

func TestHub_CloseActiveDocumentNullsContext(t *testing.T) {
	e := newEnv(t, Options{})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", nil) })

	var doc *workspace.Document
	e.do(func() { doc = e.hub.OpenDocument("/w/app/main.cs") })
	e.do(func() { e.hub.FocusDocument(doc.ID) })
	e.commit()
	require.NotNil(t, e.hub.ActiveContext().Get())

	e.do(func() { e.hub.CloseDocument(doc.ID) })
	e.commit()
	assert.Nil(t, e.hub.ActiveContext().Get())
	assert.Nil(t, e.hub.Sessions().Active().Get())
}

func TestHub_UntitledSaveFlow(t *testing.T) {
	e := newEnv(t, Options{})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", nil) })

	var doc *workspace.Document
	e.do(func() { doc = e.hub.OpenUntitled() })
	e.do(func() { e.hub.FocusDocument(doc.ID) })

	e.do(func() { e.hub.SaveDocumentAs(doc.ID, "/w/app/new.cs") })
	e.commit()
	assert.Same(t, doc, e.hub.ActiveContext().Get())
	assert.True(t, doc.Bound())
}

func TestHub_ConnectionOperations(t *testing.T) {
	e := newEnv(t, Options{})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", nil) })

	var doc *workspace.Document
	e.do(func() { doc = e.hub.OpenDocument("/w/app/main.cs") })
	e.do(func() { e.hub.FocusDocument(doc.ID) })
	e.commit()

	e.do(func() { e.hub.Connect() })
	assert.True(t, e.hub.Connected())
	assert.Equal(t, session.Connected, e.hub.Sessions().AggregateState().Get())

	e.do(func() { e.hub.ToggleConnection() })
	assert.False(t, e.hub.Connected())

	e.do(func() { e.hub.Disconnect() }) // idempotent on a disconnected session
	assert.False(t, e.hub.Connected())
}

func TestHub_SingleSessionDiagnostics(t *testing.T) {
	e := newEnv(t, Options{})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", nil) })

	var doc *workspace.Document
	e.do(func() { doc = e.hub.OpenDocument("/w/app/main.cs") })
	e.do(func() { e.hub.FocusDocument(doc.ID) })
	e.commit()

	finding := diag.Location{File: "main.cs", Severity: diag.SeverityError, Message: "CS0103"}
	e.do(func() { e.hub.Sessions().Active().Get().Publish([]diag.Location{finding}) })

	assert.Equal(t, []diag.Location{finding}, e.hub.Diagnostics().Get())
	assert.Equal(t, map[diag.Severity]int{diag.SeverityError: 1}, e.hub.DiagnosticCounts().Get())
	assert.Equal(t, []diag.Location{finding}, e.hub.DiagnosticsByFile().Get()["main.cs"])
}

func TestHub_AggregationModeSwitch(t *testing.T) {
	e := newEnv(t, Options{})
	e.do(func() {
		e.hub.RegisterProject("app", "/w/app", nil)
		e.hub.RegisterProject("lib", "/w/lib", nil)
	})

	var inApp, inLib *workspace.Document
	e.do(func() {
		inApp = e.hub.OpenDocument("/w/app/a.cs")
		inLib = e.hub.OpenDocument("/w/lib/b.cs")
	})
	e.do(func() { e.hub.FocusDocument(inApp.ID) })
	e.commit()
	e.do(func() { e.hub.FocusDocument(inLib.ID) })
	e.commit()

	sessions := e.hub.Sessions().Sessions()
	require.Len(t, sessions, 2)
	appFinding := diag.Location{File: "a.cs", Severity: diag.SeverityError, Message: "app"}
	libFinding := diag.Location{File: "b.cs", Severity: diag.SeverityWarning, Message: "lib"}
	e.do(func() {
		sessions[0].Publish([]diag.Location{appFinding})
		sessions[1].Publish([]diag.Location{libFinding})
	})

	// Single mode follows the active (lib) session only.
	assert.Equal(t, []diag.Location{libFinding}, e.hub.Diagnostics().Get())

	e.do(func() { e.hub.SetAggregationMode(true) })
	assert.True(t, e.hub.AggregationMode().Get())
	e.settle()
	assert.Equal(t, []diag.Location{appFinding, libFinding}, e.hub.Diagnostics().Get())

	e.do(func() { e.hub.SetAggregationMode(false) })
	e.do(func() { sessions[1].Publish([]diag.Location{libFinding}) })
	assert.Equal(t, []diag.Location{libFinding}, e.hub.Diagnostics().Get())
}

func TestHub_ScopeRoundTrips(t *testing.T) {
	e := newEnv(t, Options{ConfigSuffixes: []string{".csproj"}})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", nil) })

	var events []string
	bind := func(label string) func(*workspace.Document, scope.Handle) {
		return func(d *workspace.Document, h scope.Handle) {
			events = append(events, label+" up")
			h.Defer(func() { events = append(events, label+" down") })
		}
	}
	e.do(func() {
		e.hub.ScopeActiveEditor(bind("editor"))
		e.hub.ScopeActiveConfigDocument(bind("config"))
		e.hub.ScopeActiveContext(bind("context"))
		e.hub.ScopeActiveSession(func(s *session.Session, h scope.Handle) {
			events = append(events, "session up")
			h.Defer(func() { events = append(events, "session down") })
		})
	})

	var code, conf *workspace.Document
	e.do(func() {
		code = e.hub.OpenDocument("/w/app/main.cs")
		conf = e.hub.OpenDocument("/w/app/app.csproj")
	})

	e.do(func() { e.hub.FocusDocument(code.ID) })
	e.commit()
	assert.ElementsMatch(t, []string{"editor up", "context up", "session up"}, events)
	events = nil

	// Config document takes focus: editor scope tears down, config and
	// context scopes come up; the session stays the same, so the session
	// scope must not cycle.
	e.do(func() { e.hub.FocusDocument(conf.ID) })
	e.commit()
	assert.ElementsMatch(t, []string{"editor down", "context down", "config up", "context up"}, events)
	events = nil

	// Destroying the scoped document tears down via its own registry.
	e.do(func() { e.hub.CloseDocument(conf.ID) })
	assert.Contains(t, events, "config down")
	assert.Contains(t, events, "context down")
	assert.NotContains(t, events, "session down")
}

func TestHub_ScopeEachDocument(t *testing.T) {
	e := newEnv(t, Options{})

	var opened, closed []string
	e.do(func() {
		e.hub.ScopeEachDocument(func(d *workspace.Document, h scope.Handle) {
			path := d.Path
			opened = append(opened, path)
			h.Defer(func() { closed = append(closed, path) })
		})
	})

	var a, b *workspace.Document
	e.do(func() {
		a = e.hub.OpenDocument("/w/a.cs")
		b = e.hub.OpenDocument("/w/b.cs")
	})
	assert.Equal(t, []string{"/w/a.cs", "/w/b.cs"}, opened)

	e.do(func() { e.hub.CloseDocument(a.ID) })
	assert.Equal(t, []string{"/w/a.cs"}, closed)

	// Close tears down all remaining per-document scopes.
	e.hub.Close()
	_ = b
	assert.ElementsMatch(t, []string{"/w/a.cs", "/w/b.cs"}, closed)
}

func TestHub_CloseTearsDownActiveScopes(t *testing.T) {
	e := newEnv(t, Options{})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", nil) })

	down := 0
	e.do(func() {
		e.hub.ScopeActiveContext(func(d *workspace.Document, h scope.Handle) {
			h.Defer(func() { down++ })
		})
	})

	var doc *workspace.Document
	e.do(func() { doc = e.hub.OpenDocument("/w/app/main.cs") })
	e.do(func() { e.hub.FocusDocument(doc.ID) })
	e.commit()

	e.hub.Close()
	assert.Equal(t, 1, down)

	// After Close, context changes no longer activate scopes.
	e.do(func() { e.hub.FocusNone() })
	e.commit()
	assert.Equal(t, 1, down)
}

func TestHub_RapidFocusSwitchesCoalesce(t *testing.T) {
	e := newEnv(t, Options{})
	e.do(func() { e.hub.RegisterProject("app", "/w/app", nil) })

	var d1, d2 *workspace.Document
	e.do(func() {
		d1 = e.hub.OpenDocument("/w/app/a.cs")
		d2 = e.hub.OpenDocument("/w/app/b.cs")
	})

	var commits []*workspace.Document
	e.do(func() {
		e.hub.ActiveContext().Subscribe(func(d *workspace.Document) {
			commits = append(commits, d)
		})
	})
	e.hub.Loop().Flush()
	commits = nil

	e.do(func() { e.hub.FocusDocument(d1.ID) })
	e.clock.Advance(30 * time.Millisecond)
	e.hub.Loop().Flush()
	e.do(func() { e.hub.FocusDocument(d2.ID) })
	e.commit()

	assert.Equal(t, []*workspace.Document{d2}, commits)
}
