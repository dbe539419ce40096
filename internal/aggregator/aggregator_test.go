package aggregator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/session"
	"github.com/spyglass-ide/spyglass/internal/stream"
	"github.com/spyglass-ide/spyglass/internal/workspace"
)

type env struct {
	clock    *stream.ManualClock
	loop     *stream.Loop
	docs     *workspace.Registry
	sessions *session.Registry
	mode     *stream.Value[bool]
	agg      *Aggregator

	lists  [][]diag.Location
	counts []map[diag.Severity]int
	byFile []map[string][]diag.Location
}

func newEnv(t *testing.T, aggregate bool) *env {
	t.Helper()
	e := &env{clock: stream.NewManualClock()}
	e.loop = stream.NewLoop(e.clock, nil)
	e.docs = workspace.NewRegistry(e.loop, nil, nil)
	e.sessions = session.NewRegistry(e.loop, nil)
	e.mode = stream.NewValue(e.loop, aggregate)
	e.agg = New(e.loop, e.sessions, e.mode, 0, nil)

	e.agg.List().Subscribe(func(x []diag.Location) { e.lists = append(e.lists, x) })
	e.agg.Counts().Subscribe(func(x map[diag.Severity]int) { e.counts = append(e.counts, x) })
	e.agg.ByFile().Subscribe(func(x map[string][]diag.Location) { e.byFile = append(e.byFile, x) })
	e.loop.Flush()
	return e
}

func (e *env) reset() { e.lists, e.counts, e.byFile = nil, nil, nil }

func (e *env) session(t *testing.T, name, dir, docPath string) *session.Session {
	t.Helper()
	e.sessions.RegisterProject(workspace.NewProject(e.loop, name, dir, nil))
	var s *session.Session
	e.loop.Post(func() { s = e.sessions.Resolve(e.docs.Open(docPath)) })
	e.loop.Flush()
	require.NotNil(t, s)
	return s
}

func (e *env) activate(s *session.Session) {
	e.loop.Post(func() { e.sessions.SetActive(s) })
	e.loop.Flush()
}

func (e *env) publish(s *session.Session, items ...diag.Location) {
	e.loop.Post(func() { s.Publish(items) })
	e.loop.Flush()
}

func (e *env) settle() {
	e.clock.Advance(DefaultWindow)
	e.loop.Flush()
}

func (e *env) lastList() []diag.Location {
	if len(e.lists) == 0 {
		return nil
	}
	return e.lists[len(e.lists)-1]
}

func loc(file string, sev diag.Severity, msg string) diag.Location {
	return diag.Location{File: file, Severity: sev, Message: msg}
}

func TestSingleMode_PassesThroughActiveSession(t *testing.T) {
	e := newEnv(t, false)
	s := e.session(t, "app", "/w/app", "/w/app/a.cs")
	e.activate(s)
	e.reset()

	want := loc("a.cs", diag.SeverityError, "CS0103")
	e.publish(s, want)

	require.NotEmpty(t, e.lists)
	assert.Equal(t, []diag.Location{want}, e.lastList())
	assert.Equal(t, map[diag.Severity]int{diag.SeverityError: 1}, e.counts[len(e.counts)-1])
	assert.Equal(t, map[string][]diag.Location{"a.cs": {want}}, e.byFile[len(e.byFile)-1])
}

func TestSingleMode_SwitchingActivePrimesEmptyThenFollowsNewSession(t *testing.T) {
	e := newEnv(t, false)
	s1 := e.session(t, "app", "/w/app", "/w/app/a.cs")
	s2 := e.session(t, "lib", "/w/lib", "/w/lib/b.cs")

	e.activate(s1)
	e.publish(s1, loc("a.cs", diag.SeverityError, "from s1"))
	e.reset()

	e.activate(s2)
	// First emission after the switch is the identity value, so stale
	// findings from s1 are never visible under s2.
	require.NotEmpty(t, e.lists)
	assert.Empty(t, e.lists[0])

	e.publish(s2, loc("b.cs", diag.SeverityWarning, "from s2"))
	assert.Equal(t, "from s2", e.lastList()[0].Message)

	// The previous session's stream is detached.
	e.reset()
	e.publish(s1, loc("a.cs", diag.SeverityError, "late"))
	assert.Empty(t, e.lists)
}

func TestSingleMode_ErrorDegradesToEmpty(t *testing.T) {
	e := newEnv(t, false)
	s := e.session(t, "app", "/w/app", "/w/app/a.cs")
	e.activate(s)
	e.publish(s, loc("a.cs", diag.SeverityError, "x"))
	e.reset()

	e.loop.Post(func() { s.Fail(errors.New("backend unavailable")) })
	e.loop.Flush()

	require.NotEmpty(t, e.lists)
	assert.Empty(t, e.lastList())

	// The next successful publish resumes normal delivery.
	e.publish(s, loc("a.cs", diag.SeverityHint, "recovered"))
	assert.Equal(t, "recovered", e.lastList()[0].Message)
}

func TestSingleMode_NoActiveSessionHoldsIdentity(t *testing.T) {
	e := newEnv(t, false)
	s := e.session(t, "app", "/w/app", "/w/app/a.cs")
	e.publish(s, loc("a.cs", diag.SeverityError, "x"))

	assert.Empty(t, e.agg.List().Get())
	assert.Empty(t, e.agg.Counts().Get())
	assert.Empty(t, e.agg.ByFile().Get())
}

func TestAggregateMode_MergesAcrossSessions(t *testing.T) {
	e := newEnv(t, true)
	s1 := e.session(t, "app", "/w/app", "/w/app/a.cs")
	s2 := e.session(t, "lib", "/w/lib", "/w/lib/b.cs")

	e1 := loc("x.cs", diag.SeverityError, "from app")
	w1 := loc("a.cs", diag.SeverityWarning, "only app")
	e2 := loc("x.cs", diag.SeverityError, "from lib")

	e.publish(s1, e1, w1)
	e.publish(s2, e2)
	e.settle()
	e.reset()
	e.settle()
	require.Empty(t, e.lists, "recompute fired without new input")

	e.publish(s1, e1, w1)
	e.settle()

	// Flat list keeps every finding, session creation order first.
	require.NotEmpty(t, e.lists)
	assert.Equal(t, []diag.Location{e1, w1, e2}, e.lastList())

	// Counts sum across sessions.
	assert.Equal(t, map[diag.Severity]int{
		diag.SeverityError:   2,
		diag.SeverityWarning: 1,
	}, e.counts[len(e.counts)-1])

	// The by-file view is last-writer-wins per file: lib's x.cs bucket
	// replaces app's, while mergeList kept both.
	assert.Equal(t, map[string][]diag.Location{
		"x.cs": {e2},
		"a.cs": {w1},
	}, e.byFile[len(e.byFile)-1])
}

func TestAggregateMode_RecomputeWaitsForQuiescence(t *testing.T) {
	e := newEnv(t, true)
	s1 := e.session(t, "app", "/w/app", "/w/app/a.cs")
	s2 := e.session(t, "lib", "/w/lib", "/w/lib/b.cs")
	e.settle()
	e.reset()

	e.publish(s1, loc("a.cs", diag.SeverityError, "one"))
	e.clock.Advance(150 * time.Millisecond)
	e.loop.Flush()
	assert.Empty(t, e.lists, "recompute ran before the window elapsed")

	// The second publish re-arms the window.
	e.publish(s2, loc("b.cs", diag.SeverityError, "two"))
	e.clock.Advance(150 * time.Millisecond)
	e.loop.Flush()
	assert.Empty(t, e.lists)

	e.clock.Advance(50 * time.Millisecond)
	e.loop.Flush()
	require.Len(t, e.lists, 1)
	assert.Len(t, e.lastList(), 2)
}

func TestAggregateMode_FailedSessionIsolated(t *testing.T) {
	e := newEnv(t, true)
	s1 := e.session(t, "app", "/w/app", "/w/app/a.cs")
	s2 := e.session(t, "lib", "/w/lib", "/w/lib/b.cs")

	keep := loc("a.cs", diag.SeverityError, "healthy")
	e.publish(s1, keep)
	e.loop.Post(func() { s2.Fail(errors.New("fetch failed")) })
	e.loop.Flush()
	e.settle()

	assert.Equal(t, []diag.Location{keep}, e.lastList(),
		"one session's failure contaminated the merge")
}

func TestAggregateMode_PicksUpLateSessions(t *testing.T) {
	e := newEnv(t, true)
	s1 := e.session(t, "app", "/w/app", "/w/app/a.cs")
	e.publish(s1, loc("a.cs", diag.SeverityError, "first"))
	e.settle()
	e.reset()

	s2 := e.session(t, "lib", "/w/lib", "/w/lib/b.cs")
	e.publish(s2, loc("b.cs", diag.SeverityError, "second"))
	e.settle()

	require.NotEmpty(t, e.lists)
	assert.Len(t, e.lastList(), 2)
}

func TestModeSwitch_EnabledToEnabledDoesNotResubscribe(t *testing.T) {
	e := newEnv(t, false)
	s1 := e.session(t, "app", "/w/app", "/w/app/a.cs")
	s2 := e.session(t, "lib", "/w/lib", "/w/lib/b.cs")
	e.activate(s1)
	require.Zero(t, e.sessions.FanoutSubscriptions())

	e.loop.Post(func() { e.mode.Set(true) })
	e.loop.Flush()
	subs := e.sessions.FanoutSubscriptions()
	require.Equal(t, 3, subs, "one fan-out subscription per facet")

	// Aggregation stays enabled while the active session changes: the
	// cross-session source does not depend on the active session, so no
	// teardown or resubscription happens.
	e.activate(s2)
	e.loop.Post(func() { e.mode.Set(true) })
	e.loop.Flush()
	assert.Equal(t, subs, e.sessions.FanoutSubscriptions())
}

func TestModeSwitch_TogglePrimesEmptyBothWays(t *testing.T) {
	e := newEnv(t, true)
	s := e.session(t, "app", "/w/app", "/w/app/a.cs")
	e.activate(s)
	e.publish(s, loc("a.cs", diag.SeverityError, "x"))
	e.settle()
	require.NotEmpty(t, e.lastList())
	e.reset()

	e.loop.Post(func() { e.mode.Set(false) })
	e.loop.Flush()
	require.NotEmpty(t, e.lists)
	assert.Empty(t, e.lists[0], "switch to single mode must prime empty")
	// Single-session replay then restores the active session's findings.
	assert.Equal(t, "x", e.lastList()[0].Message)

	e.reset()
	e.loop.Post(func() { e.mode.Set(true) })
	e.loop.Flush()
	require.NotEmpty(t, e.lists)
	assert.Empty(t, e.lists[0], "switch to aggregate mode must prime empty")
	e.settle()
	assert.Equal(t, "x", e.lastList()[0].Message)
}

func TestModeSwitch_DisableDetachesFanout(t *testing.T) {
	e := newEnv(t, true)
	s := e.session(t, "app", "/w/app", "/w/app/a.cs")
	e.settle()
	e.reset()

	e.loop.Post(func() { e.mode.Set(false) })
	e.loop.Flush()
	e.reset()

	// No active session and aggregation off: publishes go nowhere.
	e.publish(s, loc("a.cs", diag.SeverityError, "x"))
	e.settle()
	assert.Empty(t, e.lists)
	assert.Empty(t, e.agg.List().Get())
}
