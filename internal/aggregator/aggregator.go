// Package aggregator builds the three diagnostics facets (flat list,
// per-severity counts, by-file map) and switches each between
// single-session passthrough and cross-session merge, driven by one
// live aggregation-mode toggle.
package aggregator

import (
	"io"
	"log/slog"
	"time"

	"github.com/spyglass-ide/spyglass/internal/diag"
	"github.com/spyglass-ide/spyglass/internal/session"
	"github.com/spyglass-ide/spyglass/internal/stream"
)

// DefaultWindow is the quiescence window for cross-session recomputes.
const DefaultWindow = 200 * time.Millisecond

// Aggregator owns the three facets. All methods and callbacks run on
// the hub's event loop.
type Aggregator struct {
	loop     *stream.Loop
	sessions *session.Registry
	mode     *stream.Value[bool]
	window   time.Duration
	logger   *slog.Logger

	list   *facet[[]diag.Location]
	counts *facet[map[diag.Severity]int]
	byFile *facet[map[string][]diag.Location]
}

// New creates an aggregator. mode is the live "aggregate all sessions"
// toggle; window 0 means DefaultWindow.
func New(loop *stream.Loop, sessions *session.Registry, mode *stream.Value[bool], window time.Duration, logger *slog.Logger) *Aggregator {
	if window == 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Aggregator{
		loop:     loop,
		sessions: sessions,
		mode:     mode,
		window:   window,
		logger:   logger,
	}

	a.list = newFacet(a, func() []diag.Location { return []diag.Location{} },
		func(snap diag.Snapshot) []diag.Location { return snap.Items },
		a.mergeList)
	a.counts = newFacet(a, func() map[diag.Severity]int { return map[diag.Severity]int{} },
		func(snap diag.Snapshot) map[diag.Severity]int { return diag.CountBySeverity(snap.Items) },
		a.mergeCounts)
	a.byFile = newFacet(a, func() map[string][]diag.Location { return map[string][]diag.Location{} },
		func(snap diag.Snapshot) map[string][]diag.Location { return diag.GroupByFile(snap.Items) },
		a.mergeByFile)

	resample := func() {
		active := sessions.Active().Get()
		aggregate := mode.Get()
		a.list.sample(active, aggregate)
		a.counts.sample(active, aggregate)
		a.byFile.sample(active, aggregate)
	}
	sessions.Active().Subscribe(func(*session.Session) { resample() })
	mode.Subscribe(func(bool) { resample() })

	return a
}

// List is the flat diagnostics facet.
func (a *Aggregator) List() *stream.Value[[]diag.Location] { return a.list.out }

// Counts is the per-severity count facet.
func (a *Aggregator) Counts() *stream.Value[map[diag.Severity]int] { return a.counts.out }

// ByFile is the file-to-findings facet.
func (a *Aggregator) ByFile() *stream.Value[map[string][]diag.Location] { return a.byFile.out }

// contribution returns a session's current findings, degrading a failed
// session to an empty contribution for this cycle.
func (a *Aggregator) contribution(s *session.Session) []diag.Location {
	snap := s.Diagnostics().Get()
	if snap.Err != nil {
		a.logger.Warn("session diagnostics unavailable, contributing nothing",
			"session", s.ID, "error", snap.Err)
		return nil
	}
	return snap.Items
}

// mergeList concatenates findings in session iteration order, each
// session's own order preserved.
func (a *Aggregator) mergeList(all []*session.Session) []diag.Location {
	merged := []diag.Location{}
	for _, s := range all {
		merged = append(merged, a.contribution(s)...)
	}
	return merged
}

// mergeCounts sums per-severity counts across sessions.
func (a *Aggregator) mergeCounts(all []*session.Session) map[diag.Severity]int {
	merged := map[diag.Severity]int{}
	for _, s := range all {
		for sev, n := range diag.CountBySeverity(a.contribution(s)) {
			merged[sev] += n
		}
	}
	return merged
}

// mergeByFile merges per-file buckets with last-writer-wins semantics:
// a later-iterated session's entries for a file replace an earlier
// session's entries for the same file. Deliberately asymmetric with
// mergeList, which keeps every entry.
func (a *Aggregator) mergeByFile(all []*session.Session) map[string][]diag.Location {
	merged := map[string][]diag.Location{}
	for _, s := range all {
		for file, items := range diag.GroupByFile(a.contribution(s)) {
			merged[file] = items
		}
	}
	return merged
}

// facet is one independently switchable diagnostics view. It tracks
// the previous (mode, active session) sample so a switch only happens
// when the effective source changes; in particular an enabled→enabled
// transition never resubscribes the fan-out merge, even when the active
// session reference changed underneath it.
type facet[T any] struct {
	agg *Aggregator
	out *stream.Value[T]

	empty        func() T
	fromSnapshot func(diag.Snapshot) T
	fromSessions func([]*session.Session) T

	cancel      func()
	cancelTimer func()

	started    bool
	prevMode   bool
	prevActive *session.Session
}

func newFacet[T any](
	a *Aggregator,
	empty func() T,
	fromSnapshot func(diag.Snapshot) T,
	fromSessions func([]*session.Session) T,
) *facet[T] {
	return &facet[T]{
		agg:          a,
		out:          stream.NewValue(a.loop, empty()),
		empty:        empty,
		fromSnapshot: fromSnapshot,
		fromSessions: fromSessions,
	}
}

func (f *facet[T]) sample(active *session.Session, aggregate bool) {
	if f.started {
		if aggregate && f.prevMode {
			// Aggregation was and stays enabled: only the active
			// session changed, which the cross-session source does not
			// depend on. Skip the resubscription churn.
			f.prevActive = active
			return
		}
		if !aggregate && !f.prevMode && active == f.prevActive {
			return
		}
	}
	f.started = true
	f.prevMode = aggregate
	f.prevActive = active

	f.detach()

	// Prime with the identity value so no consumer observes data held
	// over from the previous source.
	f.out.Set(f.empty())

	switch {
	case aggregate:
		f.cancel = f.agg.sessions.SubscribeEachDiagnostics(func(*session.Session, diag.Snapshot) {
			f.schedule()
		})
	case active != nil:
		s := active
		f.cancel = s.Diagnostics().Subscribe(func(snap diag.Snapshot) {
			if snap.Err != nil {
				f.agg.logger.Warn("session diagnostics unavailable",
					"session", s.ID, "error", snap.Err)
				f.out.Set(f.empty())
				return
			}
			f.out.Set(f.fromSnapshot(snap))
		})
	}
	// Disabled with no active session: the facet stays at its identity
	// value rather than going silent.
}

// schedule arms (or re-arms) the cross-session quiescence window.
func (f *facet[T]) schedule() {
	if f.cancelTimer != nil {
		f.cancelTimer()
	}
	f.cancelTimer = f.agg.loop.PostAfter(f.agg.window, func() {
		f.cancelTimer = nil
		f.out.Set(f.fromSessions(f.agg.sessions.Sessions()))
	})
}

func (f *facet[T]) detach() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	if f.cancelTimer != nil {
		f.cancelTimer()
		f.cancelTimer = nil
	}
}
