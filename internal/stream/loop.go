// Package stream provides the single-consumer event loop and the
// replay-latest broadcast primitives the rest of spyglass is built on.
// All state owned by a Loop is mutated only from loop callbacks, so no
// locking is needed anywhere downstream.
package stream

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Clock abstracts time for the loop so debounce windows can be driven
// manually in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a test clock advanced explicitly by the caller.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a manual clock starting at a fixed epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward. Pending timers whose deadline passes
// fire on the next Flush or Run wakeup.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// timer is a pending delayed callback.
type timer struct {
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
}

// Loop is a single-consumer cooperative event loop. Callbacks posted to
// the loop run one at a time, in order; delayed callbacks fire when the
// loop observes their deadline has passed. Handlers never run
// concurrently with each other.
type Loop struct {
	clock  Clock
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	timers []*timer
	seq    uint64
	wake   chan struct{}
	closed bool
}

// NewLoop creates a loop. A nil clock means the system clock; a nil
// logger discards.
func NewLoop(clock Clock, logger *slog.Logger) *Loop {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loop{
		clock:  clock,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Clock returns the loop's clock.
func (l *Loop) Clock() Clock { return l.clock }

// Post schedules fn to run on the loop after all previously posted work.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// PostAfter schedules fn to run once d has elapsed. The returned cancel
// function stops the timer; a cancelled timer never fires.
func (l *Loop) PostAfter(d time.Duration, fn func()) (cancel func()) {
	t := &timer{at: l.clock.Now().Add(d), fn: fn}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return func() {}
	}
	l.seq++
	t.seq = l.seq
	l.timers = append(l.timers, t)
	l.mu.Unlock()
	l.signal()
	return func() {
		l.mu.Lock()
		t.stopped = true
		l.mu.Unlock()
	}
}

// Call runs fn on the loop and blocks until it has completed. It must
// not be called from a loop callback (that would deadlock); it exists
// for off-loop readers such as the status server.
func (l *Loop) Call(fn func()) {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// runnable pops the next due unit of work, preferring due timers in
// deadline order so debounce commits observe a consistent ordering.
func (l *Loop) runnable() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	due := -1
	for i, t := range l.timers {
		if t.stopped {
			continue
		}
		if t.at.After(now) {
			continue
		}
		if due == -1 || t.at.Before(l.timers[due].at) ||
			(t.at.Equal(l.timers[due].at) && t.seq < l.timers[due].seq) {
			due = i
		}
	}
	if due >= 0 {
		t := l.timers[due]
		l.timers = append(l.timers[:due], l.timers[due+1:]...)
		return t.fn
	}

	if len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue = l.queue[1:]
		return fn
	}
	return nil
}

// nextDeadline returns the earliest pending timer deadline, if any.
func (l *Loop) nextDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.timers[:0]
	for _, t := range l.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	l.timers = live
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	sort.Slice(l.timers, func(i, j int) bool {
		if l.timers[i].at.Equal(l.timers[j].at) {
			return l.timers[i].seq < l.timers[j].seq
		}
		return l.timers[i].at.Before(l.timers[j].at)
	})
	return l.timers[0].at, true
}

func (l *Loop) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop handler panicked", "panic", r)
		}
	}()
	fn()
}

// Flush runs all queued callbacks and all timers whose deadline has
// passed, to quiescence. Tests drive the loop with Flush plus a manual
// clock; production wiring code may also use it before Run starts.
func (l *Loop) Flush() {
	for {
		fn := l.runnable()
		if fn == nil {
			return
		}
		l.runOne(fn)
	}
}

// Run processes loop work until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Flush()

		var wait <-chan time.Time
		var t *time.Timer
		if at, ok := l.nextDeadline(); ok {
			d := at.Sub(l.clock.Now())
			if d < 0 {
				d = 0
			}
			t = time.NewTimer(d)
			wait = t.C
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			return ctx.Err()
		case <-l.wake:
			if t != nil {
				t.Stop()
			}
		case <-wait:
		}
	}
}
