package stream

import "time"

// subscriber pairs a callback with a stable id so delivery order follows
// subscription order.
type subscriber[T any] struct {
	id int
	fn func(T)
}

// Value is a replay-latest broadcast stream: it always holds a current
// value, and a new subscriber immediately receives that value (delivered
// asynchronously, on the loop) before any subsequent changes.
//
// All methods must be called from the owning loop.
type Value[T any] struct {
	loop *Loop
	cur  T
	eq   func(a, b T) bool
	subs []subscriber[T]
	next int
}

// NewValue creates a Value holding initial.
func NewValue[T any](loop *Loop, initial T) *Value[T] {
	return &Value[T]{loop: loop, cur: initial}
}

// NewDistinctValue creates a Value that suppresses updates equal to the
// current value under eq.
func NewDistinctValue[T any](loop *Loop, initial T, eq func(a, b T) bool) *Value[T] {
	return &Value[T]{loop: loop, cur: initial, eq: eq}
}

// Get returns the current value.
func (v *Value[T]) Get() T { return v.cur }

// Set commits a new value and notifies subscribers in subscription
// order, synchronously within the loop.
func (v *Value[T]) Set(x T) {
	if v.eq != nil && v.eq(v.cur, x) {
		return
	}
	v.cur = x
	// Snapshot so a subscriber cancelling during delivery does not
	// perturb iteration for this change.
	subs := make([]subscriber[T], len(v.subs))
	copy(subs, v.subs)
	for _, s := range subs {
		if v.has(s.id) {
			s.fn(x)
		}
	}
}

func (v *Value[T]) has(id int) bool {
	for _, s := range v.subs {
		if s.id == id {
			return true
		}
	}
	return false
}

// Subscribe registers fn and schedules an immediate delivery of the
// current value. The initial delivery is posted onto the loop rather
// than run inline, so wiring code can finish attaching its own
// subscriptions before observing anything.
func (v *Value[T]) Subscribe(fn func(T)) (cancel func()) {
	v.next++
	id := v.next
	v.subs = append(v.subs, subscriber[T]{id: id, fn: fn})
	v.loop.Post(func() {
		if v.has(id) {
			fn(v.cur)
		}
	})
	return func() {
		for i, s := range v.subs {
			if s.id == id {
				v.subs = append(v.subs[:i], v.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (v *Value[T]) SubscriberCount() int { return len(v.subs) }

// Signal is a broadcast stream with no replay: subscribers only see
// emissions that happen after they subscribe.
type Signal[T any] struct {
	subs []subscriber[T]
	next int
}

// NewSignal creates an empty signal.
func NewSignal[T any]() *Signal[T] { return &Signal[T]{} }

// Emit delivers x to all current subscribers in subscription order.
func (s *Signal[T]) Emit(x T) {
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	for _, sub := range subs {
		alive := false
		for _, cur := range s.subs {
			if cur.id == sub.id {
				alive = true
				break
			}
		}
		if alive {
			sub.fn(x)
		}
	}
}

// Subscribe registers fn for future emissions.
func (s *Signal[T]) Subscribe(fn func(T)) (cancel func()) {
	s.next++
	id := s.next
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	return func() {
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Debounce derives a Value that commits the upstream's latest value only
// after it has been quiescent for window. A superseded pending value is
// cancelled outright and never becomes visible downstream.
func Debounce[T any](loop *Loop, src *Value[T], window time.Duration) *Value[T] {
	out := NewValue(loop, src.Get())
	var pending func()
	first := true
	src.Subscribe(func(x T) {
		if first {
			// The initial replay delivery carries the value out was
			// seeded with; committing it through the window would only
			// delay startup.
			first = false
			return
		}
		if pending != nil {
			pending()
		}
		cancel := loop.PostAfter(window, func() {
			pending = nil
			out.Set(x)
		})
		pending = cancel
	})
	return out
}

// Map derives a Value by applying f to every committed upstream value.
func Map[T, U any](loop *Loop, src *Value[T], f func(T) U) *Value[U] {
	out := NewValue(loop, f(src.Get()))
	src.Subscribe(func(x T) {
		out.Set(f(x))
	})
	return out
}
