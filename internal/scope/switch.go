package scope

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spyglass-ide/spyglass/internal/stream"
)

// Switch binds a callback to the lifetime of the current value of src.
//
// Whenever src produces a non-nil value distinct from the currently
// scoped one, a fresh scope is acquired under outer, attached to the
// value's own Bag, and onActive is invoked once with the value and the
// scope handle. The scope is released (detached from the outer scope,
// then from the value's bag, then finalized) at the first of: src
// producing a different non-nil value, src producing nil, or outer
// being released. Teardown of the previous scope always completes
// before the next onActive runs, so a callback can never observe two
// live scopes for the same slot.
//
// A panic in onActive is recovered and logged; it neither prevents the
// scope from being torn down later nor blocks subsequent activations.
//
// The returned stop function detaches the switch and tears down any
// live scope.
func Switch[T comparable](
	arena *Arena,
	outer Handle,
	src *stream.Value[T],
	bagOf func(T) *Bag,
	onActive func(T, Handle),
	logger *slog.Logger,
) (stop func()) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var zero T
	cur := zero
	var curHandle Handle
	stopped := false

	teardown := func() {
		if cur == zero {
			return
		}
		v, h := cur, curHandle
		cur, curHandle = zero, Handle{}
		if bag := bagOf(v); bag != nil {
			bag.Detach(h)
		}
		h.Release()
	}

	apply := func(v T) {
		if stopped || v == cur {
			return
		}
		teardown()
		if v == zero {
			return
		}
		if !outer.Valid() {
			return
		}
		h := arena.Acquire(outer)
		if bag := bagOf(v); bag != nil {
			bag.Attach(h)
		}
		cur, curHandle = v, h
		invoke(onActive, v, h, logger)
	}

	cancel := src.Subscribe(apply)

	stop = func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		teardown()
	}

	// Releasing the outer aggregate scope tears the switch down with it.
	outer.Defer(func() { stop() })

	return stop
}

// invoke runs the activation callback with panic isolation.
func invoke[T any](onActive func(T, Handle), v T, h Handle, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scope activation callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	onActive(v, h)
}
