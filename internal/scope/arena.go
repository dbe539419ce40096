// Package scope implements arena-style resource scoping: every live
// scope is an index into an explicit slot table, released by handle.
// Parent/child relationships are explicit index links, and each tracked
// value (document, session, context) owns a Bag of handles that are
// released when the value goes away.
package scope

// invalid marks a slot with no parent.
const invalid = -1

type slot struct {
	gen        uint64
	active     bool
	parent     int
	children   []int
	finalizers []func()
}

// Handle identifies one live scope in an Arena. The zero Handle is
// never valid.
type Handle struct {
	arena *Arena
	index int
	gen   uint64
}

// Arena owns the slot table. All methods must run on the hub's event
// loop; the arena carries no locking of its own.
type Arena struct {
	slots []slot
	free  []int
}

// NewArena creates an empty arena.
func NewArena() *Arena { return &Arena{} }

// Acquire allocates a new scope. If parent is valid, the new scope is
// released automatically when the parent is released, children first.
func (a *Arena) Acquire(parent Handle) Handle {
	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = len(a.slots) - 1
	}
	s := &a.slots[idx]
	s.gen++
	s.active = true
	s.parent = invalid
	s.children = nil
	s.finalizers = nil

	h := Handle{arena: a, index: idx, gen: s.gen}
	if parent.Valid() {
		s.parent = parent.index
		p := &a.slots[parent.index]
		p.children = append(p.children, idx)
	}
	return h
}

// Live returns the number of active scopes. Test hook.
func (a *Arena) Live() int {
	n := 0
	for _, s := range a.slots {
		if s.active {
			n++
		}
	}
	return n
}

// Valid reports whether the handle still refers to a live scope.
func (h Handle) Valid() bool {
	if h.arena == nil || h.index < 0 || h.index >= len(h.arena.slots) {
		return false
	}
	s := &h.arena.slots[h.index]
	return s.active && s.gen == h.gen
}

// Defer registers fn to run when the scope is released. Finalizers run
// in reverse registration order, after all child scopes are gone.
func (h Handle) Defer(fn func()) {
	if !h.Valid() {
		fn()
		return
	}
	s := &h.arena.slots[h.index]
	s.finalizers = append(s.finalizers, fn)
}

// Release tears the scope down: children first (most recent first),
// then this scope's finalizers in reverse order, then the slot is
// returned to the free list. Releasing an already-released handle is a
// no-op, so release is idempotent under racing teardown paths.
func (h Handle) Release() {
	if !h.Valid() {
		return
	}
	a := h.arena
	s := &a.slots[h.index]

	// Detach from the parent before finalizing so a finalizer that
	// releases the parent cannot recurse back into this slot.
	if s.parent != invalid {
		p := &a.slots[s.parent]
		for i, c := range p.children {
			if c == h.index {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
		s.parent = invalid
	}

	for len(s.children) > 0 {
		c := s.children[len(s.children)-1]
		child := Handle{arena: a, index: c, gen: a.slots[c].gen}
		child.Release()
	}

	fins := s.finalizers
	s.finalizers = nil
	s.active = false
	for i := len(fins) - 1; i >= 0; i-- {
		fins[i]()
	}
	a.free = append(a.free, h.index)
}

// Bag is the disposal registry owned by one tracked value. Handles
// attached to the bag are released when the bag is released, covering
// the "value destroyed while scoped" path.
type Bag struct {
	handles  []Handle
	released bool
}

// NewBag creates an empty bag.
func NewBag() *Bag { return &Bag{} }

// Attach registers h for release when the bag is released. Attaching to
// an already-released bag releases h immediately.
func (b *Bag) Attach(h Handle) {
	if b.released {
		h.Release()
		return
	}
	b.handles = append(b.handles, h)
}

// Detach removes h from the bag without releasing it.
func (b *Bag) Detach(h Handle) {
	for i, held := range b.handles {
		if held == h {
			b.handles = append(b.handles[:i], b.handles[i+1:]...)
			return
		}
	}
}

// Release releases every attached handle, in attachment order, and
// marks the bag dead. Idempotent.
func (b *Bag) Release() {
	if b.released {
		return
	}
	b.released = true
	held := b.handles
	b.handles = nil
	for _, h := range held {
		h.Release()
	}
}

// Released reports whether the bag has been released.
func (b *Bag) Released() bool { return b.released }
