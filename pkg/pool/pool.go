// Package pool implements the fixed-size object pool used for the
// sequencer core's seqev records (pkg/track).
//
// Spec §4.1: a pool is a bump-allocated block of N slots; free slots are
// threaded as a free list; acquire/release are O(1); acquire fails fatally
// when the free list is empty because pools are sized statically, never
// grown on a real-time path.
//
// Per §9's design note, slots are addressed by index rather than pointer:
// this keeps the arena relocatable and makes snapshot/restore (used by
// pkg/track for undo-friendly checkpoints) a plain value copy.
package pool

import "fmt"

// Index identifies a slot within a Pool. The zero Index is slot 0, an
// ordinary handle; an Index carries no validity flag, so callers track
// validity externally (e.g. a sentinel or an "in use" bitmap) the same
// way the track package tracks "is this the sentinel".
type Index int32

// ErrExhausted is returned by Acquire when the pool has no free slots.
// Pools are sized statically (spec §4.1): in the real-time paths this
// specification targets, this is always a fatal condition for the
// caller, never something to retry.
type ErrExhausted struct {
	Capacity int
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("pool: exhausted (capacity %d)", e.Capacity)
}

// Pool is a fixed-capacity arena of T with O(1) acquire/release.
//
// Not safe for concurrent use: the whole sequencer core is single
// threaded by design (spec §5).
type Pool[T any] struct {
	slots    []T
	next     []int32 // free-list links, parallel to slots; -1 terminates
	freeHead int32   // -1 when empty
	poison   func(*T)
}

const freeListEnd = -1

// New creates a Pool with capacity n. poison, if non-nil, is invoked on a
// slot's value when it is released, to catch use-after-free in tests
// (spec §4.1: "release may overwrite the released slot with a debug
// sentinel").
func New[T any](n int, poison func(*T)) *Pool[T] {
	p := &Pool[T]{
		slots:  make([]T, n),
		next:   make([]int32, n),
		poison: poison,
	}
	for i := 0; i < n; i++ {
		if i == n-1 {
			p.next[i] = freeListEnd
		} else {
			p.next[i] = int32(i + 1)
		}
	}
	if n == 0 {
		p.freeHead = freeListEnd
	}
	return p
}

// Cap returns the pool's static capacity.
func (p *Pool[T]) Cap() int { return len(p.slots) }

// Acquire unlinks a slot from the head of the free list and returns its
// index. Returns ErrExhausted if no slot is free.
func (p *Pool[T]) Acquire() (Index, error) {
	if p.freeHead == freeListEnd {
		return 0, &ErrExhausted{Capacity: len(p.slots)}
	}
	idx := p.freeHead
	p.freeHead = p.next[idx]
	return Index(idx), nil
}

// Release links idx back at the head of the free list. Releasing an
// already-free index corrupts the free list (as in the source material);
// callers are responsible for releasing each acquired index exactly once.
func (p *Pool[T]) Release(idx Index) {
	i := int32(idx)
	if p.poison != nil {
		p.poison(&p.slots[i])
	}
	p.next[i] = p.freeHead
	p.freeHead = i
}

// Get returns a pointer to the slot's payload. Valid for both free and
// in-use slots; callers must not dereference a freed slot's payload as
// meaningful data once poison has run.
func (p *Pool[T]) Get(idx Index) *T {
	return &p.slots[idx]
}

// Free reports how many slots are currently unallocated. O(n); intended
// for diagnostics and tests, not the real-time path.
func (p *Pool[T]) Free() int {
	n := 0
	for i := p.freeHead; i != freeListEnd; i = p.next[i] {
		n++
	}
	return n
}
