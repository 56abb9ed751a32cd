// Package track implements the doubly-linked delta-timed event list used
// for both stored songs and runtime buffers (spec §3, §4.3).
//
// Per spec §9's design note, nodes are addressed by pool index rather
// than pointer ("pointer to pointer to next" in the source becomes an
// arena of slots addressed by index here). The end-of-track sentinel is
// the one exception: it is stored inline in the Track header, not pool
// allocated, exactly as specified ("the sentinel is inline in the track
// header").
package track

import "github.com/zurustar/miditransport/pkg/pool"
import "github.com/zurustar/miditransport/pkg/mevent"

// ref addresses a node: either the sentinel (sentinelRef) or a pool
// index (>= 0).
type ref int32

const sentinelRef ref = -1

// Pos is the public cursor type returned by iteration and lookup
// operations. IsEnd reports the end-of-track sentinel.
type Pos struct{ r ref }

// IsEnd reports whether pos addresses the end-of-track sentinel.
func (pos Pos) IsEnd() bool { return pos.r == sentinelRef }

// node is one seqev record: a delta (ticks before this event relative
// to the previous one) and its event (spec §3).
type node struct {
	delta int
	ev    mevent.Event
	next  ref
	prev  ref
}

// Pool is the shared seqev allocator used by every Track. Construct one
// with NewPool and pass it to every New call that
// should share the same arena (spec §9: pools are process-wide
// singletons wrapped by an owning context).
type Pool = pool.Pool[node]

// NewPool builds a seqev pool of the given static capacity.
func NewPool(capacity int) *Pool {
	return pool.New[node](capacity, func(n *node) {
		*n = node{delta: -1, next: sentinelRef, prev: sentinelRef}
	})
}

// Track is a delta-timed event list terminated by an inline
// end-of-track sentinel (spec §3).
type Track struct {
	p        *Pool
	sentinel node // sentinel.delta is the trailing silence; next/prev unused except as loop terminators
	first    ref  // head of the list; sentinelRef when empty
	total    int  // cached sum of all deltas, including the sentinel's
}

// New creates an empty track backed by the given shared pool.
func New(p *Pool) *Track {
	return &Track{p: p, first: sentinelRef, sentinel: node{prev: sentinelRef, next: sentinelRef}}
}

// NumTic returns the track's total tick length: the sum of every
// delta including the sentinel's trailing silence (spec §3 invariant).
func (t *Track) NumTic() int { return t.total }

// First returns a cursor to the head of the track (the sentinel for an
// empty track).
func (t *Track) First() Pos { return Pos{t.first} }

// End returns a cursor to the end-of-track sentinel.
func (t *Track) End() Pos { return Pos{sentinelRef} }

func (t *Track) nodeAt(r ref) *node {
	if r == sentinelRef {
		return &t.sentinel
	}
	return t.p.Get(pool.Index(r))
}

// Next advances a cursor. Calling Next on End() is a no-op (End stays
// End), matching the sentinel's role as the permanent tail.
func (t *Track) Next(pos Pos) Pos {
	if pos.r == sentinelRef {
		return pos
	}
	return Pos{t.nodeAt(pos.r).next}
}

// Prev steps a cursor backward. Prev(First()) returns First() itself
// (there is nothing before the head).
func (t *Track) Prev(pos Pos) Pos {
	if pos.r == t.first {
		return pos
	}
	return Pos{t.nodeAt(pos.r).prev}
}

// Delta returns the delta-time of the event at pos.
func (t *Track) Delta(pos Pos) int { return t.nodeAt(pos.r).delta }

// Event returns the event at pos. Calling this on End() returns an
// Event with Cmd CmdEndOfTrack and no other fields set.
func (t *Track) Event(pos Pos) mevent.Event {
	if pos.IsEnd() {
		return mevent.Event{Cmd: mevent.CmdEndOfTrack}
	}
	return t.nodeAt(pos.r).ev
}

// linkBefore splices a freshly-acquired node idx into the list directly
// before pos, giving idx pos's current delta and zeroing pos's delta
// (spec §4.3: "inserting before a position p must give the new event
// p's current delta and zero p's delta").
func (t *Track) linkBefore(idx ref, pos Pos) {
	n := t.nodeAt(idx)
	target := t.nodeAt(pos.r)

	n.delta = target.delta
	target.delta = 0

	prevRef := target.prev
	n.prev = prevRef
	n.next = pos.r
	target.prev = idx

	if prevRef == sentinelRef && pos.r == t.first {
		t.first = idx
	} else {
		t.nodeAt(prevRef).next = idx
	}
}

// Insert inserts ev before pos with the given delta-before-ev, returning
// a cursor to the newly inserted event (spec §4.3).
func (t *Track) Insert(pos Pos, delta int, ev mevent.Event) (Pos, error) {
	idx, err := t.p.Acquire()
	if err != nil {
		return Pos{}, err
	}
	r := ref(idx)
	t.linkBefore(r, pos)
	n := t.nodeAt(r)
	// n.delta holds pos's former delta, which linkBefore zeroed on pos.
	t.total += delta - n.delta
	n.delta = delta
	n.ev = ev
	return Pos{r}, nil
}

// Remove deletes the event at pos, folding its delta into the following
// event's delta (spec §4.3: "removing a non-sentinel event must add its
// delta to the following event's delta"). Removing the sentinel is not
// permitted; callers must never pass End().
func (t *Track) Remove(pos Pos) {
	if pos.r == sentinelRef {
		return
	}
	n := t.nodeAt(pos.r)
	nextNode := t.nodeAt(n.next)
	nextNode.delta += n.delta

	if pos.r == t.first {
		t.first = n.next
	} else {
		t.nodeAt(n.prev).next = n.next
	}
	nextNode.prev = n.prev

	t.p.Release(pool.Index(pos.r))
}

// Chomp removes every event after pos (exclusive) up to the sentinel,
// folding their deltas, together with the existing trailing silence,
// into the sentinel's delta so the total tick length is unchanged.
func (t *Track) Chomp(pos Pos) {
	if pos.IsEnd() {
		return
	}
	cur := t.nodeAt(pos.r).next
	silence := t.sentinel.delta
	for cur != sentinelRef {
		n := t.nodeAt(cur)
		silence += n.delta
		next := n.next
		t.p.Release(pool.Index(cur))
		cur = next
	}
	t.nodeAt(pos.r).next = sentinelRef
	t.sentinel.prev = pos.r
	t.sentinel.delta = silence
	t.recomputeTotal()
}

// ShiftOrigin advances the track's origin forward by delta ticks: the
// delta is removed from the front of the track, consuming from the
// first event's delta and, once exhausted, removing leading events
// entirely. Used to re-base a runtime buffer after some prefix has
// already played (spec §4.3: "shift origin forward").
func (t *Track) ShiftOrigin(delta int) {
	remaining := delta
	for remaining > 0 && t.first != sentinelRef {
		n := t.nodeAt(t.first)
		if n.delta > remaining {
			n.delta -= remaining
			remaining = 0
			break
		}
		remaining -= n.delta
		old := t.first
		t.first = n.next
		t.nodeAt(n.next).prev = sentinelRef
		t.p.Release(pool.Index(old))
	}
	if remaining > 0 {
		// Ran into the sentinel: shift consumes trailing silence too.
		t.sentinel.delta -= remaining
		if t.sentinel.delta < 0 {
			t.sentinel.delta = 0
		}
	}
	t.recomputeTotal()
}

// Clear empties the track back to a bare sentinel.
func (t *Track) Clear() {
	cur := t.first
	for cur != sentinelRef {
		next := t.nodeAt(cur).next
		t.p.Release(pool.Index(cur))
		cur = next
	}
	t.first = sentinelRef
	t.sentinel = node{prev: sentinelRef, next: sentinelRef}
	t.total = 0
}

// Swap exchanges the contents of two tracks backed by the same pool,
// then fixes up both sentinels' back-pointers so each continues to
// terminate its own track (spec §4.3).
func Swap(a, b *Track) {
	a.first, b.first = b.first, a.first
	a.sentinel, b.sentinel = b.sentinel, a.sentinel
	a.total, b.total = b.total, a.total

	if a.sentinel.prev != sentinelRef {
		a.nodeAt(a.sentinel.prev).next = sentinelRef
	}
	if b.sentinel.prev != sentinelRef {
		b.nodeAt(b.sentinel.prev).next = sentinelRef
	}
}

// recomputeTotal walks the list to recompute the cached total. Used
// after bulk structural changes (Chomp, ShiftOrigin) where incremental
// bookkeeping would be more error-prone than a linear re-scan; tracks
// are bounded in practice (spec §5: bounds on live state ~20), so this
// remains cheap.
func (t *Track) recomputeTotal() {
	total := t.sentinel.delta
	for cur := t.first; cur != sentinelRef; cur = t.nodeAt(cur).next {
		total += t.nodeAt(cur).delta
	}
	t.total = total
}

// absEvent pairs an event with its absolute tick position, used by the
// compound operations below to reason about ordering without juggling
// cursors across two tracks at once.
type absEvent struct {
	abs int
	ev  mevent.Event
}

// absList walks t and returns every event with its absolute tick
// position (the sentinel is excluded; its trailing silence is returned
// separately so callers can preserve total length).
func absList(t *Track) ([]absEvent, int) {
	var out []absEvent
	accum := 0
	for pos := t.First(); !pos.IsEnd(); pos = t.Next(pos) {
		accum += t.Delta(pos)
		out = append(out, absEvent{abs: accum, ev: t.Event(pos)})
	}
	return out, t.sentinel.delta
}

// rebuild clears t and repopulates it from a (must be non-decreasing by
// abs) event list plus trailing silence, recomputing deltas as the
// difference between consecutive absolute positions.
func rebuild(t *Track, events []absEvent, trailingSilence int) error {
	t.Clear()
	prev := 0
	for _, e := range events {
		if _, err := t.Insert(t.End(), e.abs-prev, e.ev); err != nil {
			return err
		}
		prev = e.abs
	}
	t.sentinel.delta = trailingSilence
	t.recomputeTotal()
	return nil
}

// TrackSnapshot is a cheap value-copy of a track's contents, independent
// of the arena slot and free-list state backing it (§4 supplemented
// feature: "checkpoint cheaply without reaching into internals").
type TrackSnapshot struct {
	events          []absEvent
	trailingSilence int
}

// Snapshot captures t's current contents as a plain value, safe to hold
// onto across later mutations of t (the underlying slice is t's own
// copy, not aliased into the pool).
func (t *Track) Snapshot() TrackSnapshot {
	events, silence := absList(t)
	return TrackSnapshot{events: events, trailingSilence: silence}
}

// Restore repopulates t from a snapshot taken earlier, discarding t's
// current contents and returning its arena slots to the free list via
// Clear before re-inserting (same cost as rebuild: O(len(snap.events))).
func (t *Track) Restore(snap TrackSnapshot) error {
	return rebuild(t, snap.events, snap.trailingSilence)
}

// Merge interleaves src's events into dst in absolute-tick order and
// empties src, following the classic tracker "merge two voices into one
// chronological stream" operation (spec §4.3). Events at equal absolute
// positions keep dst's events before src's, a stable tie-break.
func Merge(dst, src *Track) error {
	dstEvents, dstSilence := absList(dst)
	srcEvents, srcSilence := absList(src)

	merged := make([]absEvent, 0, len(dstEvents)+len(srcEvents))
	i, j := 0, 0
	for i < len(dstEvents) && j < len(srcEvents) {
		if dstEvents[i].abs <= srcEvents[j].abs {
			merged = append(merged, dstEvents[i])
			i++
		} else {
			merged = append(merged, srcEvents[j])
			j++
		}
	}
	merged = append(merged, dstEvents[i:]...)
	merged = append(merged, srcEvents[j:]...)

	silence := dstSilence
	if srcSilence > silence {
		silence = srcSilence
	}

	if err := rebuild(dst, merged, silence); err != nil {
		return err
	}
	src.Clear()
	return nil
}

// Cut removes and returns, as a new track, every event in
// [startTick, startTick+length), re-based so the extracted track's own
// origin is startTick (spec §4.3).
func Cut(src *Track, startTick, length int) (*Track, error) {
	all, silence := absList(src)

	var kept, cut []absEvent
	for _, e := range all {
		if e.abs >= startTick && e.abs < startTick+length {
			cut = append(cut, absEvent{abs: e.abs - startTick, ev: e.ev})
		} else {
			kept = append(kept, e)
		}
	}

	if err := rebuild(src, kept, silence); err != nil {
		return nil, err
	}

	out := New(src.p)
	if err := rebuild(out, cut, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// Paste inserts every event of src into dst starting at startTick,
// consuming src (spec §4.3).
func Paste(dst *Track, startTick int, src *Track) error {
	dstEvents, dstSilence := absList(dst)
	srcEvents, _ := absList(src)

	shifted := make([]absEvent, 0, len(srcEvents))
	for _, e := range srcEvents {
		shifted = append(shifted, absEvent{abs: e.abs + startTick, ev: e.ev})
	}

	merged := make([]absEvent, 0, len(dstEvents)+len(shifted))
	i, j := 0, 0
	for i < len(dstEvents) && j < len(shifted) {
		if dstEvents[i].abs <= shifted[j].abs {
			merged = append(merged, dstEvents[i])
			i++
		} else {
			merged = append(merged, shifted[j])
			j++
		}
	}
	merged = append(merged, dstEvents[i:]...)
	merged = append(merged, shifted[j:]...)

	if err := rebuild(dst, merged, dstSilence); err != nil {
		return err
	}
	src.Clear()
	return nil
}
