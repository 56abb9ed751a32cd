// Package state implements the statelist frame tracker: a most-recently-
// used list of per-key projections of the live event stream (spec §4.4).
package state

import "github.com/zurustar/miditransport/pkg/mevent"

// Flags records the per-state bookkeeping bits (spec §3 "State").
type Flags uint8

const (
	FlagNew Flags = 1 << iota
	FlagChanged
	FlagBogus
	FlagNested
)

// State is one tracked frame: the last-known command/values, its current
// phase, and the flags describing how it got there.
type State struct {
	Key   mevent.Key
	Cmd   mevent.Command
	Dev   int
	Ch    int
	V0    int
	V1    int
	Phase mevent.Phase
	Flags Flags

	next *State // statelist is singly-linked, most-recently-used at head
}

func (st *State) terminated() bool {
	return st.Phase == mevent.PhaseLast
}

func (st *State) stateless() bool {
	return st.Phase == (mevent.PhaseFirst | mevent.PhaseLast)
}

// List is the statelist: a singly-linked, most-recently-used chain of
// open and recently-closed frames (spec §4.4).
type List struct {
	head    *State
	changed bool
}

// New returns an empty statelist.
func New() *List { return &List{} }

// findWithPrev is the unexported scan shared by Lookup and Update; it returns
// the matching state and, when found, its predecessor (nil if it is
// already the head), so update can unlink it for move-to-front.
func (l *List) findWithPrev(key mevent.Key) (st, prev *State) {
	var p *State
	for cur := l.head; cur != nil; cur = cur.next {
		if cur.Key == key {
			return cur, p
		}
		p = cur
	}
	return nil, nil
}

// Lookup returns the first state whose key matches ev, or nil (spec
// §4.4: "average list length is 2-3 so linear scan suffices").
func (l *List) Lookup(ev mevent.Event) *State {
	st, _ := l.findWithPrev(ev.Key())
	return st
}

// Each calls fn for every tracked state, most-recently-used first.
func (l *List) Each(fn func(*State)) {
	for cur := l.head; cur != nil; cur = cur.next {
		fn(cur)
	}
}

// unlink removes st from the chain given its predecessor (nil meaning
// st is the head).
func (l *List) unlink(st, prev *State) {
	if prev == nil {
		l.head = st.next
	} else {
		prev.next = st.next
	}
	st.next = nil
}

// pushFront links st at the head of the chain.
func (l *List) pushFront(st *State) {
	st.next = l.head
	l.head = st
}

// moveToFront re-homes an already-linked state to the head, a no-op if
// it is already there (spec §4.4: "move-to-front, via alloc-new-and-
// free-old per source" — the pointer-linked list here simply relinks).
func (l *List) moveToFront(st, prev *State) {
	if prev == nil {
		return
	}
	l.unlink(st, prev)
	l.pushFront(st)
}

// Update is the central algorithm (spec §4.4's classification table): it
// classifies ev's incoming phase against any existing open state for its
// key, applies the transition, and returns the resulting state with ev's
// values copied in and CHANGED set.
func (l *List) Update(ev mevent.Event) *State {
	ev = ev.Normalize()
	key := ev.Key()
	incoming := ev.Phase()
	existing, prev := l.findWithPrev(key)

	var st *State
	switch {
	case existing == nil:
		st = l.classifyNoMatch(incoming)
		l.pushFront(st)
	case existing.terminated() || existing.Flags&FlagBogus != 0:
		l.unlink(existing, prev)
		st = l.classifyNoMatch(incoming)
		l.pushFront(st)
	default:
		st = l.classifyMatch(existing, incoming)
		if st == existing {
			l.moveToFront(st, prev)
		} else {
			// classifyMatch stacked a new NESTED state in front of
			// existing without unlinking it; existing's position is
			// untouched, so the new node just needs to be pushed on.
			l.pushFront(st)
		}
	}

	st.Key = key
	st.Cmd = ev.Cmd
	st.Dev = ev.Dev
	st.Ch = ev.Ch
	st.V0 = ev.V0
	st.V1 = ev.V1
	st.Flags |= FlagChanged
	l.changed = true
	return st
}

// classifyNoMatch handles the "No match" column of the update table: it
// allocates a fresh state, upgrading NEXT/LAST-only arrivals to BOGUS
// with an added FIRST bit (spec §4.4, §8 invariant: "resulting state has
// BOGUS set, effective phase has FIRST bit").
func (l *List) classifyNoMatch(incoming mevent.Phase) *State {
	st := &State{Phase: incoming, Flags: FlagNew}
	if incoming&mevent.PhaseFirst == 0 {
		st.Flags |= FlagBogus
		st.Phase = incoming | mevent.PhaseFirst
	}
	return st
}

// classifyMatch handles a non-terminated, non-bogus existing state
// matching the incoming phase (spec §4.4's "Matching open state found"
// column).
func (l *List) classifyMatch(existing *State, incoming mevent.Phase) *State {
	switch {
	case incoming == mevent.PhaseFirst:
		// A new FIRST arrives while an identical frame is still
		// open: stack a NESTED state at the head, leaving the
		// existing one behind it untouched.
		existing.Flags |= FlagNested
		return &State{Phase: mevent.PhaseFirst, Flags: FlagNew}
	case incoming == mevent.PhaseNext:
		existing.Phase = mevent.PhaseNext
		existing.Flags &^= FlagNew
		return existing
	case incoming == mevent.PhaseLast:
		existing.Phase = mevent.PhaseLast
		existing.Flags &^= FlagNew
		return existing
	case incoming == (mevent.PhaseFirst | mevent.PhaseLast):
		// Stateless: replace the existing value in place.
		existing.Phase = incoming
		return existing
	case incoming == (mevent.PhaseFirst | mevent.PhaseNext):
		if existing.Flags&FlagNew != 0 {
			existing.Phase = mevent.PhaseFirst
		} else {
			existing.Phase = mevent.PhaseNext
		}
		return existing
	default:
		existing.Phase = incoming
		return existing
	}
}

// Outdate clears CHANGED on every state and deletes states whose phase
// is exactly LAST; FIRST+LAST states are retained (spec §4.4). A no-op
// if nothing changed since the last call.
func (l *List) Outdate() {
	if !l.changed {
		return
	}
	l.changed = false

	var prev *State
	cur := l.head
	for cur != nil {
		cur.Flags &^= FlagChanged
		next := cur.next
		if cur.Phase == mevent.PhaseLast {
			if prev == nil {
				l.head = next
			} else {
				prev.next = next
			}
			cur.next = nil
		} else {
			prev = cur
		}
		cur = next
	}
}

// Cancel returns the event(s) that would undo an open frame: a note-off
// for note-family, reset-to-zero for channel-aftertouch, default value
// for extended controllers, center for pitch-bend (spec §4.4). Returns
// nil if the frame is already in its LAST phase.
func Cancel(st *State) []mevent.Event {
	if st == nil || st.Phase == mevent.PhaseLast {
		return nil
	}
	switch st.Cmd {
	case mevent.CmdNoteOn, mevent.CmdNoteOff, mevent.CmdKeyAftertouch:
		return []mevent.Event{{Cmd: mevent.CmdNoteOff, Dev: st.Dev, Ch: st.Ch, V0: st.V0, V1: 0}}
	case mevent.CmdChanAftertouch:
		return []mevent.Event{{Cmd: mevent.CmdChanAftertouch, Dev: st.Dev, Ch: st.Ch, V0: 0}}
	case mevent.CmdExtController:
		return []mevent.Event{{Cmd: mevent.CmdExtController, Dev: st.Dev, Ch: st.Ch, V0: st.V0, V1: defaultExtControllerValue}}
	case mevent.CmdPitchBend:
		return []mevent.Event{{Cmd: mevent.CmdPitchBend, Dev: st.Dev, Ch: st.Ch, V1: pitchBendCenter}}
	default:
		return nil
	}
}

const (
	defaultExtControllerValue = 0
	pitchBendCenter           = 0x2000
)

// Restore returns the single event that re-establishes this frame's
// last-known value for a listener who tuned in late, or nil for
// note-family, BOGUS, and terminated non-stateless states (spec §4.4).
func Restore(st *State) *mevent.Event {
	if st == nil {
		return nil
	}
	if st.Flags&FlagBogus != 0 {
		return nil
	}
	switch st.Cmd {
	case mevent.CmdNoteOn, mevent.CmdNoteOff, mevent.CmdKeyAftertouch:
		return nil
	}
	if !st.stateless() && st.terminated() {
		return nil
	}
	ev := mevent.Event{Cmd: st.Cmd, Dev: st.Dev, Ch: st.Ch, V0: st.V0, V1: st.V1}
	return &ev
}

// Dup copies every state from src into a freshly allocated dst list,
// preserving relative MRU order (spec §4.4, §8: "lookup(dst, ev) agrees
// with lookup(src, ev)").
func Dup(src *List) *List {
	dst := New()
	// Walk src in MRU-to-LRU order and push in reverse so dst ends up
	// with the identical order (pushFront of the LRU-most state first).
	var states []*State
	for cur := src.head; cur != nil; cur = cur.next {
		states = append(states, cur)
	}
	for i := len(states) - 1; i >= 0; i-- {
		s := states[i]
		cp := *s
		cp.next = nil
		dst.pushFront(&cp)
	}
	dst.changed = src.changed
	return dst
}
