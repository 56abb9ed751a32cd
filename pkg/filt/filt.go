// Package filt implements the per-channel filter/normalizer and output
// priority mixing sitting between device ingress and the statelists
// (spec §2 component table: "filt, norm, mixout — per-channel rewrite
// rules; output priority mixing").
package filt

import (
	"sort"

	"github.com/zurustar/miditransport/pkg/mevent"
	"github.com/zurustar/miditransport/pkg/state"
)

// Rule is one per-channel rewrite: remap the channel, transpose note
// numbers, and scale velocity. A zero-value Rule is not the identity: its
// Enabled is false, so it drops every event, and its VelocityScale of 0
// zeroes velocities. NewRule returns the identity rule.
type Rule struct {
	SrcChannel     int
	DstChannel     int
	Transpose      int
	VelocityScale  float64
	CCRemap        map[int]int // source controller number -> destination
	Enabled        bool
}

// NewRule returns the identity rule for a channel (no transform besides
// passing the event through unchanged).
func NewRule(channel int) Rule {
	return Rule{SrcChannel: channel, DstChannel: channel, VelocityScale: 1.0, Enabled: true}
}

// Apply rewrites ev per the rule, returning the transformed event and
// whether it should be forwarded at all (a disabled rule drops the
// event entirely, the standard way to mute a channel at the filter
// stage).
func (r Rule) Apply(ev mevent.Event) (mevent.Event, bool) {
	if !r.Enabled {
		return ev, false
	}
	out := ev
	out.Ch = r.DstChannel

	switch ev.Cmd {
	case mevent.CmdNoteOn, mevent.CmdNoteOff, mevent.CmdKeyAftertouch:
		out.V0 = clamp7(ev.V0 + r.Transpose)
		if ev.Cmd != mevent.CmdNoteOff {
			out.V1 = clamp7(int(float64(ev.V1) * r.VelocityScale))
		}
	case mevent.CmdController:
		if r.CCRemap != nil {
			if dst, ok := r.CCRemap[ev.V0]; ok {
				out.V0 = dst
			}
		}
	}
	return out, true
}

func clamp7(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}

// Bank is the set of per-channel rules, one per source channel (spec §2
// "filt"). Channels not present in the bank pass through unmodified.
type Bank struct {
	rules [16]Rule
	set   [16]bool
}

// NewBank returns a bank where every channel starts as identity.
func NewBank() *Bank {
	b := &Bank{}
	for ch := 0; ch < 16; ch++ {
		b.rules[ch] = NewRule(ch)
		b.set[ch] = true
	}
	return b
}

// SetRule installs rule for its SrcChannel.
func (b *Bank) SetRule(rule Rule) {
	if rule.SrcChannel < 0 || rule.SrcChannel >= 16 {
		return
	}
	b.rules[rule.SrcChannel] = rule
	b.set[rule.SrcChannel] = true
}

// Filter applies the bank's rule for ev.Ch, returning the rewritten
// event and whether it survives (false means drop).
func (b *Bank) Filter(ev mevent.Event) (mevent.Event, bool) {
	if ev.Ch < 0 || ev.Ch >= 16 || !b.set[ev.Ch] {
		return ev, true
	}
	return b.rules[ev.Ch].Apply(ev)
}

// Normalize emits the recovery events used on device-level failure:
// "all notes off" and "reset all controllers" on every channel of dev
// that has live state in states (spec §7: "mark the device failed,
// broadcast all notes off and reset all controllers on every active
// channel via the normalizer").
func Normalize(states *state.List, dev int) []mevent.Event {
	live := map[int]bool{}
	if states != nil {
		states.Each(func(st *state.State) {
			if st.Dev == dev {
				live[st.Ch] = true
			}
		})
	}

	channels := make([]int, 0, len(live))
	for ch := range live {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	var out []mevent.Event
	for _, ch := range channels {
		out = append(out,
			mevent.Event{Cmd: mevent.CmdController, Dev: dev, Ch: ch, V0: ccAllNotesOff, V1: 0},
			mevent.Event{Cmd: mevent.CmdController, Dev: dev, Ch: ch, V0: ccResetAllControllers, V1: 0},
		)
	}
	return out
}

const (
	ccAllNotesOff         = 123
	ccResetAllControllers = 121
)

// Priority ranks a submitter for output mixing: higher values win when
// two submitters target the same (dev, ch, controller) simultaneously
// within one tick (spec §2 "mixout": output priority mixing).
type Priority int

// Submission is one candidate event competing for output on a given
// tick, tagged with its submitter's priority.
type Submission struct {
	Event    mevent.Event
	Priority Priority
}

// Mix resolves a batch of same-tick submissions down to one winning
// event per (dev, ch, key), the highest-priority submission for that
// key; ties keep the first-submitted (stable).
func Mix(subs []Submission) []mevent.Event {
	type slot struct {
		sub Submission
		set bool
	}
	winners := map[mevent.Key]slot{}
	order := []mevent.Key{}

	for _, s := range subs {
		k := s.Event.Key()
		cur, ok := winners[k]
		if !ok {
			winners[k] = slot{sub: s, set: true}
			order = append(order, k)
			continue
		}
		if s.Priority > cur.sub.Priority {
			winners[k] = slot{sub: s, set: true}
		}
	}

	out := make([]mevent.Event, 0, len(order))
	for _, k := range order {
		out = append(out, winners[k].sub.Event)
	}
	return out
}
