package filt

import (
	"testing"

	"github.com/zurustar/miditransport/pkg/mevent"
	"github.com/zurustar/miditransport/pkg/state"
)

func TestIdentityRulePassesThrough(t *testing.T) {
	r := NewRule(3)
	ev := mevent.Event{Cmd: mevent.CmdNoteOn, Ch: 3, V0: 60, V1: 100}
	got, ok := r.Apply(ev)
	if !ok || got != ev {
		t.Fatalf("expected identity rule to pass event unchanged, got %+v ok=%v", got, ok)
	}
}

func TestDisabledRuleDrops(t *testing.T) {
	r := NewRule(3)
	r.Enabled = false
	_, ok := r.Apply(mevent.Event{Cmd: mevent.CmdNoteOn, Ch: 3, V0: 60, V1: 100})
	if ok {
		t.Fatalf("expected disabled rule to drop the event")
	}
}

func TestTransposeAndVelocityScale(t *testing.T) {
	r := NewRule(0)
	r.Transpose = 12
	r.VelocityScale = 0.5
	got, ok := r.Apply(mevent.Event{Cmd: mevent.CmdNoteOn, Ch: 0, V0: 60, V1: 100})
	if !ok {
		t.Fatalf("expected event to pass")
	}
	if got.V0 != 72 {
		t.Fatalf("expected transposed note 72, got %d", got.V0)
	}
	if got.V1 != 50 {
		t.Fatalf("expected scaled velocity 50, got %d", got.V1)
	}
}

func TestCCRemap(t *testing.T) {
	r := NewRule(0)
	r.CCRemap = map[int]int{7: 11}
	got, _ := r.Apply(mevent.Event{Cmd: mevent.CmdController, Ch: 0, V0: 7, V1: 64})
	if got.V0 != 11 {
		t.Fatalf("expected controller remapped to 11, got %d", got.V0)
	}
}

func TestChannelRemap(t *testing.T) {
	r := NewRule(0)
	r.DstChannel = 5
	got, _ := r.Apply(mevent.Event{Cmd: mevent.CmdProgramChange, Ch: 0, V0: 10})
	if got.Ch != 5 {
		t.Fatalf("expected channel remapped to 5, got %d", got.Ch)
	}
}

func TestNormalizeEmptyStatelistEmitsNothing(t *testing.T) {
	l := state.New()
	out := Normalize(l, 2)
	if len(out) != 0 {
		t.Fatalf("expected no recovery events for an empty statelist, got %+v", out)
	}
}

func TestNormalizeScopesToLiveChannelsOfDevice(t *testing.T) {
	l := state.New()
	l.Update(mevent.Event{Cmd: mevent.CmdNoteOn, Dev: 2, Ch: 3, V0: 60, V1: 100})
	l.Update(mevent.Event{Cmd: mevent.CmdNoteOn, Dev: 2, Ch: 5, V0: 64, V1: 100})
	// Different device: must not contribute a channel to dev 2's recovery.
	l.Update(mevent.Event{Cmd: mevent.CmdNoteOn, Dev: 9, Ch: 7, V0: 67, V1: 100})

	out := Normalize(l, 2)
	if len(out) != 4 {
		t.Fatalf("expected 2 recovery events per live channel * 2 channels = 4, got %d: %+v", len(out), out)
	}
	seen := map[int]int{}
	for _, ev := range out {
		if ev.Dev != 2 {
			t.Fatalf("expected all recovery events tagged with dev=2, got %+v", ev)
		}
		seen[ev.Ch]++
	}
	if seen[3] != 2 || seen[5] != 2 || seen[7] != 0 {
		t.Fatalf("expected recovery events only for channels 3 and 5, got %+v", seen)
	}
}

func TestMixResolvesByPriority(t *testing.T) {
	low := Submission{Event: mevent.Event{Cmd: mevent.CmdController, Ch: 0, V0: 7, V1: 10}, Priority: 1}
	high := Submission{Event: mevent.Event{Cmd: mevent.CmdController, Ch: 0, V0: 7, V1: 90}, Priority: 5}

	got := Mix([]Submission{low, high})
	if len(got) != 1 || got[0].V1 != 90 {
		t.Fatalf("expected the higher-priority submission to win, got %+v", got)
	}
}

func TestMixKeepsDistinctKeys(t *testing.T) {
	a := Submission{Event: mevent.Event{Cmd: mevent.CmdController, Ch: 0, V0: 7, V1: 10}, Priority: 1}
	b := Submission{Event: mevent.Event{Cmd: mevent.CmdController, Ch: 0, V0: 10, V1: 20}, Priority: 1}

	got := Mix([]Submission{a, b})
	if len(got) != 2 {
		t.Fatalf("expected both distinct controller numbers to survive, got %d", len(got))
	}
}
