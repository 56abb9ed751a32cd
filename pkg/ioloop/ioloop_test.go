package ioloop

import (
	"testing"
	"time"
)

func TestNewArmsTimerAndWakeFires(t *testing.T) {
	l, err := New(2 * time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	res, err := l.Wake()
	if err != nil {
		t.Fatalf("Wake failed: %v", err)
	}
	if !res.TimerFired {
		t.Fatalf("expected the timerfd to have fired within its own period")
	}
	if res.Delta < 0 {
		t.Fatalf("expected a non-negative delta, got %v", res.Delta)
	}
}

func TestLargeDeltaDiscardedAsSuspendArtifact(t *testing.T) {
	l, err := New(time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	// Simulate a suspend/resume gap by rewinding lastMonotonic far into
	// the past; the next Wake's computed delta must be discarded.
	l.lastMonotonic -= int64(2 * time.Second)

	res, err := l.Wake()
	if err != nil {
		t.Fatalf("Wake failed: %v", err)
	}
	if res.Delta != 0 {
		t.Fatalf("expected an artificially huge delta to be discarded to zero, got %v", res.Delta)
	}
}

func TestAddRemoveDescriptor(t *testing.T) {
	l, err := New(time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.AddDescriptor(Descriptor{Fd: 99})
	if len(l.descs) != 1 {
		t.Fatalf("expected one registered descriptor")
	}
	l.RemoveDescriptor(99)
	if len(l.descs) != 0 {
		t.Fatalf("expected the descriptor to be removed")
	}
}

func TestQuitFlag(t *testing.T) {
	l, err := New(time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	if l.Quitting() {
		t.Fatalf("expected fresh loop not quitting")
	}
	l.Quit()
	if !l.Quitting() {
		t.Fatalf("expected Quit to set the quitting flag")
	}
}
