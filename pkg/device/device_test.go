package device

import (
	"io"
	"testing"
)

type fakeBackend struct {
	in     []byte
	out    []byte
	closed bool
}

func (f *fakeBackend) Fd() int { return -1 }
func (f *fakeBackend) Read(buf []byte) (int, error) {
	if f.closed {
		return 0, io.EOF
	}
	n := copy(buf, f.in)
	f.in = f.in[n:]
	return n, nil
}
func (f *fakeBackend) Write(buf []byte) (int, error) {
	f.out = append(f.out, buf...)
	return len(buf), nil
}
func (f *fakeBackend) Close() error { f.closed = true; return nil }

func TestOutputRingElidesRunningStatus(t *testing.T) {
	r := NewOutputRing(64)
	r.Enqueue([]byte{0x90, 60, 100})
	r.Enqueue([]byte{0x90, 64, 100}) // same status, should elide

	got := r.Flush()
	want := []byte{0x90, 60, 100, 64, 100}
	if len(got) != len(want) {
		t.Fatalf("expected elided output %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected elided output %v, got %v", want, got)
		}
	}
}

func TestOutputRingResetsOnStatusChange(t *testing.T) {
	r := NewOutputRing(64)
	r.Enqueue([]byte{0x90, 60, 100})
	r.Enqueue([]byte{0x80, 60, 0}) // different status: full message

	got := r.Flush()
	if len(got) != 6 {
		t.Fatalf("expected both messages emitted in full, got %v", got)
	}
}

func TestOutputRingRejectsOverflow(t *testing.T) {
	r := NewOutputRing(2)
	if err := r.Enqueue([]byte{0x90, 60, 100}); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestDrainParsesBytesIntoMessages(t *testing.T) {
	fb := &fakeBackend{in: []byte{0x90, 60, 100, 0x80, 60, 0}}
	d := NewDevice(0, ModeIn, fb, 256)

	scratch := make([]byte, 32)
	msgs, any, err := d.Drain(scratch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !any {
		t.Fatalf("expected sensing-relevant traffic reported")
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 decoded messages, got %d", len(msgs))
	}
	if d.Stats.BytesIn != 6 || d.Stats.MessagesIn != 2 {
		t.Fatalf("expected stats updated, got %+v", d.Stats)
	}
}

func TestRegistryUnitInvariants(t *testing.T) {
	r := NewRegistry()
	d0 := NewDevice(0, ModeIn, nil, 64)
	d1 := NewDevice(0, ModeIn, nil, 64)

	if err := r.Register(d0); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if err := r.Register(d1); err == nil {
		t.Fatalf("expected error registering a second device at the same unit")
	}
	if r.ByUnit(0) != d0 {
		t.Fatalf("expected ByUnit to return the registered device")
	}
}

func TestClockSourceAtMostOne(t *testing.T) {
	r := NewRegistry()
	a := NewDevice(0, ModeIn, nil, 64)
	b := NewDevice(1, ModeIn, nil, 64)
	r.Register(a)
	r.Register(b)

	if err := r.SetClockSource(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.SetClockSource(b); err == nil {
		t.Fatalf("expected error setting a second clock source")
	}
	if err := r.SetClockSource(a); err != nil {
		t.Fatalf("re-setting the same device as clock source must succeed: %v", err)
	}
	if err := r.SetClockSource(nil); err != nil {
		t.Fatalf("clearing the clock source must succeed: %v", err)
	}
	if err := r.SetClockSource(b); err != nil {
		t.Fatalf("expected b to become clock source after clearing: %v", err)
	}
}

func TestDetachReattach(t *testing.T) {
	fb := &fakeBackend{}
	d := NewDevice(0, ModeIn|ModeOut, fb, 64)
	if !d.Attached() {
		t.Fatalf("expected attached after construction with a backend")
	}
	d.Detach()
	if d.Attached() {
		t.Fatalf("expected detached")
	}
	msgs, any, err := d.Drain(make([]byte, 8))
	if msgs != nil || any || err != nil {
		t.Fatalf("expected drain on a detached device to be a no-op")
	}
	d.Reattach(fb)
	if !d.Attached() {
		t.Fatalf("expected reattach to restore attached state")
	}
}
