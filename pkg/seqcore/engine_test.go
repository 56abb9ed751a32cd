package seqcore

import (
	"io"
	"testing"
	"time"

	"github.com/zurustar/miditransport/pkg/device"
	"github.com/zurustar/miditransport/pkg/mevent"
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

func TestAttachDeviceClockSourceInvariant(t *testing.T) {
	e := New(DefaultConfig())
	d0 := device.NewDevice(0, device.ModeIn, &fakeBackend{}, 64)
	d0.Timing.IsClockSrc = true
	d0.Timing.TickRate = 24
	if err := e.AttachDevice(d0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d1 := device.NewDevice(1, device.ModeIn, &fakeBackend{}, 64)
	d1.Timing.IsClockSrc = true
	if err := e.AttachDevice(d1); err == nil {
		t.Fatalf("expected a second clock source to be rejected")
	}
}

func TestWakeDrainsIngestsAndFlushes(t *testing.T) {
	e := New(DefaultConfig())
	backend := &fakeBackend{in: []byte{0x90, 0x40, 0x64}} // note-on ch0 note64 vel100
	d := device.NewDevice(3, device.ModeIn|device.ModeOut, backend, 64)
	if err := e.AttachDevice(d); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	res := e.Wake(time.Millisecond)
	if res.BytesDrained != 1 {
		t.Fatalf("expected one drain batch with bytes, got %d", res.BytesDrained)
	}

	st := e.Transport.InState.Lookup(mevent.Event{Cmd: mevent.CmdNoteOn, Dev: 3, Ch: 0, V0: 0x40})
	if st == nil {
		t.Fatalf("expected the ingested note-on to be tracked in the input statelist")
	}
}

func TestPutEventEnqueuesAndWakeFlushes(t *testing.T) {
	e := New(DefaultConfig())
	backend := &fakeBackend{}
	d := device.NewDevice(5, device.ModeOut, backend, 64)
	if err := e.AttachDevice(d); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	if err := e.PutEvent(5, mevent.Event{Cmd: mevent.CmdNoteOn, Dev: 5, Ch: 0, V0: 60, V1: 100}); err != nil {
		t.Fatalf("put event failed: %v", err)
	}

	res := e.Wake(0)
	if res.OutputFlushed == 0 {
		t.Fatalf("expected queued output to flush to the backend")
	}
	if len(backend.out) == 0 {
		t.Fatalf("expected bytes written to the backend")
	}
}

func TestDetachNormalizesInputState(t *testing.T) {
	e := New(DefaultConfig())
	backend := &fakeBackend{in: []byte{0x90, 0x40, 0x64}}
	d := device.NewDevice(2, device.ModeIn, backend, 64)
	e.AttachDevice(d)
	e.Wake(time.Millisecond)

	e.DetachDevice(2)
	if d.Attached() {
		t.Fatalf("expected device marked detached")
	}
	if e.Transport.InState.Lookup(mevent.Event{Cmd: mevent.CmdController, Dev: 2, Ch: 0, V0: 123}) == nil {
		t.Fatalf("expected the all-notes-off recovery event tracked in the input statelist")
	}
}

func TestInternalTimerTicksAdvanceThroughWake(t *testing.T) {
	e := New(DefaultConfig())
	e.Transport.StartRequest()

	var fired int
	for i := 0; i < 20; i++ {
		res := e.Wake(500 * time.Millisecond)
		fired += res.TicksFired
	}
	if fired == 0 {
		t.Fatalf("expected the internal timer path to fire at least one tick across repeated wakes")
	}
}
