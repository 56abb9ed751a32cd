package transport

import (
	"testing"

	"github.com/zurustar/miditransport/pkg/device"
	"github.com/zurustar/miditransport/pkg/mtc"
)

func newTestTransport() *Transport {
	reg := device.NewRegistry()
	return New(reg, Collaborators{})
}

// TestInternalTimerTempoWrap exercises spec §8 scenario 4: with no
// external clock, the first tick must fire exactly MuxStartDelay units
// after start_request, and subsequent ticks every TickLength thereafter.
func TestInternalTimerTempoWrap(t *testing.T) {
	tr := newTestTransport()
	tr.StartRequest()
	if tr.Phase != PhaseStartWait {
		t.Fatalf("expected STARTWAIT after start_request, got %v", tr.Phase)
	}

	results := tr.AdvanceInternal(MuxStartDelay - 1)
	if len(results) != 0 {
		t.Fatalf("expected no tick before MuxStartDelay elapses, got %v", results)
	}
	if tr.Phase != PhaseStartWait {
		t.Fatalf("expected still STARTWAIT, got %v", tr.Phase)
	}

	results = tr.AdvanceInternal(1)
	if len(results) != 1 || !results[0].WasFirst {
		t.Fatalf("expected exactly one first tick at MuxStartDelay, got %v", results)
	}
	if tr.Phase != PhaseFirstTic {
		t.Fatalf("expected FIRST_TIC after the first tick, got %v", tr.Phase)
	}
	if tr.CurTic != 1 {
		t.Fatalf("expected curtic=1, got %d", tr.CurTic)
	}

	results = tr.AdvanceInternal(int64(DefaultUsec24))
	if len(results) != 1 || results[0].WasFirst {
		t.Fatalf("expected exactly one non-first tick after one tick length, got %v", results)
	}
	if tr.Phase != PhaseNextTic {
		t.Fatalf("expected NEXT_TIC, got %v", tr.Phase)
	}
	if tr.CurTic != 2 {
		t.Fatalf("expected curtic=2, got %d", tr.CurTic)
	}
}

func TestInternalTimerFiresMultipleTicksForLargeDelta(t *testing.T) {
	tr := newTestTransport()
	tr.StartRequest()
	tr.AdvanceInternal(MuxStartDelay)

	results := tr.AdvanceInternal(int64(DefaultUsec24) * 3)
	if len(results) != 3 {
		t.Fatalf("expected 3 ticks fired for a 3-tick-length delta, got %d", len(results))
	}
}

// TestSendticOverEmission exercises spec §9(b): when a device's own
// tick rate is a submultiple of the system mux rate (mux_ticrate = 2 *
// ticrate in this test's framing, i.e. the device sends half as many
// ticks as the mux produces), OnExternalTick can
// report more than one mux tick per external tick, preserved verbatim
// per the decided-open-question rather than clamped to at most one.
func TestSendticOverEmission(t *testing.T) {
	clk := &DeviceClock{TicRate: 12, MuxTicRate: 24} // mux_ticrate = 2*ticrate
	fired := clk.OnExternalTick()
	if fired != 2 {
		t.Fatalf("expected 2 mux ticks fired for mux_ticrate=2*ticrate, got %d", fired)
	}
}

func TestDeviceClockOrdinaryOneToOne(t *testing.T) {
	clk := &DeviceClock{TicRate: 24, MuxTicRate: 24}
	for i := 0; i < 5; i++ {
		if fired := clk.OnExternalTick(); fired != 1 {
			t.Fatalf("expected exactly 1 mux tick per external tick at parity, got %d at iter %d", fired, i)
		}
	}
}

func TestStopRequestBroadcastsToSendClockDevices(t *testing.T) {
	reg := device.NewRegistry()
	d0 := device.NewDevice(0, device.ModeOut, nil, 64)
	d0.Timing.SendClock = true
	reg.Register(d0)

	tr := New(reg, Collaborators{})
	tr.StartRequest()
	tr.AdvanceInternal(MuxStartDelay)

	out := tr.StopRequest()
	if len(out) != 1 || out[0].Unit != 0 {
		t.Fatalf("expected a stop byte queued for the sendclk device, got %v", out)
	}
	if tr.Phase != PhaseStop {
		t.Fatalf("expected STOP after stop_request, got %v", tr.Phase)
	}
}

func TestTempoChangeAdjustsNextPosSmoothly(t *testing.T) {
	tr := newTestTransport()
	tr.StartRequest()
	tr.AdvanceInternal(MuxStartDelay) // fires the first tick, entering FIRST_TIC

	before := tr.NextPos
	tr.SetTickLength(DefaultUsec24 * 2)
	want := before + int64(DefaultUsec24)
	if tr.NextPos != want {
		t.Fatalf("expected NextPos shifted by the length delta: want %d got %d", want, tr.NextPos)
	}
}

func TestBuildLocateMessageShape(t *testing.T) {
	out := BuildLocate(mtc.Position{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4, Rate: mtc.Rate30})
	if len(out) != 13 {
		t.Fatalf("expected a 13-byte MMC locate message, got %d bytes", len(out))
	}
	if out[0] != 0xF0 || out[len(out)-1] != 0xF7 {
		t.Fatalf("expected sysex framing bytes, got %#x .. %#x", out[0], out[len(out)-1])
	}
}
