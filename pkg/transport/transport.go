// Package transport implements the transport/mux phase state machine:
// synchronizing against an external MIDI clock source, an external MTC
// source, or (absent either) an internal timer, and arbitrating ticks
// to and from the device registry (spec §4.5, §3 "Transport").
package transport

import (
	"github.com/zurustar/miditransport/pkg/device"
	"github.com/zurustar/miditransport/pkg/mevent"
	"github.com/zurustar/miditransport/pkg/mtc"
	"github.com/zurustar/miditransport/pkg/state"
)

// Phase is the transport's run phase (spec §4.5 state diagram).
type Phase uint8

const (
	PhaseStop Phase = iota
	PhaseStartWait
	PhaseStart
	PhaseFirstTic
	PhaseNextTic
)

func (p Phase) String() string {
	switch p {
	case PhaseStop:
		return "STOP"
	case PhaseStartWait:
		return "STARTWAIT"
	case PhaseStart:
		return "START"
	case PhaseFirstTic:
		return "FIRST_TIC"
	case PhaseNextTic:
		return "NEXT_TIC"
	default:
		return "UNKNOWN"
	}
}

// Time units (spec §6): the tick length is carried in 1/24-microsecond
// units so tempo round-trips losslessly through the SMF 24-bit
// microseconds-per-quarter representation.
const (
	DefaultUsec24    = 500000 // 120 BPM at 24 ticks/beat
	MuxStartDelay    = 8_000_000
)

// DeviceClock tracks one external clock-source device's accumulated
// tick-rate mismatch against the system tick rate (spec §4.5: "each
// received tick increments clksrc.ticdelta by mux_ticrate, and whenever
// ticdelta >= ticrate a mux tick fires").
type DeviceClock struct {
	TicRate    int
	MuxTicRate int
	ticDelta   int
}

// OnExternalTick advances the clock's accumulator by one external tick
// and reports how many mux ticks that crossing produced (usually 0 or
// 1, but can exceed 1 if MuxTicRate > TicRate, an over-emission the
// specification preserves verbatim rather than clamping).
func (c *DeviceClock) OnExternalTick() int {
	c.ticDelta += c.MuxTicRate
	fired := 0
	for c.ticDelta >= c.TicRate {
		c.ticDelta -= c.TicRate
		fired++
	}
	return fired
}

// Collaborators are the callbacks the transport invokes on tick events;
// both are out-of-scope components in the full system (song playback
// cursor advancement) represented here as plain function hooks (spec
// §4.5 "tick effect").
type Collaborators struct {
	SongMove  func(tick int)
	SongStart func(tick int)
}

// Transport is the process-wide synchronization state (spec §3
// "Transport").
type Transport struct {
	Phase        Phase
	Requested    Phase
	TickLength   int // 1/24-us per tick
	TicksPerUnit int
	CurTic       int
	CurPos       int64
	NextPos      int64

	Registry *device.Registry
	MTC      mtc.Parser
	InState  *state.List
	OutState *state.List

	collab        Collaborators
	startWaitElapsed int64
	clockDev         *DeviceClock
}

// New constructs a transport wired to the given device registry, with
// fresh input/output statelists (spec §3, §9 design note: owned by a single
// context rather than left as package-level globals).
func New(reg *device.Registry, collab Collaborators) *Transport {
	return &Transport{
		Phase:        PhaseStop,
		TickLength:   DefaultUsec24,
		TicksPerUnit: 24,
		Registry:     reg,
		InState:      state.New(),
		OutState:     state.New(),
		collab:       collab,
	}
}

// StartRequest begins the STOP -> STARTWAIT transition (spec §4.5).
func (t *Transport) StartRequest() {
	if t.Phase != PhaseStop {
		return
	}
	t.Phase = PhaseStartWait
	t.startWaitElapsed = 0
	t.CurTic = 0
	t.CurPos = 0
	t.NextPos = int64(t.TickLength)
}

// StopRequest transitions to STOP from any phase at or beyond START,
// emitting MIDI stop to every sendclk device (spec §4.5: "any >= START
// -- stop_request --> STOP (emits MIDI stop to sendclk devices)").
func (t *Transport) StopRequest() []PendingOutput {
	if t.Phase == PhaseStop || t.Phase == PhaseStartWait {
		t.Phase = PhaseStop
		return nil
	}
	t.Phase = PhaseStop
	return t.broadcastRealTime(mevent.StatusStop)
}

// PendingOutput is one real-time byte to be enqueued on a specific
// device's output ring by the caller (the mux itself does not reach
// into device internals beyond the registry lookup here).
type PendingOutput struct {
	Unit int
	Byte byte
}

func (t *Transport) broadcastRealTime(b byte) []PendingOutput {
	var out []PendingOutput
	t.Registry.Each(func(d *device.Device) {
		if d.Timing.SendClock && d != t.Registry.ClockSource() {
			out = append(out, PendingOutput{Unit: d.Unit, Byte: b})
		}
	})
	return out
}

// OnExternalClockTick handles one inbound 0xF8 MIDI-clock byte from the
// clock-source device (spec §4.5 tick arbitration, first clause). Each
// fired tick advances START->FIRST_TIC->NEXT_TIC (STARTWAIT->START is
// OnExternalStart's job), and one TickResult is returned per fired tick
// (normally 0 or 1; see DeviceClock for the over-emission case).
func (t *Transport) OnExternalClockTick() []TickResult {
	if t.clockDev == nil {
		return nil
	}
	fired := t.clockDev.OnExternalTick()
	var results []TickResult
	for i := 0; i < fired; i++ {
		results = append(results, t.fireTick())
	}
	return results
}

// OnExternalStart handles an inbound MIDI start/continue byte while in
// STARTWAIT (spec §4.5: "STARTWAIT -- midi_start (if ClkSrc) --> START").
func (t *Transport) OnExternalStart() {
	if t.Phase == PhaseStartWait && t.Registry.ClockSource() != nil {
		t.Phase = PhaseStart
	}
}

// SetClockDevice installs the accumulator used to arbitrate an external
// clock source's tick rate against the system's (spec §4.5).
func (t *Transport) SetClockDevice(c *DeviceClock) { t.clockDev = c }

// TickResult reports the side effects of one fired tick for the caller
// to act on (broadcast bytes, invoke collaborators — already done
// internally via the Collaborators hooks, but surfaced here too for
// callers that want to observe tick boundaries without hooks).
type TickResult struct {
	Tic      int
	WasFirst bool
	Clock    []PendingOutput
}

// fireTick applies the tick effect (spec §4.5 "Tick effect"): increments
// curtic, broadcasts MIDI clock, and invokes song_movecb or (on the
// first tick after START) song_startcb.
func (t *Transport) fireTick() TickResult {
	wasFirst := t.Phase == PhaseStart
	if t.Phase == PhaseStart {
		t.Phase = PhaseFirstTic
	} else if t.Phase == PhaseFirstTic {
		t.Phase = PhaseNextTic
	}

	t.CurTic++
	clk := t.broadcastTickClock()

	if wasFirst && t.collab.SongStart != nil {
		t.collab.SongStart(t.CurTic)
	} else if !wasFirst && t.collab.SongMove != nil {
		t.collab.SongMove(t.CurTic)
	}

	return TickResult{Tic: t.CurTic, WasFirst: wasFirst, Clock: clk}
}

// broadcastTickClock emits one MIDI-clock byte (0xF8) per fired tick to
// every device with SendClock set that is not itself the clock source.
// A device's own TickRate is not consulted: every such device receives
// clock at the system tick rate.
func (t *Transport) broadcastTickClock() []PendingOutput {
	return t.broadcastRealTime(mevent.StatusClock)
}

// AdvanceInternal drives the transport with the internal timer, used
// when neither an external clock nor MTC source is configured (spec
// §4.5: "If neither exists, the internal timer drives both"). deltaUsec24
// is the elapsed wall-clock delta in 1/24-microsecond units since the
// last call.
func (t *Transport) AdvanceInternal(deltaUsec24 int64) []TickResult {
	if t.Registry.ClockSource() != nil || t.Registry.MTCSource() != nil {
		return nil
	}

	var results []TickResult
	switch t.Phase {
	case PhaseStartWait:
		t.startWaitElapsed += deltaUsec24
		if t.startWaitElapsed >= MuxStartDelay {
			t.Phase = PhaseStart
			t.CurPos = 0
			t.NextPos = int64(t.TickLength)
			results = append(results, t.fireTick())
		}
	case PhaseFirstTic, PhaseNextTic:
		t.CurPos += deltaUsec24
		for t.CurPos >= t.NextPos {
			results = append(results, t.fireTick())
			t.NextPos += int64(t.TickLength)
		}
	}
	return results
}

// SetTickLength changes the running tick length, adjusting NextPos by
// the delta so the in-progress tick's timing drifts smoothly rather
// than jumping (spec §4.5 "Tempo change").
func (t *Transport) SetTickLength(newLength int) {
	delta := int64(newLength - t.TickLength)
	t.TickLength = newLength
	if t.Phase == PhaseFirstTic || t.Phase == PhaseNextTic {
		t.NextPos += delta
	}
}

// PutEvent is the egress entry point (spec §4.5 "Event egress"): the
// submitter hands a voice-like event to the mux, which consults the
// output statelist, unpacks it into wire messages, and returns them for
// the caller to enqueue on the target device's output ring.
func (t *Transport) PutEvent(unit int, ev mevent.Event) [][]byte {
	t.OutState.Update(ev)
	return mevent.Pack(ev)
}

// IngestRaw is the ingress entry point (spec §4.5 "Event ingress"): a
// raw wire message from a device is converted to semantic events (which
// may coalesce 14-bit/NRPN/RPN). Callers that need to run events through
// a filter stage before tracking should do so before calling
// InState.Update themselves; IngestRaw only performs the conversion.
func (t *Transport) IngestRaw(raw mevent.RawMessage, dev, ch int, convState *mevent.ConvState, opts mevent.DeviceOpts) []mevent.Event {
	return mevent.Unpack(raw, dev, ch, convState, opts)
}

// BuildLocate constructs the 13-byte MMC locate sysex message embedding
// hours (with the frame-rate bits packed into the high nibble per MMC
// convention), minutes, seconds, and frames (spec §6: "locate (13
// bytes) embedding hours (with fps bits), minutes, seconds, frames").
func BuildLocate(pos mtc.Position) []byte {
	hoursByte := byte(pos.Hours&0x1F) | byte(pos.Rate&0x3)<<5
	return []byte{
		0xF0, 0x7F, 0x7F, 0x06, 0x44, 0x06, 0x01,
		hoursByte, byte(pos.Minutes), byte(pos.Seconds), byte(pos.Frames), 0x00,
		0xF7,
	}
}

// MMCStart is the sysex MMC "start" message (spec §6).
var MMCStart = []byte{0xF0, 0x7F, 0x7F, 0x06, 0x02, 0xF7}

// MMCStop is the sysex MMC "stop" message (spec §6).
var MMCStop = []byte{0xF0, 0x7F, 0x7F, 0x06, 0x01, 0xF7}

// ActiveSensingOutUsec24 and ActiveSensingInUsec24 are the default
// active-sensing watchdog periods (spec §4.5, §6: 250ms out / 350ms in).
const (
	ActiveSensingOutUsec24 = 250 * 1000 * 24
	ActiveSensingInUsec24  = 350 * 1000 * 24
)
