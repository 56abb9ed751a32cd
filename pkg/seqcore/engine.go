// Package seqcore wires the sequencer core's components into a single
// owned context and drives them from one entry point, Wake, following
// the per-wake ordering fixed by spec §5 ("Ordering guarantees").
package seqcore

import (
	"log/slog"
	"time"

	"github.com/zurustar/miditransport/pkg/device"
	"github.com/zurustar/miditransport/pkg/errs"
	"github.com/zurustar/miditransport/pkg/filt"
	"github.com/zurustar/miditransport/pkg/logx"
	"github.com/zurustar/miditransport/pkg/mevent"
	"github.com/zurustar/miditransport/pkg/mtc"
	"github.com/zurustar/miditransport/pkg/timeout"
	"github.com/zurustar/miditransport/pkg/track"
	"github.com/zurustar/miditransport/pkg/transport"
)

// usec24FromDuration converts a time.Duration to 1/24-microsecond
// units, the transport's native tick-length unit (spec §6, §9 open
// question (a): truncating toward zero, delta_nsec*24/1000).
func usec24FromDuration(d time.Duration) int64 {
	return d.Nanoseconds() * 24 / 1000
}

// Config bounds the static capacities of the engine's pools (spec §4.1:
// pools are sized statically and never grown on the real-time path).
type Config struct {
	TrackPoolCapacity   int
	OutputRingCapacity  int
	TimeoutWheelEnabled bool
}

// DefaultConfig returns sane static sizes for a single-process instance.
func DefaultConfig() Config {
	return Config{
		TrackPoolCapacity:  4096,
		OutputRingCapacity: 4096,
	}
}

// Engine owns every piece of process-wide state: the device registry,
// transport/mux, timeout wheel, track pool, and filter bank (spec §9
// design note: "owned by a single context rather than left as
// package-level globals").
type Engine struct {
	cfg Config
	log *slog.Logger

	Registry  *device.Registry
	Transport *transport.Transport
	Timeouts  *timeout.Wheel
	TrackPool *track.Pool
	Filters   *filt.Bank

	scratch []byte // reused read buffer for device Drain calls

	senseOut *timeout.Timeout
	senseIn  map[int]*timeout.Timeout
}

// New builds an engine with all components wired together but no
// devices registered yet.
func New(cfg Config) *Engine {
	reg := device.NewRegistry()
	e := &Engine{
		cfg:       cfg,
		log:       logx.For("seqcore"),
		Registry:  reg,
		Timeouts:  timeout.New(),
		TrackPool: track.NewPool(cfg.TrackPoolCapacity),
		Filters:   filt.NewBank(),
		scratch:   make([]byte, 4096),
		senseIn:   map[int]*timeout.Timeout{},
	}
	e.Transport = transport.New(reg, transport.Collaborators{
		SongMove:  e.onSongMove,
		SongStart: e.onSongStart,
	})
	return e
}

// onSongMove and onSongStart are the transport's tick collaborators;
// a full player/sequencer would advance a playback cursor here. This
// core's scope ends at the transport boundary (spec §2 component
// table places song playback in a separate, out-of-scope layer).
func (e *Engine) onSongMove(tick int)  { e.log.Debug("tick", "tic", tick) }
func (e *Engine) onSongStart(tick int) { e.log.Debug("first tick", "tic", tick) }

// AttachDevice registers a device and, if requested, claims the
// clock-source or MTC-source slot (spec §3 "at most one of each").
func (e *Engine) AttachDevice(d *device.Device) error {
	if err := e.Registry.Register(d); err != nil {
		return errs.Wrap(errs.Device, "seqcore", "attach device failed", err)
	}
	if d.Timing.IsClockSrc {
		if err := e.Registry.SetClockSource(d); err != nil {
			return errs.Wrap(errs.Device, "seqcore", "claim clock source failed", err)
		}
		e.Transport.SetClockDevice(&transport.DeviceClock{
			TicRate:    d.Timing.TickRate,
			MuxTicRate: e.Transport.TicksPerUnit,
		})
	}
	if d.Timing.IsMTCSrc {
		if err := e.Registry.SetMTCSource(d); err != nil {
			return errs.Wrap(errs.Device, "seqcore", "claim mtc source failed", err)
		}
	}
	return nil
}

// DetachDevice marks a device inert and feeds the recovery events from
// filt.Normalize (all notes off / reset controllers on the device's live
// channels) into the input statelist only; the events are not sent to
// any device's output.
func (e *Engine) DetachDevice(unit int) {
	d := e.Registry.ByUnit(unit)
	if d == nil {
		return
	}
	d.Detach()
	e.log.Warn("device detached", "unit", unit)
	events := filt.Normalize(e.Transport.InState, unit)
	for _, ev := range events {
		e.Transport.InState.Update(ev)
	}
}

// WakeResult summarizes the work performed by one Wake call, primarily
// for tests and diagnostics.
type WakeResult struct {
	TicksFired   int
	BytesDrained int
	OutputFlushed int
}

// Wake runs one full cycle of the engine's six-step ordering (spec §5
// "Ordering guarantees"):
//  1. device input is drained in registry order,
//  2. raw bytes are decoded and semantically ingested,
//  3. the elapsed wall-clock delta (already computed by the I/O driver)
//     is converted once to 1/24-microsecond units,
//  4. the timeout wheel is advanced by that delta,
//  5. transport tick processing runs (internal timer path only; an
//     external clock source instead drives ticks from step 2's ingested
//     bytes, and with an MTC source quarter-frames are reassembled into
//     positions but no ticks are generated),
//  6. any queued output is flushed back to each device's backend.
func (e *Engine) Wake(elapsed time.Duration) WakeResult {
	var res WakeResult

	e.Registry.Each(func(d *device.Device) {
		if !d.Attached() {
			return
		}
		msgs, sawByte, err := d.Drain(e.scratch)
		if err != nil {
			e.log.Warn("device read error", "unit", d.Unit, "err", err)
		}
		if sawByte {
			res.BytesDrained++
		}
		for _, raw := range msgs {
			e.ingestOne(d, raw)
		}
	})

	deltaUsec24 := usec24FromDuration(elapsed)
	if deltaUsec24 < 0 {
		deltaUsec24 = 0
	}
	if deltaUsec24 > 0 && deltaUsec24 <= 1<<31 {
		e.Timeouts.Update(uint32(deltaUsec24))
	}

	for _, tr := range e.Transport.AdvanceInternal(deltaUsec24) {
		res.TicksFired++
		_ = tr
	}

	e.Registry.Each(func(d *device.Device) {
		if !d.Attached() {
			return
		}
		out := d.Output.Flush()
		if len(out) == 0 {
			return
		}
		n, err := d.Backend.Write(out)
		if err != nil {
			e.log.Warn("device write error", "unit", d.Unit, "err", err)
		}
		d.Stats.BytesOut += uint64(n)
		res.OutputFlushed += n
	})

	return res
}

// ingestOne decodes one raw message from d, runs it through the filter
// bank and input statelist, and handles clock/MTC real-time bytes by
// forwarding them to the transport (spec §4.5 ingress).
func (e *Engine) ingestOne(d *device.Device, raw mevent.RawMessage) {
	switch raw.Status {
	case mevent.StatusClock:
		if d == e.Registry.ClockSource() {
			e.Transport.OnExternalClockTick()
		}
		return
	case mevent.StatusStart, mevent.StatusContinue:
		if d == e.Registry.ClockSource() {
			e.Transport.OnExternalStart()
		}
		return
	case mevent.StatusQuarterFrame:
		if d == e.Registry.MTCSource() && len(raw.Data) >= 1 {
			messageType := int(raw.Data[0]>>4) & 0x7
			value := int(raw.Data[0]) & 0xF
			e.feedMTC(messageType, value)
		}
		return
	}

	ch := 0
	if raw.Status >= 0x80 && raw.Status < 0xF0 {
		ch = int(raw.Status & 0x0F)
	}
	events := e.Transport.IngestRaw(raw, d.Unit, ch, &d.ConvIn, d.DevOpts)
	for _, ev := range events {
		filtered, ok := e.Filters.Filter(ev)
		if !ok {
			continue
		}
		e.Transport.InState.Update(filtered)
	}
}

func (e *Engine) feedMTC(messageType, value int) {
	pos, complete := e.Transport.MTC.FeedQuarterFrame(messageType, value)
	if complete {
		e.log.Debug("mtc position", "hours", pos.Hours, "minutes", pos.Minutes, "seconds", pos.Seconds, "frames", pos.Frames)
	}
}

// PutEvent submits an event for egress on unit's output device,
// packing it to wire bytes and enqueuing them on the device's output
// ring (spec §4.5 "Event egress").
func (e *Engine) PutEvent(unit int, ev mevent.Event) error {
	d := e.Registry.ByUnit(unit)
	if d == nil {
		return errs.New(errs.Device, "seqcore", "put event to unknown unit")
	}
	filtered, ok := e.Filters.Filter(ev)
	if !ok {
		return nil
	}
	for _, msg := range e.Transport.PutEvent(unit, filtered) {
		if err := d.Output.Enqueue(msg); err != nil {
			return errs.Wrap(errs.Device, "seqcore", "output ring enqueue failed", err)
		}
	}
	return nil
}

// ArmActiveSensingOut schedules the outbound active-sensing watchdog
// for a device (spec §6: "250ms out"). cb is invoked when the timer
// fires; callers typically re-arm from within cb to keep the watchdog
// periodic.
func (e *Engine) ArmActiveSensingOut(unit int, cb timeout.Callback) {
	t := &timeout.Timeout{}
	e.Timeouts.Add(t, uint32(transport.ActiveSensingOutUsec24), cb, unit)
}
