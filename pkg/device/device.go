// Package device implements the MIDI device abstraction: per-port
// parser state, output ring with running-status cache, timing settings,
// sensing timers, and the process-wide device registry (spec §3
// "Device", §4.5 ingress/egress).
package device

import (
	"github.com/zurustar/miditransport/pkg/mevent"
)

// Mode is a bitmask of which direction(s) a device is open for.
type Mode uint8

const (
	ModeIn Mode = 1 << iota
	ModeOut
)

// MaxDevices bounds the registry's by-unit index space (spec §3
// MAXNDEVS, mirrored from pkg/mevent.MaxDevices).
const MaxDevices = mevent.MaxDevices

// Backend is the platform I/O contract a Device drives: open/close,
// byte-level read/write, descriptor reporting for the poll loop, and
// EOF semantics on a vanished device (spec §3 "Device", §9 module
// boundary: real serial/ALSA/CoreMIDI back-ends are out of scope here).
type Backend interface {
	// Fd returns the descriptor to poll for readiness, or -1 if this
	// backend is not descriptor-based.
	Fd() int
	// Read drains up to len(buf) bytes. Returning (0, nil) with no
	// error means "nothing ready right now"; io.EOF signals the
	// device vanished.
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}

// TimingSettings configures a device's relationship to the transport
// clock (spec §3 "Device": "timing settings (tick rate, whether it
// sends MIDI clock, whether it sends MMC, whether it sources clock or
// MTC)").
type TimingSettings struct {
	TickRate    int // device's own ticks-per-quarter-note
	SendClock   bool
	SendMMC     bool
	IsClockSrc  bool
	IsMTCSrc    bool
}

// Stats accumulates per-device observability counters (supplementing
// spec §3 with an explicit metrics surface for operators).
type Stats struct {
	BytesIn      uint64
	BytesOut     uint64
	MessagesIn   uint64
	MessagesOut  uint64
	SenseTimeout uint64 // count of inbound active-sensing watchdog expiries
	Errors       uint64
}

// OutputRing is a bounded byte buffer with a running-status cache,
// queued by Enqueue and drained by Flush (spec §3 "output ring (bounded
// byte buffer plus running-status cache)", §4.5 egress: "running-status
// elision is performed per device").
type OutputRing struct {
	buf           []byte
	cap           int
	runningStatus byte
}

// NewOutputRing creates a ring with the given byte capacity.
func NewOutputRing(capacity int) *OutputRing {
	return &OutputRing{cap: capacity}
}

// ErrRingFull is returned by Enqueue when the ring has no room left.
type ErrRingFull struct{ Capacity int }

func (e *ErrRingFull) Error() string { return "device: output ring full" }

// Enqueue appends msg to the ring, eliding the status byte if it
// matches the cached running status (spec §4.5: "running-status elision
// is performed per device"). Real-time bytes (0xF8-0xFF) and sysex
// (0xF0) never participate in running status.
func (r *OutputRing) Enqueue(msg []byte) error {
	if len(msg) == 0 {
		return nil
	}
	status := msg[0]
	payload := msg
	if status < 0xF0 && status == r.runningStatus {
		payload = msg[1:]
	} else if status < 0xF8 {
		r.runningStatus = status
	}
	if len(r.buf)+len(payload) > r.cap {
		return &ErrRingFull{Capacity: r.cap}
	}
	r.buf = append(r.buf, payload...)
	return nil
}

// Flush returns and clears the queued bytes.
func (r *OutputRing) Flush() []byte {
	out := r.buf
	r.buf = nil
	return out
}

// Len reports how many bytes are currently queued.
func (r *OutputRing) Len() int { return len(r.buf) }

// ResetRunningStatus clears the cached running status, e.g. after a
// device reconnects (spec §7: device failure is soft).
func (r *OutputRing) ResetRunningStatus() { r.runningStatus = 0 }

// Device owns everything needed to talk to one physical or virtual MIDI
// port: its backend, parser state, output ring, mode, timing, and
// sensing timers (spec §3 "Device").
type Device struct {
	Unit    int
	Mode    Mode
	Timing  TimingSettings
	Backend Backend

	Decoder  mevent.RawDecoder
	ConvIn   mevent.ConvState
	ConvOut  mevent.ConvState
	DevOpts  mevent.DeviceOpts
	Output   *OutputRing
	Stats    Stats

	// attached reports whether Backend is live; a device that lost
	// its backend stays registered but inert (spec §7).
	attached bool
}

// NewDevice constructs a device bound to backend in the given mode,
// with a ring of the given output capacity.
func NewDevice(unit int, mode Mode, backend Backend, ringCapacity int) *Device {
	return &Device{
		Unit:     unit,
		Mode:     mode,
		Backend:  backend,
		Output:   NewOutputRing(ringCapacity),
		attached: backend != nil,
	}
}

// Attached reports whether this device currently has a live backend.
func (d *Device) Attached() bool { return d.attached }

// Detach marks the device inert without removing it from the registry
// (spec §7: "the device stays registered but inert until re-attached").
func (d *Device) Detach() {
	d.attached = false
	d.Decoder.Reset()
	d.Output.ResetRunningStatus()
}

// Reattach installs a new backend and marks the device live again.
func (d *Device) Reattach(backend Backend) {
	d.Backend = backend
	d.attached = backend != nil
	d.Decoder.Reset()
	d.Output.ResetRunningStatus()
}

// Drain reads available bytes from the backend and decodes them into
// raw wire messages (spec §4.5 ingress: "bytes drained from a device
// are parsed into raw events"). It returns every complete RawMessage
// produced and whether any byte at all arrived (relevant to the
// sensing watchdog regardless of whether it decoded to a full
// message).
func (d *Device) Drain(scratch []byte) ([]mevent.RawMessage, bool, error) {
	if !d.attached || d.Backend == nil {
		return nil, false, nil
	}
	n, err := d.Backend.Read(scratch)
	if n == 0 {
		return nil, false, err
	}
	d.Stats.BytesIn += uint64(n)

	var msgs []mevent.RawMessage
	for _, b := range scratch[:n] {
		if msg, ok := d.Decoder.Feed(b); ok {
			msgs = append(msgs, msg)
			d.Stats.MessagesIn++
		}
	}
	return msgs, true, err
}

// Registry is the process-wide device list: a parallel by-unit index
// plus the two distinguished clock-source/MTC-source slots, enforcing
// the "at most one of each" invariant (spec §3 "Device": "two slots are
// distinguished: clock source and MTC source; at most one of each
// across the whole system").
type Registry struct {
	byUnit       [MaxDevices]*Device
	clockSource  *Device
	mtcSource    *Device
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// ErrUnitInUse is returned by Register when unit is already occupied.
type ErrUnitInUse struct{ Unit int }

func (e *ErrUnitInUse) Error() string { return "device: unit already registered" }

// ErrUnitOutOfRange is returned when unit falls outside [0, MaxDevices).
type ErrUnitOutOfRange struct{ Unit int }

func (e *ErrUnitOutOfRange) Error() string { return "device: unit out of range" }

// Register installs d at d.Unit.
func (r *Registry) Register(d *Device) error {
	if d.Unit < 0 || d.Unit >= MaxDevices {
		return &ErrUnitOutOfRange{Unit: d.Unit}
	}
	if r.byUnit[d.Unit] != nil {
		return &ErrUnitInUse{Unit: d.Unit}
	}
	r.byUnit[d.Unit] = d
	return nil
}

// Unregister removes the device at unit, clearing it from the clock/MTC
// source slots if it held either.
func (r *Registry) Unregister(unit int) {
	if unit < 0 || unit >= MaxDevices {
		return
	}
	d := r.byUnit[unit]
	if d == nil {
		return
	}
	if r.clockSource == d {
		r.clockSource = nil
	}
	if r.mtcSource == d {
		r.mtcSource = nil
	}
	r.byUnit[unit] = nil
}

// ByUnit returns the device registered at unit, or nil.
func (r *Registry) ByUnit(unit int) *Device {
	if unit < 0 || unit >= MaxDevices {
		return nil
	}
	return r.byUnit[unit]
}

// ErrAlreadyHasClockSource is returned by SetClockSource when another
// device already holds the clock-source slot.
type ErrAlreadyHasClockSource struct{ Unit int }

func (e *ErrAlreadyHasClockSource) Error() string {
	return "device: a clock source is already set"
}

// SetClockSource designates d as the system clock source, failing if
// another device already holds that slot (spec §3 invariant: "at most
// one of each across the whole system"). Passing nil clears the slot.
func (r *Registry) SetClockSource(d *Device) error {
	if d == nil {
		r.clockSource = nil
		return nil
	}
	if r.clockSource != nil && r.clockSource != d {
		return &ErrAlreadyHasClockSource{Unit: r.clockSource.Unit}
	}
	r.clockSource = d
	d.Timing.IsClockSrc = true
	return nil
}

// ClockSource returns the current clock-source device, or nil.
func (r *Registry) ClockSource() *Device { return r.clockSource }

// ErrAlreadyHasMTCSource is returned by SetMTCSource when another device
// already holds the MTC-source slot.
type ErrAlreadyHasMTCSource struct{ Unit int }

func (e *ErrAlreadyHasMTCSource) Error() string {
	return "device: an MTC source is already set"
}

// SetMTCSource designates d as the system MTC source, with the same
// at-most-one invariant as SetClockSource.
func (r *Registry) SetMTCSource(d *Device) error {
	if d == nil {
		r.mtcSource = nil
		return nil
	}
	if r.mtcSource != nil && r.mtcSource != d {
		return &ErrAlreadyHasMTCSource{Unit: r.mtcSource.Unit}
	}
	r.mtcSource = d
	d.Timing.IsMTCSrc = true
	return nil
}

// MTCSource returns the current MTC-source device, or nil.
func (r *Registry) MTCSource() *Device { return r.mtcSource }

// Each calls fn for every registered device in unit order.
func (r *Registry) Each(fn func(*Device)) {
	for _, d := range r.byUnit {
		if d != nil {
			fn(d)
		}
	}
}
