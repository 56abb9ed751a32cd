// Package mevent implements the semantic MIDI event model: the command
// tag, phase bits, per-command evinfo, and the key used by the frame
// tracker in pkg/state (spec §3, §4.2).
package mevent

import "fmt"

// Command tags the kind of a semantic MIDI event. Spec §3 lists ~20
// kinds; this is the full set this core understands.
type Command uint8

const (
	CmdNone Command = iota
	CmdNoteOn
	CmdNoteOff
	CmdKeyAftertouch     // KAT, continuation of a note frame
	CmdChanAftertouch    // CAT, per-channel pressure, stateless
	CmdProgramChange     // PC, stateless
	CmdController        // CTL, 7-bit controller, stateless
	CmdExtController     // XCTL, 14-bit controller, stateless
	CmdPitchBend         // BEND, stateless
	CmdNRPN              // stateless
	CmdRPN               // stateless
	CmdTempo             // tick length in 1/24-us, stateless
	CmdTimeSignature     // beats-per-measure/ticks-per-beat, stateless
	CmdSysex             // custom sysex pattern slot
	CmdMarker            // text marker, stateless
	CmdEndOfTrack        // sentinel command
	CmdNull              // no-op placeholder
)

func (c Command) String() string {
	switch c {
	case CmdNone:
		return "NONE"
	case CmdNoteOn:
		return "NOTEON"
	case CmdNoteOff:
		return "NOTEOFF"
	case CmdKeyAftertouch:
		return "KAT"
	case CmdChanAftertouch:
		return "CAT"
	case CmdProgramChange:
		return "PC"
	case CmdController:
		return "CTL"
	case CmdExtController:
		return "XCTL"
	case CmdPitchBend:
		return "BEND"
	case CmdNRPN:
		return "NRPN"
	case CmdRPN:
		return "RPN"
	case CmdTempo:
		return "TEMPO"
	case CmdTimeSignature:
		return "TIMESIG"
	case CmdSysex:
		return "SYSEX"
	case CmdMarker:
		return "MARKER"
	case CmdEndOfTrack:
		return "EOT"
	case CmdNull:
		return "NULL"
	default:
		return fmt.Sprintf("CMD(%d)", uint8(c))
	}
}

// Phase is the 3-bit mask {FIRST, NEXT, LAST} marking an event's role in
// its frame (spec §3).
type Phase uint8

const (
	PhaseFirst Phase = 1 << iota
	PhaseNext
	PhaseLast
)

func (p Phase) String() string {
	s := ""
	if p&PhaseFirst != 0 {
		s += "F"
	}
	if p&PhaseNext != 0 {
		s += "N"
	}
	if p&PhaseLast != 0 {
		s += "L"
	}
	if s == "" {
		return "-"
	}
	return s
}

// MaxDevices bounds the device index space (spec §3, MAXNDEVS).
const MaxDevices = 32

// Event is the uniform representation of a MIDI action (spec §3).
type Event struct {
	Cmd Command
	Dev int // 0..MaxDevices-1, meaningful when evinfo.HasDevCh
	Ch  int // 0..15, meaningful when evinfo.HasDevCh
	V0  int // first value: note/controller number/NRPN param hi-lo/etc
	V1  int // second value: velocity/value/14-bit value/tick length/etc

	// SysexSlot identifies which custom sysex pattern this event
	// represents, valid only when Cmd == CmdSysex.
	SysexSlot int

	// Text carries decoded marker/cue-point text, valid only when
	// Cmd == CmdMarker. Decoding from a device's legacy text encoding
	// happens in DecodeMarkerText, not here.
	Text string
}

// Normalize applies the note-off-velocity-zero rule (spec §3): a
// note-on with velocity 0 is semantically a note-off. It returns a copy
// with Cmd rewritten when applicable; the original is never mutated.
func (e Event) Normalize() Event {
	if e.Cmd == CmdNoteOn && e.V1 == 0 {
		e.Cmd = CmdNoteOff
	}
	return e
}

// Phase computes the incoming phase for this event, determined solely by
// its command and values (spec §3, §4.4).
func (e Event) Phase() Phase {
	ev := e.Normalize()
	switch ev.Cmd {
	case CmdNoteOn:
		return PhaseFirst
	case CmdNoteOff:
		return PhaseLast
	case CmdKeyAftertouch:
		return PhaseNext
	default:
		// Stateless commands (CAT, PC, CTL, XCTL, BEND, NRPN, RPN,
		// TEMPO, TIMESIG, SYSEX, MARKER, EOT, NULL) carry the
		// current value and are retained across outdate (spec
		// §4.4 outdate: "FIRST+LAST ... are retained").
		return PhaseFirst | PhaseLast
	}
}

// Key identifies which open frame an event belongs to for statelist
// lookup (spec §4.4: "command + discriminating fields").
type Key struct {
	Cmd   Command
	Dev   int
	Ch    int
	Param int // note number / controller number / NRPN-RPN param number / sysex slot; 0 otherwise
}

// Key computes the lookup key for this event.
func (e Event) Key() Key {
	ev := e.Normalize()
	info := Info(ev.Cmd)
	k := Key{Cmd: noteFamily(ev.Cmd)}
	if info.HasDevCh {
		k.Dev = ev.Dev
		k.Ch = ev.Ch
	}
	switch ev.Cmd {
	case CmdNoteOn, CmdNoteOff, CmdKeyAftertouch:
		k.Param = ev.V0 // note number
	case CmdController, CmdExtController:
		k.Param = ev.V0 // controller number
	case CmdNRPN, CmdRPN:
		k.Param = ev.V0 // parameter number
	case CmdSysex:
		k.Param = ev.SysexSlot
	}
	return k
}

// noteFamily folds NOTEON/NOTEOFF/KAT onto a single command for keying
// purposes, since they share one frame per note number (spec §4.4).
func noteFamily(c Command) Command {
	switch c {
	case CmdNoteOn, CmdNoteOff, CmdKeyAftertouch:
		return CmdNoteOn
	default:
		return c
	}
}

// EvInfo describes a command's shape: parameter count, whether it
// carries device/channel, and (for custom sysex commands) the matching
// byte pattern (spec §3).
type EvInfo struct {
	NParams  int // 0, 1, or 2
	HasDevCh bool
	Pattern  []PatternElem // non-nil only for CmdSysex-family entries
}

// PatternElem is one byte position in a custom sysex command's matching
// pattern: either a fixed literal, or a placeholder that extracts/inserts
// V0 or V1 (spec §4.2: "a matching byte pattern with placeholder
// positions for extracting v0/v1").
type PatternElem struct {
	Literal  byte
	IsV0     bool
	IsV1     bool
}

var evinfoTable = map[Command]EvInfo{
	CmdNoteOn:         {NParams: 2, HasDevCh: true},
	CmdNoteOff:        {NParams: 2, HasDevCh: true},
	CmdKeyAftertouch:  {NParams: 2, HasDevCh: true},
	CmdChanAftertouch: {NParams: 1, HasDevCh: true},
	CmdProgramChange:  {NParams: 1, HasDevCh: true},
	CmdController:     {NParams: 2, HasDevCh: true},
	CmdExtController:  {NParams: 2, HasDevCh: true},
	CmdPitchBend:      {NParams: 1, HasDevCh: true},
	CmdNRPN:           {NParams: 2, HasDevCh: true},
	CmdRPN:            {NParams: 2, HasDevCh: true},
	CmdTempo:          {NParams: 1, HasDevCh: false},
	CmdTimeSignature:  {NParams: 2, HasDevCh: false},
	CmdSysex:          {NParams: 2, HasDevCh: true},
	CmdMarker:         {NParams: 0, HasDevCh: false},
	CmdEndOfTrack:     {NParams: 0, HasDevCh: false},
	CmdNull:           {NParams: 0, HasDevCh: false},
}

// Info returns the evinfo record for cmd. Unknown commands return the
// zero EvInfo.
func Info(cmd Command) EvInfo {
	return evinfoTable[cmd]
}

// RegisterSysexPattern installs a custom sysex command's matching
// pattern under a caller-chosen slot id. Slots are looked up by
// (Cmd: CmdSysex, SysexSlot: id); the save/load collaborator (out of
// scope, spec §1) owns assigning stable ids across process runs.
func RegisterSysexPattern(slot int, pattern []PatternElem) {
	sysexPatterns[slot] = pattern
}

var sysexPatterns = map[int][]PatternElem{}

// SysexPattern returns the registered pattern for a slot, or nil if none
// was registered.
func SysexPattern(slot int) []PatternElem {
	return sysexPatterns[slot]
}
