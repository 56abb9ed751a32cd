package mevent

// Wire-level MIDI 1.0 status bytes (spec §6).
const (
	StatusNoteOff         = 0x80
	StatusNoteOn          = 0x90
	StatusKeyAftertouch   = 0xA0
	StatusController      = 0xB0
	StatusProgramChange   = 0xC0
	StatusChanAftertouch  = 0xD0
	StatusPitchBend       = 0xE0
	StatusSysexStart      = 0xF0
	StatusQuarterFrame    = 0xF1
	StatusSongPosition    = 0xF2
	StatusSongSelect      = 0xF3
	StatusTuneRequest     = 0xF6
	StatusSysexEnd        = 0xF7
	StatusClock           = 0xF8
	StatusStart           = 0xFA
	StatusContinue        = 0xFB
	StatusStop            = 0xFC
	StatusActiveSensing   = 0xFE
	StatusReset           = 0xFF
)

// NRPN/RPN preamble controller numbers (spec §4.2).
const (
	CCNRPNHi     = 99
	CCNRPNLo     = 98
	CCRPNHi      = 101
	CCRPNLo      = 100
	CCDataEntHi  = 6
	CCDataEntLo  = 38
)

// dataBytes returns the number of data bytes following a channel voice
// status byte, or -1 if status is not a channel voice status.
func dataBytes(status byte) int {
	switch status & 0xF0 {
	case StatusProgramChange, StatusChanAftertouch:
		return 1
	case StatusNoteOff, StatusNoteOn, StatusKeyAftertouch, StatusController, StatusPitchBend:
		return 2
	default:
		return -1
	}
}

// isStatus reports whether b is a MIDI status byte (spec §6: 0x80-0xFF).
func isStatus(b byte) bool { return b&0x80 != 0 }

// isRealTime reports whether b is a system real-time byte (spec §6:
// 0xF8-0xFF), which may appear interleaved inside any other message
// without disturbing running status or an in-progress sysex.
func isRealTime(b byte) bool { return b >= 0xF8 }

// RawMessage is a single parsed MIDI wire message prior to semantic
// interpretation: either a channel voice message (Status in 0x80-0xEF
// plus Data), a system real-time byte (Status only), or a complete
// sysex payload (Status == StatusSysexStart, Data holds the payload
// between F0 and F7 exclusive).
type RawMessage struct {
	Status byte
	Data   []byte
}

// RawDecoder turns an inbound MIDI byte stream into RawMessages,
// handling running status and sysex accumulation (spec §3: Device
// "owns its parser state: running status, partial data bytes, optional
// in-progress sysex accumulator").
type RawDecoder struct {
	runningStatus byte
	pending       []byte // data bytes accumulated so far for the current status
	inSysex       bool
	sysexBuf      []byte
}

// Feed consumes one byte and returns (msg, true) if the byte completed a
// RawMessage, or (RawMessage{}, false) otherwise. Sensing-relevant
// traffic (any byte at all) is tracked by the caller, not reported here.
func (d *RawDecoder) Feed(b byte) (RawMessage, bool) {
	if isRealTime(b) {
		// Real-time bytes never disturb running status or an
		// in-progress sysex (spec §6).
		return RawMessage{Status: b}, true
	}

	if b == StatusSysexEnd {
		if d.inSysex {
			d.inSysex = false
			msg := RawMessage{Status: StatusSysexStart, Data: d.sysexBuf}
			d.sysexBuf = nil
			return msg, true
		}
		return RawMessage{}, false
	}

	if d.inSysex {
		d.sysexBuf = append(d.sysexBuf, b)
		return RawMessage{}, false
	}

	if b == StatusSysexStart {
		d.inSysex = true
		d.sysexBuf = nil
		return RawMessage{}, false
	}

	if isStatus(b) {
		if b >= 0xF1 && b < 0xF8 {
			// System common: no running status carried across it,
			// and (other than quarter-frame/song-position/song-select,
			// which the caller routes onward) it carries no data here.
			d.runningStatus = 0
			d.pending = nil
			if b == StatusQuarterFrame || b == StatusSongSelect {
				d.runningStatus = b // reuse as "awaiting 1 data byte"
				d.pending = d.pending[:0]
				return RawMessage{}, false
			}
			if b == StatusSongPosition {
				d.runningStatus = b
				d.pending = d.pending[:0]
				return RawMessage{}, false
			}
			return RawMessage{}, false
		}
		d.runningStatus = b
		d.pending = d.pending[:0]
		return RawMessage{}, false
	}

	// Data byte.
	want := dataBytes(d.runningStatus)
	if want < 0 {
		// System-common pending (quarter-frame/song-position/song-select).
		switch d.runningStatus {
		case StatusQuarterFrame:
			msg := RawMessage{Status: StatusQuarterFrame, Data: []byte{b}}
			d.runningStatus = 0
			return msg, true
		case StatusSongSelect:
			msg := RawMessage{Status: StatusSongSelect, Data: []byte{b}}
			d.runningStatus = 0
			return msg, true
		case StatusSongPosition:
			d.pending = append(d.pending, b)
			if len(d.pending) == 2 {
				msg := RawMessage{Status: StatusSongPosition, Data: append([]byte(nil), d.pending...)}
				d.pending = nil
				d.runningStatus = 0
				return msg, true
			}
			return RawMessage{}, false
		}
		// No running status yet: drop stray data byte.
		return RawMessage{}, false
	}

	d.pending = append(d.pending, b)
	if len(d.pending) == want {
		msg := RawMessage{Status: d.runningStatus, Data: append([]byte(nil), d.pending...)}
		d.pending = d.pending[:0]
		return msg, true
	}
	return RawMessage{}, false
}

// Reset clears all parser state, used when a device reconnects after an
// error (spec §7: device failure is soft, the device stays registered
// but inert until re-attached).
func (d *RawDecoder) Reset() {
	d.runningStatus = 0
	d.pending = nil
	d.inSysex = false
	d.sysexBuf = nil
}
