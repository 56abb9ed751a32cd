// conv.go implements pack/unpack between semantic Events and MIDI wire
// bytes, including the 14-bit controller and NRPN/RPN macro forms
// (spec §4.2).
package mevent

// NumRev bounds how many events a single Unpack call may coalesce-emit
// (spec §4.2: "Unpack returns 0..CONV_NUMREV events per call").
const NumRev = 4

// EvSet flags which of {XCTL, NRPN, RPN} conversions are enabled, on the
// input or output side of a device (spec §3: ievset/oevset).
type EvSet struct {
	XCTL bool
	NRPN bool
	RPN  bool
}

// DeviceOpts bundles the per-device conversion configuration consulted
// by Pack/Unpack (spec §4.2).
type DeviceOpts struct {
	// XCtlSet marks which 0-31 controller numbers are 14-bit on this
	// device (ixctlset on input, oxctlset on output); spec §3.
	XCtlSet map[int]bool
	EvSet   EvSet

	// MarkerTextEncoding names the legacy byte encoding this device's
	// marker sysex payloads (manufacturer id 0x7D, the MIDI
	// non-commercial/research reserved id) are written in.
	MarkerTextEncoding TextEncoding
}

// markerSysexID is the MIDI-reserved manufacturer id for
// non-commercial/educational use, repurposed here as this core's
// marker-text sysex convention (spec §3 evinfo: marker/cue-point meta
// strings carried in custom sysex patterns).
const markerSysexID = 0x7D

// unpackSysex converts a complete sysex payload into either a marker
// event (when it starts with markerSysexID) or a CmdSysex event
// matching a registered custom pattern, returning ok=false if neither
// applies.
func unpackSysex(raw RawMessage, dev int, opts DeviceOpts) (Event, bool) {
	if len(raw.Data) >= 1 && raw.Data[0] == markerSysexID {
		text, err := DecodeMarkerText(raw.Data[1:], opts.MarkerTextEncoding)
		if err != nil {
			return Event{}, false
		}
		return Event{Cmd: CmdMarker, Dev: dev, Text: text}, true
	}

	for slot, pattern := range sysexPatterns {
		if len(pattern) != len(raw.Data) {
			continue
		}
		v0, v1 := 0, 0
		matched := true
		for i, pe := range pattern {
			switch {
			case pe.IsV0:
				v0 = int(raw.Data[i])
			case pe.IsV1:
				v1 = int(raw.Data[i])
			default:
				if raw.Data[i] != pe.Literal {
					matched = false
				}
			}
			if !matched {
				break
			}
		}
		if matched {
			return Event{Cmd: CmdSysex, Dev: dev, SysexSlot: slot, V0: v0, V1: v1}, true
		}
	}
	return Event{}, false
}

// TickLenToUsec converts a tick length in 1/24-microsecond units to
// whole microseconds per tick (truncating), losslessly for values that
// are multiples of 24 (spec §6).
func TickLenToUsec(tickLen int) int { return tickLen / 24 }

// UsecToTickLen converts microseconds per tick to a tick length in
// 1/24-microsecond units (spec §6).
func UsecToTickLen(usec int) int { return usec * 24 }

// Pack consults evinfo to encode ev as one or more complete wire
// messages (spec §4.2): a single voice message, or a multi-message
// macro for XCTL/NRPN/RPN/tempo/timesig/custom-sysex. The caller (the
// device's output stage) is responsible for running-status elision when
// flushing messages to the wire; Pack always emits full messages with
// status bytes.
func Pack(ev Event) [][]byte {
	ev = ev.Normalize()
	status := func(base byte) byte { return base | byte(ev.Ch&0x0F) }

	switch ev.Cmd {
	case CmdNoteOn:
		return [][]byte{{status(StatusNoteOn), byte(ev.V0 & 0x7F), byte(ev.V1 & 0x7F)}}
	case CmdNoteOff:
		return [][]byte{{status(StatusNoteOff), byte(ev.V0 & 0x7F), byte(ev.V1 & 0x7F)}}
	case CmdKeyAftertouch:
		return [][]byte{{status(StatusKeyAftertouch), byte(ev.V0 & 0x7F), byte(ev.V1 & 0x7F)}}
	case CmdChanAftertouch:
		return [][]byte{{status(StatusChanAftertouch), byte(ev.V0 & 0x7F)}}
	case CmdProgramChange:
		return [][]byte{{status(StatusProgramChange), byte(ev.V0 & 0x7F)}}
	case CmdController:
		return [][]byte{{status(StatusController), byte(ev.V0 & 0x7F), byte(ev.V1 & 0x7F)}}
	case CmdPitchBend:
		v := ev.V1 & 0x3FFF
		return [][]byte{{status(StatusPitchBend), byte(v & 0x7F), byte((v >> 7) & 0x7F)}}
	case CmdExtController:
		msb := byte((ev.V1 >> 7) & 0x7F)
		lsb := byte(ev.V1 & 0x7F)
		ctl := ev.V0 & 0x1F
		return [][]byte{
			{status(StatusController), byte(ctl), msb},
			{status(StatusController), byte(ctl + 32), lsb},
		}
	case CmdNRPN:
		return packRPNLike(status, CCNRPNHi, CCNRPNLo, ev.V0, ev.V1)
	case CmdRPN:
		return packRPNLike(status, CCRPNHi, CCRPNLo, ev.V0, ev.V1)
	case CmdTempo:
		usec := TickLenToUsec(ev.V1)
		return [][]byte{{0xFF, 0x51, 0x03, byte(usec >> 16), byte(usec >> 8), byte(usec)}}
	case CmdTimeSignature:
		// Simplified core-internal form: the full 4-byte SMF time
		// signature meta (with denominator power, clocks-per-click,
		// 32nds-per-quarter) is the SMF codec's concern (out of
		// scope, spec §1); this core only carries the two fields
		// the event model defines.
		return [][]byte{{0xFF, 0x58, 0x02, byte(ev.V0 & 0xFF), byte(ev.V1 & 0xFF)}}
	case CmdSysex:
		pattern := SysexPattern(ev.SysexSlot)
		if pattern == nil {
			return nil
		}
		buf := make([]byte, 0, len(pattern)+2)
		buf = append(buf, StatusSysexStart)
		for _, pe := range pattern {
			switch {
			case pe.IsV0:
				buf = append(buf, byte(ev.V0&0x7F))
			case pe.IsV1:
				buf = append(buf, byte(ev.V1&0x7F))
			default:
				buf = append(buf, pe.Literal)
			}
		}
		buf = append(buf, StatusSysexEnd)
		return [][]byte{buf}
	default:
		// MARKER/EOT/NULL carry no MIDI wire representation; they
		// are internal-only or handled by the SMF codec (out of
		// scope).
		return nil
	}
}

func packRPNLike(status func(byte) byte, hiCC, loCC, param, value int) [][]byte {
	hi := byte((param >> 7) & 0x7F)
	lo := byte(param & 0x7F)
	dataHi := byte((value >> 7) & 0x7F)
	dataLo := byte(value & 0x7F)
	return [][]byte{
		{status(StatusController), byte(hiCC), hi},
		{status(StatusController), byte(loCC), lo},
		{status(StatusController), CCDataEntHi, dataHi},
		{status(StatusController), CCDataEntLo, dataLo},
	}
}

// rpnPending tracks a partially-received NRPN or RPN preamble on one
// channel: the four controller messages may arrive in any order and
// interleaved with unrelated controllers, but this core (like the
// source) expects the canonical hi/lo/dataHi/dataLo order.
type rpnPending struct {
	active     bool
	isRPN      bool
	haveHi     bool
	haveLo     bool
	haveDataHi bool
	hi, lo     int
	dataHi     int
}

// xctlPending tracks a received 14-bit controller MSB awaiting its LSB.
type xctlPending struct {
	have bool
	msb  int
}

// ConvState is the per-device, per-channel reassembly state for 14-bit
// controllers and NRPN/RPN sequences, consulted and updated by Unpack
// (spec §4.2, §3: "per-device bitmaps... plus ievset/oevset").
type ConvState struct {
	nrpn [16]rpnPending
	rpn  [16]rpnPending
	xctl [16]map[int]xctlPending
}

// NewConvState returns a zero-value-ready ConvState.
func NewConvState() *ConvState {
	return &ConvState{}
}

// Unpack consumes one RawMessage and returns the semantic events it
// produces, consulting opts to decide whether to coalesce 14-bit
// controllers and NRPN/RPN sequences (spec §4.2). Returns 0..NumRev
// events; coalescing an NRPN/RPN sequence or a 14-bit controller pair
// discards the intermediate raw controller events from the output, as
// specified.
func Unpack(raw RawMessage, dev, ch int, state *ConvState, opts DeviceOpts) []Event {
	if raw.Status < 0x80 {
		return nil
	}
	if raw.Status == StatusSysexStart {
		if ev, ok := unpackSysex(raw, dev, opts); ok {
			return []Event{ev}
		}
		return nil
	}
	base := raw.Status & 0xF0
	if raw.Status >= 0xF0 {
		return nil // system common/real-time are not voice-like; MTC/clock handled elsewhere
	}

	switch base {
	case StatusNoteOn:
		return []Event{{Cmd: CmdNoteOn, Dev: dev, Ch: ch, V0: int(raw.Data[0]), V1: int(raw.Data[1])}}
	case StatusNoteOff:
		return []Event{{Cmd: CmdNoteOff, Dev: dev, Ch: ch, V0: int(raw.Data[0]), V1: int(raw.Data[1])}}
	case StatusKeyAftertouch:
		return []Event{{Cmd: CmdKeyAftertouch, Dev: dev, Ch: ch, V0: int(raw.Data[0]), V1: int(raw.Data[1])}}
	case StatusChanAftertouch:
		return []Event{{Cmd: CmdChanAftertouch, Dev: dev, Ch: ch, V0: int(raw.Data[0])}}
	case StatusProgramChange:
		return []Event{{Cmd: CmdProgramChange, Dev: dev, Ch: ch, V0: int(raw.Data[0])}}
	case StatusPitchBend:
		v := int(raw.Data[0]) | int(raw.Data[1])<<7
		return []Event{{Cmd: CmdPitchBend, Dev: dev, Ch: ch, V1: v}}
	case StatusController:
		return unpackController(raw, dev, ch, state, opts)
	default:
		return nil
	}
}

func unpackController(raw RawMessage, dev, ch int, state *ConvState, opts DeviceOpts) []Event {
	ctl := int(raw.Data[0])
	val := int(raw.Data[1])

	switch ctl {
	case CCNRPNHi:
		if opts.EvSet.NRPN {
			p := &state.nrpn[ch]
			*p = rpnPending{active: true, isRPN: false, haveHi: true, hi: val}
			return nil
		}
	case CCNRPNLo:
		if opts.EvSet.NRPN {
			p := &state.nrpn[ch]
			if p.active && p.haveHi {
				p.haveLo = true
				p.lo = val
			}
			return nil
		}
	case CCRPNHi:
		if opts.EvSet.RPN {
			p := &state.rpn[ch]
			*p = rpnPending{active: true, isRPN: true, haveHi: true, hi: val}
			return nil
		}
	case CCRPNLo:
		if opts.EvSet.RPN {
			p := &state.rpn[ch]
			if p.active && p.haveHi {
				p.haveLo = true
				p.lo = val
			}
			return nil
		}
	case CCDataEntHi:
		if opts.EvSet.NRPN && state.nrpn[ch].active && state.nrpn[ch].haveLo {
			state.nrpn[ch].haveDataHi = true
			state.nrpn[ch].dataHi = val
			return nil
		}
		if opts.EvSet.RPN && state.rpn[ch].active && state.rpn[ch].haveLo {
			state.rpn[ch].haveDataHi = true
			state.rpn[ch].dataHi = val
			return nil
		}
	case CCDataEntLo:
		if opts.EvSet.NRPN {
			if p := &state.nrpn[ch]; p.active && p.haveDataHi {
				param := (p.hi << 7) | p.lo
				value := (p.dataHi << 7) | val
				*p = rpnPending{}
				return []Event{{Cmd: CmdNRPN, Dev: dev, Ch: ch, V0: param, V1: value}}
			}
		}
		if opts.EvSet.RPN {
			if p := &state.rpn[ch]; p.active && p.haveDataHi {
				param := (p.hi << 7) | p.lo
				value := (p.dataHi << 7) | val
				*p = rpnPending{}
				return []Event{{Cmd: CmdRPN, Dev: dev, Ch: ch, V0: param, V1: value}}
			}
		}
	}

	if opts.EvSet.XCTL && ctl < 32 && opts.XCtlSet[ctl] {
		if state.xctl[ch] == nil {
			state.xctl[ch] = map[int]xctlPending{}
		}
		state.xctl[ch][ctl] = xctlPending{have: true, msb: val}
		return nil
	}
	if opts.EvSet.XCTL && ctl >= 32 && ctl < 64 && opts.XCtlSet[ctl-32] {
		base := ctl - 32
		if pend, ok := state.xctl[ch][base]; ok && pend.have {
			delete(state.xctl[ch], base)
			return []Event{{Cmd: CmdExtController, Dev: dev, Ch: ch, V0: base, V1: (pend.msb << 7) | val}}
		}
		return nil
	}

	return []Event{{Cmd: CmdController, Dev: dev, Ch: ch, V0: ctl, V1: val}}
}
