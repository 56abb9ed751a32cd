// Package mtc implements the MIDI Time Code quarter-frame parser: eight
// quarter-frames reassemble into one complete hours:minutes:seconds:
// frames position (spec §4.7).
package mtc

// Phase is the parser's run state.
type Phase uint8

const (
	PhaseStop Phase = iota
	PhaseStart
	PhaseRun
)

// Rate is the frame rate encoded in bits 1-2 of the 8th quarter-frame's
// data nibble.
type Rate uint8

const (
	Rate24 Rate = iota
	Rate25
	Rate2997
	Rate30
)

// Constants relating ticks to MTC time, per spec §4.7's "ticks-per-
// second-based absolute tick" position unit.
const (
	MTCSec    = 2400
	MTCPeriod = 24 * 3600 * MTCSec
)

// Position is a fully reassembled MTC timecode.
type Position struct {
	Hours, Minutes, Seconds, Frames int
	Rate                            Rate
}

// AbsTick converts a reassembled Position into an absolute tick using
// the MTCSec-per-second unit (spec §4.7).
func (p Position) AbsTick() int {
	fps := ratefps(p.Rate)
	totalFrames := ((p.Hours*3600+p.Minutes*60+p.Seconds)*fps + p.Frames)
	return totalFrames * MTCSec / fps
}

func ratefps(r Rate) int {
	switch r {
	case Rate24:
		return 24
	case Rate25:
		return 25
	case Rate2997:
		return 30 // drop-frame counts in 30, timed at 29.97; the distinction is a
		// timestamp-display nuance the tick-domain position does not need.
	case Rate30:
		return 30
	default:
		return 24
	}
}

// Parser reassembles quarter-frame messages into Positions (spec §4.7).
// FeedQuarterFrame returns (pos, true) whenever the 8th quarter-frame of
// a group completes a position.
type Parser struct {
	phase Phase

	// pieces[i] holds the data nibble of quarter-frame message type i
	// (0-7); pieces[7] carries the hours high bit in bit 0 and the rate
	// in bits 1-2.
	pieces  [8]int
	haveAny bool

	quarterFramesSinceFull int
}

// Reset returns the parser to PhaseStop, discarding any partial group.
func (p *Parser) Reset() {
	*p = Parser{}
}

// Phase reports the parser's current run state.
func (p *Parser) Phase() Phase { return p.phase }

// FeedFullFrame processes a full-frame sysex position (spec §4.7: "a
// full-frame sysex seen, no ticks yet" transitions STOP -> START).
func (p *Parser) FeedFullFrame(pos Position) Position {
	p.phase = PhaseStart
	p.quarterFramesSinceFull = 0
	return pos
}

// FeedQuarterFrame processes one quarter-frame data byte (messageType
// 0-7 in the high nibble, value in the low nibble of the original wire
// byte, already split apart by the caller). It transitions STOP/START
// to RUN on receipt of any quarter-frame, and returns a completed
// Position whenever messageType 7 finishes a group of eight.
func (p *Parser) FeedQuarterFrame(messageType, value int) (Position, bool) {
	if p.phase == PhaseStop {
		p.phase = PhaseStart
	}
	p.phase = PhaseRun

	p.pieces[messageType&0x7] = value
	if messageType != 7 {
		return Position{}, false
	}

	rate := Rate((value >> 1) & 0x3)
	frames := p.pieces[0] | ((p.pieces[1] & 0x1) << 4)
	seconds := p.pieces[2] | (p.pieces[3] << 4)
	minutes := p.pieces[4] | (p.pieces[5] << 4)
	hours := p.pieces[6] | ((value & 0x1) << 4)

	return Position{
		Hours:   hours,
		Minutes: minutes,
		Seconds: seconds,
		Frames:  frames,
		Rate:    rate,
	}, true
}

// Timeout signals that the next expected quarter-frame did not arrive
// within the watchdog window: the upstream is considered dead and the
// parser resets to STOP (spec §4.7).
func (p *Parser) Timeout() {
	p.Reset()
}
