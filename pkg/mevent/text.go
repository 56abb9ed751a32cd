package mevent

import (
	"golang.org/x/text/encoding/charmap"
)

// TextEncoding names a legacy single-byte encoding a device's marker
// sysex payloads may be written in (spec §3 evinfo: marker/cue-point
// meta strings carried in custom sysex patterns are not guaranteed to
// be UTF-8 on the wire).
type TextEncoding int

const (
	// TextUTF8 means the payload is already UTF-8 and needs no
	// conversion.
	TextUTF8 TextEncoding = iota
	TextLatin1
	TextWindows1252
)

func charmapFor(enc TextEncoding) *charmap.Charmap {
	switch enc {
	case TextLatin1:
		return charmap.ISO8859_1
	case TextWindows1252:
		return charmap.Windows1252
	default:
		return nil
	}
}

// DecodeMarkerText converts a sysex marker payload's raw bytes to a Go
// string, applying enc's legacy byte-to-rune mapping when it isn't
// already UTF-8 (spec §3, §2 domain stack: "decode legacy (non-UTF8)
// bytes out of sysex text payloads").
func DecodeMarkerText(raw []byte, enc TextEncoding) (string, error) {
	cm := charmapFor(enc)
	if cm == nil {
		return string(raw), nil
	}
	out, err := cm.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// EncodeMarkerText converts s back to raw bytes in enc for egress to a
// device that expects its legacy encoding rather than UTF-8.
func EncodeMarkerText(s string, enc TextEncoding) ([]byte, error) {
	cm := charmapFor(enc)
	if cm == nil {
		return []byte(s), nil
	}
	return cm.NewEncoder().Bytes([]byte(s))
}
