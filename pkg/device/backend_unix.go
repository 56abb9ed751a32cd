//go:build unix

package device

import (
	"io"

	"golang.org/x/sys/unix"
)

// RawFDBackend is a Backend over a raw file descriptor (a serial port
// or ALSA rawmidi device node), grounded on the raw open/read/write/
// close idiom used for serial ports in practice: open with O_NOCTTY so
// the port never becomes a controlling terminal, plain syscall-level
// read/write, non-blocking semantics left to the caller's poll loop.
type RawFDBackend struct {
	fd     int
	closed bool
}

// OpenRawFD opens path read-write for use as a MIDI backend.
func OpenRawFD(path string) (*RawFDBackend, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	return &RawFDBackend{fd: fd}, nil
}

func (b *RawFDBackend) Fd() int { return b.fd }

func (b *RawFDBackend) Read(buf []byte) (int, error) {
	if b.closed {
		return 0, io.EOF
	}
	n, err := unix.Read(b.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func (b *RawFDBackend) Write(buf []byte) (int, error) {
	if b.closed {
		return 0, io.EOF
	}
	return unix.Write(b.fd, buf)
}

func (b *RawFDBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return unix.Close(b.fd)
}
