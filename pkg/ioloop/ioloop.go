// Package ioloop implements the platform I/O driver: a poll-based event
// loop with a timerfd-backed periodic tick source and monotonic-clock
// delta computation (spec §5 "Scheduling model", §9 redesign flag:
// "replace signal-driven ticks with timerfd/kqueue").
package ioloop

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/zurustar/miditransport/pkg/errs"
)

// TickPeriod is the default periodic wake interval (spec §5: "a
// periodic tick signal fires every ~1 ms").
const TickPeriod = time.Millisecond

// maxSuspendDelta bounds how large a monotonic delta is trusted;
// anything beyond this is treated as a suspend/resume artifact and
// discarded rather than fed through the timeout wheel (spec §5:
// "large negative or >1-second deltas are discarded as suspend/resume
// artifacts").
const maxSuspendDelta = time.Second

// Descriptor is one fd the loop polls, paired with the callback invoked
// when it becomes readable.
type Descriptor struct {
	Fd      int
	OnReady func()
}

// Loop drives the single-threaded poll cycle: a timerfd for periodic
// ticks, plus caller-registered descriptors for devices and TTY input
// (spec §5, §9's timerfd redesign).
type Loop struct {
	timerFd int
	descs   []Descriptor

	lastMonotonic int64 // nanoseconds, unix.ClockGettime(CLOCK_MONOTONIC)
	quit          bool
	suspendSignal bool // set by a SIGCONT/SIGWINCH-equivalent hook (spec §5)
}

// New creates a loop with its timerfd armed to fire every period.
func New(period time.Duration) (*Loop, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, "ioloop", "timerfd_create failed", err)
	}
	spec := &unix.ItimerSpec{
		Interval: unix.NsecToTimespec(period.Nanoseconds()),
		Value:    unix.NsecToTimespec(period.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, spec, nil); err != nil {
		unix.Close(fd)
		return nil, errs.Wrap(errs.Fatal, "ioloop", "timerfd_settime failed", err)
	}

	now, err := monotonicNow()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Loop{timerFd: fd, lastMonotonic: now}, nil
}

// Close releases the loop's timerfd.
func (l *Loop) Close() error {
	return unix.Close(l.timerFd)
}

// AddDescriptor registers a device (or TTY) fd with its ready callback.
func (l *Loop) AddDescriptor(d Descriptor) {
	l.descs = append(l.descs, d)
}

// RemoveDescriptor unregisters a previously added fd.
func (l *Loop) RemoveDescriptor(fd int) {
	for i, d := range l.descs {
		if d.Fd == fd {
			l.descs = append(l.descs[:i], l.descs[i+1:]...)
			return
		}
	}
}

// Quit requests the loop exit cleanly at the next wake (spec §5
// "SIGINT sets a quit flag consulted at each wake").
func (l *Loop) Quit() { l.quit = true }

// Quitting reports whether Quit has been requested.
func (l *Loop) Quitting() bool { return l.quit }

func monotonicNow() (int64, error) {
	var tv unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &tv); err != nil {
		return 0, errs.Wrap(errs.Fatal, "ioloop", "clock_gettime(CLOCK_MONOTONIC) failed", err)
	}
	return tv.Nano(), nil
}

// WakeResult summarizes what happened on one iteration of Wake (spec §5
// "Ordering guarantees" steps 1-2: poll returns, device input drained).
type WakeResult struct {
	// Delta is the elapsed monotonic time since the previous wake, or
	// zero if this wake's delta was discarded as a suspend/resume
	// artifact.
	Delta time.Duration
	// ReadyFds lists which registered descriptors were readable.
	ReadyFds []int
	TimerFired bool
}

// Wake performs one poll cycle: blocks in poll(2) until either a
// descriptor is ready or the timerfd fires, computes the monotonic
// delta since the previous wake (discarding suspend/resume artifacts),
// and reports which descriptors need draining (spec §5 steps 1-3). The
// caller is responsible for steps 4-7 (timeout wheel, transport tick,
// TTY input, flush) via the owning Engine.
func (l *Loop) Wake() (WakeResult, error) {
	pollFds := make([]unix.PollFd, 0, len(l.descs)+1)
	pollFds = append(pollFds, unix.PollFd{Fd: int32(l.timerFd), Events: unix.POLLIN})
	for _, d := range l.descs {
		pollFds = append(pollFds, unix.PollFd{Fd: int32(d.Fd), Events: unix.POLLIN})
	}

	_, err := unix.Poll(pollFds, -1)
	if err == unix.EINTR {
		// Spec §5: "poll is interruptible by the tick signal (returns
		// EINTR, treated as zero-descriptor wake)".
		return WakeResult{}, nil
	}
	if err != nil {
		return WakeResult{}, errs.Wrap(errs.Fatal, "ioloop", "poll failed", err)
	}

	now, err := monotonicNow()
	if err != nil {
		return WakeResult{}, err
	}
	delta := time.Duration(now - l.lastMonotonic)
	l.lastMonotonic = now
	if delta < 0 || delta > maxSuspendDelta {
		delta = 0
	}

	res := WakeResult{Delta: delta}
	if pollFds[0].Revents&unix.POLLIN != 0 {
		res.TimerFired = true
		var buf [8]byte
		unix.Read(l.timerFd, buf[:]) // drain the expiry counter
	}
	for i, pf := range pollFds[1:] {
		if pf.Revents&unix.POLLIN != 0 {
			res.ReadyFds = append(res.ReadyFds, l.descs[i].Fd)
		}
	}
	return res, nil
}
