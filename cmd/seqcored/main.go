// Command seqcored runs the sequencer core as a small standalone
// daemon: it opens one MIDI device node, drives the engine off a
// poll/timerfd event loop, and exits cleanly on SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zurustar/miditransport/pkg/device"
	"github.com/zurustar/miditransport/pkg/ioloop"
	"github.com/zurustar/miditransport/pkg/logx"
	"github.com/zurustar/miditransport/pkg/seqcore"
)

type config struct {
	devicePath string
	logLevel   string
	logJSON    bool
	clockSrc   bool
	mtcSrc     bool
	sendClock  bool
	tickRate   int
}

func parseArgs(args []string) (*config, error) {
	fs := flag.NewFlagSet("seqcored", flag.ContinueOnError)
	cfg := &config{}

	fs.StringVar(&cfg.devicePath, "device", "", "MIDI device node to open (e.g. /dev/midi1); omit to run with no attached device")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.logJSON, "log-json", false, "emit structured logs as JSON instead of text")
	fs.BoolVar(&cfg.clockSrc, "clock-source", false, "treat the attached device as the system clock source")
	fs.BoolVar(&cfg.mtcSrc, "mtc-source", false, "treat the attached device as the system MTC source")
	fs.BoolVar(&cfg.sendClock, "send-clock", false, "emit MIDI clock to the attached device")
	fs.IntVar(&cfg.tickRate, "tick-rate", 24, "the attached device's own ticks-per-quarter-note")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" && cfg.logLevel == "info" {
		cfg.logLevel = v
	}
	return cfg, nil
}

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "seqcored: %v\n", err)
		os.Exit(2)
	}

	if err := logx.Init(cfg.logLevel, os.Stderr, cfg.logJSON); err != nil {
		fmt.Fprintf(os.Stderr, "seqcored: %v\n", err)
		os.Exit(2)
	}
	log := logx.For("main")

	engine := seqcore.New(seqcore.DefaultConfig())

	if cfg.devicePath != "" {
		backend, err := device.OpenRawFD(cfg.devicePath)
		if err != nil {
			log.Error("failed to open device", "path", cfg.devicePath, "err", err)
			os.Exit(1)
		}
		defer backend.Close()

		d := device.NewDevice(0, device.ModeIn|device.ModeOut, backend, 4096)
		d.Timing.TickRate = cfg.tickRate
		d.Timing.IsClockSrc = cfg.clockSrc
		d.Timing.IsMTCSrc = cfg.mtcSrc
		d.Timing.SendClock = cfg.sendClock

		if err := engine.AttachDevice(d); err != nil {
			log.Error("failed to attach device", "err", err)
			os.Exit(1)
		}
		log.Info("device attached", "path", cfg.devicePath, "clock_source", cfg.clockSrc, "mtc_source", cfg.mtcSrc)
	}

	loop, err := ioloop.New(ioloop.TickPeriod)
	if err != nil {
		log.Error("failed to start I/O loop", "err", err)
		os.Exit(1)
	}
	defer loop.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("signal received, shutting down")
		loop.Quit()
	}()

	log.Info("seqcored started")
	run(engine, loop, log)
	log.Info("seqcored stopped")
}

func run(engine *seqcore.Engine, loop *ioloop.Loop, log *slog.Logger) {
	for !loop.Quitting() {
		res, err := loop.Wake()
		if err != nil {
			log.Warn("io loop wake failed", "err", err)
			continue
		}
		wr := engine.Wake(res.Delta)
		if wr.TicksFired > 0 {
			log.Info("ticks fired", "count", wr.TicksFired)
		}
	}
}
