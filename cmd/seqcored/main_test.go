package main

import "testing"

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.devicePath != "" || cfg.logLevel != "info" || cfg.clockSrc || cfg.mtcSrc {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.tickRate != 24 {
		t.Fatalf("expected default tick rate 24, got %d", cfg.tickRate)
	}
}

func TestParseArgsDeviceAndClockSource(t *testing.T) {
	cfg, err := parseArgs([]string{"-device", "/dev/midi1", "-clock-source", "-tick-rate", "48"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.devicePath != "/dev/midi1" {
		t.Fatalf("expected device path set, got %q", cfg.devicePath)
	}
	if !cfg.clockSrc {
		t.Fatalf("expected clock source flag set")
	}
	if cfg.tickRate != 48 {
		t.Fatalf("expected tick rate 48, got %d", cfg.tickRate)
	}
}

func TestParseArgsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseArgs([]string{"-bogus"}); err == nil {
		t.Fatalf("expected an error for an unknown flag")
	}
}
