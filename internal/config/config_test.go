package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:18790" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.Tail.MaxInitialBytes != 1<<20 {
		t.Errorf("Tail.MaxInitialBytes = %d", cfg.Tail.MaxInitialBytes)
	}
	if cfg.Sessions.SweepSchedule != "*/10 * * * *" {
		t.Errorf("SweepSchedule = %q", cfg.Sessions.SweepSchedule)
	}
	if cfg.Terminal.Shell == "" {
		t.Error("Terminal.Shell not defaulted")
	}
}

func TestLoadFrom_FileOverridesAndNormalizes(t *testing.T) {
	home := t.TempDir()
	raw := []byte("bind_addr: 127.0.0.1:9999\ntail:\n  max_initial_bytes: 4096\nsessions:\n  idle_ttl_minutes: 60\n")
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:9999" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.Tail.MaxInitialBytes != 4096 {
		t.Errorf("MaxInitialBytes = %d", cfg.Tail.MaxInitialBytes)
	}
	if cfg.Sessions.IdleTTLMinutes != 60 {
		t.Errorf("IdleTTLMinutes = %d", cfg.Sessions.IdleTTLMinutes)
	}
	// Unset fields still get defaults.
	if cfg.Files.MaxFileBytes != 1<<20 {
		t.Errorf("MaxFileBytes = %d", cfg.Files.MaxFileBytes)
	}
}

func TestLoadFrom_MalformedYAMLFails(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("bind_addr: [\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFrom(home); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFingerprintChangesWithConfig(t *testing.T) {
	a, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := a
	b.BindAddr = "127.0.0.1:1"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("fingerprints should differ for different bind addrs")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Error("fingerprint not stable")
	}
}
