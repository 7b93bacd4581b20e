package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timezone != defaultTimezone {
		t.Errorf("Timezone = %q, want %q", cfg.Timezone, defaultTimezone)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("timezone: America/New_York\nadmin_recipients: [ops@example.com]\nmax_iteration_days: 0\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if cfg.MaxIterationDays != 1000 {
		t.Errorf("MaxIterationDays = %d, want 1000", cfg.MaxIterationDays)
	}
	if cfg.DetectTimeout != 30*time.Second {
		t.Errorf("DetectTimeout = %v", cfg.DetectTimeout)
	}
	if len(cfg.AdminRecipients) != 1 || cfg.AdminRecipients[0] != "ops@example.com" {
		t.Errorf("AdminRecipients = %v", cfg.AdminRecipients)
	}
	if cfg.BookingSignature.PricePattern == "" {
		t.Error("price pattern not defaulted")
	}
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("timezone: Mars/Olympus\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CALRECON_DATABASE_URL", "postgres://calrecon@db/calrecon")
	t.Setenv("CALRECON_LISTEN", ":9090")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.DatabaseURL != "postgres://calrecon@db/calrecon" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
}

func TestSaveRoundTripKeepsICSSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.ICS = []ICSConfig{{ID: "shared", Name: "Shared", URL: "https://calendar.example.com/basic.ics"}}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.ICS) != 1 || loaded.ICS[0].ID != "shared" {
		t.Errorf("ICS = %+v", loaded.ICS)
	}
}
