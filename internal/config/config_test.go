package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("org-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Org.ID != "org-1" {
		t.Fatalf("org id = %q", cfg.Org.ID)
	}
	if cfg.Enforcement.EscalationDelayDays != 10 {
		t.Fatalf("escalation delay = %d", cfg.Enforcement.EscalationDelayDays)
	}
	if cfg.Enforcement.Defaults.RentDueDay != 1 || cfg.Enforcement.Defaults.GracePeriodDays != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg.Enforcement.Defaults)
	}
	if cfg.Enforcement.Defaults.LateFeeCents != 5000 {
		t.Fatalf("late fee = %d", cfg.Enforcement.Defaults.LateFeeCents)
	}
}

func TestGenerateDefaultRoundTrip(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("org-x")))
	if err != nil {
		t.Fatalf("parse generated config: %v", err)
	}
	if cfg.Org.ID != "org-x" {
		t.Fatalf("org id = %q", cfg.Org.ID)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d", cfg.Queue.MaxAttempts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "rl init") {
		t.Fatalf("expected init hint, got %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional = %v, %v", cfg, err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	yml := strings.Replace(GenerateDefault("org-1"), "rent_due_day: 1", "rent_due_day: 31", 1)
	if err := os.WriteFile(filepath.Join(dir, "rentline.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "rent_due_day") {
		t.Fatalf("expected rent_due_day error, got %v", err)
	}
}

func TestValidateRequiresOrg(t *testing.T) {
	cfg := Default("org-1")
	cfg.Org.ID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing org id")
	}
}
