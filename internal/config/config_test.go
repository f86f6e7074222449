package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: flowpowersync\n"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Pricing.Source != SourceAEMO {
		t.Fatalf("default source should be aemo, got %q", cfg.Pricing.Source)
	}
	if cfg.Pricing.Region != "NSW1" {
		t.Fatalf("default region should be NSW1, got %q", cfg.Pricing.Region)
	}
	if cfg.Pricing.BaseRate != 34.0 {
		t.Fatalf("default base rate should be 34.0, got %v", cfg.Pricing.BaseRate)
	}
	if !cfg.Pricing.PEAEnabled {
		t.Fatal("PEA mode should default on")
	}
	if cfg.Scheduler.Interval != 300*time.Second {
		t.Fatalf("default interval should be 300s, got %v", cfg.Scheduler.Interval)
	}
	if cfg.TWAP.WindowDays != 30 || cfg.TWAP.MinSamples != 12 {
		t.Fatalf("unexpected TWAP defaults: %+v", cfg.TWAP)
	}
	if cfg.TWAP.MinSampleGap != 240*time.Second || cfg.TWAP.SaveInterval != 600*time.Second {
		t.Fatalf("unexpected TWAP cadence defaults: %+v", cfg.TWAP)
	}
	if cfg.Server.Listen != ":8422" {
		t.Fatalf("unexpected server default: %q", cfg.Server.Listen)
	}
	if cfg.AEMO.ForecastTTL != 30*time.Minute {
		t.Fatalf("unexpected forecast TTL default: %v", cfg.AEMO.ForecastTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
pricing:
  source: amber
  region: VIC1
  base_rate: 30.5
  network_tariff: true
amber:
  api_key: psk_test
scheduler:
  interval: 60s
`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Pricing.Source != SourceAmber {
		t.Fatalf("expected amber source, got %q", cfg.Pricing.Source)
	}
	if cfg.Pricing.Region != "VIC1" {
		t.Fatalf("expected VIC1, got %q", cfg.Pricing.Region)
	}
	if cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("expected 60s interval, got %v", cfg.Scheduler.Interval)
	}
}

func TestValidateRejectsBadSource(t *testing.T) {
	_, err := Load(writeConfig(t, "pricing:\n  source: psychic\n"))
	if err == nil || !strings.Contains(err.Error(), "pricing.source") {
		t.Fatalf("expected source validation error, got %v", err)
	}
}

func TestValidateRequiresAmberKey(t *testing.T) {
	_, err := Load(writeConfig(t, "pricing:\n  source: amber\n"))
	if err == nil || !strings.Contains(err.Error(), "amber.api_key") {
		t.Fatalf("expected api key validation error, got %v", err)
	}
}

func TestValidateRejectsUnknownRegion(t *testing.T) {
	_, err := Load(writeConfig(t, "pricing:\n  region: MARS1\n"))
	if err == nil || !strings.Contains(err.Error(), "region") {
		t.Fatalf("expected region validation error, got %v", err)
	}
}

func TestValidateRequiresTelegramCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
alerting:
  telegram:
    enabled: true
`))
	if err == nil || !strings.Contains(err.Error(), "bot_token") {
		t.Fatalf("expected telegram validation error, got %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{}
	cfg.Export.MaxDataPoints = 5000

	if got := cfg.ResolveMaxPoints(0); got != 5000 {
		t.Fatalf("expected config default 5000, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(100); got != 100 {
		t.Fatalf("expected override 100, got %d", got)
	}
}
