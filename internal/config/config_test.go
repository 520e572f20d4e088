package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func missingPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_LEDGER_OWNER", "owner-1")

	cfg, err := Load(missingPath(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "energy-ledger" {
		t.Errorf("service name = %q", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("read timeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Ledger.Owner != "owner-1" {
		t.Errorf("owner = %q", cfg.Ledger.Owner)
	}
	if cfg.Ledger.FeeBps != 100 || cfg.Ledger.MinTradeAmount != 1 || cfg.Ledger.ExpiryWindow != 86_400 {
		t.Errorf("ledger defaults = %+v", cfg.Ledger)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("cache ttl = %s", cfg.CacheTTL)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %q", cfg.Addr())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_LEDGER_OWNER", "admin")
	t.Setenv("LEDGER_HTTP_PORT", "9090")
	t.Setenv("LEDGER_LEDGER_MIN_TRADE_AMOUNT", "25")
	t.Setenv("LEDGER_LOG_LEVEL", "debug")

	cfg, err := Load(missingPath(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Ledger.MinTradeAmount != 25 {
		t.Errorf("min trade = %d, want 25", cfg.Ledger.MinTradeAmount)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	body := strings.Join([]string{
		"service_name: ledger-test",
		"ledger:",
		"  owner: file-owner",
		"  fee_bps: 250",
		"kafka:",
		"  brokers: [\"k1:9092\", \"k2:9092\"]",
		"  topic: energy",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "ledger-test" || cfg.Ledger.Owner != "file-owner" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Ledger.FeeBps != 250 {
		t.Errorf("fee bps = %d, want 250", cfg.Ledger.FeeBps)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Topic != "energy" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
}

func TestLoad_MissingOwner(t *testing.T) {
	t.Setenv("LEDGER_LEDGER_OWNER", "")
	if _, err := Load(missingPath(t)); err == nil {
		t.Fatal("expected error without an owner")
	}
}

func TestValidate(t *testing.T) {
	base := func() AppConfig {
		return AppConfig{
			HTTP:   HTTPConfig{Port: 8080},
			Ledger: LedgerConfig{Owner: "o", FeeBps: 100, MinTradeAmount: 1, ExpiryWindow: 10},
		}
	}
	tests := []struct {
		name   string
		mutate func(c *AppConfig)
	}{
		{"fee too high", func(c *AppConfig) { c.Ledger.FeeBps = 10_000 }},
		{"zero min trade", func(c *AppConfig) { c.Ledger.MinTradeAmount = 0 }},
		{"zero expiry", func(c *AppConfig) { c.Ledger.ExpiryWindow = 0 }},
		{"bad port", func(c *AppConfig) { c.HTTP.Port = 0 }},
		{"brokers without topic", func(c *AppConfig) { c.Kafka.Brokers = []string{"k:9092"} }},
	}

	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a:1, ,b:2 ")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("splitList = %v", got)
	}
}
