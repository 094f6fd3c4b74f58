package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port     int           `env:"FOLIO_TEST_PORT" envDefault:"123"`
	Hosts    []string      `env:"FOLIO_TEST_HOSTS" envSeparator:"," envDefault:"a,b"`
	Interval time.Duration `env:"FOLIO_TEST_INTERVAL" envDefault:"2s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if len(cfg.Hosts) != 2 || cfg.Hosts[0] != "a" || cfg.Hosts[1] != "b" {
		t.Fatalf("hosts = %v, want [a b]", cfg.Hosts)
	}
	if cfg.Interval != 2*time.Second {
		t.Fatalf("interval = %v, want 2s", cfg.Interval)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("FOLIO_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvFromIgnoresProcessEnvironment(t *testing.T) {
	t.Setenv("FOLIO_TEST_PORT", "999")

	var cfg envTestConfig
	if err := ParseEnvFrom(&cfg, map[string]string{"FOLIO_TEST_HOSTS": "x"}); err != nil {
		t.Fatalf("parse env from map: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("port = %d, want default 123", cfg.Port)
	}
	if len(cfg.Hosts) != 1 || cfg.Hosts[0] != "x" {
		t.Fatalf("hosts = %v, want [x]", cfg.Hosts)
	}
}

func TestParseEnvFromNilMap(t *testing.T) {
	var cfg envTestConfig
	if err := ParseEnvFrom(&cfg, nil); err != nil {
		t.Fatalf("parse env from nil map: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("port = %d, want 123", cfg.Port)
	}
}
