package config

import (
	"flag"
	"testing"
	"time"
)

func TestRegisterFlagsDefaults(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &cfg)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Driver != "fake" {
		t.Fatalf("expected default driver \"fake\", got %q", cfg.Driver)
	}
	if cfg.StorageType != "file" {
		t.Fatalf("expected default storage type \"file\", got %q", cfg.StorageType)
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Fatalf("expected default idle timeout 30s, got %v", cfg.IdleTimeout)
	}
	if cfg.NoTimeout {
		t.Fatal("expected no-timeout to default to false")
	}
}

func TestRegisterFlagsOverride(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &cfg)
	if err := fs.Parse([]string{"-driver=real", "-idle-timeout=5s", "-no-timeout"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Driver != "real" {
		t.Fatalf("expected overridden driver \"real\", got %q", cfg.Driver)
	}
	if cfg.IdleTimeout != 5*time.Second {
		t.Fatalf("expected overridden idle timeout 5s, got %v", cfg.IdleTimeout)
	}
	if !cfg.NoTimeout {
		t.Fatal("expected no-timeout to be true once set")
	}
}
