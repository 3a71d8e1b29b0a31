package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Setenv("CONFIG_ENV", "test-nonexistent")
	defer os.Unsetenv("CONFIG_ENV")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Mode != "release" {
		t.Fatalf("expected default mode release, got %q", cfg.Mode)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.PingPeriod != 54*time.Second {
		t.Fatalf("expected ping period 54s, got %v", cfg.PingPeriod)
	}
	if cfg.CloseGracePeriod != 60*time.Second {
		t.Fatalf("expected close grace 60s, got %v", cfg.CloseGracePeriod)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Fatalf("expected sweep interval 5m, got %v", cfg.SweepInterval)
	}
	if cfg.InactivityThreshold != 30*time.Minute {
		t.Fatalf("expected inactivity threshold 30m, got %v", cfg.InactivityThreshold)
	}
}
