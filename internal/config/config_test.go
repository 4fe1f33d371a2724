package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.ChallengeTTL != 5*time.Minute {
		t.Errorf("ChallengeTTL = %v, want 5m", cfg.ChallengeTTL)
	}
	if cfg.CodeDigits != 6 {
		t.Errorf("CodeDigits = %d, want 6", cfg.CodeDigits)
	}
	if cfg.CodeMaxAttempts != 3 {
		t.Errorf("CodeMaxAttempts = %d, want 3", cfg.CodeMaxAttempts)
	}
	if len(cfg.RPOrigins) == 0 {
		t.Error("expected default relying-party origins")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("KEYSTEP_HTTP_ADDR", ":9091")
	t.Setenv("KEYSTEP_WEBAUTHN_RP_ID", "auth.example.com")
	t.Setenv("KEYSTEP_WEBAUTHN_RP_ORIGINS", "https://example.com,https://www.example.com")
	t.Setenv("KEYSTEP_CODE_TTL", "90s")

	cfg := LoadFromEnv()
	if cfg.HTTPAddr != ":9091" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9091")
	}
	if cfg.RPID != "auth.example.com" {
		t.Errorf("RPID = %q, want %q", cfg.RPID, "auth.example.com")
	}
	if len(cfg.RPOrigins) != 2 {
		t.Errorf("RPOrigins = %v, want two entries", cfg.RPOrigins)
	}
	if cfg.CodeTTL != 90*time.Second {
		t.Errorf("CodeTTL = %v, want 90s", cfg.CodeTTL)
	}
}
