package config

import (
	"os"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	os.Clearenv()
	os.Setenv("AAD_TENANT", "contoso.onmicrosoft.com")
	os.Setenv("AAD_CLIENT_ID", "client-1")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.DirectoryRPS != 10 {
		t.Errorf("DirectoryRPS = %v, want 10", cfg.DirectoryRPS)
	}
	if cfg.SweepInterval != "24h" {
		t.Errorf("SweepInterval = %q, want %q", cfg.SweepInterval, "24h")
	}
	if cfg.SweepStartupDelay != "1m" {
		t.Errorf("SweepStartupDelay = %q, want %q", cfg.SweepStartupDelay, "1m")
	}
	if cfg.SweepItemTimeout != "30s" {
		t.Errorf("SweepItemTimeout = %q, want %q", cfg.SweepItemTimeout, "30s")
	}
	if cfg.OTLPEndpoint != "" {
		t.Errorf("OTLPEndpoint = %q, want empty", cfg.OTLPEndpoint)
	}
	if cfg.OTLPInsecure {
		t.Error("OTLPInsecure should default to false")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	setRequired(t)
	os.Setenv("DISCORD_TOKEN", "token-1")
	os.Setenv("DATABASE_URL", "postgres://localhost/corpverifier")
	os.Setenv("SWEEP_INTERVAL", "6h")
	os.Setenv("DIRECTORY_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DiscordToken != "token-1" {
		t.Errorf("DiscordToken = %q", cfg.DiscordToken)
	}
	if cfg.DatabaseURL != "postgres://localhost/corpverifier" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.SweepInterval != "6h" {
		t.Errorf("SweepInterval = %q, want %q", cfg.SweepInterval, "6h")
	}
	if cfg.DirectoryRPS != 2.5 {
		t.Errorf("DirectoryRPS = %v, want 2.5", cfg.DirectoryRPS)
	}
}

func TestLoad_TenantRequired(t *testing.T) {
	os.Clearenv()
	os.Setenv("AAD_CLIENT_ID", "client-1")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when AAD_TENANT is unset")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_ClientIDRequired(t *testing.T) {
	os.Clearenv()
	os.Setenv("AAD_TENANT", "contoso.onmicrosoft.com")

	if _, err := Load(); err == nil {
		t.Fatal("Load should return error when AAD_CLIENT_ID is unset")
	}
}

func TestLoad_DirectoryRPSMustBePositive(t *testing.T) {
	setRequired(t)
	os.Setenv("DIRECTORY_RPS", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject a non-positive rate")
	}
}

func TestSweepIntervalDuration(t *testing.T) {
	cases := []struct {
		value string
		want  time.Duration
	}{
		{"6h", 6 * time.Hour},
		{"invalid", 24 * time.Hour},
		{"0", 24 * time.Hour},
		{"-1h", 24 * time.Hour},
	}
	for _, tc := range cases {
		cfg := &Config{SweepInterval: tc.value}
		if got := cfg.SweepIntervalDuration(); got != tc.want {
			t.Errorf("SweepIntervalDuration(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestSweepStartupDelayDuration(t *testing.T) {
	cfg := &Config{SweepStartupDelay: "0s"}
	if got := cfg.SweepStartupDelayDuration(); got != 0 {
		t.Errorf("zero delay should be honored, got %v", got)
	}
	cfg = &Config{SweepStartupDelay: "bogus"}
	if got := cfg.SweepStartupDelayDuration(); got != time.Minute {
		t.Errorf("invalid delay should fall back to 1m, got %v", got)
	}
}

func TestSweepItemTimeoutDuration(t *testing.T) {
	cfg := &Config{SweepItemTimeout: "10s"}
	if got := cfg.SweepItemTimeoutDuration(); got != 10*time.Second {
		t.Errorf("SweepItemTimeoutDuration = %v, want 10s", got)
	}
	cfg = &Config{SweepItemTimeout: ""}
	if got := cfg.SweepItemTimeoutDuration(); got != 30*time.Second {
		t.Errorf("SweepItemTimeoutDuration = %v, want 30s default", got)
	}
}
