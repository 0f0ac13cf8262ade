// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DiscordToken is the bot token used to open the gateway session.
	DiscordToken string `mapstructure:"DISCORD_TOKEN"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// AADTenant is the directory tenant for the device code flow.
	AADTenant string `mapstructure:"AAD_TENANT"`
	// AADClientID is the app registration used for device code sign-in.
	AADClientID string `mapstructure:"AAD_CLIENT_ID"`
	// AADClientSecret authenticates the app for directory lookups (client credentials).
	AADClientSecret string `mapstructure:"AAD_CLIENT_SECRET"`
	// LoginBaseURL is the identity platform base URL (default https://login.microsoftonline.com).
	LoginBaseURL string `mapstructure:"LOGIN_BASE_URL"`
	// GraphBaseURL is the directory API base URL (default https://graph.microsoft.com/v1.0).
	GraphBaseURL string `mapstructure:"GRAPH_BASE_URL"`
	// DirectoryRPS caps directory API requests per second (default 10).
	DirectoryRPS float64 `mapstructure:"DIRECTORY_RPS"`

	// SweepInterval is how often the reconciliation sweep runs (e.g. "24h").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// SweepStartupDelay is the pause before the first sweep after start (e.g. "1m").
	SweepStartupDelay string `mapstructure:"SWEEP_STARTUP_DELAY"`
	// SweepItemTimeout bounds each record's directory checks during a sweep (e.g. "30s").
	SweepItemTimeout string `mapstructure:"SWEEP_ITEM_TIMEOUT"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint (e.g. localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS on the OTLP connection (local collectors).
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DISCORD_TOKEN", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AAD_TENANT", "")
	v.SetDefault("AAD_CLIENT_ID", "")
	v.SetDefault("AAD_CLIENT_SECRET", "")
	v.SetDefault("LOGIN_BASE_URL", "")
	v.SetDefault("GRAPH_BASE_URL", "")
	v.SetDefault("DIRECTORY_RPS", 10.0)
	v.SetDefault("SWEEP_INTERVAL", "24h")
	v.SetDefault("SWEEP_STARTUP_DELAY", "1m")
	v.SetDefault("SWEEP_ITEM_TIMEOUT", "30s")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.AADTenant == "" || cfg.AADClientID == "" {
		return nil, errors.New("config: AAD_TENANT and AAD_CLIENT_ID must be set")
	}
	if cfg.DirectoryRPS <= 0 {
		return nil, errors.New("config: DIRECTORY_RPS must be positive")
	}

	return &cfg, nil
}

// SweepIntervalDuration parses SweepInterval. Returns 24h if unset or invalid.
func (c *Config) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// SweepStartupDelayDuration parses SweepStartupDelay. Returns 1m if unset or invalid.
func (c *Config) SweepStartupDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepStartupDelay)
	if err != nil || d < 0 {
		return time.Minute
	}
	return d
}

// SweepItemTimeoutDuration parses SweepItemTimeout. Returns 30s if unset or invalid.
func (c *Config) SweepItemTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepItemTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
