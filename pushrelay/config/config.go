package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// APNSConfig holds the gateway credentials and routing flags.
type APNSConfig struct {
	// KeyPath locates the .p8 signing key on disk. The key is read once
	// at startup; the signer never touches the filesystem again.
	KeyPath string
	KeyID   string
	TeamID  string
	// Topic is the app bundle ID the gateway routes on.
	Topic string
	// Sandbox selects the development gateway host.
	Sandbox bool
	// RequestTimeout bounds each delivery; zero means the dispatcher default.
	RequestTimeout time.Duration
}

// Config defines the *single*, authoritative configuration.
// It is static for the process lifetime; there is no hot reload.
type Config struct {
	ListenAddr   string
	RegistryPath string
	APNS         APNSConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("REGISTRY_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "REGISTRY_PATH", "source", "env")
		cfg.RegistryPath = val
	}

	// APNS overrides
	if val := os.Getenv("APNS_KEY_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_PATH", "source", "env")
		cfg.APNS.KeyPath = val
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_ID", "source", "env")
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TEAM_ID", "source", "env")
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_TOPIC"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TOPIC", "source", "env")
		cfg.APNS.Topic = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}
	if val := os.Getenv("APNS_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			cfg.APNS.RequestTimeout = d
		}
	}

	// Final validation. Missing credentials abort startup here rather
	// than failing every send later.
	if cfg.APNS.KeyPath == "" {
		return nil, fmt.Errorf("apns key_path is required (set via YAML or APNS_KEY_PATH env var)")
	}
	if cfg.APNS.KeyID == "" {
		return nil, fmt.Errorf("apns key_id is required (set via YAML or APNS_KEY_ID env var)")
	}
	if cfg.APNS.TeamID == "" {
		return nil, fmt.Errorf("apns team_id is required (set via YAML or APNS_TEAM_ID env var)")
	}
	if cfg.APNS.Topic == "" {
		return nil, fmt.Errorf("apns topic is required (set via YAML or APNS_TOPIC env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = "devices.json"
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
