package config

import (
	"log/slog"
	"time"
)

type YamlAPNSConfig struct {
	KeyPath        string `yaml:"key_path"`
	KeyID          string `yaml:"key_id"`
	TeamID         string `yaml:"team_id"`
	Topic          string `yaml:"topic"`
	Sandbox        bool   `yaml:"sandbox"`
	RequestTimeout string `yaml:"request_timeout"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ListenAddr   string         `yaml:"listen_addr"`
	RegistryPath string         `yaml:"registry_path"`
	APNS         YamlAPNSConfig `yaml:"apns"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ListenAddr:   baseCfg.ListenAddr,
		RegistryPath: baseCfg.RegistryPath,
		APNS: APNSConfig{
			KeyPath: baseCfg.APNS.KeyPath,
			KeyID:   baseCfg.APNS.KeyID,
			TeamID:  baseCfg.APNS.TeamID,
			Topic:   baseCfg.APNS.Topic,
			Sandbox: baseCfg.APNS.Sandbox,
		},
	}

	if baseCfg.APNS.RequestTimeout != "" {
		d, err := time.ParseDuration(baseCfg.APNS.RequestTimeout)
		if err != nil {
			logger.Warn("Invalid apns.request_timeout in YAML, using default", "value", baseCfg.APNS.RequestTimeout, "err", err)
		} else {
			cfg.APNS.RequestTimeout = d
		}
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"registry_path", cfg.RegistryPath,
		"sandbox", cfg.APNS.Sandbox,
	)

	return cfg, nil
}
