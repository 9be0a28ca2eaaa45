package main

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/platform/apns"
	"github.com/tinywideclouds/go-push-relay/internal/storage/file"
	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-relay")
	slog.SetDefault(logger)

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Credentials ---
	// Read the signing key once; the signer holds the parsed key for the
	// process lifetime. A missing or malformed key aborts startup because
	// it would invalidate every subsequent send.
	p8Key, err := os.ReadFile(cfg.APNS.KeyPath)
	if err != nil {
		logger.Error("Failed to read APNs signing key", "path", cfg.APNS.KeyPath, "err", err)
		os.Exit(1)
	}

	// --- Core Components ---
	registry := file.NewDeviceRegistry(cfg.RegistryPath, logger)
	logger.Info("DeviceRegistry initialized", "path", cfg.RegistryPath, "devices", registry.Count())

	dispatcher, err := apns.NewDispatcher(apns.Config{
		KeyID:          cfg.APNS.KeyID,
		TeamID:         cfg.APNS.TeamID,
		Topic:          cfg.APNS.Topic,
		P8KeyContent:   string(p8Key),
		Sandbox:        cfg.APNS.Sandbox,
		RequestTimeout: cfg.APNS.RequestTimeout,
	}, logger)
	if err != nil {
		logger.Error("Dispatcher creation failed", "err", err)
		os.Exit(1)
	}
	logger.Info("APNs dispatcher initialized", "sandbox", cfg.APNS.Sandbox, "topic", cfg.APNS.Topic)

	service := pushrelay.New(registry, dispatcher, logger)

	// --- HTTP Surface ---
	// Bearer-token verification happens in the webhook layer in front of
	// this service; the pass-through keeps the injection point explicit.
	authMiddleware := func(next http.Handler) http.Handler { return next }
	deviceAPI := api.NewDeviceAPI(registry, service, logger)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           deviceAPI.Router(authMiddleware),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Service is now ready.", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down service components...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed.", "err", err)
	}
	logger.Info("Service shutdown complete.")
}
