// Package cli provides the startup and shutdown steps of cmd/fintrack.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the application logger from the configured level and
// format and installs it as the slog default.
func SetupLogger(level, format string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	cfg := log.DefaultConfig()
	cfg.Level = lvl
	cfg.Format = format
	logger := log.New(cfg)
	log.SetDefault(logger)
	if err != nil {
		return logger, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return logger, nil
}

// LoadAndValidateConfig loads configuration and the logger it describes.
// It exits the process when the configuration is invalid.
func LoadAndValidateConfig() (*config.Config, *log.Logger) {
	cfg := config.Load()
	logger, err := SetupLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Warn("Falling back to info level", log.FieldError, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	return cfg, logger
}

// InitSessionStore opens the visitor session database.
// It exits the process on failure.
func InitSessionStore(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize session store", log.FieldError, err.Error(), "path", dbPath)
		os.Exit(1)
	}
	logger.Info("Session store ready", "path", dbPath, "schema_version", repo.SchemaVersion())
	return repo
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ShutdownWithTimeout runs stop with a context bounded by timeout and logs
// when the deadline is reached first.
func ShutdownWithTimeout(logger *log.Logger, timeout time.Duration, stop func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := stop(ctx)
	if ctx.Err() != nil {
		logger.Warn("Shutdown timeout reached")
	}
	return err
}
