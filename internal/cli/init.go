// Package cli holds the startup steps shared by the spendbot commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"spendbot/internal/config"
	"spendbot/internal/log"
	"spendbot/internal/storage"
)

// SetupLogger builds the application logger from the log section and makes
// it the slog default.
func SetupLogger(cfg config.LogConfig, out io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logCfg := log.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Format
	if out != nil {
		logCfg.Output = out
	}
	logger := log.New(logCfg)
	log.SetDefault(logger)
	return logger, nil
}

// LoadEnvFile loads a .env file for local development. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadAndValidateConfig loads the configuration file (skipped when path is
// empty) with environment overrides and validates the result.
func LoadAndValidateConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveConfigPath returns path when it was given explicitly, otherwise the
// default path if that file exists, otherwise "" for env-only configuration.
func ResolveConfigPath(path string, explicit bool) string {
	if explicit {
		return path
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// InitJournal opens the journal at dbPath. It returns nil when dbPath is empty.
func InitJournal(logger *log.Logger, dbPath string) (*storage.Journal, error) {
	if dbPath == "" {
		return nil, nil
	}
	journal, err := storage.NewJournal(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize journal at %s: %w", dbPath, err)
	}
	return journal, nil
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. A second
// signal restores default handling so it terminates the process.
func GracefulShutdown(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

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
