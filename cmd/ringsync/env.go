package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ringsync/internal/store"
	"github.com/srg/ringsync/pkg/config"
)

// loadConfig reads the config file and applies the global flag overrides.
// The second result is the log level set by the file, empty when no file was read.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(path, explicit)
	if err != nil {
		return nil, "", err
	}

	fileLevel := ""
	if _, statErr := os.Stat(path); statErr == nil {
		fileLevel = cfg.LogLevel
	}

	if driver, _ := cmd.Flags().GetString("store"); driver != "" {
		cfg.Store.Driver = driver
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Store.Path = db
		if !cmd.Flags().Changed("store") {
			cfg.Store.Driver = config.DriverSQLite
		}
	}
	return cfg, fileLevel, nil
}

// setup loads the config and builds the logger. Validation happens after
// command specific overrides have been applied by the caller.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, fileLevel, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := configureLogger(cmd, fileLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore validates cfg and opens its sample store
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg.OpenStore(ctx, logger)
}
