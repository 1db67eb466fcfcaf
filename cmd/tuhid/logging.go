package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/tuhi/internal/config"
)

// loadConfig reads --config (or the default path) and applies a --log-level
// override the same way the teacher's configureLogger layers --log-level
// over a config-file default (cmd/blim/logging.go).
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path := configPath
	if path == "" {
		def, err := config.DefaultConfigPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve default config path: %w", err)
		}
		path = def
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if lvlStr, _ := cmd.Flags().GetString("log-level"); lvlStr != "" {
		lvl, err := logrus.ParseLevel(lvlStr)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", lvlStr)
		}
		cfg.LogLevel = lvl
	}

	return cfg, cfg.NewLogger(), nil
}
