// Package config holds tuhid's on-disk configuration: log level, the
// protocol timeouts spec.md §5 fixes, where the registration store and
// session-bus object tree live, and optional per-family GATT UUID
// overrides for lab rigs that don't advertise the built-in vendor UUIDs
// (internal/wire.ServiceUUID and friends; see FamilyUUIDOverride).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/tuhi/internal/wire"
)

// FamilyUUIDOverride names alternative GATT UUIDs for one device family,
// keyed by wire.Tag. It is parsed from the config file only: no other
// package reads Config.FamilyOverrides, and sessions always use the
// built-in wire.ServiceUUID and friends.
type FamilyUUIDOverride struct {
	Family     wire.Tag `yaml:"family"`
	Service    string   `yaml:"service"`
	CharWrite  string   `yaml:"char_write"`
	CharNotify string   `yaml:"char_notify"`
	CharButton string   `yaml:"char_button"`
}

// Config is tuhid's full configuration, loaded from YAML.
type Config struct {
	LogLevel      logrus.Level `yaml:"log_level"`
	ScanTimeout   time.Duration `yaml:"scan_timeout"`
	AuthTimeout   time.Duration `yaml:"auth_timeout"`
	ButtonTimeout time.Duration `yaml:"button_timeout"`

	// StorePath is where the persistent registration record (spec.md §6)
	// is kept. Empty means the default under the user's config directory.
	StorePath string `yaml:"store_path"`

	// BusName is the well-known session-bus name the RPC surface
	// (internal/rpc) requests, e.g. "org.tuhi.Tuhi1".
	BusName string `yaml:"bus_name"`

	FamilyOverrides []FamilyUUIDOverride `yaml:"family_overrides"`
}

// DefaultBusName is the well-known name tuhid requests on the session bus.
const DefaultBusName = "org.tuhi.Tuhi1"

// DefaultConfig mirrors the teacher's pkg/config.DefaultConfig: explicit
// zero-value-avoiding defaults rather than struct tags, matching
// srgg-blecli/pkg/config.Config (see DESIGN.md for why mcuadros/go-defaults
// was dropped instead of adopted here).
func DefaultConfig() *Config {
	return &Config{
		LogLevel:      logrus.InfoLevel,
		ScanTimeout:   60 * time.Second,
		AuthTimeout:   10 * time.Second,
		ButtonTimeout: 10 * time.Second,
		BusName:       DefaultBusName,
	}
}

// DefaultConfigPath returns "$XDG_CONFIG_HOME/tuhi/config.yaml" (or
// "~/.config/tuhi/config.yaml" when unset).
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "tuhi", "config.yaml"), nil
}

// DefaultStorePath returns "$XDG_CONFIG_HOME/tuhi/devices.yaml", the
// registration record spec.md §6 describes.
func DefaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "tuhi", "devices.yaml"), nil
}

// Load reads and parses a config file, falling back to DefaultConfig for
// every field when path does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// NewLogger builds a logger the way the teacher's pkg/config.Config.NewLogger
// does: configured level, RFC3339 full-timestamp text formatter.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
