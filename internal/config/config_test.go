package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.ScanTimeout)
	assert.Equal(t, DefaultBusName, cfg.BusName)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus_name: org.example.Test\nstore_path: /tmp/devices.yaml\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "org.example.Test", cfg.BusName)
	assert.Equal(t, "/tmp/devices.yaml", cfg.StorePath)
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: logrus.DebugLevel}
	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	formatter, ok := logger.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, formatter.FullTimestamp)
}
