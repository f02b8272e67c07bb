package common

import (
	"bytes"
	"testing"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfigValidate tests the validation of invalid and valid configurations
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "refresh disabled", mutate: func(c *Config) { c.RefreshInterval = 0; c.RefreshRAMThreshold = 0 }},
		{name: "negative refresh interval", mutate: func(c *Config) { c.RefreshInterval = -time.Second }, wantErr: "refresh interval"},
		{name: "negative threshold", mutate: func(c *Config) { c.RefreshRAMThreshold = -1 }, wantErr: "refresh ram threshold"},
		{name: "negative prune interval", mutate: func(c *Config) { c.PruneInterval = -1 }, wantErr: "prune interval"},
		{name: "negative retention", mutate: func(c *Config) { c.TombstoneRetention = -1 }, wantErr: "tombstone retention"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

// TestConfigString tests the human readable rendering of a configuration
func TestConfigString(t *testing.T) {
	c := DefaultConfig()
	c.PruneInterval = 0
	s := c.String()

	assert.Contains(t, s, "REFRESH")
	assert.Contains(t, s, "16 MiB")
	assert.Contains(t, s, "Prune Interval        : disabled")
	assert.Contains(t, s, "Retention             : 1m0s")
}

// TestParseLogLevel tests parsing of the supported log levels
func TestParseLogLevel(t *testing.T) {
	for level, want := range map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	} {
		got, err := ParseLogLevel(level)
		require.NoError(t, err, level)
		require.Equal(t, want, got, level)
	}

	_, err := ParseLogLevel("trace")
	require.Error(t, err)
}

// TestCreateLogger tests that the zerolog backed logger honors its level
func TestCreateLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := logOutput
	logOutput = &buf
	t.Cleanup(func() { logOutput = prev })

	l := CreateLogger("versionmap")
	l.Debugf("hidden %d", 1)
	l.Infof("visible %d", 2)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "visible 2")
	require.Contains(t, buf.String(), "versionmap")

	l.SetLevel(logger.ERROR)
	l.Warningf("dropped")
	require.NotContains(t, buf.String(), "dropped")
	l.Errorf("failure")
	require.Contains(t, buf.String(), "failure")
}
