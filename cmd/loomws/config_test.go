package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loomws.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Broadcast)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9001"
logLevel: debug
broadcast: true
maxMessageSize: 65536
readWait: 30s
rateLimit:
  enabled: true
  perSecond: 10
  burst: 20
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9001", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Broadcast)
	assert.Equal(t, 65536, cfg.MaxMessageSize)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.ReadWait))
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.PerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty listen", content: `listen: ""`},
		{name: "rate limit without rate", content: "rateLimit:\n  enabled: true\n"},
		{name: "invalid yaml", content: "listen: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
