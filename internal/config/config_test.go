package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/engine"
	"github.com/roach88/tether/internal/ledger"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, engine.DefaultTimeoutPolicy(), cfg.Timeouts)
	assert.Equal(t, ledger.DefaultWindow, cfg.History.Window)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Journal.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Overlay(t *testing.T) {
	cfg, err := Parse([]byte(`
timeouts:
  reachable: 2s
  unreachable: 10m
history:
  window: 30m
log:
  level: debug
journal:
  path: /tmp/tether.db
`))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Timeouts.Reachable)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.Unreachable)
	assert.Equal(t, engine.DefaultFileTransferTimeout, cfg.Timeouts.FileTransfer, "unset keeps default")
	assert.Equal(t, engine.DefaultNotificationGrace, cfg.Timeouts.NotificationGrace)
	assert.Equal(t, 30*time.Minute, cfg.History.Window)
	assert.Equal(t, "/tmp/tether.db", cfg.Journal.Path)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "timeout:\n  reachable: 1s\n", "failed to parse YAML"},
		{"bad duration", "timeouts:\n  reachable: soon\n", "failed to parse YAML"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"negative window", "history:\n  window: -1m\n", "history.window"},
		{"grace too long", "timeouts:\n  reachable: 1s\n  notification_grace: 2s\n", "notification_grace"},
		{"quota without window", "quota:\n  max_ops: 5\n", "quota"},
		{"negative quota", "quota:\n  max_ops: -1\n  window: 1s\n", "quota"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.yaml")
	require.NoError(t, os.WriteFile(path, []byte("files:\n  dir: /var/tether\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/tether", cfg.Files.Dir)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Timeouts.Reachable = 3 * time.Second
	cfg.Journal.Path = "journal.db"
	cfg.Quota = Quota{MaxOps: 3, Window: time.Minute}

	data, err := cfg.Marshal()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestPeerOptions(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.PeerOptions(nil), 2)

	cfg.Files.Dir = t.TempDir()
	assert.Len(t, cfg.PeerOptions(slog.Default()), 4)

	cfg.Quota = Quota{MaxOps: 10, Window: time.Second}
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.PeerOptions(slog.Default()), 5)
}
