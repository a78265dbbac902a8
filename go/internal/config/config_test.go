package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "gameclock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "kv", cfg.Store.Fast)
	assert.Equal(t, "postgres", cfg.Store.Durable)
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Clock.OpTimeout)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
log_level: debug
store:
  fast: memory
  durable: memory
heartbeat:
  interval: 500ms
  workers: 2
finalizer:
  enabled: false
`)
	t.Setenv("HEARTBEAT_WORKERS", "4")
	t.Setenv("NATS_URL", "nats://nats:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Fast)
	assert.Equal(t, 500*time.Millisecond, cfg.Heartbeat.Interval)
	assert.Equal(t, 4, cfg.Heartbeat.Workers, "environment wins over the file")
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
log_level: loud
store:
  fast: redis
  durable: memory
heartbeat:
  interval: 0s
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "store.fast")
	assert.Contains(t, err.Error(), "heartbeat.interval")
	assert.Contains(t, err.Error(), "finalizer requires the postgres durable store")
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_level: info\nfinalizer:\n  enabled: false\n")

	changed := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, "info", w.Config().LogLevel)

	writeConfig(t, dir, "log_level: warn\nfinalizer:\n  enabled: false\n")

	// A write can surface as several events, the first one seeing a truncated file.
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case cfg := <-changed:
			reloaded = cfg.LogLevel == "warn"
		case <-deadline:
			t.Fatal("config was not reloaded")
		}
	}
	assert.Equal(t, "warn", w.Config().LogLevel)
}
