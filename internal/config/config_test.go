package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listener.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Async.Workers)
	assert.Equal(t, 256, cfg.Async.QueueSize)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Reload.Grace)
	assert.NotNil(t, cfg.Plugins.Args)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "restheart.yml", `
listener:
  address: ":9090"
async:
  workers: 2
reload:
  enabled: true
  grace: 5s
security:
  required-plugins: [basicAuthenticator]
plugins:
  descriptor-files: [plugins.d/extra.yml]
  args:
    ping:
      config:
        msg: hello
    users:
      config:
        file: users.yml
    bruteForceGuard:
      enabled: false
`)
	t.Setenv("RESTHEART_LISTENER_ADDRESS", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listener.Address)
	assert.Equal(t, 2, cfg.Async.Workers)
	assert.True(t, cfg.Reload.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Reload.Grace)
	assert.Equal(t, []string{"basicAuthenticator"}, cfg.Security.RequiredPlugins)
	assert.Equal(t, []string{filepath.Join(dir, "plugins.d/extra.yml")}, cfg.Plugins.DescriptorFiles)

	assert.Equal(t, "hello", cfg.Plugins.ConfigFor("ping")["msg"])
	assert.Equal(t, filepath.Join(dir, "users.yml"), cfg.Plugins.ConfigFor("users")["file"])
	enabled, set := cfg.Plugins.IsExplicitlyEnabled("bruteForceGuard")
	assert.True(t, set)
	assert.False(t, enabled)

	all := cfg.Plugins.All()
	assert.Contains(t, all, "listener")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)

	path := write(t, dir, "bad.yml", "alerting:\n  enabled: true\n  webhook: ftp://host\n")
	_, err = Load(path)
	assert.Error(t, err)

	path = write(t, dir, "metrics.yml", "metrics:\n  enabled: false\n  address: \":9100\"\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestMergePluginsConf(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(write(t, dir, "restheart.yml", "plugins:\n  args:\n    ping:\n      config:\n        msg: base\n"))
	require.NoError(t, err)

	overlay := write(t, dir, "plugins.yml", `
descriptor-files: [more.yml]
defaults:
  denied-capabilities: [execution]
args:
  ping:
    config:
      msg: overlay
  users:
    config:
      file: users.yml
`)
	require.NoError(t, cfg.MergePluginsConf(overlay))
	assert.Equal(t, "overlay", cfg.Plugins.ConfigFor("ping")["msg"])
	assert.Equal(t, filepath.Join(dir, "users.yml"), cfg.Plugins.ConfigFor("users")["file"])
	assert.Equal(t, []string{filepath.Join(dir, "more.yml")}, cfg.Plugins.DescriptorFiles)
	assert.NotEmpty(t, cfg.Plugins.PolicyFor("anything").DeniedCapabilities)

	assert.Error(t, cfg.MergePluginsConf(filepath.Join(dir, "none.yml")))
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "restheart.yml", "listener:\n  address: \":8081\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	require.NoError(t, Watch(ctx, path, 50*time.Millisecond, func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte("listener:\n  address: \":8082\"\n"), 0o600))
	select {
	case cfg := <-changes:
		assert.Equal(t, ":8082", cfg.Listener.Address)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}

	assert.Error(t, Watch(ctx, "", time.Millisecond, func(*Config, error) {}))
}
