package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileScannerReadsDescriptors(t *testing.T) {
	path := writeFile(t, "plugins.yml", `
plugins:
  - name: events
    implementation: redisEvents
    kind: provider
    enabledByDefault: true
    providedType: events-producer
    injections:
      - name: redis
        order: 0
  - name: stamp
    kind: interceptor
    interceptPoint: AFTER_AUTH
    priority: 3
`)
	found, err := FileScanner{Paths: []string{path}}.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 2)

	assert.Equal(t, "redisEvents", found[0].ImplementationID)
	assert.Equal(t, KindProvider, found[0].Kind)
	assert.True(t, found[0].Injects("redis"))
	assert.Equal(t, "stamp", found[1].ImplementationID)
	assert.Equal(t, RequestAfterAuth, found[1].Point)
	assert.Equal(t, 3, found[1].Priority)
}

func TestFileScannerRejectsUnknownKind(t *testing.T) {
	path := writeFile(t, "bad.yml", "plugins:\n  - name: x\n    kind: gadget\n")
	_, err := FileScanner{Paths: []string{path}}.Discover(context.Background())
	require.Error(t, err)
}

func TestMultiScannerOverridesInPlace(t *testing.T) {
	base := NewCatalog()
	require.NoError(t, base.Register(Descriptor{Name: "events", Kind: KindProvider, EnabledByDefault: true}, func() (any, error) { return nil, nil }))
	require.NoError(t, base.Register(Descriptor{Name: "ping", Kind: KindService, DefaultRoute: "/ping"}, nil))

	path := writeFile(t, "override.yml", `
plugins:
  - name: events
    implementation: redisEvents
    kind: provider
  - name: extra
    implementation: ping
    kind: service
    defaultRoute: /extra
`)
	found, err := MultiScanner{base, nil, FileScanner{Paths: []string{path}}}.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "events", found[0].Name)
	assert.Equal(t, "redisEvents", found[0].ImplementationID)
	assert.False(t, found[0].EnabledByDefault)
	assert.Equal(t, "ping", found[1].Name)
	assert.Equal(t, "extra", found[2].Name)
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	c := NewCatalog()
	d := Descriptor{Name: "ping", Kind: KindService}
	require.NoError(t, c.Register(d, func() (any, error) { return nil, nil }))
	assert.Error(t, c.Register(d, nil))
	assert.Error(t, c.RegisterImplementation("ping", func() (any, error) { return nil, nil }))
	assert.Panics(t, func() { c.MustRegister(Descriptor{Name: "", Kind: KindService}, nil) })

	_, ok := c.Factory("ping")
	assert.True(t, ok)
	_, ok = c.Factory("missing")
	assert.False(t, ok)
}

func TestLoadManagerConfig(t *testing.T) {
	path := writeFile(t, "conf.yml", `
descriptor-files: [extra.yml]
defaults:
  denied-capabilities: [execution]
args:
  ping:
    config:
      msg: hello
  events:
    enabled: false
    policy:
      required: true
`)
	cfg, err := LoadManagerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"extra.yml"}, cfg.DescriptorFiles)
	assert.Equal(t, "hello", cfg.ConfigFor("ping")["msg"])
	enabled, set := cfg.IsExplicitlyEnabled("events")
	assert.True(t, set)
	assert.False(t, enabled)
	policy := cfg.PolicyFor("events")
	assert.True(t, policy.Required)
	assert.Equal(t, []Capability{CapabilityExecution}, policy.DeniedCapabilities)

	bad := writeFile(t, "bad.yml", `
args:
  x:
    policy:
      allowed-capabilities: [network]
      denied-capabilities: [network]
`)
	_, err = LoadManagerConfig(bad)
	assert.Error(t, err)
}
