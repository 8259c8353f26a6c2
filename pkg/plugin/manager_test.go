package plugin

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
)

func bootstrap(t *testing.T, c *Catalog, descriptors []Descriptor, opts ...Option) (*Registry, error) {
	t.Helper()
	m := NewManager(c, opts...)
	require.NoError(t, m.Load(descriptors))
	return m.Bootstrap(context.Background())
}

func TestBootstrapInstantiatesInDependencyOrder(t *testing.T) {
	j := &journal{}
	reg, err := bootstrap(t, testCatalog(j, nil), []Descriptor{
		provider("d_c", "c_a"),
		provider("c_a", "a"),
		provider("a"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"init a", "init c_a", "init d_c"}, j.list())
	rec, ok := reg.Get(KindProvider, "d_c")
	require.True(t, ok)
	assert.True(t, rec.Enabled)
	assert.Equal(t, "value-of-c_a", rec.Instance.(*fakeProvider).values["c_a"])
}

func TestBrokenProvidersAreIsolated(t *testing.T) {
	j := &journal{}
	reg, err := bootstrap(t, testCatalog(j, nil), []Descriptor{
		provider("a"),
		provider("b", "notExisting"),
		provider("e_b", "b"),
		service("uses-b", "/b", true, "b"),
		service("ping", "/ping", true, "a"),
	})
	require.NoError(t, err)

	_, ok := reg.Get(KindProvider, "a")
	assert.True(t, ok)
	for _, name := range []string{"b", "e_b"} {
		_, ok := reg.Get(KindProvider, name)
		assert.False(t, ok, name)
	}
	_, ok = reg.Get(KindService, "uses-b")
	assert.False(t, ok)
	_, ok = reg.Get(KindService, "ping")
	assert.True(t, ok)

	diags := reg.Diagnostics()
	require.Len(t, diags, 3)
	for _, d := range diags {
		assert.Equal(t, xerrors.CodeMissingDependency, d.Code(), d.Name)
	}
}

func TestDisabledPluginsAreAbsentAndBreakDependants(t *testing.T) {
	j := &journal{}
	off := provider("a")
	off.EnabledByDefault = false
	reg, err := bootstrap(t, testCatalog(j, nil), []Descriptor{
		off,
		provider("c_a", "a"),
		service("ping", "/ping", true),
		service("secret", "/secret", false),
	})
	require.NoError(t, err)

	assert.Empty(t, reg.All(KindProvider))
	_, ok := reg.Get(KindService, "ping")
	assert.True(t, ok)
	assert.Equal(t, "/ping", reg.All(KindService)[0].Descriptor.DefaultRoute)
	_, ok = reg.Get(KindService, "secret")
	assert.False(t, ok)
	require.Len(t, reg.Diagnostics(), 1)
	assert.Equal(t, "c_a", reg.Diagnostics()[0].Name)
	assert.Empty(t, j.list())
}

func TestConfigOverridesEnabledByDefault(t *testing.T) {
	off := provider("a")
	off.EnabledByDefault = false
	src := mapSource{
		enabled: map[string]bool{"a": true, "ping": false},
		cfg:     map[string]map[string]any{"a": {"dsn": "x"}},
	}
	reg, err := bootstrap(t, testCatalog(&journal{}, nil),
		[]Descriptor{off, service("ping", "/ping", true)}, WithConfigSource(src))
	require.NoError(t, err)

	rec, ok := reg.Get(KindProvider, "a")
	require.True(t, ok)
	assert.Equal(t, "x", rec.Config["dsn"])
	_, ok = reg.Get(KindService, "ping")
	assert.False(t, ok)
}

func TestManagerConfigEnabledKey(t *testing.T) {
	yes := true
	cfg := ManagerConfig{Args: map[string]PluginConfig{
		"a":       {Config: map[string]any{"enabled": false}},
		"PingSvc": {Enabled: &yes},
	}}
	v, set := cfg.IsExplicitlyEnabled("a")
	assert.True(t, set)
	assert.False(t, v)
	v, set = cfg.IsExplicitlyEnabled("pingsvc")
	assert.True(t, set)
	assert.True(t, v)
	_, set = cfg.IsExplicitlyEnabled("other")
	assert.False(t, set)
}

func TestInitializationFailures(t *testing.T) {
	j := &journal{}
	c := testCatalog(j, map[string]func(*fakeProvider){
		"b":    func(p *fakeProvider) { p.failInit = true },
		"p":    func(p *fakeProvider) { p.panicAt = "init" },
		"q":    func(p *fakeProvider) { p.panicAt = "inject" },
		"e_b":  nil,
		"c_a":  nil,
		"self": nil,
	})
	broken := Descriptor{Name: "x", ImplementationID: "broken", Kind: KindProvider, EnabledByDefault: true}
	wrong := Descriptor{Name: "y", ImplementationID: "wrong-kind", Kind: KindProvider, EnabledByDefault: true}
	reg, err := bootstrap(t, c, []Descriptor{
		provider("a"),
		provider("b"),
		provider("e_b", "b"),
		provider("p"),
		provider("q", "a"),
		broken,
		wrong,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Len())
	codes := map[string]xerrors.Code{}
	for _, d := range reg.Diagnostics() {
		codes[d.Name] = d.Code()
	}
	assert.Equal(t, xerrors.CodeInitializationFailure, codes["b"])
	assert.Equal(t, xerrors.CodeMissingDependency, codes["e_b"])
	assert.Equal(t, xerrors.CodeInitializationFailure, codes["p"])
	assert.Equal(t, xerrors.CodeInitializationFailure, codes["q"])
	assert.Equal(t, xerrors.CodeInitializationFailure, codes["x"])
	assert.Equal(t, xerrors.CodeInitializationFailure, codes["y"])
}

func TestRequiredPluginFailureIsFatal(t *testing.T) {
	j := &journal{}
	c := testCatalog(j, map[string]func(*fakeProvider){"b": func(p *fakeProvider) { p.failInit = true }})
	_, err := bootstrap(t, c, []Descriptor{provider("a"), provider("b")}, WithFailurePolicy(RequirePlugins("b")))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
	assert.Contains(t, j.list(), "stop a", "already created plugins are stopped")

	cfg := ManagerConfig{Args: map[string]PluginConfig{"b": {Policy: &Policy{Required: true}}}}
	_, err = bootstrap(t, testCatalog(&journal{}, map[string]func(*fakeProvider){"b": func(p *fakeProvider) { p.failInit = true }}),
		[]Descriptor{provider("b")}, WithConfigSource(cfg))
	require.Error(t, err)
}

func TestReservedCapabilitiesRequireCollaborators(t *testing.T) {
	c := testCatalog(&journal{}, nil)
	_, err := bootstrap(t, c, []Descriptor{provider("a", ReservedConfig)})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeConfigurationError, xerrors.CodeOf(err))

	_, err = bootstrap(t, c, []Descriptor{service("s", "/s", true, ReservedRegistry)}, WithConfigSource(mapSource{}))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeConfigurationError, xerrors.CodeOf(err))

	holder := NewHolder(nil)
	reg, err := bootstrap(t, c, []Descriptor{
		provider("a", ReservedConfig),
		service("s", "/s", true, ReservedRegistry, ReservedConfig, "a"),
	}, WithConfigSource(mapSource{cfg: map[string]map[string]any{"s": {"k": 1}}}), WithRegistryHandle(holder))
	require.NoError(t, err)
	rec, ok := reg.Get(KindService, "s")
	require.True(t, ok)
	svc := rec.Instance.(*fakeService)
	assert.Same(t, holder, svc.values[ReservedRegistry])
	assert.Equal(t, map[string]any{"k": 1}, svc.values[ReservedConfig])
	assert.Equal(t, "value-of-a", svc.values["a"])
}

func TestConfigScopeAll(t *testing.T) {
	d := provider("a")
	d.Injections = []InjectionPoint{{Name: ReservedConfig, Params: map[string]any{"scope": "all"}}}
	reg, err := bootstrap(t, testCatalog(&journal{}, nil), []Descriptor{d}, WithConfigSource(mapSource{}))
	require.NoError(t, err)
	rec, _ := reg.Get(KindProvider, "a")
	assert.Equal(t, map[string]any{"scope": "all"}, rec.Instance.(*fakeProvider).values[ReservedConfig])
}

func TestInjectionFollowsDeclarationOrder(t *testing.T) {
	d := provider("p")
	d.Injections = []InjectionPoint{
		{Name: "b", Order: 2},
		{Name: "a", Order: 0},
		{Name: ReservedConfig, Order: 1},
	}
	reg, err := bootstrap(t, testCatalog(&journal{}, nil),
		[]Descriptor{d, provider("a"), provider("b")}, WithConfigSource(mapSource{}))
	require.NoError(t, err)
	rec, _ := reg.Get(KindProvider, "p")
	assert.Equal(t, []string{"a", ReservedConfig, "b"}, rec.Instance.(*fakeProvider).injected)
}

func TestProvidersCannotDependOnServices(t *testing.T) {
	reg, err := bootstrap(t, testCatalog(&journal{}, nil), []Descriptor{
		service("ping", "/ping", true),
		provider("c_a", "ping"),
	})
	require.NoError(t, err)
	_, ok := reg.Get(KindProvider, "c_a")
	assert.False(t, ok)
}

func TestInterceptorOrdering(t *testing.T) {
	reg, err := bootstrap(t, testCatalog(&journal{}, nil), []Descriptor{
		interceptor("late", Response, 10),
		interceptor("first-5", Response, 5),
		interceptor("second-5", Response, 5),
		interceptor("auth", RequestBeforeAuth, 1),
	})
	require.NoError(t, err)

	var names []string
	for _, rec := range reg.InterceptorsFor(Response) {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"first-5", "second-5", "late"}, names)
	assert.Len(t, reg.InterceptorsFor(RequestBeforeAuth), 1)
	assert.Empty(t, reg.InterceptorsFor(ResponseAsync))
}

func TestInterceptorOrderingWithExtremePriorities(t *testing.T) {
	reg, err := bootstrap(t, testCatalog(&journal{}, nil), []Descriptor{
		interceptor("late", Response, 10),
		interceptor("max", Response, math.MaxInt),
		interceptor("first", Response, math.MinInt),
		interceptor("zero", Response, 0),
		interceptor("also-min", Response, math.MinInt),
	})
	require.NoError(t, err)

	var names []string
	for _, rec := range reg.InterceptorsFor(Response) {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"first", "also-min", "zero", "late", "max"}, names)
}

func TestDuplicateAndInvalidDescriptorsAreRejected(t *testing.T) {
	reg, err := bootstrap(t, testCatalog(&journal{}, nil), []Descriptor{
		provider("a"),
		provider("a"),
		{Name: "nopoint", ImplementationID: "interceptor", Kind: KindInterceptor, EnabledByDefault: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	require.Len(t, reg.Diagnostics(), 2)
	assert.Equal(t, xerrors.CodeInvalidArgument, reg.Diagnostics()[0].Code())
}

func TestCapabilityPolicy(t *testing.T) {
	d := provider("a")
	d.Capabilities = []Capability{CapabilityNetwork}
	cfg := ManagerConfig{Defaults: Policy{DeniedCapabilities: []Capability{CapabilityNetwork}}}
	reg, err := bootstrap(t, testCatalog(&journal{}, nil), []Descriptor{d}, WithConfigSource(cfg))
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, xerrors.CodeInitializationFailure, reg.Diagnostics()[0].Code())
}

func TestCloseStopsInReverseOrder(t *testing.T) {
	j := &journal{}
	reg, err := bootstrap(t, testCatalog(j, nil), []Descriptor{provider("c_a", "a"), provider("a")})
	require.NoError(t, err)
	require.NoError(t, reg.Close(context.Background()))
	require.NoError(t, reg.Close(context.Background()))
	assert.Equal(t, []string{"init a", "init c_a", "stop c_a", "stop a"}, j.list())
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(nil)
	assert.Nil(t, h.Current())
	_, ok := h.Current().Get(KindService, "ping")
	assert.False(t, ok)

	first := newRegistry()
	second := newRegistry()
	assert.Nil(t, h.Swap(first))
	assert.Same(t, first, h.Swap(second))
	assert.Same(t, second, h.Current())
}
