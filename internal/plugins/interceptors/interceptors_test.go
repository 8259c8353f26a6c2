package interceptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoftInstigate/restheart-sub016/internal/events"
	"github.com/SoftInstigate/restheart-sub016/pkg/exchange"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

func TestRequestIDKeepsClientValue(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	ex := exchange.New(r)
	require.True(t, RequestID{}.Resolve(ex))
	require.NoError(t, RequestID{}.Handle(ex))
	generated := ex.Header().Get(HeaderRequestID)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, r.Header.Get(HeaderRequestID))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, "given")
	ex = exchange.New(r)
	require.NoError(t, RequestID{}.Handle(ex))
	assert.Equal(t, "given", ex.Header().Get(HeaderRequestID))
}

func TestBruteForceGuardPerClient(t *testing.T) {
	g := NewBruteForceGuard()
	require.NoError(t, g.Init(&plugin.ExecutionContext{Config: map[string]any{"rate": 1, "burst": 2, "trust-forwarded-for": true}}))
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }

	exFrom := func(client string) *exchange.Exchange {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic x")
		r.Header.Set("X-Forwarded-For", client+", 10.0.0.1")
		return exchange.New(r)
	}

	for i := 0; i < 2; i++ {
		ex := exFrom("1.1.1.1")
		require.True(t, g.Resolve(ex))
		require.NoError(t, g.Handle(ex))
		assert.False(t, ex.Blocked())
	}
	ex := exFrom("1.1.1.1")
	require.NoError(t, g.Handle(ex))
	assert.True(t, ex.Blocked())

	ex = exFrom("2.2.2.2")
	require.NoError(t, g.Handle(ex))
	assert.False(t, ex.Blocked())

	now = now.Add(time.Second)
	ex = exFrom("1.1.1.1")
	require.NoError(t, g.Handle(ex))
	assert.False(t, ex.Blocked())

	assert.False(t, g.Resolve(exchange.New(httptest.NewRequest(http.MethodGet, "/", nil))))
}

func TestBruteForceGuardEvictsIdleClients(t *testing.T) {
	g := NewBruteForceGuard()
	g.maxClients = 2
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }

	assert.True(t, g.allow("a"))
	assert.True(t, g.allow("b"))
	now = now.Add(time.Hour)
	assert.True(t, g.allow("c"))
	assert.Len(t, g.visitors, 1)
}

func TestContentSizeLimiter(t *testing.T) {
	l := &ContentSizeLimiter{max: DefaultMaxContentBytes}
	require.NoError(t, l.Init(&plugin.ExecutionContext{Config: map[string]any{"max-bytes": 3}}))
	assert.Error(t, (&ContentSizeLimiter{}).Init(&plugin.ExecutionContext{Config: map[string]any{"max-bytes": 0}}))

	assert.False(t, l.Resolve(exchange.New(httptest.NewRequest(http.MethodGet, "/", nil))))

	r := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("abcdef"))
	r.ContentLength = -1
	ex := exchange.New(r)
	require.True(t, l.Resolve(ex))
	require.NoError(t, l.Handle(ex))
	assert.True(t, ex.InError())
	assert.Equal(t, http.StatusRequestEntityTooLarge, ex.Status())

	ex = exchange.New(httptest.NewRequest(http.MethodPut, "/", strings.NewReader("abc")))
	require.NoError(t, l.Handle(ex))
	assert.False(t, ex.InError())
}

func TestCORSHeaders(t *testing.T) {
	c := &CORSHeaders{origin: "*"}
	require.NoError(t, c.Init(&plugin.ExecutionContext{Config: map[string]any{"allow-origin": "https://app.example"}}))

	assert.False(t, c.Resolve(exchange.New(httptest.NewRequest(http.MethodGet, "/", nil))))

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example")
	ex := exchange.New(r)
	require.True(t, c.Resolve(ex))
	require.NoError(t, c.Handle(ex))
	assert.Equal(t, "https://app.example", ex.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, ex.Header().Get("Access-Control-Expose-Headers"), "Auth-Token")
	assert.NotEmpty(t, ex.Header().Get("Access-Control-Allow-Methods"))
}

func TestExchangeEventsPublishes(t *testing.T) {
	q := events.NewMemoryQueue(1)
	e := &ExchangeEvents{}
	assert.False(t, e.Resolve(nil))
	assert.Error(t, e.Inject(plugin.InjectionPoint{Name: "events"}, 42))
	require.NoError(t, e.Inject(plugin.InjectionPoint{Name: "events"}, events.Producer(q)))

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	ex := exchange.New(r)
	ex.SetPipelineInfo(exchange.PipelineInfo{Type: exchange.PipelineService, Name: "ping"})
	require.NoError(t, e.Handle(ex.Detach()))
	require.NoError(t, q.Close())

	var got []events.Event
	_ = q.Consume(context.Background(), 1, func(_ context.Context, payload []byte) error {
		ev, err := events.Decode(payload)
		require.NoError(t, err)
		got = append(got, ev)
		return nil
	})
	require.Len(t, got, 1)
	assert.Equal(t, "ping", got[0].Service)
	assert.Equal(t, "/ping", got[0].Path)
}
