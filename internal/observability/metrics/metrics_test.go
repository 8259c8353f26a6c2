package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveExchange(t *testing.T) {
	c := New()
	c.ObserveExchange("ping", "GET", 200, 10*time.Millisecond)
	c.ObserveExchange("ping", "GET", 503, time.Millisecond)
	c.ObserveExchange("", "GET", 404, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("ping", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("ping", "GET")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("none", "GET", "404")))
}

func TestPluginGaugesAndFaults(t *testing.T) {
	c := New()
	c.SetPlugins(map[string]int{"service": 3, "provider": 2}, 1)
	c.SetPlugins(map[string]int{"service": 4}, 0)
	c.ObserveFault("broken", "RESPONSE")
	c.ObserveAsync("submitted")

	assert.Equal(t, 4.0, testutil.ToFloat64(c.plugins.WithLabelValues("service")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.excluded))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.faults.WithLabelValues("broken", "RESPONSE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.async.WithLabelValues("submitted")))
}

func TestHandlerExposesTextFormat(t *testing.T) {
	c := New()
	c.ObserveExchange("ping", "GET", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `restheart_http_requests_total{code="200",method="GET",service="ping"} 1`))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveExchange("x", "GET", 200, 0)
	c.ObserveFault("x", "RESPONSE")
	c.ObserveAsync("rejected")
	c.SetPlugins(nil, 0)
}
