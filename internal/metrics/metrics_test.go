package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/assistant"
	"smartcal/internal/store"
	"smartcal/internal/weather"
)

// compile-time checks that the collector plugs into every recorder
var (
	_ store.Recorder     = (*Collector)(nil)
	_ weather.Recorder   = (*Collector)(nil)
	_ assistant.Recorder = (*Collector)(nil)
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("smartcal")

	c.EventMutation("create", "local", "ok")
	c.EventMutation("create", "local", "ok")
	c.EventMutation("delete", "dynamodb", "error")
	c.WeatherFetch("open")
	c.ChatRequest("no_key")
	c.ObserveHTTP(http.MethodGet, "/api/events", 200, 15*time.Millisecond)
	c.ViewOpened()
	c.ViewOpened()
	c.ViewClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.EventMutations.WithLabelValues("create", "local", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EventMutations.WithLabelValues("delete", "dynamodb", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.WeatherFetches.WithLabelValues("open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ChatRequests.WithLabelValues("no_key")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/events", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LiveViews))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector("smartcal"), NewCollector("smartcal")
	a.WeatherFetch("ok")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.WeatherFetches.WithLabelValues("ok")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("smartcal")
	c.ChatRequest("ok")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `smartcal_chat_requests_total{outcome="ok"} 1`)
}
