package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/model"
)

func TestIconBuckets(t *testing.T) {
	cases := map[int]string{
		0: "☀️", 1: "⛅", 3: "⛅",
		45: "🌫️", 48: "🌫️",
		51: "🌦️", 55: "🌦️",
		61: "🌧️", 67: "🌧️",
		71: "❄️", 77: "❄️",
		80: "🌧️", 82: "🌧️",
		85: "❄️", 86: "❄️",
		95: "⛈️", 99: "⛈️",
		4: "🌡️", 50: "🌡️", 100: "🌡️", -1: "🌡️",
	}
	for code, want := range cases {
		assert.Equal(t, want, IconFor(code), "code %d", code)
	}
	assert.Equal(t, "맑음", ConditionFor(0))
	assert.Equal(t, "알 수 없음", ConditionFor(42))
}

const sampleForecast = `{
  "daily": {
    "time": ["2026-01-15", "2026-01-16", "2026-01-17"],
    "weathercode": [0, 61, 3],
    "temperature_2m_max": [3.5, 5.1, 2.0],
    "temperature_2m_min": [-4.2, 0.3, -6.8]
  }
}`

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) WeatherFetch(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[status]++
}

func TestClientForecast(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleForecast))
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	c := NewClient(Options{BaseURL: srv.URL, ForecastDays: 3, Recorder: rec})
	got := c.Forecast(context.Background(), 37.5665, 126.978)

	require.Len(t, got, 3)
	assert.Equal(t, model.WeatherSample{MaxTemp: 5.1, MinTemp: 0.3, ConditionCode: 61, Condition: "비", Icon: "🌧️"}, got["2026-01-16"])
	assert.Contains(t, gotQuery, "latitude=37.5665")
	assert.Contains(t, gotQuery, "timezone=auto")
	assert.Contains(t, gotQuery, "forecast_days=3")
	assert.Contains(t, gotQuery, "daily=weathercode%2Ctemperature_2m_max%2Ctemperature_2m_min")
	assert.Equal(t, 1, rec.counts["ok"])
}

func TestClientDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{not json")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			got := NewClient(Options{BaseURL: srv.URL}).Forecast(context.Background(), 1, 2)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestClientBreakerOpensAfterFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	c := NewClient(Options{BaseURL: srv.URL, Recorder: rec})
	for i := 0; i < 5; i++ {
		assert.Empty(t, c.Forecast(context.Background(), 1, 2))
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
	assert.Equal(t, 3, rec.counts["error"])
	assert.Equal(t, 2, rec.counts["open"])
}

type fakeForecaster struct {
	calls   int32
	samples map[string]model.WeatherSample
}

func (f *fakeForecaster) Forecast(context.Context, float64, float64) map[string]model.WeatherSample {
	atomic.AddInt32(&f.calls, 1)
	return f.samples
}

func TestAnnotatorLoadsOnce(t *testing.T) {
	f := &fakeForecaster{samples: map[string]model.WeatherSample{"2026-01-15": {Icon: "☀️"}}}
	a := NewAnnotator(f, Position{Lat: 37.5, Lon: 127})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, a.Load(context.Background()), 1)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))
}

func TestAnnotatorWithoutPosition(t *testing.T) {
	f := &fakeForecaster{samples: map[string]model.WeatherSample{"x": {}}}
	a := NewAnnotator(f, nil)

	got := a.Load(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.EqualValues(t, 0, atomic.LoadInt32(&f.calls))
}

func TestCachedForecaster(t *testing.T) {
	f := &fakeForecaster{samples: map[string]model.WeatherSample{"2026-01-15": {Icon: "⛅"}}}
	c := NewCachedForecaster(f, time.Minute)
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Forecast(context.Background(), 37.5665, 126.978)
	c.Forecast(context.Background(), 37.5661, 126.9779)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.calls))

	now = now.Add(2 * time.Minute)
	c.Forecast(context.Background(), 37.5665, 126.978)
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
}

func TestCachedForecasterPrunesExpired(t *testing.T) {
	f := &fakeForecaster{samples: map[string]model.WeatherSample{"2026-01-15": {Icon: "⛅"}}}
	c := NewCachedForecaster(f, time.Minute)
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Forecast(context.Background(), 37.56, 126.97)
	c.Forecast(context.Background(), 35.17, 129.07)
	require.Len(t, c.entries, 2)

	now = now.Add(2 * time.Minute)
	c.Forecast(context.Background(), 33.49, 126.53)
	assert.Len(t, c.entries, 1, "expired coordinates are dropped on insert")
	assert.Contains(t, c.entries, "33.49,126.53")
}

func TestCachedForecasterSkipsEmpty(t *testing.T) {
	f := &fakeForecaster{samples: map[string]model.WeatherSample{}}
	c := NewCachedForecaster(f, time.Minute)

	c.Forecast(context.Background(), 1, 2)
	c.Forecast(context.Background(), 1, 2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.calls))
}
