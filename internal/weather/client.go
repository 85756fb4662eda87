// Package weather annotates calendar days with an Open-Meteo daily forecast.
// Every failure path degrades to "no data"; callers never see an error.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

// Forecaster returns forecast samples keyed by YYYY-MM-DD.
type Forecaster interface {
	Forecast(ctx context.Context, lat, lon float64) map[string]model.WeatherSample
}

// Recorder receives one outcome per upstream attempt ("ok", "error",
// "open"). Optional.
type Recorder interface {
	WeatherFetch(status string)
}

type Options struct {
	BaseURL      string
	ForecastDays int
	Timeout      time.Duration
	HTTPClient   *http.Client
	Recorder     Recorder
}

// Client talks to the Open-Meteo forecast endpoint. No API key needed.
type Client struct {
	baseURL string
	days    int
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	rec     Recorder
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.open-meteo.com/v1/forecast"
	}
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = 7
	}
	if opts.ForecastDays > 16 {
		opts.ForecastDays = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "open-meteo",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			appLog.Warn("weather circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL: opts.BaseURL,
		days:    opts.ForecastDays,
		http:    hc,
		cb:      cb,
		rec:     opts.Recorder,
	}
}

// forecastResponse is the subset of the Open-Meteo payload we read.
type forecastResponse struct {
	Daily struct {
		Time        []string  `json:"time"`
		WeatherCode []int     `json:"weathercode"`
		TempMax     []float64 `json:"temperature_2m_max"`
		TempMin     []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// Forecast fetches the daily forecast for a coordinate. It issues one
// request and never retries; any failure yields an empty map.
func (c *Client) Forecast(ctx context.Context, lat, lon float64) map[string]model.WeatherSample {
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx, lat, lon)
	})
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "open"
		}
		c.record(status)
		appLog.Error("weather fetch failed", err, "lat", lat, "lon", lon)
		return map[string]model.WeatherSample{}
	}
	c.record("ok")
	return out.(map[string]model.WeatherSample)
}

func (c *Client) record(status string) {
	if c.rec != nil {
		c.rec.WeatherFetch(status)
	}
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) (map[string]model.WeatherSample, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("daily", "weathercode,temperature_2m_max,temperature_2m_min")
	q.Set("timezone", "auto")
	q.Set("forecast_days", strconv.Itoa(c.days))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("open-meteo: %s", resp.Status)
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("open-meteo: decode: %w", err)
	}
	return samplesFrom(body), nil
}

// samplesFrom zips the parallel daily arrays. Days missing any value are
// skipped rather than reported with zeros.
func samplesFrom(body forecastResponse) map[string]model.WeatherSample {
	d := body.Daily
	out := make(map[string]model.WeatherSample, len(d.Time))
	for i, key := range d.Time {
		if i >= len(d.WeatherCode) || i >= len(d.TempMax) || i >= len(d.TempMin) {
			break
		}
		code := d.WeatherCode[i]
		out[key] = model.WeatherSample{
			MaxTemp:       d.TempMax[i],
			MinTemp:       d.TempMin[i],
			ConditionCode: code,
			Condition:     ConditionFor(code),
			Icon:          IconFor(code),
		}
	}
	return out
}

// CachedForecaster keeps one forecast per rounded coordinate for ttl, so
// many views at the same place share a single upstream request.
type CachedForecaster struct {
	next Forecaster
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedForecast
}

type cachedForecast struct {
	samples   map[string]model.WeatherSample
	updatedAt time.Time
}

func NewCachedForecaster(next Forecaster, ttl time.Duration) *CachedForecaster {
	return &CachedForecaster{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedForecast),
	}
}

func (c *CachedForecaster) Forecast(ctx context.Context, lat, lon float64) map[string]model.WeatherSample {
	key := fmt.Sprintf("%.2f,%.2f", lat, lon)
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Sub(e.updatedAt) < c.ttl {
		return e.samples
	}

	samples := c.next.Forecast(ctx, lat, lon)
	// 실패(빈 결과)는 캐시하지 않는다. 다음 요청에서 다시 시도.
	if len(samples) > 0 {
		c.mu.Lock()
		c.pruneLocked(now)
		c.entries[key] = cachedForecast{samples: samples, updatedAt: now}
		c.mu.Unlock()
	}
	return samples
}

// pruneLocked drops expired entries. Caller holds c.mu.
func (c *CachedForecaster) pruneLocked(now time.Time) {
	for k, e := range c.entries {
		if now.Sub(e.updatedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}
