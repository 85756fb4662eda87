package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/store"
)

type fakeUpstream struct {
	down atomic.Bool
	hits atomic.Int32
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	if f.down.Load() {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	switch r.URL.Path {
	case "/", "/index.html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>shell</html>"))
	case "/manifest.json":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"smartcal"}`))
	case "/app.js":
		w.Header().Set("Content-Type", "text/javascript")
		_, _ = w.Write([]byte("console.log(1)"))
	default:
		http.NotFound(w, r)
	}
}

func newHandler(t *testing.T, version string) (*Handler, *fakeUpstream, *Caches) {
	t.Helper()
	db, err := store.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	up := &fakeUpstream{}
	caches := NewCaches(db)
	return New(up, caches, Options{Version: version}), up, caches
}

func get(h http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInstallPrecachesShell(t *testing.T) {
	h, _, caches := newHandler(t, "")
	assert.Equal(t, DefaultVersion, h.Version())
	require.NoError(t, h.Install(context.Background()))

	for _, p := range DefaultPrecache {
		e, ok := caches.Match(DefaultVersion, p)
		require.True(t, ok, p)
		assert.Equal(t, http.StatusOK, e.Status)
	}
}

func TestInstallFailsOnMissingAsset(t *testing.T) {
	db, err := store.OpenDB("")
	require.NoError(t, err)
	defer db.Close()
	h := New(&fakeUpstream{}, NewCaches(db), Options{Precache: []string{"/index.html", "/missing.png"}})
	assert.Error(t, h.Install(context.Background()))
}

func TestActivatePurgesOldVersions(t *testing.T) {
	h, _, caches := newHandler(t, "smart-calendar-v2")
	require.NoError(t, caches.Put("smart-calendar-v1", "/index.html", entry{Status: 200, Body: []byte("old")}))
	require.NoError(t, h.Install(context.Background()))

	purged, err := h.Activate()
	require.NoError(t, err)
	assert.Equal(t, []string{"smart-calendar-v1"}, purged)

	names, err := caches.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"smart-calendar-v2"}, names)
}

func TestAssetsAreCacheFirst(t *testing.T) {
	h, up, _ := newHandler(t, "")

	first := get(h, "/app.js", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("X-Offline-Cache"))

	up.down.Store(true)
	second := get(h, "/app.js", nil)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "hit", second.Header().Get("X-Offline-Cache"))
	assert.Equal(t, "console.log(1)", second.Body.String())
	assert.Equal(t, "text/javascript", second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), up.hits.Load())
}

func TestNotFoundIsNotCached(t *testing.T) {
	h, up, caches := newHandler(t, "")
	assert.Equal(t, http.StatusNotFound, get(h, "/nope.css", nil).Code)
	_, ok := caches.Match(DefaultVersion, "/nope.css")
	assert.False(t, ok)
	get(h, "/nope.css", nil)
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestNavigationFallsBackToCachedIndex(t *testing.T) {
	h, up, _ := newHandler(t, "")
	require.NoError(t, h.Install(context.Background()))
	nav := map[string]string{"Sec-Fetch-Mode": "navigate"}

	live := get(h, "/calendar/2026/1", nav)
	assert.Equal(t, http.StatusNotFound, live.Code, "network answer wins while upstream is up")

	up.down.Store(true)
	rec := get(h, "/calendar/2026/1", nav)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fallback", rec.Header().Get("X-Offline-Cache"))
	assert.Equal(t, "<html>shell</html>", rec.Body.String())

	// Accept: text/html without fetch metadata also counts as navigation.
	rec = get(h, "/", map[string]string{"Accept": "text/html,application/xhtml+xml"})
	assert.Equal(t, "fallback", rec.Header().Get("X-Offline-Cache"))
}

func TestNavigationWithoutCacheReturnsUpstreamFailure(t *testing.T) {
	h, up, _ := newHandler(t, "")
	up.down.Store(true)
	rec := get(h, "/", map[string]string{"Sec-Fetch-Mode": "navigate"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCrossOriginBypassesCache(t *testing.T) {
	h, up, caches := newHandler(t, "")

	rec := get(h, "/app.js", map[string]string{"Origin": "https://elsewhere.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	_, ok := caches.Match(DefaultVersion, "/app.js")
	assert.False(t, ok, "cross-origin responses are never stored")

	get(h, "/app.js", map[string]string{"Sec-Fetch-Site": "cross-site"})
	assert.Equal(t, int32(2), up.hits.Load())

	// same origin is cached
	get(h, "/app.js", map[string]string{"Origin": "http://example.com"})
	_, ok = caches.Match(DefaultVersion, "/app.js")
	assert.True(t, ok)
}

func TestNonGETPassesThrough(t *testing.T) {
	h, up, _ := newHandler(t, "")
	req := httptest.NewRequest(http.MethodPost, "/app.js", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestProxyUpstream(t *testing.T) {
	origin := httptest.NewServer(&fakeUpstream{})
	p, err := ProxyUpstream(origin.URL)
	require.NoError(t, err)

	rec := get(p, "/manifest.json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"name":"smartcal"}`, rec.Body.String())

	origin.Close()
	rec = get(p, "/manifest.json", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	_, err = ProxyUpstream("not a url")
	assert.Error(t, err)
}
