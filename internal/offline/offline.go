// Package offline sits in front of the UI assets and keeps a versioned
// copy of them so the calendar shell still loads when the upstream does
// not answer.
package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	appLog "smartcal/internal/log"
)

const DefaultVersion = "smart-calendar-v2"

// DefaultPrecache is fetched by Install.
var DefaultPrecache = []string{"/", "/index.html", "/manifest.json"}

type Options struct {
	Version  string
	Precache []string
}

// Handler is the caching intermediary. Call Install then Activate once
// at startup.
type Handler struct {
	upstream http.Handler
	caches   *Caches
	version  string
	precache []string
}

func New(upstream http.Handler, caches *Caches, opts Options) *Handler {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if len(opts.Precache) == 0 {
		opts.Precache = DefaultPrecache
	}
	return &Handler{upstream: upstream, caches: caches, version: opts.Version, precache: opts.Precache}
}

// ProxyUpstream forwards to a remote UI origin. Transport failures come
// back as 502 so the handler can fall back to its cache.
func ProxyUpstream(origin string) (http.Handler, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("offline: invalid upstream %q", origin)
	}
	p := httputil.NewSingleHostReverseProxy(u)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		appLog.Warn("offline upstream unreachable", "path", r.URL.Path, "err", err.Error())
		w.WriteHeader(http.StatusBadGateway)
	}
	return p, nil
}

func (h *Handler) Version() string { return h.version }

// Install pre-caches the shell into the current version. Any failure
// fails the whole install.
func (h *Handler) Install(ctx context.Context) error {
	for _, p := range h.precache {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p, nil)
		if err != nil {
			return err
		}
		rec := h.fetch(req)
		if rec.status != http.StatusOK {
			return fmt.Errorf("offline: precache %s: status %d", p, rec.status)
		}
		if err := h.caches.Put(h.version, requestKey(req), rec.entry()); err != nil {
			return fmt.Errorf("offline: precache %s: %w", p, err)
		}
	}
	appLog.Info("offline cache installed", "version", h.version, "entries", len(h.precache))
	return nil
}

// Activate deletes every cache not named after the current version and
// returns the purged names.
func (h *Handler) Activate() ([]string, error) {
	names, err := h.caches.Names()
	if err != nil {
		return nil, err
	}
	var purged []string
	var errs []error
	for _, name := range names {
		if name == h.version {
			continue
		}
		if err := h.caches.Delete(name); err != nil {
			errs = append(errs, err)
			continue
		}
		appLog.Info("offline cache purged", "name", name)
		purged = append(purged, name)
	}
	return purged, errors.Join(errs...)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case crossOrigin(r), r.Method != http.MethodGet:
		h.upstream.ServeHTTP(w, r)
	case isNavigation(r):
		h.serveNavigation(w, r)
	default:
		h.serveAsset(w, r)
	}
}

// serveNavigation is network-first with the cached index as fallback.
func (h *Handler) serveNavigation(w http.ResponseWriter, r *http.Request) {
	rec := h.fetch(r)
	if rec.status < http.StatusInternalServerError {
		rec.replay(w)
		return
	}
	if e, ok := h.caches.Match(h.version, "/index.html"); ok {
		w.Header().Set("X-Offline-Cache", "fallback")
		replay(w, e)
		return
	}
	rec.replay(w)
}

// serveAsset is cache-first; fresh 200s are stored.
func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request) {
	key := requestKey(r)
	if e, ok := h.caches.Match(h.version, key); ok {
		w.Header().Set("X-Offline-Cache", "hit")
		replay(w, e)
		return
	}
	rec := h.fetch(r)
	if rec.status == http.StatusOK {
		if err := h.caches.Put(h.version, key, rec.entry()); err != nil {
			appLog.Error("offline cache put failed", err, "key", key)
		}
	}
	rec.replay(w)
}

func (h *Handler) fetch(r *http.Request) *bufferedResponse {
	rec := &bufferedResponse{header: http.Header{}}
	h.upstream.ServeHTTP(rec, r)
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec
}

func requestKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

// crossOrigin reports requests the browser made on behalf of another site.
func crossOrigin(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Site"), "cross-site") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	return err != nil || !strings.EqualFold(u.Host, r.Host)
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func replay(w http.ResponseWriter, e entry) {
	for k, vs := range e.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

// bufferedResponse collects an upstream response so it can be inspected
// before anything reaches the client.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) entry() entry {
	h := http.Header{}
	for _, k := range keptHeaders {
		if v := b.header.Get(k); v != "" {
			h.Set(k, v)
		}
	}
	return entry{Status: b.status, Header: h, Body: bytes.Clone(b.body.Bytes())}
}

func (b *bufferedResponse) replay(w http.ResponseWriter) {
	for k, vs := range b.header {
		w.Header()[k] = vs
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
