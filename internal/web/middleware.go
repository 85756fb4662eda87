package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	appLog "smartcal/internal/log"
	"smartcal/internal/metrics"
)

// accessLog logs every request and feeds the HTTP metrics, labelled by
// route pattern so ids do not explode the label set.
func accessLog(m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			took := time.Since(start)
			if m != nil {
				m.ObserveHTTP(r.Method, route, status, took)
			}

			kv := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"took", took.String(),
				"request_id", chimiddleware.GetReqID(r.Context()),
			}
			if status >= http.StatusInternalServerError {
				appLog.Warn("http request", kv...)
				return
			}
			appLog.Debug("http request", kv...)
		})
	}
}
