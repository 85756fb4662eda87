package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"smartcal/internal/assistant"
	"smartcal/internal/auth"
	"smartcal/internal/calendar"
	"smartcal/internal/capture"
	"smartcal/internal/config"
	appLog "smartcal/internal/log"
	"smartcal/internal/metrics"
	"smartcal/internal/model"
	"smartcal/internal/offline"
	"smartcal/internal/store"
	"smartcal/internal/weather"
)

// EventStore is the store surface the HTTP layer needs.
type EventStore interface {
	store.EventStore
	Remote() bool
	BackendName() string
}

// Deps are the collaborators of the server. Only Config, Store and Auth
// are required.
type Deps struct {
	Config     *config.Config
	Store      EventStore
	Auth       auth.Provider
	Holidays   *calendar.Table
	Forecaster weather.Forecaster
	Chat       *assistant.Sessions
	// Offline fronts the UI; nil serves the embedded static build directly.
	Offline  *offline.Handler
	Capturer *capture.Capturer
	Metrics  *metrics.Collector
	Now      func() time.Time
}

// Server provides the JSON API, the live view socket and the UI.
type Server struct {
	cfg      *config.Config
	deps     Deps
	loc      *time.Location
	router   chi.Router
	validate *validator.Validate

	// printKey lets the headless browser open /print/* past basic auth.
	printKey string
}

// embeddedStatic is the browser UI.
//
//go:embed all:static
var embeddedStatic embed.FS

func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Holidays == nil {
		deps.Holidays = calendar.NewTable(nil)
	}
	s := &Server{
		cfg:      deps.Config,
		deps:     deps,
		loc:      deps.Config.Location(),
		validate: validator.New(),
		printKey: randomKey(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLog(s.deps.Metrics))
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleConfig)
		r.Get("/calendar/navigate", s.handleNavigate)
		r.Get("/calendar/{year}/{month}", s.handleCalendar)
		r.Get("/holidays/{year}", s.handleHolidays)

		r.Get("/events", s.handleListEvents)
		r.Post("/events", s.handleCreateEvent)
		r.Put("/events/{id}", s.handleUpdateEvent)
		r.Delete("/events/{id}", s.handleDeleteEvent)

		r.Post("/auth/signup", s.handleSignUp)
		r.Post("/auth/signin", s.handleSignIn)
		r.Post("/auth/signout", s.handleSignOut)
		r.Get("/auth/oauth/{provider}", s.handleOAuth)
		r.Get("/auth/me", s.handleMe)

		r.Get("/weather", s.handleWeather)
		r.Post("/chat", s.handleChat)
		r.Get("/chat/{session}", s.handleChatHistory)

		r.Get("/export/{file}", s.handleExport)
		r.Get("/print/{year}/{file}", s.handlePrintPNG)

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		})
	})

	r.Get("/print/{year}/{month}", s.handlePrintPage)
	r.Get("/ws", s.handleWS)

	ui := http.Handler(s.deps.Offline)
	if s.deps.Offline == nil {
		ui = StaticHandler()
	}
	r.Handle("/*", ui)
	return r
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health and print pages
// opened with the capture key.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/print/") && secureCompare(r.URL.Query().Get("key"), s.printKey) {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="SmartCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func randomKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		appLog.Error("print key generation failed", err)
	}
	return hex.EncodeToString(b)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// selfURL is how the capture browser reaches this server.
func (s *Server) selfURL() string {
	host, port, err := net.SplitHostPort(s.cfg.Listen)
	if err != nil {
		return "http://" + s.cfg.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// StaticHandler serves the embedded UI. The shell is served directly at
// "/" and "/index.html" so it can be precached without redirects.
func StaticHandler() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}
	index, err := fs.ReadFile(sub, "index.html")
	if err != nil {
		appLog.Error("embedded index.html missing", err)
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		// /api/* 는 절대 정적 UI 로 응답하지 않는다.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if path == "/" || path == "/index.html" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			_, _ = w.Write(index)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// identity resolves the bearer token. No token means signed out.
func (s *Server) identity(r *http.Request) (model.Identity, string, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return model.Identity{}, "", nil
	}
	id, err := s.deps.Auth.Verify(r.Context(), token)
	if err != nil {
		return model.Identity{}, "", err
	}
	return id, token, nil
}

// pathYearMonth reads {year} and a 1-based month and returns the 0-based
// month used internally.
func pathYearMonth(yearStr, monthStr string) (int, int, error) {
	year, err := strconv.Atoi(yearStr)
	if err != nil || year < 1 || year > 9999 {
		return 0, 0, errors.New("invalid year")
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, errors.New("invalid month")
	}
	return year, month - 1, nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// decodeJSON reads a bounded JSON body and validates it.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}
