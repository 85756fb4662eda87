package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"smartcal/internal/app"
	"smartcal/internal/assistant"
	"smartcal/internal/auth"
	"smartcal/internal/calendar"
	"smartcal/internal/ics"
	appLog "smartcal/internal/log"
	"smartcal/internal/model"
	"smartcal/internal/store"
)

const (
	msgSaveFailed   = "일정 저장 중 오류가 발생했습니다."
	msgDeleteFailed = "일정 삭제 중 오류가 발생했습니다."
	msgEmptyTitle   = "일정 제목을 입력해주세요."
	msgInvalidEvent = "일정 정보가 올바르지 않습니다."
	msgEventMissing = "일정을 찾을 수 없습니다."
	msgDuplicateID  = "이미 존재하는 일정입니다."
)

type configResponse struct {
	StoreMode      string             `json:"storeMode"`
	Remote         bool               `json:"remote"`
	AuthMode       string             `json:"authMode"`
	Timezone       string             `json:"timezone"`
	Weekdays       []string           `json:"weekdays"`
	Colors         []model.EventColor `json:"colors"`
	OfflineVersion string             `json:"offlineVersion"`
	ChatEnabled    bool               `json:"chatEnabled"`
	PrintEnabled   bool               `json:"printEnabled"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, configResponse{
		StoreMode:      s.deps.Store.BackendName(),
		Remote:         s.deps.Store.Remote(),
		AuthMode:       s.deps.Auth.Name(),
		Timezone:       s.loc.String(),
		Weekdays:       calendar.Weekdays[:],
		Colors:         model.EventColors,
		OfflineVersion: s.cfg.Offline.Version,
		ChatEnabled:    s.deps.Chat != nil,
		PrintEnabled:   s.deps.Capturer != nil,
	})
}

// handleCalendar renders one month for the caller: holidays, the caller's
// events and, with lat/lon, the forecast.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	year, month, err := pathYearMonth(chi.URLParam(r, "year"), chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, _, err := s.identity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, auth.Message(err))
		return
	}
	events, err := s.deps.Store.List(r.Context(), id.UID)
	if err != nil {
		appLog.Error("calendar: list events failed", err, "backend", s.deps.Store.BackendName())
		events = nil
	}

	var samples map[string]model.WeatherSample
	if lat, lon, ok := s.position(r); ok && s.deps.Forecaster != nil {
		samples = s.deps.Forecaster.Forecast(r.Context(), lat, lon)
	}

	writeJSON(w, http.StatusOK, app.Snapshot{
		Year:     year,
		Month:    month,
		Title:    calendar.DateContext(year, month),
		Days:     app.Render(year, month, s.deps.Now(), s.loc, events, s.deps.Holidays, samples),
		Identity: id,
		Remote:   s.deps.Store.Remote(),
	})
}

type navigateResponse struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Title string `json:"title"`
}

// handleNavigate: ?year=2025&month=11&increment=1 (month is 0-based).
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month")
		return
	}
	y, m := calendar.Navigate(year, month, parseIntDefault(q.Get("increment"), 0))
	writeJSON(w, http.StatusOK, navigateResponse{Year: y, Month: m, Title: calendar.DateContext(y, m)})
}

func (s *Server) handleHolidays(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 || year > 9999 {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Holidays.For(year))
}

// eventRequest is the editable part of an event.
type eventRequest struct {
	Date        string `json:"date" validate:"required"`
	Title       string `json:"title" validate:"max=200"`
	Description string `json:"description" validate:"max=2000"`
	Color       string `json:"color"`
}

func (e eventRequest) event() model.CalendarEvent {
	return model.CalendarEvent{Date: e.Date, Title: e.Title, Description: e.Description, Color: e.Color}
}

// owner resolves who the request acts for. In remote mode a signed-out
// caller cannot write.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, _, err := s.identity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, auth.Message(err))
		return "", false
	}
	if s.deps.Store.Remote() && !id.SignedIn() {
		writeError(w, http.StatusUnauthorized, app.LoginRequiredMessage)
		return "", false
	}
	return id.UID, true
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id, _, err := s.identity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, auth.Message(err))
		return
	}
	events, err := s.deps.Store.List(r.Context(), id.UID)
	if err != nil {
		appLog.Error("list events failed", err, "backend", s.deps.Store.BackendName())
		writeError(w, http.StatusBadGateway, "일정을 불러오지 못했습니다.")
		return
	}
	// ?month=2026-01 narrows to one month
	if prefix := r.URL.Query().Get("month"); prefix != "" {
		filtered := make([]model.CalendarEvent, 0, len(events))
		for _, ev := range events {
			if strings.HasPrefix(ev.Date, prefix+"-") {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidEvent)
		return
	}
	ev, err := s.deps.Store.Create(r.Context(), owner, req.event())
	if err != nil {
		s.writeStoreError(w, err, msgSaveFailed)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidEvent)
		return
	}
	ev := req.event()
	ev.ID = chi.URLParam(r, "id")
	if err := s.deps.Store.Update(r.Context(), owner, ev); err != nil {
		s.writeStoreError(w, err, msgSaveFailed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.Delete(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err, msgDeleteFailed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrEmptyTitle):
		writeError(w, http.StatusBadRequest, msgEmptyTitle)
	case errors.Is(err, store.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, msgInvalidEvent)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgEventMissing)
	case errors.Is(err, store.ErrDuplicateID):
		writeError(w, http.StatusConflict, msgDuplicateID)
	case errors.Is(err, store.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, app.LoginRequiredMessage)
	default:
		appLog.Error("event store write failed", err, "backend", s.deps.Store.BackendName())
		writeError(w, http.StatusBadGateway, fallback)
	}
}

type credentials struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s.handleCredentials(w, r, s.deps.Auth.SignUp, http.StatusCreated)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.handleCredentials(w, r, s.deps.Auth.SignIn, http.StatusOK)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, email, password string) (auth.Session, error), status int) {
	var c credentials
	if err := s.decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "이메일과 비밀번호를 입력해주세요.")
		return
	}
	sess, err := fn(r.Context(), c.Email, c.Password)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, auth.ErrInvalidCredentials) {
			code = http.StatusUnauthorized
		}
		writeError(w, code, auth.Message(err))
		return
	}
	writeJSON(w, status, sess)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token != "" {
		if err := s.deps.Auth.SignOut(r.Context(), token); err != nil {
			appLog.Warn("sign-out failed", "err", err.Error())
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get("redirect_to")
	if redirect == "" {
		redirect = s.cfg.Auth.OAuthRedirect
	}
	u, err := s.deps.Auth.OAuthURL(r.Context(), chi.URLParam(r, "provider"), redirect)
	if err != nil {
		writeError(w, http.StatusBadRequest, auth.OAuthMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _, err := s.identity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, auth.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// position reads ?lat=&lon=, falling back to the configured default.
func (s *Server) position(r *http.Request) (float64, float64, bool) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat == nil && errLon == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
		return lat, lon, true
	}
	if s.cfg.Weather.DefaultLat != 0 || s.cfg.Weather.DefaultLon != 0 {
		return s.cfg.Weather.DefaultLat, s.cfg.Weather.DefaultLon, true
	}
	return 0, 0, false
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	samples := map[string]model.WeatherSample{}
	if lat, lon, ok := s.position(r); ok && s.deps.Forecaster != nil {
		if got := s.deps.Forecaster.Forecast(r.Context(), lat, lon); got != nil {
			samples = got
		}
	}
	writeJSON(w, http.StatusOK, samples)
}

type chatRequest struct {
	Session string `json:"session" validate:"omitempty,max=64"`
	Prompt  string `json:"prompt" validate:"max=4000"`
	Year    int    `json:"year" validate:"omitempty,min=1,max=9999"`
	Month   int    `json:"month" validate:"min=0,max=11"`
}

type chatResponse struct {
	Session  string              `json:"session"`
	Reply    *model.ChatMessage  `json:"reply,omitempty"`
	Messages []model.ChatMessage `json:"messages"`
}

func (s *Server) dateContext(year, month0 int) string {
	if year == 0 {
		now := s.deps.Now().In(s.loc)
		year, month0 = now.Year(), int(now.Month())-1
	}
	return calendar.DateContext(year, month0)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, assistant.ReplyNoAPIKey)
		return
	}
	var req chatRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat request")
		return
	}
	if req.Session == "" {
		req.Session = uuid.NewString()
	}
	dateContext := s.dateContext(req.Year, req.Month)
	panel := s.deps.Chat.Get(req.Session, dateContext)

	reply, err := panel.Send(r.Context(), req.Prompt, dateContext)
	if errors.Is(err, assistant.ErrEmptyPrompt) {
		// 빈 입력은 무시한다
		writeJSON(w, http.StatusOK, chatResponse{Session: req.Session, Messages: panel.Messages()})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Session: req.Session, Reply: &reply, Messages: panel.Messages()})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, assistant.ReplyNoAPIKey)
		return
	}
	session := chi.URLParam(r, "session")
	if len(session) > 64 {
		writeError(w, http.StatusBadRequest, "invalid session")
		return
	}
	q := r.URL.Query()
	dateContext := s.dateContext(parseIntDefault(q.Get("year"), 0), parseIntDefault(q.Get("month"), 0))
	panel := s.deps.Chat.Get(session, dateContext)
	writeJSON(w, http.StatusOK, chatResponse{Session: session, Messages: panel.Messages()})
}

// handleExport serves /api/export/{year}.ics: holidays plus the caller's
// events of that year.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	yearStr, ok := strings.CutSuffix(file, ".ics")
	year, err := strconv.Atoi(yearStr)
	if !ok || err != nil || year < 1 || year > 9999 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, _, err := s.identity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, auth.Message(err))
		return
	}

	events := s.deps.Holidays.For(year)
	personal, err := s.deps.Store.List(r.Context(), id.UID)
	if err != nil {
		appLog.Error("export: list events failed", err)
	}
	prefix := fmt.Sprintf("%04d-", year)
	for _, ev := range personal {
		if strings.HasPrefix(ev.Date, prefix) {
			events = append(events, ev)
		}
	}

	tz := s.loc.String()
	if tz == "Local" {
		tz = ""
	}
	body := ics.Export(fmt.Sprintf("스마트 캘린더 %d년", year), tz, events, s.deps.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="smartcal-%04d.ics"`, year))
	_, _ = w.Write([]byte(body))
}
