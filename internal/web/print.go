package web

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"smartcal/internal/app"
	"smartcal/internal/auth"
	"smartcal/internal/calendar"
	"smartcal/internal/capture"
	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

// printTemplate is a static month sheet for the headless capture. The
// root only carries data-ready once the grid is in the DOM.
var printTemplate = template.Must(template.New("print").Parse(`<!doctype html>
<html lang="ko">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:"Noto Sans KR",sans-serif;margin:24px;color:#1f2937}
h1{font-size:28px;margin:0 0 16px}
table{width:100%;border-collapse:collapse;table-layout:fixed}
th{padding:6px;font-size:14px;color:#6b7280}
td{height:120px;vertical-align:top;border:1px solid #e5e7eb;padding:6px;font-size:13px}
td.out{color:#d1d5db}
td.today .num{background:#2563eb;color:#fff;border-radius:9999px;padding:0 6px}
.red{color:#ef4444}.blue{color:#3b82f6}
.holiday{color:#ef4444;font-size:11px}
.ev{margin-top:2px;padding:1px 4px;border-radius:4px;border:1px solid;overflow:hidden;white-space:nowrap;text-overflow:ellipsis}
.bg-blue-100{background:#dbeafe}.text-blue-800{color:#1e40af}.border-blue-200{border-color:#bfdbfe}
.bg-green-100{background:#dcfce7}.text-green-800{color:#166534}.border-green-200{border-color:#bbf7d0}
.bg-purple-100{background:#f3e8ff}.text-purple-800{color:#6b21a8}.border-purple-200{border-color:#e9d5ff}
.bg-orange-100{background:#ffedd5}.text-orange-800{color:#9a3412}.border-orange-200{border-color:#fed7aa}
.bg-pink-100{background:#fce7f3}.text-pink-800{color:#9d174d}.border-pink-200{border-color:#fbcfe8}
.bg-gray-100{background:#f3f4f6}.text-gray-800{color:#1f2937}.border-gray-200{border-color:#e5e7eb}
.wx{float:right;font-size:11px;color:#6b7280}
</style>
</head>
<body>
<div id="sheet" data-ready="true">
<h1>{{.Title}}</h1>
<table>
<thead><tr>{{range .Weekdays}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Weeks}}<tr>
{{range .}}<td class="{{if not .InDisplayedMonth}}out{{end}}{{if .IsToday}} today{{end}}">
<span class="num {{.ToneClass}}">{{.Day}}</span>{{with .Weather}}<span class="wx">{{.Icon}} {{printf "%.0f" .MaxTemp}}°/{{printf "%.0f" .MinTemp}}°</span>{{end}}
{{with .Holiday}}<div class="holiday">{{.Title}}</div>{{end}}
{{range .Events}}<div class="ev {{.Color}}">{{.Title}}</div>{{end}}
</td>{{end}}
</tr>{{end}}
</tbody>
</table>
</div>
</body>
</html>
`))

type printDay struct {
	calendar.RenderDay
}

// Tone maps the day tone to a CSS class.
func (d printDay) ToneClass() string {
	switch d.RenderDay.Tone {
	case calendar.ToneRed:
		return "red"
	case calendar.ToneSaturday:
		return "blue"
	}
	return ""
}

type printData struct {
	Title    string
	Weekdays []string
	Weeks    [][]printDay
}

func printWeeks(days []calendar.RenderDay) [][]printDay {
	weeks := make([][]printDay, 0, len(days)/7)
	for i := 0; i+7 <= len(days); i += 7 {
		week := make([]printDay, 7)
		for j := range week {
			week[j] = printDay{days[i+j]}
		}
		weeks = append(weeks, week)
	}
	return weeks
}

// handlePrintPage renders /print/{year}/{month} (1-based month).
func (s *Server) handlePrintPage(w http.ResponseWriter, r *http.Request) {
	year, month, err := pathYearMonth(chi.URLParam(r, "year"), chi.URLParam(r, "month"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, _, err := s.identity(r)
	if err != nil {
		http.Error(w, auth.Message(err), http.StatusUnauthorized)
		return
	}
	var events []model.CalendarEvent
	if id.SignedIn() || !s.deps.Store.Remote() {
		events, err = s.deps.Store.List(r.Context(), id.UID)
		if err != nil {
			appLog.Error("print: list events failed", err)
		}
	}
	var samples map[string]model.WeatherSample
	if lat, lon, ok := s.position(r); ok && s.deps.Forecaster != nil {
		samples = s.deps.Forecaster.Forecast(r.Context(), lat, lon)
	}

	data := printData{
		Title:    calendar.DateContext(year, month),
		Weekdays: calendar.Weekdays[:],
		Weeks:    printWeeks(app.Render(year, month, s.deps.Now(), s.loc, events, s.deps.Holidays, samples)),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := printTemplate.Execute(w, data); err != nil {
		appLog.Error("print template failed", err)
	}
}

// handlePrintPNG serves /api/print/{year}/{month}.png, a screenshot of the
// print page taken by the headless browser.
func (s *Server) handlePrintPNG(w http.ResponseWriter, r *http.Request) {
	if s.deps.Capturer == nil {
		writeError(w, http.StatusServiceUnavailable, "capture disabled")
		return
	}
	monthStr, ok := strings.CutSuffix(chi.URLParam(r, "file"), ".png")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	year, month, err := pathYearMonth(chi.URLParam(r, "year"), monthStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, token, err := s.identity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, auth.Message(err))
		return
	}

	q := url.Values{}
	q.Set("key", s.printKey)
	if token != "" {
		q.Set("token", token)
	}
	for _, k := range []string{"lat", "lon"} {
		if v := r.URL.Query().Get(k); v != "" {
			q.Set(k, v)
		}
	}
	target := fmt.Sprintf("%s/print/%d/%d?%s", s.selfURL(), year, month+1, q.Encode())

	png, err := s.deps.Capturer.PNG(r.Context(), target)
	switch {
	case errors.Is(err, capture.ErrBusy):
		writeError(w, http.StatusConflict, "capture in progress")
		return
	case err != nil:
		appLog.Error("print capture failed", err, "year", year, "month", month+1)
		writeError(w, http.StatusBadGateway, "capture failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}
