package calendar

import (
	"time"

	"smartcal/internal/model"
)

// Tone is the text styling of a day number.
type Tone string

const (
	ToneDefault  Tone = "default"
	ToneRed      Tone = "red"
	ToneSaturday Tone = "blue"
)

// RenderDay is a grid cell with everything that is drawn inside it.
type RenderDay struct {
	model.DayCell
	Holiday *model.CalendarEvent  `json:"holiday,omitempty"`
	Events  []model.CalendarEvent `json:"events"`
	Weather *model.WeatherSample  `json:"weather,omitempty"`
	Tone    Tone                  `json:"tone"`
}

// Merge attaches holidays, personal events and weather to cells by exact
// date-key match. A cell gets at most one holiday and one weather sample;
// personal events keep their input order. Events whose Kind is holiday are
// ignored here, holidays come only from the holidays argument.
func Merge(cells []model.DayCell, events, holidays []model.CalendarEvent, weather map[string]model.WeatherSample) []RenderDay {
	holidayByKey := make(map[string]model.CalendarEvent, len(holidays))
	for _, h := range holidays {
		if _, ok := holidayByKey[h.Date]; !ok {
			holidayByKey[h.Date] = h
		}
	}

	eventsByKey := make(map[string][]model.CalendarEvent)
	for _, ev := range events {
		if ev.Kind == model.KindHoliday {
			continue
		}
		eventsByKey[ev.Date] = append(eventsByKey[ev.Date], ev)
	}

	out := make([]RenderDay, len(cells))
	for i, c := range cells {
		rd := RenderDay{DayCell: c, Events: []model.CalendarEvent{}}
		if h, ok := holidayByKey[c.DateKey]; ok {
			h := h
			rd.Holiday = &h
		}
		if evs := eventsByKey[c.DateKey]; len(evs) > 0 {
			rd.Events = evs
		}
		if w, ok := weather[c.DateKey]; ok {
			w := w
			rd.Weather = &w
		}
		rd.Tone = toneFor(time.Weekday(c.Weekday), rd.Holiday != nil)
		out[i] = rd
	}
	return out
}

// 일요일과 공휴일은 빨간색, 토요일은 공휴일이 아닐 때만 파란색.
func toneFor(wd time.Weekday, holiday bool) Tone {
	switch {
	case wd == time.Sunday || holiday:
		return ToneRed
	case wd == time.Saturday:
		return ToneSaturday
	default:
		return ToneDefault
	}
}
