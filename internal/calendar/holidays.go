package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

// HolidayColor is the tag every generated holiday carries.
const HolidayColor = "red"

type fixedHoliday struct {
	month time.Month
	day   int
	name  string
}

// Fixed-date public holidays, observed every year.
var fixedHolidays = []fixedHoliday{
	{time.January, 1, "신정"},
	{time.March, 1, "삼일절"},
	{time.May, 5, "어린이날"},
	{time.June, 6, "현충일"},
	{time.August, 15, "광복절"},
	{time.October, 3, "개천절"},
	{time.October, 9, "한글날"},
	{time.December, 25, "기독탄신일(크리스마스)"},
}

// 음력 기반 공휴일과 대체공휴일은 2026년분만 내장한다.
// 다른 해는 LunarSource 로 보충하지 않는 한 고정 공휴일 8개만 나온다.
var lunarHolidays = map[int][]fixedHoliday{
	2026: {
		{time.February, 16, "설날 연휴"},
		{time.February, 17, "설날"},
		{time.February, 18, "설날 연휴"},
		{time.March, 2, "대체공휴일(삼일절)"},
		{time.May, 24, "부처님오신날"},
		{time.May, 25, "대체공휴일(부처님오신날)"},
		{time.September, 24, "추석 연휴"},
		{time.September, 25, "추석"},
		{time.September, 26, "추석 연휴"},
	},
}

// HolidaysFor returns the holidays of year using only the built-in table:
// 17 entries for 2026, 8 for any other year. Sorted by date.
func HolidaysFor(year int) []model.CalendarEvent {
	out := fixedFor(year)
	for _, h := range lunarHolidays[year] {
		out = append(out, holidayEvent(time.Date(year, h.month, h.day, 0, 0, 0, 0, time.UTC), h.name))
	}
	sortByDate(out)
	return out
}

// HasBuiltinLunar reports whether the built-in table covers the lunar
// holidays of year.
func HasBuiltinLunar(year int) bool {
	_, ok := lunarHolidays[year]
	return ok
}

// LunarSource supplies holidays that cannot be derived from fixed dates,
// typically parsed from an external holiday feed.
type LunarSource interface {
	Holidays(year int) []model.CalendarEvent
}

// Table resolves holidays per year. Without a source it behaves exactly
// like HolidaysFor.
type Table struct {
	source LunarSource
}

func NewTable(source LunarSource) *Table {
	return &Table{source: source}
}

// For returns the holidays of year. The source is consulted only for years
// the built-in table does not cover; its entries that collide with a fixed
// holiday on the same date are dropped.
func (t *Table) For(year int) []model.CalendarEvent {
	out := HolidaysFor(year)
	if t == nil || t.source == nil || HasBuiltinLunar(year) {
		return out
	}

	seen := make(map[string]struct{}, len(out))
	for _, h := range out {
		seen[h.Date] = struct{}{}
	}
	prefix := fmt.Sprintf("%04d-", year)
	for _, h := range t.source.Holidays(year) {
		if len(h.Date) < 5 || h.Date[:5] != prefix || !ValidDateKey(h.Date) {
			continue
		}
		if _, dup := seen[h.Date]; dup {
			continue
		}
		seen[h.Date] = struct{}{}
		d, _ := ParseDateKey(h.Date)
		out = append(out, holidayEvent(d, h.Title))
	}
	sortByDate(out)
	return out
}

// fixedFor expands each fixed holiday through a yearly recurrence rule
// bounded to the given year.
func fixedFor(year int) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(fixedHolidays)+9)
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC)

	for _, h := range fixedHolidays {
		r, err := rrule.NewRRule(rrule.ROption{
			Freq:       rrule.YEARLY,
			Dtstart:    start,
			Bymonth:    []int{int(h.month)},
			Bymonthday: []int{h.day},
		})
		if err != nil {
			appLog.Error("holiday rule failed", err, "name", h.name)
			continue
		}
		for _, d := range r.Between(start, end, true) {
			out = append(out, holidayEvent(d, h.name))
		}
	}
	return out
}

func holidayEvent(d time.Time, name string) model.CalendarEvent {
	key := DateKey(d)
	return model.CalendarEvent{
		ID:    "holiday-" + key,
		Date:  key,
		Title: name,
		Kind:  model.KindHoliday,
		Color: HolidayColor,
	}
}

func sortByDate(evs []model.CalendarEvent) {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Date < evs[j].Date })
}
