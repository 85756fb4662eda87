// Package calendar holds the pure date logic behind the month view:
// the 42-cell grid, the Korean holiday table and the merge of events,
// holidays and weather into renderable days.
package calendar

import (
	"fmt"
	"time"

	"smartcal/internal/model"
)

// GridCells is the fixed number of cells (6 weeks x 7 days) in a month grid.
const GridCells = 42

const dateKeyLayout = "2006-01-02"

// Weekdays are the column headers, Sunday first.
var Weekdays = [7]string{"일", "월", "화", "수", "목", "금", "토"}

// MonthNames are the Korean month labels indexed by zero-based month.
var MonthNames = [12]string{"1월", "2월", "3월", "4월", "5월", "6월", "7월", "8월", "9월", "10월", "11월", "12월"}

// DateKey formats t as a zero-padded YYYY-MM-DD key.
func DateKey(t time.Time) string {
	return t.Format(dateKeyLayout)
}

// ParseDateKey parses a YYYY-MM-DD key as a calendar date in UTC.
func ParseDateKey(key string) (time.Time, error) {
	t, err := time.Parse(dateKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	return t, nil
}

// ValidDateKey reports whether key is a well-formed, zero-padded date.
func ValidDateKey(key string) bool {
	t, err := time.Parse(dateKeyLayout, key)
	return err == nil && DateKey(t) == key
}

// MonthGrid returns the 42 cells displayed for (year, month0), where
// month0 is zero-based. The grid starts on the Sunday on or before the
// first of the month and always spans exactly six weeks; cells outside
// the month come from the neighbouring months.
//
// isToday compares calendar dates of now in loc. Cell dates themselves
// are plain dates (UTC midnight) so the arithmetic never crosses DST.
func MonthGrid(year, month0 int, now time.Time, loc *time.Location) []model.DayCell {
	if loc == nil {
		loc = time.Local
	}
	// time.Date normalizes out-of-range months, so month0 = 12 or -1 roll
	// into the adjacent year.
	first := time.Date(year, time.Month(month0+1), 1, 0, 0, 0, 0, time.UTC)
	lead := int(first.Weekday())
	start := first.AddDate(0, 0, -lead)

	ny, nm, nd := now.In(loc).Date()
	todayKey := DateKey(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC))

	cells := make([]model.DayCell, GridCells)
	for i := range cells {
		d := start.AddDate(0, 0, i)
		key := DateKey(d)
		cells[i] = model.DayCell{
			Date:             d,
			DateKey:          key,
			Day:              d.Day(),
			Weekday:          int(d.Weekday()),
			InDisplayedMonth: d.Year() == first.Year() && d.Month() == first.Month(),
			IsToday:          key == todayKey,
		}
	}
	return cells
}

// Navigate moves (year, month0) by increment months. December + 1 rolls
// into January of the next year and January - 1 into December of the
// previous one.
func Navigate(year, month0, increment int) (int, int) {
	total := year*12 + month0 + increment
	y := total / 12
	m := total % 12
	if m < 0 {
		m += 12
		y--
	}
	return y, m
}

// DateContext renders the Korean "YYYY년 M월" label used in headings and
// as the chat assistant's date context.
func DateContext(year, month0 int) string {
	y, m := Navigate(year, month0, 0)
	return fmt.Sprintf("%d년 %s", y, MonthNames[m])
}
