package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/model"
)

func TestMergePlacesEventsHolidaysAndWeather(t *testing.T) {
	cells := MonthGrid(2026, 2, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), time.UTC)
	events := []model.CalendarEvent{
		{ID: "a", Date: "2026-03-10", Title: "dentist", Kind: model.KindPersonal},
		{ID: "b", Date: "2026-03-10", Title: "dinner", Kind: model.KindPersonal},
		{ID: "c", Date: "2026-03-11", Title: "gym", Kind: model.KindPersonal},
		{ID: "h", Date: "2026-03-12", Title: "stray", Kind: model.KindHoliday},
	}
	weather := map[string]model.WeatherSample{
		"2026-03-10": {MaxTemp: 12, MinTemp: 3, ConditionCode: 0, Icon: "☀️"},
	}

	days := Merge(cells, events, HolidaysFor(2026), weather)
	require.Len(t, days, GridCells)

	byKey := map[string]RenderDay{}
	total := 0
	for _, d := range days {
		byKey[d.DateKey] = d
		total += len(d.Events)
		assert.NotNil(t, d.Events)
	}
	assert.Equal(t, 3, total)

	tenth := byKey["2026-03-10"]
	require.Len(t, tenth.Events, 2)
	assert.Equal(t, "a", tenth.Events[0].ID)
	assert.Equal(t, "b", tenth.Events[1].ID)
	require.NotNil(t, tenth.Weather)
	assert.Equal(t, "☀️", tenth.Weather.Icon)

	assert.Empty(t, byKey["2026-03-12"].Events)
	assert.Nil(t, byKey["2026-03-11"].Weather)

	require.NotNil(t, byKey["2026-03-01"].Holiday)
	assert.Equal(t, "삼일절", byKey["2026-03-01"].Holiday.Title)
	require.NotNil(t, byKey["2026-03-02"].Holiday)
}

func TestMergeTones(t *testing.T) {
	cells := MonthGrid(2026, 4, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	days := Merge(cells, nil, HolidaysFor(2026), nil)

	byKey := map[string]RenderDay{}
	for _, d := range days {
		byKey[d.DateKey] = d
	}

	assert.Equal(t, ToneRed, byKey["2026-05-03"].Tone, "sunday")
	assert.Equal(t, ToneSaturday, byKey["2026-05-02"].Tone, "plain saturday")
	assert.Equal(t, ToneRed, byKey["2026-05-05"].Tone, "weekday holiday")
	assert.Equal(t, ToneDefault, byKey["2026-05-06"].Tone)
}

func TestMergeSaturdayHolidayIsRed(t *testing.T) {
	// 2026-09-26 (추석 연휴) falls on a Saturday.
	cells := MonthGrid(2026, 8, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	for _, d := range Merge(cells, nil, HolidaysFor(2026), nil) {
		if d.DateKey == "2026-09-26" {
			assert.Equal(t, 6, d.Weekday)
			assert.Equal(t, ToneRed, d.Tone)
			return
		}
	}
	t.Fatal("2026-09-26 not in grid")
}
