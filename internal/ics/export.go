package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"smartcal/internal/model"
)

const productID = "-//smartcal//Smart Calendar 2026//KO"

// Export renders events as an iCalendar document of all-day VEVENTs.
// tz is the IANA zone name advertised in X-WR-TIMEZONE; empty omits it.
// Events with a malformed date are skipped.
func Export(name, tz string, events []model.CalendarEvent, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	if tz != "" {
		cal.SetXWRTimezone(tz)
	}

	stamp = stamp.UTC()
	for _, ev := range events {
		day, err := time.Parse("2006-01-02", ev.Date)
		if err != nil {
			continue
		}
		ve := cal.AddEvent(exportUID(ev))
		ve.SetDtStampTime(stamp)
		if !ev.CreatedAt.IsZero() {
			ve.SetCreatedTime(ev.CreatedAt.UTC())
		}
		ve.SetAllDayStartAt(day)
		ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		ve.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(ev.Kind)))
		ve.SetProperty(ical.ComponentPropertyTransp, "TRANSPARENT")
	}
	return cal.Serialize()
}

func exportUID(ev model.CalendarEvent) string {
	id := ev.ID
	if id == "" {
		id = string(ev.Kind) + "-" + ev.Date
	}
	return id + "@smartcal"
}
