package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "smartcal/internal/log"
)

const defaultMaxOccurrences = 5000

// Occurrence is one day an event falls on. Multi-day all-day events yield
// one Occurrence per covered day.
type Occurrence struct {
	UID         string
	Summary     string
	Description string
	Date        string // YYYY-MM-DD in the display location
	AllDay      bool
}

type ExpandConfig struct {
	// Location for timed events; all-day events keep their own date.
	Location *time.Location
	// [RangeStart, RangeEnd) bounds the occurrences.
	RangeStart time.Time
	RangeEnd   time.Time
	// Per-event cap; zero means defaultMaxOccurrences.
	MaxOccurrences int
}

// Expand turns parsed events into per-day occurrences inside the range,
// applying RRULE, EXDATE and RECURRENCE-ID overrides. The result is sorted
// by date then UID.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]Occurrence, error) {
	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return nil, errors.New("ics: empty expand range")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			bases[ev.UID] = append(bases[ev.UID], ev)
		}
	}

	var out []Occurrence
	for uid, list := range bases {
		for _, ev := range list {
			starts, capped := instanceStarts(ev, cfg)
			if capped {
				appLog.Warn("ics expansion truncated", "uid", uid, "cap", cfg.MaxOccurrences)
			}
			dur := ev.End.Sub(ev.Start)
			for _, s := range starts {
				inst, start, end := ev, s, s.Add(dur)
				if o, ok := findOverride(overrides[uid], s); ok {
					inst, start, end = o, o.Start, o.End
				}
				out = append(out, daysOf(inst, start, end, cfg)...)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].UID < out[j].UID
	})
	return out, nil
}

// instanceStarts lists the start times of ev's instances that can touch
// the range.
func instanceStarts(ev ParsedEvent, cfg ExpandConfig) ([]time.Time, bool) {
	if ev.RawRRule == "" {
		return []time.Time{ev.Start}, false
	}
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics rrule parse failed", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// widen by the event length so instances spilling into the range count
	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)
	if len(starts) > cfg.MaxOccurrences {
		return starts[:cfg.MaxOccurrences], true
	}
	return starts, false
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

// daysOf emits one occurrence per day in [start, end) that lies in range.
func daysOf(ev ParsedEvent, start, end time.Time, cfg ExpandConfig) []Occurrence {
	var days []time.Time
	if ev.AllDay {
		d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
		if !last.After(d) {
			last = d.AddDate(0, 0, 1)
		}
		for ; d.Before(last); d = d.AddDate(0, 0, 1) {
			days = append(days, d)
		}
	} else {
		local := start.In(cfg.Location)
		days = append(days, time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC))
	}

	lo := dayOf(cfg.RangeStart, cfg.Location)
	hi := dayOf(cfg.RangeEnd, cfg.Location)
	out := make([]Occurrence, 0, len(days))
	for _, d := range days {
		if d.Before(lo) || !d.Before(hi) {
			continue
		}
		out = append(out, Occurrence{
			UID:         ev.UID,
			Summary:     ev.Summary,
			Description: ev.Description,
			Date:        d.Format("2006-01-02"),
			AllDay:      ev.AllDay,
		})
	}
	return out
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
