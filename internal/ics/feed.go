package ics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

// HolidayFeed serves public holidays parsed from a subscribed ICS feed.
// It fills in the lunar holidays of years the built-in table lacks.
type HolidayFeed struct {
	fetcher *Fetcher
	src     Source
	loc     *time.Location

	mu        sync.RWMutex
	events    []ParsedEvent
	byYear    map[int][]model.CalendarEvent
	updatedAt time.Time
}

func NewHolidayFeed(fetcher *Fetcher, feedURL string, loc *time.Location) *HolidayFeed {
	if loc == nil {
		loc = time.Local
	}
	return &HolidayFeed{
		fetcher: fetcher,
		src:     Source{ID: "holidays", URL: feedURL},
		loc:     loc,
		byYear:  make(map[int][]model.CalendarEvent),
	}
}

// Refresh fetches and parses the feed. The previous data stays in place
// when anything fails.
func (h *HolidayFeed) Refresh(ctx context.Context) error {
	res, err := h.fetcher.Fetch(ctx, h.src)
	if err != nil {
		return err
	}
	events, err := Parse(h.src, res.Body)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return errors.New("ics: holiday feed has no events")
	}

	h.mu.Lock()
	h.events = events
	h.byYear = make(map[int][]model.CalendarEvent)
	h.updatedAt = time.Now()
	h.mu.Unlock()

	appLog.Info("holiday feed refreshed", "events", len(events), "from_cache", res.FromCache)
	return nil
}

// UpdatedAt reports the last successful refresh.
func (h *HolidayFeed) UpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updatedAt
}

// Holidays returns the feed's entries dated in year, one per day, each
// titled with the event summary. Expansion results are cached per year.
func (h *HolidayFeed) Holidays(year int) []model.CalendarEvent {
	h.mu.RLock()
	cached, ok := h.byYear[year]
	events := h.events
	h.mu.RUnlock()
	if ok {
		return cached
	}
	if len(events) == 0 {
		return nil
	}

	occ, err := Expand(events, ExpandConfig{
		Location:   h.loc,
		RangeStart: time.Date(year, time.January, 1, 0, 0, 0, 0, h.loc),
		RangeEnd:   time.Date(year+1, time.January, 1, 0, 0, 0, 0, h.loc),
	})
	if err != nil {
		appLog.Error("holiday feed expand failed", err, "year", year)
		return nil
	}

	out := make([]model.CalendarEvent, 0, len(occ))
	for _, o := range occ {
		if o.Summary == "" {
			continue
		}
		out = append(out, model.CalendarEvent{
			ID:    "holiday-" + o.Date,
			Date:  o.Date,
			Title: o.Summary,
			Kind:  model.KindHoliday,
		})
	}

	h.mu.Lock()
	h.byYear[year] = out
	h.mu.Unlock()
	return out
}

// Schedule refreshes the feed on c with the given cron spec.
func (h *HolidayFeed) Schedule(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := h.Refresh(ctx); err != nil {
			appLog.Error("holiday feed refresh failed", err, "url", redactURL(h.src.URL))
		}
	})
	return err
}
