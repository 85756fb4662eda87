package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

// LocalEventsKey is the single key holding the whole local event list.
const LocalEventsKey = "calendar-events"

// OpenDB opens (or creates) the badger database under dir. An empty dir
// opens an in-memory database, which is what tests use.
func OpenDB(dir string) (*badger.DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	db, err := badger.Open(opts.WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	return db, nil
}

// Local keeps the device profile's events as one JSON array under
// LocalEventsKey. It has no notion of owners.
type Local struct {
	db *badger.DB
}

func NewLocal(db *badger.DB) *Local {
	return &Local{db: db}
}

func (l *Local) Name() string { return "local" }

func (l *Local) List(_ context.Context, _ string) ([]model.CalendarEvent, error) {
	var evs []model.CalendarEvent
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		evs, err = readEvents(txn)
		return err
	})
	return evs, err
}

func (l *Local) Insert(_ context.Context, ev model.CalendarEvent) error {
	return l.mutate(func(evs []model.CalendarEvent) ([]model.CalendarEvent, error) {
		for _, existing := range evs {
			if existing.ID == ev.ID {
				return nil, ErrDuplicateID
			}
		}
		return append(evs, ev), nil
	})
}

func (l *Local) Update(_ context.Context, _ string, ev model.CalendarEvent) error {
	return l.mutate(func(evs []model.CalendarEvent) ([]model.CalendarEvent, error) {
		for i := range evs {
			if evs[i].ID == ev.ID {
				evs[i].Title = ev.Title
				evs[i].Description = ev.Description
				evs[i].Color = ev.Color
				evs[i].Date = ev.Date
				return evs, nil
			}
		}
		return nil, ErrNotFound
	})
}

func (l *Local) Delete(_ context.Context, _ string, id string) error {
	return l.mutate(func(evs []model.CalendarEvent) ([]model.CalendarEvent, error) {
		out := evs[:0]
		for _, ev := range evs {
			if ev.ID != id {
				out = append(out, ev)
			}
		}
		return out, nil
	})
}

// mutate runs a read-modify-write of the whole list in one transaction.
func (l *Local) mutate(fn func([]model.CalendarEvent) ([]model.CalendarEvent, error)) error {
	return l.db.Update(func(txn *badger.Txn) error {
		evs, err := readEvents(txn)
		if err != nil {
			return err
		}
		next, err := fn(evs)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return txn.Set([]byte(LocalEventsKey), data)
	})
}

// readEvents loads the stored list. A missing key is an empty list; so is
// a value that does not parse, which is logged and later overwritten.
func readEvents(txn *badger.Txn) ([]model.CalendarEvent, error) {
	item, err := txn.Get([]byte(LocalEventsKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return []model.CalendarEvent{}, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	var evs []model.CalendarEvent
	if err := json.Unmarshal(raw, &evs); err != nil {
		appLog.Error("local events are not valid JSON; treating as empty", err, "key", LocalEventsKey)
		return []model.CalendarEvent{}, nil
	}
	if evs == nil {
		evs = []model.CalendarEvent{}
	}
	return evs, nil
}
