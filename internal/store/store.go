// Package store persists personal calendar events. A Store wraps one
// Backend (local badger, Supabase or DynamoDB) with the rules shared by
// all of them: id assignment, validation, the ownership guard and change
// subscriptions.
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

var (
	ErrNotFound        = errors.New("store: event not found")
	ErrUnauthenticated = errors.New("store: sign-in required")
	ErrEmptyTitle      = errors.New("store: title is empty")
	ErrInvalidEvent    = errors.New("store: invalid event")
	ErrDuplicateID     = errors.New("store: event id already exists")
)

// ValidationError carries the field errors of a rejected event.
// errors.Is(err, ErrInvalidEvent) holds for it.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%v: %v", ErrInvalidEvent, e.Err) }
func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidEvent, e.Err}
}

// Backend is the raw persistence of one event set per owner. Backends do
// not validate; the owner is "" in local mode.
type Backend interface {
	Name() string
	List(ctx context.Context, owner string) ([]model.CalendarEvent, error)
	// Insert fails with ErrDuplicateID when ev.ID is already stored.
	Insert(ctx context.Context, ev model.CalendarEvent) error
	// Update replaces the editable fields of the event with ev.ID owned by
	// owner, returning ErrNotFound if there is none.
	Update(ctx context.Context, owner string, ev model.CalendarEvent) error
	// Delete removes the event; a missing id is not an error.
	Delete(ctx context.Context, owner, id string) error
}

// EventStore is the capability set the rest of the app depends on.
type EventStore interface {
	List(ctx context.Context, owner string) ([]model.CalendarEvent, error)
	Subscribe(owner string, onChange func([]model.CalendarEvent)) (unsubscribe func())
	Create(ctx context.Context, owner string, ev model.CalendarEvent) (model.CalendarEvent, error)
	Update(ctx context.Context, owner string, ev model.CalendarEvent) error
	Delete(ctx context.Context, owner, id string) error
}

// Recorder counts mutations per op/backend/status. Optional.
type Recorder interface {
	EventMutation(op, backend, status string)
}

type Options struct {
	// RequireOwner is true for remote backends: events are per user and
	// an empty owner means "signed out".
	RequireOwner bool
	// PollInterval re-reads the backend for subscribers so that writes
	// made by other processes show up. Zero disables polling.
	PollInterval time.Duration
	Recorder     Recorder
}

type Store struct {
	backend      Backend
	requireOwner bool
	poll         time.Duration
	rec          Recorder
	now          func() time.Time

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

var _ EventStore = (*Store)(nil)

func New(b Backend, opts Options) *Store {
	return &Store{
		backend:      b,
		requireOwner: opts.RequireOwner,
		poll:         opts.PollInterval,
		rec:          opts.Recorder,
		now:          time.Now,
		subs:         make(map[string]map[*subscription]struct{}),
	}
}

// Remote reports whether events are owned per user.
func (s *Store) Remote() bool { return s.requireOwner }

func (s *Store) BackendName() string { return s.backend.Name() }

// owner resolves the effective owner. Local mode has a single profile.
func (s *Store) owner(owner string) (string, error) {
	if !s.requireOwner {
		return "", nil
	}
	if owner == "" {
		return "", ErrUnauthenticated
	}
	return owner, nil
}

// List returns the owner's events in arrival order. Signed out in remote
// mode yields an empty list, not an error.
func (s *Store) List(ctx context.Context, owner string) ([]model.CalendarEvent, error) {
	o, err := s.owner(owner)
	if err != nil {
		return []model.CalendarEvent{}, nil
	}
	evs, err := s.backend.List(ctx, o)
	if err != nil {
		return nil, err
	}
	if evs == nil {
		evs = []model.CalendarEvent{}
	}
	return evs, nil
}

// Create stores a new personal event. A missing id is filled with a
// fresh UUID; an id already in use fails with ErrDuplicateID. Kind is
// always personal.
func (s *Store) Create(ctx context.Context, owner string, ev model.CalendarEvent) (model.CalendarEvent, error) {
	o, err := s.owner(owner)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if err := normalize(&ev); err != nil {
		return model.CalendarEvent{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Kind = model.KindPersonal
	ev.OwnerID = o
	ev.CreatedAt = s.now().UTC()

	err = s.backend.Insert(ctx, ev)
	s.record("create", err)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("insert %s: %w", ev.ID, err)
	}
	s.notify(o)
	return ev, nil
}

// Update replaces title, description, color and date of an existing event.
// id and owner are never changed.
func (s *Store) Update(ctx context.Context, owner string, ev model.CalendarEvent) error {
	o, err := s.owner(owner)
	if err != nil {
		return err
	}
	if ev.ID == "" {
		return ErrNotFound
	}
	if err := normalize(&ev); err != nil {
		return err
	}
	patch := model.CalendarEvent{
		ID:          ev.ID,
		Date:        ev.Date,
		Title:       ev.Title,
		Color:       ev.Color,
		Description: ev.Description,
	}

	err = s.backend.Update(ctx, o, patch)
	s.record("update", err)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("update %s: %w", ev.ID, err)
	}
	s.notify(o)
	return nil
}

// Delete removes an event. Deleting an unknown id succeeds.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	o, err := s.owner(owner)
	if err != nil {
		return err
	}
	err = s.backend.Delete(ctx, o, id)
	s.record("delete", err)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	s.notify(o)
	return nil
}

func (s *Store) record(op string, err error) {
	if s.rec == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	s.rec.EventMutation(op, s.backend.Name(), status)
}

// subscription delivers snapshots for one owner from its own goroutine.
type subscription struct {
	owner    string
	onChange func([]model.CalendarEvent)
	wake     chan struct{}
	done     chan struct{}
	closed   atomic.Bool
	stopOnce sync.Once
}

// Subscribe delivers the owner's current events right away and again
// after every mutation made through this Store. In remote mode it also
// polls and delivers when the stored set changed. The returned func
// stops delivery; it is safe to call more than once.
func (s *Store) Subscribe(owner string, onChange func([]model.CalendarEvent)) func() {
	o, ownerErr := s.owner(owner)
	sub := &subscription{
		owner:    o,
		onChange: onChange,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if ownerErr != nil {
		// 로그아웃 상태: 빈 목록 한 번만 보낸다.
		go sub.deliver([]model.CalendarEvent{})
		return sub.stop
	}

	s.mu.Lock()
	if s.subs[o] == nil {
		s.subs[o] = make(map[*subscription]struct{})
	}
	s.subs[o][sub] = struct{}{}
	s.mu.Unlock()

	go s.run(sub)

	return func() {
		sub.stop()
		s.mu.Lock()
		delete(s.subs[o], sub)
		if len(s.subs[o]) == 0 {
			delete(s.subs, o)
		}
		s.mu.Unlock()
	}
}

func (sub *subscription) stop() {
	sub.stopOnce.Do(func() {
		sub.closed.Store(true)
		close(sub.done)
	})
}

func (sub *subscription) deliver(evs []model.CalendarEvent) {
	if sub.closed.Load() {
		return
	}
	sub.onChange(evs)
}

func (s *Store) run(sub *subscription) {
	var tick <-chan time.Time
	if s.requireOwner && s.poll > 0 {
		t := time.NewTicker(s.poll)
		defer t.Stop()
		tick = t.C
	}

	var last []model.CalendarEvent
	delivered := false
	for first := true; ; first = false {
		force := first
		if !first {
			select {
			case <-sub.done:
				return
			case <-sub.wake:
				force = true
			case <-tick:
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		evs, err := s.List(ctx, sub.owner)
		cancel()
		if err != nil {
			appLog.Error("store subscription refresh failed", err, "backend", s.backend.Name())
			continue
		}
		if !force && delivered && reflect.DeepEqual(last, evs) {
			continue
		}
		last, delivered = evs, true
		sub.deliver(evs)
	}
}

// notify wakes every subscriber of owner. A pending wake-up is enough;
// extra signals are dropped.
func (s *Store) notify(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[owner] {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}
