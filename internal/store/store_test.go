package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/model"
)

func newLocalStore(t *testing.T) (*Store, *badger.DB) {
	t.Helper()
	db, err := OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(NewLocal(db), Options{}), db
}

// memBackend is an owner-aware in-memory backend that counts calls.
type memBackend struct {
	mu    sync.Mutex
	rows  []model.CalendarEvent
	calls int32
}

func (m *memBackend) Name() string { return "mem" }

func (m *memBackend) List(_ context.Context, owner string) ([]model.CalendarEvent, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.CalendarEvent{}
	for _, r := range m.rows {
		if r.OwnerID == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memBackend) Insert(_ context.Context, ev model.CalendarEvent) error {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, ev)
	return nil
}

func (m *memBackend) Update(_ context.Context, owner string, ev model.CalendarEvent) error {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == ev.ID && m.rows[i].OwnerID == owner {
			m.rows[i].Title = ev.Title
			m.rows[i].Date = ev.Date
			m.rows[i].Color = ev.Color
			m.rows[i].Description = ev.Description
			return nil
		}
	}
	return ErrNotFound
}

func (m *memBackend) Delete(_ context.Context, owner, id string) error {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.rows[:0]
	for _, r := range m.rows {
		if !(r.ID == id && r.OwnerID == owner) {
			out = append(out, r)
		}
	}
	m.rows = out
	return nil
}

func TestCreateListDelete(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "", model.CalendarEvent{Date: "2026-03-10", Title: "  dentist  "})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "dentist", created.Title)
	assert.Equal(t, model.KindPersonal, created.Kind)
	assert.Equal(t, model.DefaultEventColor, created.Color)

	evs, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, created.ID, evs[0].ID)

	require.NoError(t, s.Delete(ctx, "", created.ID))
	evs, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, evs)

	// Idempotent.
	assert.NoError(t, s.Delete(ctx, "", created.ID))
	assert.NoError(t, s.Delete(ctx, "", "never-existed"))
}

func TestCreateForcesPersonalAndRejectsDuplicateID(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, "", model.CalendarEvent{
		Date: "2026-01-01", Title: "new year", Kind: model.KindHoliday,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.KindPersonal, first.Kind)

	_, err = s.Create(ctx, "", model.CalendarEvent{ID: first.ID, Date: "2026-01-02", Title: "copy"})
	assert.ErrorIs(t, err, ErrDuplicateID)

	evs, err := s.List(ctx, "")
	require.NoError(t, err)
	n := 0
	for _, ev := range evs {
		if ev.ID == first.ID {
			n++
		}
	}
	assert.Equal(t, 1, n, "ids stay unique")
	assert.Equal(t, "new year", evs[0].Title)
}

func TestCreateRejectsInvalid(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "", model.CalendarEvent{Date: "2026-03-10", Title: "   "})
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, err = s.Create(ctx, "", model.CalendarEvent{Date: "2026-3-10", Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = s.Create(ctx, "", model.CalendarEvent{Date: "2026-03-10", Title: "x", Color: "bg-black"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	evs, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestUpdateReplacesEditableFieldsOnly(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	orig, err := s.Create(ctx, "", model.CalendarEvent{Date: "2026-03-10", Title: "a", Description: "first"})
	require.NoError(t, err)

	err = s.Update(ctx, "", model.CalendarEvent{
		ID:          orig.ID,
		OwnerID:     "intruder",
		Kind:        model.KindHoliday,
		Date:        "2026-03-11",
		Title:       "b",
		Color:       model.EventColors[2].Value,
		Description: "second",
	})
	require.NoError(t, err)

	evs, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	got := evs[0]
	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, "", got.OwnerID)
	assert.Equal(t, model.KindPersonal, got.Kind)
	assert.Equal(t, "2026-03-11", got.Date)
	assert.Equal(t, "b", got.Title)
	assert.Equal(t, "second", got.Description)
	assert.Equal(t, model.EventColors[2].Value, got.Color)
	assert.True(t, orig.CreatedAt.Equal(got.CreatedAt))

	err = s.Update(ctx, "", model.CalendarEvent{ID: "missing", Date: "2026-03-11", Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalMalformedValueIsEmpty(t *testing.T) {
	s, db := newLocalStore(t)
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(LocalEventsKey), []byte("{oops"))
	}))

	evs, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = s.Create(context.Background(), "", model.CalendarEvent{Date: "2026-05-05", Title: "picnic"})
	require.NoError(t, err)
	evs, err = s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestRemoteSignedOutNeverTouchesBackend(t *testing.T) {
	b := &memBackend{}
	s := New(b, Options{RequireOwner: true})
	ctx := context.Background()

	evs, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, evs)

	_, err = s.Create(ctx, "", model.CalendarEvent{Date: "2026-03-10", Title: "x"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, s.Update(ctx, "", model.CalendarEvent{ID: "a", Date: "2026-03-10", Title: "x"}), ErrUnauthenticated)
	assert.ErrorIs(t, s.Delete(ctx, "", "a"), ErrUnauthenticated)

	got := make(chan []model.CalendarEvent, 1)
	unsub := s.Subscribe("", func(evs []model.CalendarEvent) { got <- evs })
	defer unsub()
	select {
	case evs := <-got:
		assert.Empty(t, evs)
	case <-time.After(time.Second):
		t.Fatal("no snapshot for signed-out subscriber")
	}

	assert.EqualValues(t, 0, atomic.LoadInt32(&b.calls))
}

func TestRemoteOwnersAreIsolated(t *testing.T) {
	s := New(&memBackend{}, Options{RequireOwner: true})
	ctx := context.Background()

	a, err := s.Create(ctx, "alice", model.CalendarEvent{Date: "2026-03-10", Title: "a"})
	require.NoError(t, err)
	assert.Equal(t, "alice", a.OwnerID)
	_, err = s.Create(ctx, "bob", model.CalendarEvent{Date: "2026-03-10", Title: "b"})
	require.NoError(t, err)

	evs, err := s.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "b", evs[0].Title)

	assert.ErrorIs(t, s.Update(ctx, "bob", model.CalendarEvent{ID: a.ID, Date: "2026-03-10", Title: "stolen"}), ErrNotFound)
	require.NoError(t, s.Delete(ctx, "bob", a.ID))
	evs, err = s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func waitSnapshot(t *testing.T, ch <-chan []model.CalendarEvent) []model.CalendarEvent {
	t.Helper()
	select {
	case evs := <-ch:
		return evs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestSubscribePushesAfterMutations(t *testing.T) {
	s, _ := newLocalStore(t)
	ctx := context.Background()

	ch := make(chan []model.CalendarEvent, 8)
	unsub := s.Subscribe("", func(evs []model.CalendarEvent) { ch <- evs })

	assert.Empty(t, waitSnapshot(t, ch))

	ev, err := s.Create(ctx, "", model.CalendarEvent{Date: "2026-03-10", Title: "a"})
	require.NoError(t, err)
	evs := waitSnapshot(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, ev.ID, evs[0].ID)

	require.NoError(t, s.Delete(ctx, "", ev.ID))
	assert.Empty(t, waitSnapshot(t, ch))

	unsub()
	unsub()
	_, err = s.Create(ctx, "", model.CalendarEvent{Date: "2026-03-10", Title: "after"})
	require.NoError(t, err)
	select {
	case evs := <-ch:
		t.Fatalf("snapshot after unsubscribe: %v", evs)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribePollsRemoteChanges(t *testing.T) {
	b := &memBackend{}
	s := New(b, Options{RequireOwner: true, PollInterval: 20 * time.Millisecond})

	ch := make(chan []model.CalendarEvent, 8)
	unsub := s.Subscribe("alice", func(evs []model.CalendarEvent) { ch <- evs })
	defer unsub()
	assert.Empty(t, waitSnapshot(t, ch))

	// Written by "another process": straight into the backend.
	require.NoError(t, b.Insert(context.Background(), model.CalendarEvent{ID: "x", OwnerID: "alice", Date: "2026-03-10", Title: "remote"}))

	evs := waitSnapshot(t, ch)
	require.Len(t, evs, 1)
	assert.Equal(t, "remote", evs[0].Title)

	// Unchanged polls deliver nothing.
	select {
	case evs := <-ch:
		t.Fatalf("unexpected snapshot %v", evs)
	case <-time.After(100 * time.Millisecond):
	}
}

type mutationCounter struct {
	mu   sync.Mutex
	seen []string
}

func (m *mutationCounter) EventMutation(op, backend, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, op+"/"+backend+"/"+status)
}

func TestMutationsAreRecorded(t *testing.T) {
	rec := &mutationCounter{}
	s := New(&memBackend{}, Options{RequireOwner: true, Recorder: rec})
	ctx := context.Background()

	ev, err := s.Create(ctx, "u", model.CalendarEvent{Date: "2026-03-10", Title: "a"})
	require.NoError(t, err)
	_ = s.Update(ctx, "u", model.CalendarEvent{ID: "missing", Date: "2026-03-10", Title: "a"})
	require.NoError(t, s.Delete(ctx, "u", ev.ID))

	assert.Equal(t, []string{"create/mem/ok", "update/mem/not_found", "delete/mem/ok"}, rec.seen)
}
