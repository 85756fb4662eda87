package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcal/internal/assistant"
	"smartcal/internal/auth"
	"smartcal/internal/calendar"
	"smartcal/internal/model"
	"smartcal/internal/store"
	"smartcal/internal/weather"
)

var seoul = time.FixedZone("KST", 9*3600)

func fixedNow() time.Time {
	return time.Date(2026, 1, 15, 10, 0, 0, 0, seoul)
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) sink(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recorder) last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) waitFor(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var got Snapshot
	require.Eventually(t, func() bool {
		s, ok := r.last()
		if ok && cond(s) {
			got = s
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func dayOf(s Snapshot, key string) calendar.RenderDay {
	for _, d := range s.Days {
		if d.DateKey == key {
			return d
		}
	}
	return calendar.RenderDay{}
}

type countingForecaster struct{ calls atomic.Int32 }

func (f *countingForecaster) Forecast(context.Context, float64, float64) map[string]model.WeatherSample {
	f.calls.Add(1)
	return map[string]model.WeatherSample{"2026-01-16": {MaxTemp: 3, MinTemp: -5, Condition: "맑음", Icon: "☀️"}}
}

type echoGenerator struct{ lastContext atomic.Value }

func (g *echoGenerator) Generate(_ context.Context, prompt, dateContext string) string {
	g.lastContext.Store(dateContext)
	return "echo: " + prompt
}

type fixture struct {
	store *store.Store
	ids   *auth.Identities
	rec   *recorder
	view  *View
	fc    *countingForecaster
	gen   *echoGenerator
}

func newFixture(t *testing.T, remote bool) *fixture {
	t.Helper()
	db, err := store.OpenDB("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	provider, err := auth.NewLocal(db, auth.LocalOptions{Secret: []byte("k"), TokenTTL: time.Hour})
	require.NoError(t, err)

	f := &fixture{
		store: store.New(store.NewLocal(db), store.Options{RequireOwner: remote}),
		ids:   auth.NewIdentities(provider),
		rec:   &recorder{},
		fc:    &countingForecaster{},
		gen:   &echoGenerator{},
	}
	f.view = NewView(Deps{
		Store:      f.store,
		Remote:     remote,
		Holidays:   calendar.NewTable(nil),
		Identities: f.ids,
		Annotator:  weather.NewAnnotator(f.fc, weather.Position{Lat: 37.5, Lon: 127}),
		Chat:       assistant.NewPanel(f.gen, calendar.DateContext(2026, 0)),
		Location:   seoul,
		Now:        fixedNow,
	}, f.rec.sink)
	t.Cleanup(f.view.Close)
	return f
}

func TestViewInitialSnapshot(t *testing.T) {
	f := newFixture(t, false)
	f.view.Start(context.Background())

	s := f.rec.waitFor(t, func(s Snapshot) bool { return len(s.Days) == 42 })
	assert.Equal(t, 2026, s.Year)
	assert.Equal(t, 0, s.Month)
	assert.Equal(t, "2026년 1월", s.Title)
	assert.Equal(t, "2025-12-28", s.Days[0].DateKey)
	assert.False(t, s.Identity.SignedIn())

	newYear := dayOf(s, "2026-01-01")
	require.NotNil(t, newYear.Holiday)
	assert.Equal(t, "신정", newYear.Holiday.Title)
	assert.True(t, dayOf(s, "2026-01-15").IsToday)
	assert.NotNil(t, dayOf(s, "2025-12-31").Events)
	require.Len(t, s.Chat, 1)
}

func TestViewHolidaysAcrossYearBoundary(t *testing.T) {
	f := newFixture(t, false)
	f.view.Start(context.Background())
	f.view.Goto(2025, 11)

	s := f.rec.waitFor(t, func(s Snapshot) bool { return s.Month == 11 })
	require.NotNil(t, dayOf(s, "2025-12-25").Holiday)
	require.NotNil(t, dayOf(s, "2026-01-01").Holiday, "spill-over days carry next year's holidays")
}

func TestViewNavigate(t *testing.T) {
	f := newFixture(t, false)
	f.view.Start(context.Background())

	f.view.Navigate(1)
	s := f.rec.waitFor(t, func(s Snapshot) bool { return s.Month == 1 })
	assert.Equal(t, "2026년 2월", s.Title)

	f.view.Navigate(-2)
	s = f.rec.waitFor(t, func(s Snapshot) bool { return s.Month == 11 })
	assert.Equal(t, 2025, s.Year)

	f.view.Goto(2026, 12)
	s = f.rec.waitFor(t, func(s Snapshot) bool { return s.Year == 2027 })
	assert.Equal(t, 0, s.Month)
}

func TestViewLocalEvents(t *testing.T) {
	f := newFixture(t, false)
	f.view.Start(context.Background())

	ev, err := f.view.AddEvent(context.Background(), model.CalendarEvent{Date: "2026-01-20", Title: "치과"})
	require.NoError(t, err)

	s := f.rec.waitFor(t, func(s Snapshot) bool { return len(dayOf(s, "2026-01-20").Events) == 1 })
	assert.Equal(t, ev.ID, dayOf(s, "2026-01-20").Events[0].ID)

	require.NoError(t, f.view.DeleteEvent(context.Background(), ev.ID))
	f.rec.waitFor(t, func(s Snapshot) bool { return len(dayOf(s, "2026-01-20").Events) == 0 })
}

func TestViewRemoteFollowsIdentity(t *testing.T) {
	f := newFixture(t, true)
	f.view.Start(context.Background())
	ctx := context.Background()

	_, err := f.view.AddEvent(ctx, model.CalendarEvent{Date: "2026-01-20", Title: "x"})
	assert.ErrorIs(t, err, ErrLoginRequired)

	sess, err := f.ids.SignUp(ctx, "grace@example.com", "hunter22")
	require.NoError(t, err)
	f.rec.waitFor(t, func(s Snapshot) bool { return s.Identity.UID == sess.Identity.UID })

	_, err = f.view.AddEvent(ctx, model.CalendarEvent{Date: "2026-01-20", Title: "회의"})
	require.NoError(t, err)
	f.rec.waitFor(t, func(s Snapshot) bool { return len(dayOf(s, "2026-01-20").Events) == 1 })

	require.NoError(t, f.ids.SignOut(ctx))
	s := f.rec.waitFor(t, func(s Snapshot) bool { return !s.Identity.SignedIn() })
	assert.Empty(t, dayOf(s, "2026-01-20").Events, "signed-out view shows no personal events")
}

func TestViewWeatherLoadedOnce(t *testing.T) {
	f := newFixture(t, false)
	f.view.Start(context.Background())
	s := f.rec.waitFor(t, func(s Snapshot) bool { return dayOf(s, "2026-01-16").Weather != nil })
	assert.Equal(t, "맑음", dayOf(s, "2026-01-16").Weather.Condition)

	f.view.Navigate(1)
	f.view.Navigate(-1)
	f.rec.waitFor(t, func(s Snapshot) bool { return s.Month == 0 })
	assert.Equal(t, int32(1), f.fc.calls.Load())
}

func TestViewChat(t *testing.T) {
	f := newFixture(t, false)
	f.view.Start(context.Background())
	f.view.Navigate(2)

	reply, err := f.view.Ask(context.Background(), "3월 추천")
	require.NoError(t, err)
	assert.Equal(t, "echo: 3월 추천", reply.Text)
	assert.Equal(t, "2026년 3월", f.gen.lastContext.Load())

	s := f.rec.waitFor(t, func(s Snapshot) bool { return len(s.Chat) == 3 && !s.Chat[2].Pending })
	assert.Equal(t, assistant.StateIdle, s.ChatState)
}

func TestViewCloseStopsDelivery(t *testing.T) {
	f := newFixture(t, false)
	f.view.Start(context.Background())
	f.rec.waitFor(t, func(s Snapshot) bool { return len(s.Days) == 42 })

	f.view.Close()
	n := f.rec.count()

	_, err := f.store.Create(context.Background(), "", model.CalendarEvent{Date: "2026-01-21", Title: "late"})
	require.NoError(t, err)
	f.view.Navigate(1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, f.rec.count())

	f.view.Close() // idempotent
}
