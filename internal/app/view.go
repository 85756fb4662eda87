// Package app coordinates one live calendar view: the visible month, the
// signed-in identity, its event subscription, the weather and the chat.
package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"smartcal/internal/assistant"
	"smartcal/internal/auth"
	"smartcal/internal/calendar"
	appLog "smartcal/internal/log"
	"smartcal/internal/model"
	"smartcal/internal/store"
	"smartcal/internal/weather"
)

// LoginRequiredMessage is shown when a signed-out user tries to add an
// event while events are stored per user.
const LoginRequiredMessage = "일정을 추가하려면 로그인이 필요합니다."

var ErrLoginRequired = errors.New("app: login required")

// Snapshot is the complete render state pushed to the client. Snapshots
// are never mutated after they are handed to the sink.
type Snapshot struct {
	Year      int                  `json:"year"`
	Month     int                  `json:"month"`
	Title     string               `json:"title"`
	Days      []calendar.RenderDay `json:"days"`
	Identity  model.Identity       `json:"identity"`
	Remote    bool                 `json:"remote"`
	Chat      []model.ChatMessage  `json:"chat"`
	ChatState assistant.State      `json:"chatState"`
}

type Deps struct {
	Store      store.EventStore
	Remote     bool
	Holidays   *calendar.Table
	Identities *auth.Identities
	// Annotator is per view: it loads the forecast once per mount.
	Annotator *weather.Annotator
	Chat      *assistant.Panel
	Location  *time.Location
	Now       func() time.Time
}

// View owns the state of one client. All methods are safe for concurrent
// use; the sink is called sequentially.
type View struct {
	deps Deps
	sink func(Snapshot)

	pubMu sync.Mutex // serializes sink calls

	mu          sync.Mutex
	year, month int
	identity    model.Identity
	events      []model.CalendarEvent
	weather     map[string]model.WeatherSample
	chat        []model.ChatMessage
	gen         int // bumped on every identity change
	unsubEvents func()
	unsubIdent  func()
	unobserve   func()
	started     bool
	closed      bool
}

// NewView opens on the month containing now.
func NewView(deps Deps, sink func(Snapshot)) *View {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	now := deps.Now().In(deps.Location)
	return &View{
		deps:  deps,
		sink:  sink,
		year:  now.Year(),
		month: int(now.Month()) - 1,
	}
}

// Start subscribes to identity changes (which in turn subscribes to
// events), begins the one-shot weather load and publishes the first
// snapshot.
func (v *View) Start(ctx context.Context) {
	v.mu.Lock()
	if v.started || v.closed {
		v.mu.Unlock()
		return
	}
	v.started = true
	if v.deps.Chat != nil {
		v.chat = v.deps.Chat.Messages()
	}
	v.mu.Unlock()

	if v.deps.Chat != nil {
		unobserve := v.deps.Chat.Observe(v.onChat)
		v.mu.Lock()
		v.unobserve = unobserve
		v.mu.Unlock()
	}

	if v.deps.Identities != nil {
		unsub := v.deps.Identities.Subscribe(v.onIdentity)
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			unsub()
			return
		}
		v.unsubIdent = unsub
		v.mu.Unlock()
	} else {
		v.onIdentity(model.Identity{})
	}

	if v.deps.Annotator != nil {
		go v.loadWeather(ctx)
	}
	v.publish()
}

func (v *View) loadWeather(ctx context.Context) {
	samples := v.deps.Annotator.Load(ctx)
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.weather = samples
	v.mu.Unlock()
	v.publish()
}

// onIdentity tears down the previous event subscription before opening
// the one for the new owner.
func (v *View) onIdentity(id model.Identity) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	old := v.unsubEvents
	v.unsubEvents = nil
	v.gen++
	gen := v.gen
	v.identity = id
	v.events = nil
	v.mu.Unlock()

	if old != nil {
		old()
	}

	if v.deps.Store != nil {
		unsub := v.deps.Store.Subscribe(id.UID, func(evs []model.CalendarEvent) {
			v.onEvents(gen, evs)
		})
		v.mu.Lock()
		if v.closed || v.gen != gen {
			v.mu.Unlock()
			unsub()
			return
		}
		v.unsubEvents = unsub
		v.mu.Unlock()
	}
	v.publish()
}

func (v *View) onEvents(gen int, evs []model.CalendarEvent) {
	v.mu.Lock()
	if v.closed || v.gen != gen {
		v.mu.Unlock()
		return
	}
	v.events = evs
	v.mu.Unlock()
	v.publish()
}

// onChat runs under the panel's lock; it only copies.
func (v *View) onChat(msgs []model.ChatMessage) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.chat = msgs
	v.mu.Unlock()
	v.publish()
}

// Navigate moves the visible month by increment (negative goes back).
func (v *View) Navigate(increment int) {
	v.mu.Lock()
	v.year, v.month = calendar.Navigate(v.year, v.month, increment)
	v.mu.Unlock()
	v.publish()
}

// Goto jumps to (year, month0); month0 outside 0..11 rolls over.
func (v *View) Goto(year, month0 int) {
	v.mu.Lock()
	v.year, v.month = calendar.Navigate(year, month0, 0)
	v.mu.Unlock()
	v.publish()
}

// Ask sends prompt to the chat panel with the visible month as context.
func (v *View) Ask(ctx context.Context, prompt string) (model.ChatMessage, error) {
	if v.deps.Chat == nil {
		return model.ChatMessage{}, errors.New("app: chat unavailable")
	}
	v.mu.Lock()
	dateContext := calendar.DateContext(v.year, v.month)
	v.mu.Unlock()
	return v.deps.Chat.Send(ctx, prompt, dateContext)
}

// AddEvent creates an event for the current identity.
func (v *View) AddEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	owner, err := v.owner()
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return v.deps.Store.Create(ctx, owner, ev)
}

func (v *View) UpdateEvent(ctx context.Context, ev model.CalendarEvent) error {
	owner, err := v.owner()
	if err != nil {
		return err
	}
	return v.deps.Store.Update(ctx, owner, ev)
}

func (v *View) DeleteEvent(ctx context.Context, id string) error {
	owner, err := v.owner()
	if err != nil {
		return err
	}
	return v.deps.Store.Delete(ctx, owner, id)
}

func (v *View) owner() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.deps.Remote && !v.identity.SignedIn() {
		return "", ErrLoginRequired
	}
	return v.identity.UID, nil
}

// Snapshot computes the current render state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	year, month := v.year, v.month
	identity := v.identity
	events := v.events
	weatherSamples := v.weather
	chat := append([]model.ChatMessage(nil), v.chat...)
	v.mu.Unlock()

	state := assistant.StateIdle
	for _, m := range chat {
		if m.Pending {
			state = assistant.StateAwaiting
			break
		}
	}
	return Snapshot{
		Year:      year,
		Month:     month,
		Title:     calendar.DateContext(year, month),
		Days:      Render(year, month, v.deps.Now(), v.deps.Location, events, v.deps.Holidays, weatherSamples),
		Identity:  identity,
		Remote:    v.deps.Remote,
		Chat:      chat,
		ChatState: state,
	}
}

func (v *View) publish() {
	v.pubMu.Lock()
	defer v.pubMu.Unlock()
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed || v.sink == nil {
		return
	}
	v.sink(v.Snapshot())
}

// Close releases every subscription. Results that arrive afterwards are
// dropped and the sink is never called again.
func (v *View) Close() {
	// pubMu first: an in-flight sink call finishes before we return
	v.pubMu.Lock()
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		v.pubMu.Unlock()
		return
	}
	v.closed = true
	unsubs := []func(){v.unsubIdent, v.unsubEvents, v.unobserve}
	v.unsubIdent, v.unsubEvents, v.unobserve = nil, nil, nil
	v.mu.Unlock()
	v.pubMu.Unlock()

	for _, fn := range unsubs {
		if fn != nil {
			fn()
		}
	}
	appLog.Debug("view closed")
}

// Render builds the 42 render cells of a month. Pure: everything it
// needs is passed in.
func Render(year, month0 int, now time.Time, loc *time.Location, events []model.CalendarEvent, holidays *calendar.Table, samples map[string]model.WeatherSample) []calendar.RenderDay {
	cells := calendar.MonthGrid(year, month0, now, loc)
	return calendar.Merge(cells, events, holidaysFor(cells, holidays), samples)
}

// holidaysFor collects the holidays of every year the grid touches.
func holidaysFor(cells []model.DayCell, table *calendar.Table) []model.CalendarEvent {
	years := map[int]struct{}{}
	for _, c := range cells {
		years[c.Date.Year()] = struct{}{}
	}
	sorted := make([]int, 0, len(years))
	for y := range years {
		sorted = append(sorted, y)
	}
	sort.Ints(sorted)

	var out []model.CalendarEvent
	for _, y := range sorted {
		out = append(out, table.For(y)...)
	}
	return out
}
