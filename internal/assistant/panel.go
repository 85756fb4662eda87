package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartcal/internal/model"
)

var ErrEmptyPrompt = errors.New("assistant: empty prompt")

// State of a panel: idle, or awaiting at least one reply.
type State string

const (
	StateIdle     State = "idle"
	StateAwaiting State = "awaiting"
)

// Greeting is the first assistant message of a new conversation.
func Greeting(dateContext string) string {
	return "안녕하세요! " + dateContext + "에 대해 무엇을 도와드릴까요? 휴일 계획이나 일정 추천을 물어보세요."
}

// Panel is one append-only conversation. Sends may overlap: each one
// appends its user message and its own pending placeholder, and resolves
// exactly that placeholder when the reply arrives.
type Panel struct {
	gen Generator
	now func() time.Time

	mu         sync.Mutex
	messages   []model.ChatMessage
	inflight   int
	lastActive time.Time
	observers  map[int]func([]model.ChatMessage)
	nextObs    int
}

func NewPanel(gen Generator, dateContext string) *Panel {
	p := &Panel{gen: gen, now: time.Now, observers: map[int]func([]model.ChatMessage){}}
	p.messages = []model.ChatMessage{{
		ID:   uuid.NewString(),
		Role: model.RoleAssistant,
		Text: Greeting(dateContext),
	}}
	p.lastActive = p.now()
	return p
}

// Send posts prompt and blocks until its reply replaces the placeholder.
// The resolved assistant message is returned.
func (p *Panel) Send(ctx context.Context, prompt, dateContext string) (model.ChatMessage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return model.ChatMessage{}, ErrEmptyPrompt
	}

	placeholderID := uuid.NewString()
	p.mu.Lock()
	p.messages = append(p.messages,
		model.ChatMessage{ID: uuid.NewString(), Role: model.RoleUser, Text: prompt},
		model.ChatMessage{ID: placeholderID, Role: model.RoleAssistant, Pending: true},
	)
	p.inflight++
	p.lastActive = p.now()
	p.publishLocked()
	p.mu.Unlock()

	reply := p.gen.Generate(ctx, prompt, dateContext)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	p.lastActive = p.now()
	var resolved model.ChatMessage
	for i := range p.messages {
		if p.messages[i].ID == placeholderID {
			p.messages[i].Text = reply
			p.messages[i].Pending = false
			resolved = p.messages[i]
			break
		}
	}
	p.publishLocked()
	return resolved, nil
}

// Messages returns a copy of the conversation.
func (p *Panel) Messages() []model.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ChatMessage(nil), p.messages...)
}

func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight > 0 {
		return StateAwaiting
	}
	return StateIdle
}

// Observe registers fn for every change of the conversation. The
// returned func removes it.
func (p *Panel) Observe(fn func([]model.ChatMessage)) func() {
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Panel) publishLocked() {
	if len(p.observers) == 0 {
		return
	}
	snap := append([]model.ChatMessage(nil), p.messages...)
	for _, fn := range p.observers {
		// Observers must not call back into the panel.
		fn(snap)
	}
}

// idleSince reports when the panel was last used, and whether it is idle.
func (p *Panel) idleSince() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActive, p.inflight == 0
}
