package assistant

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "smartcal/internal/log"
)

// Sessions holds one Panel per browser session, in memory only.
type Sessions struct {
	gen Generator
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	panels map[string]*Panel
}

func NewSessions(gen Generator, idleTTL time.Duration) *Sessions {
	return &Sessions{gen: gen, ttl: idleTTL, now: time.Now, panels: map[string]*Panel{}}
}

// Get returns the panel for id, opening a new conversation greeted with
// dateContext if there is none.
func (s *Sessions) Get(id, dateContext string) *Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[id]
	if !ok {
		p = NewPanel(s.gen, dateContext)
		p.now = s.now
		p.lastActive = s.now()
		s.panels[id] = p
	}
	return p
}

// Lookup returns an existing panel without creating one.
func (s *Sessions) Lookup(id string) (*Panel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[id]
	return p, ok
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.panels)
}

// Sweep drops panels idle for longer than the TTL. Panels awaiting a
// reply are kept.
func (s *Sessions) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, p := range s.panels {
		last, idle := p.idleSince()
		if idle && last.Before(cutoff) {
			delete(s.panels, id)
			removed++
		}
	}
	return removed
}

// Schedule registers Sweep on c with the given cron spec.
func (s *Sessions) Schedule(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		if n := s.Sweep(); n > 0 {
			appLog.Info("chat sessions swept", "removed", n, "remaining", s.Len())
		}
	})
	return err
}
