package auth

import (
	"context"
	"sync"

	"smartcal/internal/model"
)

// Identities is the identity-changed stream of one client. It starts
// signed out and changes on SignIn/SignUp/Adopt/SignOut.
type Identities struct {
	provider Provider

	mu     sync.Mutex
	cur    model.Identity
	token  string
	nextID int
	subs   map[int]func(model.Identity)
}

func NewIdentities(p Provider) *Identities {
	return &Identities{provider: p, subs: make(map[int]func(model.Identity))}
}

// Current returns the signed-in identity and its token.
func (s *Identities) Current() (model.Identity, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur, s.token
}

// Subscribe calls onChange with the current identity right away and on
// every change after that. The returned func unsubscribes.
func (s *Identities) Subscribe(onChange func(model.Identity)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = onChange
	cur := s.cur
	s.mu.Unlock()

	onChange(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Identities) SignIn(ctx context.Context, email, password string) (Session, error) {
	sess, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	s.set(sess.Identity, sess.Token)
	return sess, nil
}

func (s *Identities) SignUp(ctx context.Context, email, password string) (Session, error) {
	sess, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	s.set(sess.Identity, sess.Token)
	return sess, nil
}

// Adopt verifies a token obtained elsewhere (an OAuth redirect or a
// token the browser kept) and makes it current.
func (s *Identities) Adopt(ctx context.Context, token string) (model.Identity, error) {
	id, err := s.provider.Verify(ctx, token)
	if err != nil {
		return model.Identity{}, err
	}
	s.set(id, token)
	return id, nil
}

func (s *Identities) SignOut(ctx context.Context) error {
	_, token := s.Current()
	var err error
	if token != "" {
		err = s.provider.SignOut(ctx, token)
	}
	s.set(model.Identity{}, "")
	return err
}

func (s *Identities) set(id model.Identity, token string) {
	s.mu.Lock()
	changed := s.cur != id
	s.cur, s.token = id, token
	subs := make([]func(model.Identity), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range subs {
		fn(id)
	}
}
