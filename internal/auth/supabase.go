package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gotrue "github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

// goTrueAPI is the slice of GoTrue the provider calls. It keeps the SDK
// types out of the provider so it can be tested against a fake.
type goTrueAPI interface {
	signUp(email, password string) error
	signIn(email, password string) (token string, expiresIn int, id model.Identity, err error)
	authorize(provider string) (string, error)
	user(token string) (model.Identity, error)
	logout(token string) error
}

// Supabase delegates identity to a hosted GoTrue instance.
type Supabase struct {
	api goTrueAPI
	now func() time.Time
}

// NewSupabase wraps the Auth client of a supabase.Client.
func NewSupabase(client gotrue.Client) *Supabase {
	return &Supabase{api: gotrueClient{client: client}, now: time.Now}
}

func (s *Supabase) Name() string { return "supabase" }

func (s *Supabase) SignUp(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeCredentials(email, password)
	if err != nil {
		return Session{}, err
	}
	if err := s.api.signUp(email, password); err != nil {
		return Session{}, mapGoTrueError(err)
	}
	return s.SignIn(ctx, email, password)
}

func (s *Supabase) SignIn(_ context.Context, email, password string) (Session, error) {
	token, expiresIn, id, err := s.api.signIn(normalizeEmail(email), password)
	if err != nil {
		return Session{}, mapGoTrueError(err)
	}
	id.Provider = s.Name()
	return Session{
		Identity:  id,
		Token:     token,
		ExpiresAt: s.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// OAuthURL returns the hosted authorize URL. Only "google" is offered in
// the UI, but any provider GoTrue knows is passed through.
func (s *Supabase) OAuthURL(_ context.Context, provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", ErrNotSupported
	}
	raw, err := s.api.authorize(provider)
	if err != nil {
		return "", mapGoTrueError(err)
	}
	if redirectTo == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("authorize url: %w", err)
	}
	q := u.Query()
	q.Set("redirect_to", redirectTo)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Supabase) SignOut(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.api.logout(token); err != nil {
		appLog.Warn("supabase logout failed", "err", err)
	}
	return nil
}

func (s *Supabase) Verify(_ context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, ErrMissingToken
	}
	id, err := s.api.user(token)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if id.UID == "" {
		return model.Identity{}, ErrInvalidToken
	}
	id.Provider = s.Name()
	return id, nil
}

// mapGoTrueError turns GoTrue's HTTP error text into our sentinels.
func mapGoTrueError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid login credentials"), strings.Contains(msg, "invalid_grant"):
		return ErrInvalidCredentials
	case strings.Contains(msg, "already registered"), strings.Contains(msg, "user_already_exists"):
		return ErrEmailTaken
	case strings.Contains(msg, "password should be"), strings.Contains(msg, "weak_password"):
		return ErrWeakPassword
	}
	return err
}

// gotrueClient adapts the SDK client.
type gotrueClient struct {
	client gotrue.Client
}

func (g gotrueClient) signUp(email, password string) error {
	_, err := g.client.Signup(types.SignupRequest{Email: email, Password: password})
	return err
}

func (g gotrueClient) signIn(email, password string) (string, int, model.Identity, error) {
	resp, err := g.client.SignInWithEmailPassword(email, password)
	if err != nil {
		return "", 0, model.Identity{}, err
	}
	if resp == nil || resp.AccessToken == "" {
		return "", 0, model.Identity{}, errors.New("gotrue: empty token response")
	}
	return resp.AccessToken, resp.ExpiresIn, model.Identity{UID: resp.User.ID.String(), Email: resp.User.Email}, nil
}

func (g gotrueClient) authorize(provider string) (string, error) {
	resp, err := g.client.Authorize(types.AuthorizeRequest{
		Provider: types.Provider(provider),
		FlowType: types.FlowType("implicit"),
	})
	if err != nil {
		return "", err
	}
	return resp.AuthorizationURL, nil
}

func (g gotrueClient) user(token string) (model.Identity, error) {
	resp, err := g.client.WithToken(token).GetUser()
	if err != nil {
		return model.Identity{}, err
	}
	return model.Identity{UID: resp.ID.String(), Email: resp.Email}, nil
}

func (g gotrueClient) logout(token string) error {
	return g.client.WithToken(token).Logout()
}
