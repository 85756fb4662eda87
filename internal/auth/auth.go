// Package auth signs users in and out. Two providers exist: a local one
// (accounts in badger, Argon2id hashes, HS256 session tokens) and one
// backed by Supabase GoTrue. Both hand out bearer tokens that Verify
// turns back into an identity.
package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"smartcal/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidEmail       = errors.New("auth: invalid email")
	ErrWeakPassword       = errors.New("auth: password too short")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrMissingToken       = errors.New("auth: missing token")
	ErrNotSupported       = errors.New("auth: not supported by this provider")
)

// MinPasswordLen matches the hosted provider's default policy.
const MinPasswordLen = 6

// Session is what a successful sign-in returns.
type Session struct {
	Identity  model.Identity `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Provider is the identity backend.
type Provider interface {
	Name() string
	SignUp(ctx context.Context, email, password string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	// OAuthURL returns the URL the browser opens to sign in with an
	// external provider ("google").
	OAuthURL(ctx context.Context, provider, redirectTo string) (string, error)
	SignOut(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (model.Identity, error)
}

// normalizeCredentials lower-cases the email and applies the shared
// sign-up rules.
func normalizeCredentials(email, password string) (string, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}
	if len(password) < MinPasswordLen {
		return "", ErrWeakPassword
	}
	return email, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// Message maps an auth error to the text shown inline in the sign-in form.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "이메일 또는 비밀번호가 올바르지 않습니다."
	case errors.Is(err, ErrEmailTaken):
		return "이미 가입된 이메일입니다."
	case errors.Is(err, ErrInvalidEmail):
		return "올바른 이메일 주소를 입력해주세요."
	case errors.Is(err, ErrWeakPassword):
		return "비밀번호는 6자 이상이어야 합니다."
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrMissingToken):
		return "로그인이 만료되었습니다. 다시 로그인해주세요."
	case errors.Is(err, ErrNotSupported):
		return "지원하지 않는 로그인 방식입니다."
	default:
		return err.Error()
	}
}

// OAuthMessage prefixes a failed external sign-in.
func OAuthMessage(err error) string {
	return "구글 로그인 실패: " + Message(err)
}
