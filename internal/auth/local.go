package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

const (
	accountPrefix = "auth/account/"
	revokedPrefix = "auth/revoked/"
)

// account is the persisted form of a local user.
type account struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// claims are the session token claims; Subject carries the uid.
type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type LocalOptions struct {
	Secret   []byte
	Issuer   string
	TokenTTL time.Duration
}

// Local keeps accounts in badger and issues HS256 tokens.
type Local struct {
	db     *badger.DB
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewLocal builds the local provider. Without a configured secret a
// random one is generated, so tokens do not survive a restart.
func NewLocal(db *badger.DB, opts LocalOptions) (*Local, error) {
	secret := opts.Secret
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		secret = buf
		appLog.Warn("auth.jwt_secret not set; sessions end on restart", "secret_id", hex.EncodeToString(buf[:4]))
	}
	if opts.Issuer == "" {
		opts.Issuer = "smartcal"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 7 * 24 * time.Hour
	}
	return &Local{db: db, secret: secret, issuer: opts.Issuer, ttl: opts.TokenTTL, now: time.Now}, nil
}

func (l *Local) Name() string { return "local" }

func (l *Local) SignUp(_ context.Context, email, password string) (Session, error) {
	email, err := normalizeCredentials(email, password)
	if err != nil {
		return Session{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, err
	}
	acc := account{UID: uuid.NewString(), Email: email, Hash: hash, CreatedAt: l.now().UTC()}

	err = l.db.Update(func(txn *badger.Txn) error {
		key := []byte(accountPrefix + email)
		if _, err := txn.Get(key); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(acc)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return Session{}, err
	}
	appLog.Info("local account created", "uid", acc.UID)
	return l.issue(acc)
}

func (l *Local) SignIn(_ context.Context, email, password string) (Session, error) {
	acc, err := l.lookup(email)
	if err != nil {
		return Session{}, err
	}
	ok, err := VerifyPassword(password, acc.Hash)
	if err != nil {
		appLog.Error("stored password hash unreadable", err, "uid", acc.UID)
		return Session{}, ErrInvalidCredentials
	}
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	return l.issue(acc)
}

// OAuthURL is not available without an external identity provider.
func (l *Local) OAuthURL(context.Context, string, string) (string, error) {
	return "", ErrNotSupported
}

// SignOut revokes the token until it would have expired anyway.
func (l *Local) SignOut(_ context.Context, token string) error {
	c, err := l.parse(token)
	if err != nil {
		// 이미 무효한 토큰이면 로그아웃된 것과 같다.
		return nil
	}
	ttl := c.ExpiresAt.Time.Sub(l.now())
	if ttl <= 0 {
		return nil
	}
	return l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(revokedPrefix+c.ID), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

func (l *Local) Verify(_ context.Context, token string) (model.Identity, error) {
	c, err := l.parse(token)
	if err != nil {
		return model.Identity{}, err
	}
	revoked := false
	err = l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(revokedPrefix + c.ID))
		switch {
		case err == nil:
			revoked = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return model.Identity{}, err
	}
	if revoked {
		return model.Identity{}, ErrInvalidToken
	}
	return model.Identity{UID: c.Subject, Email: c.Email, Provider: l.Name()}, nil
}

// CreateAccount is used by the add-user command. It fails if the email
// is taken.
func (l *Local) CreateAccount(ctx context.Context, email, password string) (model.Identity, error) {
	s, err := l.SignUp(ctx, email, password)
	if err != nil {
		return model.Identity{}, err
	}
	return s.Identity, nil
}

func (l *Local) lookup(email string) (account, error) {
	var acc account
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(accountPrefix + normalizeEmail(email)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &acc)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return account{}, ErrInvalidCredentials
	}
	if err != nil {
		return account{}, err
	}
	return acc, nil
}

func (l *Local) issue(acc account) (Session, error) {
	now := l.now()
	exp := now.Add(l.ttl)
	c := claims{
		Email: acc.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   acc.UID,
			Issuer:    l.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(l.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{
		Identity:  model.Identity{UID: acc.UID, Email: acc.Email, Provider: l.Name()},
		Token:     signed,
		ExpiresAt: exp,
	}, nil
}

func (l *Local) parse(token string) (*claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (interface{}, error) {
		return l.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(l.issuer),
		jwt.WithTimeFunc(l.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.ID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return c, nil
}
