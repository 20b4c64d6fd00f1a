// Package credential holds the bearer token attached to authenticated backend
// calls. Acquiring the token is someone else's job; this package only decides
// whether the token it was given is still usable.
package credential

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider yields the current bearer token. An empty string means absent.
type Provider interface {
	Token() string
}

// Store is a Provider whose token can be replaced at runtime.
type Store struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(token string, opts ...Option) *Store {
	s := &Store{token: token, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Token returns the stored token, or "" when it is a JWT whose exp has passed.
// Opaque (non-JWT) tokens are returned as-is.
func (s *Store) Token() string {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" || expired(token, s.now()) {
		return ""
	}
	return token
}

// Present reports whether p currently yields a usable token.
func Present(p Provider) bool {
	return p != nil && p.Token() != ""
}

func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
