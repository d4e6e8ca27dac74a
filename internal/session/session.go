// Package session manages the service account's Bluesky session: the
// access token used for upstream reads and the DID the feed generator
// records are published under.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aokiyuu/bskyfeeds/internal/bluesky"
)

// ErrNoCredentials indicates the session has no handle/password to log
// in with.
var ErrNoCredentials = errors.New("session: no credentials configured")

// Authenticator is the slice of the Bluesky client the session needs.
type Authenticator interface {
	CreateSession(ctx context.Context, identifier, password string) (*bluesky.Session, error)
}

// Session holds the service account's access token, logging in lazily
// and re-authenticating on demand. It is an explicitly constructed
// object with a defined lifecycle, never ambient global state, and is
// safe for concurrent use.
type Session struct {
	auth       Authenticator
	identifier string
	password   string
	log        *slog.Logger

	mu        sync.Mutex
	accessJwt string
	did       string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// New creates a session for the given service account credentials.
func New(auth Authenticator, identifier, password string, opts ...Option) *Session {
	s := &Session{
		auth:       auth,
		identifier: identifier,
		password:   password,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start performs the initial login. A failure is logged but not fatal:
// the first request needing a token will retry the login, matching the
// service's soft-start behavior.
func (s *Session) Start(ctx context.Context) error {
	if err := s.login(ctx); err != nil {
		s.log.Warn("initial login failed, will retry on first use", "handle", s.identifier, "error", err)
		return err
	}
	return nil
}

// Token returns the current access token, logging in first if the
// session has none yet.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessJwt == "" {
		if err := s.loginLocked(ctx); err != nil {
			return "", err
		}
	}
	return s.accessJwt, nil
}

// Refresh discards the current token and logs in again. The Bluesky
// client calls this once when an upstream call comes back 401.
func (s *Session) Refresh(ctx context.Context) error {
	s.log.Info("refreshing expired service session", "handle", s.identifier)
	return s.login(ctx)
}

// DID returns the service account's DID, or empty before the first
// successful login.
func (s *Session) DID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.did
}

func (s *Session) login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx)
}

func (s *Session) loginLocked(ctx context.Context) error {
	if s.identifier == "" || s.password == "" {
		return ErrNoCredentials
	}
	sess, err := s.auth.CreateSession(ctx, s.identifier, s.password)
	if err != nil {
		return err
	}
	s.accessJwt = sess.AccessJwt
	s.did = sess.DID
	s.log.Info("service session established", "did", sess.DID)
	return nil
}
