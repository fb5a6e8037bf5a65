package gitops

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
	"github.com/aaronlmathis/kaptn-pulse/internal/metrics"
)

// LoginFunc exchanges a username and password for a bearer token
type LoginFunc func(ctx context.Context, username, password string) (string, error)

// Session owns the bearer token shared by every request of a Client.
// Concurrent re-authentications collapse into a single login call.
type Session struct {
	mu    sync.RWMutex
	token string

	username string
	password string
	login    LoginFunc
	timeout  time.Duration

	group  singleflight.Group
	logger *zap.Logger
}

// NewSession creates a session seeded with an optional static token
func NewSession(token, username, password string, login LoginFunc, timeout time.Duration, logger *zap.Logger) *Session {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Session{
		token:    token,
		username: username,
		password: password,
		login:    login,
		timeout:  timeout,
		logger:   logger,
	}
}

// HasCredentials reports whether the session can log in on its own
func (s *Session) HasCredentials() bool {
	return s.username != "" && s.password != "" && s.login != nil
}

// Token returns the currently held token, possibly empty
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// GetValidToken returns the held token, logging in first when none is held
// and credentials are available. An empty token with no error means requests
// go out unauthenticated.
func (s *Session) GetValidToken(ctx context.Context) (string, error) {
	if tok := s.Token(); tok != "" || !s.HasCredentials() {
		return tok, nil
	}
	return s.Reauthenticate(ctx, "")
}

// Invalidate drops the held token if it is still the one the caller used
func (s *Session) Invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == stale {
		s.token = ""
	}
}

// Reauthenticate replaces a token the backend rejected. stale is the token the
// caller sent; if another caller already replaced it, the new token is returned
// without logging in again.
func (s *Session) Reauthenticate(ctx context.Context, stale string) (string, error) {
	if !s.HasCredentials() {
		return "", apperrors.NewAuthenticationError("no credentials available for re-authentication", nil)
	}

	if tok := s.Token(); tok != "" && tok != stale {
		return tok, nil
	}
	s.Invalidate(stale)

	ch := s.group.DoChan("login", func() (interface{}, error) {
		if tok := s.Token(); tok != "" && tok != stale {
			return tok, nil
		}

		// the login outlives any single waiter
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		s.logger.Info("Authenticating with GitOps controller", zap.String("username", s.username))
		tok, err := s.login(loginCtx, s.username, s.password)
		metrics.RecordReauthentication(err == nil)
		if err != nil {
			s.logger.Warn("GitOps authentication failed", zap.Error(err))
			if apperrors.IsTransportError(err) {
				return "", err
			}
			return "", apperrors.NewAuthenticationError("re-authentication failed", err)
		}
		if tok == "" {
			return "", apperrors.NewAuthenticationError("session endpoint returned an empty token", nil)
		}

		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", apperrors.NewTransportError("waiting for re-authentication", ctx.Err(), nil)
	}
}
