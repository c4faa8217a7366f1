// Package auth checks dashboard credentials and issues opaque session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/family-history/internal/config"
	"github.com/family-history/internal/domain"
)

// TokenType is reported to clients alongside the access token
const TokenType = "bearer"

// SessionStore persists issued tokens
type SessionStore interface {
	Create(ctx context.Context, token string, user domain.User, ttl time.Duration) error
	Get(ctx context.Context, token string) (*domain.User, error)
	Delete(ctx context.Context, token string) error
}

type account struct {
	user domain.User
	hash []byte
}

// Authenticator validates credentials against the configured accounts
type Authenticator struct {
	accounts map[string]account
	allowed  map[string]bool
	sessions SessionStore
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthenticator hashes the configured passwords. A password that is
// already a bcrypt hash is used as is. Accounts without a password cannot
// log in and are skipped.
func NewAuthenticator(cfg *config.AuthConfig, sessions SessionStore, logger *slog.Logger) (*Authenticator, error) {
	a := &Authenticator{
		accounts: make(map[string]account, len(cfg.Users)),
		allowed:  make(map[string]bool, len(cfg.AllowedRoles)),
		sessions: sessions,
		ttl:      cfg.TokenTTL,
		logger:   logger,
		now:      time.Now,
	}
	for _, role := range cfg.AllowedRoles {
		a.allowed[strings.ToLower(role)] = true
	}

	for _, u := range cfg.Users {
		if u.Username == "" || u.Password == "" {
			logger.Warn("skipping account without credentials", "username", u.Username)
			continue
		}
		hash, err := hashPassword(u.Password, cfg.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password of %s: %w", u.Username, err)
		}
		a.accounts[u.Username] = account{
			user: domain.User{Username: u.Username, Role: strings.ToLower(u.Role)},
			hash: hash,
		}
	}
	return a, nil
}

func hashPassword(password string, cost int) ([]byte, error) {
	if _, err := bcrypt.Cost([]byte(password)); err == nil {
		return []byte(password), nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

// RoleAllowed reports whether a role may perform admin operations
func (a *Authenticator) RoleAllowed(role string) bool {
	return a.allowed[strings.ToLower(role)]
}

// Login checks the credentials and opens a session. Every valid account gets
// a token; roles are enforced per endpoint with RoleAllowed.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*domain.LoginResponse, error) {
	acc, ok := a.accounts[username]
	if !ok {
		return nil, domain.ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return nil, domain.ErrBadCredentials
	}
	token := uuid.NewString()
	if err := a.sessions.Create(ctx, token, acc.user, a.ttl); err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}

	a.logger.Info("user logged in", "username", acc.user.Username, "role", acc.user.Role)
	return &domain.LoginResponse{
		AccessToken: token,
		TokenType:   TokenType,
		Username:    acc.user.Username,
		Role:        acc.user.Role,
		ExpiresAt:   a.now().Add(a.ttl).UTC(),
	}, nil
}

// Authenticate resolves a bearer token to its user
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	user, err := a.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	return user, nil
}

// Logout revokes a token
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.sessions.Delete(ctx, token)
}

type contextKey struct{}

// WithUser attaches the authenticated user to ctx
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFrom returns the authenticated user of ctx, if any
func UserFrom(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*domain.User)
	return user, ok && user != nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
