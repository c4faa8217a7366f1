package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/family-history/internal/domain"
)

// DefaultAdminRoles are the roles allowed to edit nicknames and import
var DefaultAdminRoles = []string{"admin", "superadmin"}

// Session holds the credentials of a logged in user. It is created once at
// startup with LoadSession and torn down with Clear on logout.
type Session struct {
	path string

	mu        sync.RWMutex
	Token     string    `yaml:"token"`
	Username  string    `yaml:"username"`
	Role      string    `yaml:"role"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

// LoadSession reads the session file at path. A missing file yields an
// empty, logged out session bound to the same path.
func LoadSession(path string) (*Session, error) {
	s := &Session{path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return s, nil
}

// Set replaces the credentials with a login response
func (s *Session) Set(resp domain.LoginResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Token = resp.AccessToken
	s.Username = resp.Username
	s.Role = resp.Role
	s.ExpiresAt = resp.ExpiresAt
}

// Save writes the session to its file with owner-only permissions
func (s *Session) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	data, err := yaml.Marshal(s)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Clear forgets the credentials and removes the session file
func (s *Session) Clear() error {
	s.mu.Lock()
	s.Token, s.Username, s.Role = "", "", ""
	s.ExpiresAt = time.Time{}
	s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// AccessToken returns the bearer token, empty when logged out or expired
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) {
		return ""
	}
	return s.Token
}

// LoggedIn reports whether the session carries a usable token
func (s *Session) LoggedIn() bool {
	return s.AccessToken() != ""
}

// IsAdmin reports whether the session role is one of allowed, or one of
// DefaultAdminRoles when allowed is empty
func (s *Session) IsAdmin(allowed ...string) bool {
	if !s.LoggedIn() {
		return false
	}
	if len(allowed) == 0 {
		allowed = DefaultAdminRoles
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(allowed, s.Role)
}
