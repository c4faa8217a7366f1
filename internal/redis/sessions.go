package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/family-history/internal/domain"
)

// SessionStore maps opaque bearer tokens to users until they expire
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a session store over an existing client
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func (s *SessionStore) sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

// Create stores a session for ttl
func (s *SessionStore) Create(ctx context.Context, token string, user domain.User, ttl time.Duration) error {
	key := s.sessionKey(token)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "username", user.Username, "role", user.Role)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get returns the user behind a token, or ErrUnauthorized once it expired
func (s *SessionStore) Get(ctx context.Context, token string) (*domain.User, error) {
	result, err := s.client.HGetAll(ctx, s.sessionKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if len(result) == 0 {
		return nil, domain.ErrUnauthorized
	}
	return &domain.User{
		Username: result["username"],
		Role:     result["role"],
	}, nil
}

// Delete revokes a token
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
