package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tokens is the credential pair persisted for one browser session.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (t Tokens) IsZero() bool { return t.AccessToken == "" && t.RefreshToken == "" }

// Storage persists tokens per session id. Load returns zero Tokens for an unknown id.
type Storage interface {
	Load(ctx context.Context, sessionID string) (Tokens, error)
	Save(ctx context.Context, sessionID string, tokens Tokens) error
	Clear(ctx context.Context, sessionID string) error
}

type MemoryStorage struct {
	mu     sync.RWMutex
	tokens map[string]Tokens
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{tokens: make(map[string]Tokens)}
}

func (s *MemoryStorage) Load(_ context.Context, sessionID string) (Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[sessionID], nil
}

func (s *MemoryStorage) Save(_ context.Context, sessionID string, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[sessionID] = tokens
	return nil
}

func (s *MemoryStorage) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, sessionID)
	return nil
}

// RedisStorage keeps each session in a hash at session:<id> that expires after ttl
// of inactivity.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func sessionKey(id string) string { return "session:" + id }

func (s *RedisStorage) Load(ctx context.Context, sessionID string) (Tokens, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return Tokens{}, fmt.Errorf("load session: %w", err)
	}
	return Tokens{
		AccessToken:  fields["access"],
		RefreshToken: fields["refresh"],
	}, nil
}

func (s *RedisStorage) Save(ctx context.Context, sessionID string, tokens Tokens) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	key := sessionKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "access", tokens.AccessToken, "refresh", tokens.RefreshToken)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStorage) Clear(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}
