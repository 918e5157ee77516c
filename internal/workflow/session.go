package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoSession = errors.New("no workflow session")

// Sessions stores one machine per username.
type Sessions interface {
	Load(ctx context.Context, username string) (*Machine, error)
	Save(ctx context.Context, username string, m *Machine) error
	Delete(ctx context.Context, username string) error
}

// MemorySessions keeps machines as JSON so callers never share state.
type MemorySessions struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{data: make(map[string][]byte)}
}

func (s *MemorySessions) Load(_ context.Context, username string) (*Machine, error) {
	s.mu.RLock()
	raw, ok := s.data[username]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoSession
	}
	var m Machine
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &m, nil
}

func (s *MemorySessions) Save(_ context.Context, username string, m *Machine) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s.mu.Lock()
	s.data[username] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemorySessions) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	delete(s.data, username)
	s.mu.Unlock()
	return nil
}

const sessionKeyPrefix = "workflow_session:"

// RedisSessions stores machines as JSON strings that expire after ttl of
// inactivity.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &RedisSessions{client: client, ttl: ttl}
}

func (s *RedisSessions) Load(ctx context.Context, username string) (*Machine, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+username).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var m Machine
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &m, nil
}

func (s *RedisSessions) Save(ctx context.Context, username string, m *Machine) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+username, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisSessions) Delete(ctx context.Context, username string) error {
	return s.client.Del(ctx, sessionKeyPrefix+username).Err()
}
