package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemorySessionStore keeps sessions in process memory. Sessions are stored
// encoded, so a session returned by Get never aliases the stored copy.
type MemorySessionStore[T any] struct {
	mu       sync.RWMutex
	sessions map[int64][]byte
	newFn    func() *T
}

// NewMemorySessionStore creates an in-memory store; newFn builds default sessions.
func NewMemorySessionStore[T any](newFn func() *T) *MemorySessionStore[T] {
	slog.Debug("Creating MemorySessionStore")
	return &MemorySessionStore[T]{sessions: make(map[int64][]byte), newFn: newFn}
}

func (s *MemorySessionStore[T]) Get(ctx context.Context, chatID int64) (*T, error) {
	s.mu.RLock()
	data, ok := s.sessions[chatID]
	s.mu.RUnlock()
	if !ok {
		return s.newFn(), nil
	}
	session := new(T)
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", chatID, err)
	}
	return session, nil
}

func (s *MemorySessionStore[T]) Put(ctx context.Context, chatID int64, session *T) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", chatID, err)
	}
	s.mu.Lock()
	s.sessions[chatID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore[T]) Reset(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	delete(s.sessions, chatID)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored sessions.
func (s *MemorySessionStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RedisSessionStore keeps sessions in Redis as JSON under prefix+chatID,
// so drafts survive restarts and expire after ttl of inactivity.
type RedisSessionStore[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	newFn  func() *T
}

// NewRedisSessionStore creates a Redis-backed store. A zero ttl keeps sessions forever.
func NewRedisSessionStore[T any](client *redis.Client, prefix string, ttl time.Duration, newFn func() *T) *RedisSessionStore[T] {
	slog.Debug("Creating RedisSessionStore", "prefix", prefix, "ttl", ttl)
	return &RedisSessionStore[T]{client: client, prefix: prefix, ttl: ttl, newFn: newFn}
}

func (s *RedisSessionStore[T]) key(chatID int64) string {
	return s.prefix + strconv.FormatInt(chatID, 10)
}

func (s *RedisSessionStore[T]) Get(ctx context.Context, chatID int64) (*T, error) {
	data, err := s.client.Get(ctx, s.key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.newFn(), nil
	}
	if err != nil {
		slog.Error("RedisSessionStore.Get failed", "chatID", chatID, "error", err)
		return nil, fmt.Errorf("load session %d: %w", chatID, err)
	}
	session := new(T)
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("decode session %d: %w", chatID, err)
	}
	return session, nil
}

func (s *RedisSessionStore[T]) Put(ctx context.Context, chatID int64, session *T) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", chatID, err)
	}
	if err := s.client.Set(ctx, s.key(chatID), data, s.ttl).Err(); err != nil {
		slog.Error("RedisSessionStore.Put failed", "chatID", chatID, "error", err)
		return fmt.Errorf("save session %d: %w", chatID, err)
	}
	return nil
}

func (s *RedisSessionStore[T]) Reset(ctx context.Context, chatID int64) error {
	if err := s.client.Del(ctx, s.key(chatID)).Err(); err != nil {
		return fmt.Errorf("reset session %d: %w", chatID, err)
	}
	return nil
}
