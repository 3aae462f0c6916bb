package unread

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store keeps userId -> chatId -> count.
type Store interface {
	Incr(ctx context.Context, userID, chatID string) (int, error)
	All(ctx context.Context, userID string) (map[string]int, error)
	Delete(ctx context.Context, userID, chatID string) error
	Clear(ctx context.Context, userID string) error
}

// MemoryStore is the process-local store. Counts reset on restart.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]map[string]int)}
}

func (s *MemoryStore) Incr(_ context.Context, userID, chatID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, ok := s.counts[userID]
	if !ok {
		chats = make(map[string]int)
		s.counts[userID] = chats
	}
	chats[chatID]++
	return chats[chatID], nil
}

func (s *MemoryStore) All(_ context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.counts[userID]))
	for chatID, n := range s.counts[userID] {
		out[chatID] = n
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats, ok := s.counts[userID]
	if !ok {
		return nil
	}
	delete(chats, chatID)
	if len(chats) == 0 {
		delete(s.counts, userID)
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, userID)
	return nil
}

// RedisStore keeps one hash per user, so counts survive restarts and are
// shared between instances.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(userID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, userID)
}

func (s *RedisStore) Incr(ctx context.Context, userID, chatID string) (int, error) {
	n, err := s.client.HIncrBy(ctx, s.key(userID), chatID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment unread count: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) All(ctx context.Context, userID string) (map[string]int, error) {
	raw, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read unread counts: %w", err)
	}

	out := make(map[string]int, len(raw))
	for chatID, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			continue
		}
		out[chatID] = n
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID, chatID string) error {
	if err := s.client.HDel(ctx, s.key(userID), chatID).Err(); err != nil {
		return fmt.Errorf("failed to clear unread count: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear unread counts: %w", err)
	}
	return nil
}
