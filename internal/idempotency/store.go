package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no message is remembered for a key.
var ErrMiss = errors.New("idempotency: miss")

// Store remembers which message a client correlation id produced.
type Store interface {
	Lookup(ctx context.Context, key string) (int, error)
	Remember(ctx context.Context, key string, messageID int) error
}

// Key scopes a client correlation id to its author and conversation.
func Key(conversationID, authorID int, clientMessageID string) string {
	return fmt.Sprintf("send:%d:%d:%s", conversationID, authorID, clientMessageID)
}

// RedisStore keeps keys in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore parses url, pings the server and returns a ready store.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{client: c, ttl: ttl}, nil
}

var _ Store = (*RedisStore)(nil)

func (r *RedisStore) Lookup(ctx context.Context, key string) (int, error) {
	res, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(res)
}

// Remember keeps the first message id written for key.
func (r *RedisStore) Remember(ctx context.Context, key string, messageID int) error {
	return r.client.SetNX(ctx, key, messageID, r.ttl).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// MemoryStore is a process-local Store used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	messageID int
	expires   time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Lookup(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || (m.ttl > 0 && m.now().After(e.expires)) {
		delete(m.entries, key)
		return 0, ErrMiss
	}
	return e.messageID, nil
}

func (m *MemoryStore) Remember(ctx context.Context, key string, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && (m.ttl <= 0 || !m.now().After(e.expires)) {
		return nil
	}
	m.entries[key] = memoryEntry{messageID: messageID, expires: m.now().Add(m.ttl)}
	return nil
}
