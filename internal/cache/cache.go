package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/utils"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "jobmatch:match:"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache stores match scores by key.
type Cache interface {
	Get(ctx context.Context, key string) (*ai.MatchScore, error)
	Set(ctx context.Context, key string, score *ai.MatchScore) error
	Close() error
}

// MatchKey derives the cache key from the exact payloads sent to the model.
func MatchKey(profile *ai.Profile, job *ai.Job, criteria ai.Criteria) (string, error) {
	parts := make([]string, 0, 3)
	for _, v := range []any{profile, job, criteria} {
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal cache key part: %w", err)
		}
		parts = append(parts, string(data))
	}
	return keyPrefix + utils.HashKey(parts...), nil
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Ping checks that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (*ai.MatchScore, error) {
	cached, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var score ai.MatchScore
	if err := json.Unmarshal([]byte(cached), &score); err != nil {
		return nil, fmt.Errorf("decode cached score: %w", err)
	}
	return &score, nil
}

func (r *Redis) Set(ctx context.Context, key string, score *ai.MatchScore) error {
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("encode score for cache: %w", err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type entry struct {
	score   ai.MatchScore
	expires time.Time
}

// Memory is a process-local Cache with lazy expiry.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (*ai.MatchScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	score := e.score
	return &score, nil
}

func (m *Memory) Set(_ context.Context, key string, score *ai.MatchScore) error {
	if score == nil {
		return errors.New("score is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{score: *score, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Close() error { return nil }
