package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/shehryarbajwa/custom-frames/pkg/models"
)

// RedisStore keeps sessions in Redis as JSON values with a TTL
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithTTL sets how long a session lives after its last write.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "frames".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    DefaultTTL,
		prefix: "frames",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, token string) (*models.SessionData, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	raw, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "redis get failed")
	}

	var data models.SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session")
	}
	return &data, nil
}

func (s *RedisStore) Put(ctx context.Context, token string, data *models.SessionData) error {
	if token == "" {
		return ErrInvalidToken
	}
	if data == nil {
		return errors.New("nil session data")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}

	if err := s.client.Set(ctx, s.key(token), raw, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set failed")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return errors.Wrap(err, "redis del failed")
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx).Err(), "redis ping failed")
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(token string) string {
	return s.prefix + ":session:" + token
}
