package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
)

// ChallengeStore holds one-shot values keyed by an opaque server-issued key.
// Captcha answers and federated-login state both live here.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "ta:ch"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":" + id
}

// Put stores value under id for ttl, replacing any previous value.
func (s *ChallengeStore) Put(ctx context.Context, id, value string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(id), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

// Take returns and deletes the value under id in one step. ok is false when
// nothing was stored or it already expired.
func (s *ChallengeStore) Take(ctx context.Context, id string) (string, bool, error) {
	if id == "" {
		return "", false, nil
	}
	value, err := s.redis.GetDel(ctx, s.key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return value, true, nil
}
