package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingRegistration is what loginOrRegister remembers about an unknown
// email until its verification code is confirmed.
type PendingRegistration struct {
	PasswordHash string `json:"password_hash"`
	DisplayName  string `json:"display_name,omitempty"`
}

// PendingRegistrationStore keeps PendingRegistration records as JSON.
type PendingRegistrationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPendingRegistrationStore(redisClient redis.UniversalClient, prefix string) *PendingRegistrationStore {
	if prefix == "" {
		prefix = "ta:pr"
	}
	return &PendingRegistrationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PendingRegistrationStore) key(email string) string {
	return s.prefix + ":" + NormalizeEmail(email)
}

// SaveIfAbsent stores record only when no record exists for email. It
// reports whether record was written.
func (s *PendingRegistrationStore) SaveIfAbsent(ctx context.Context, email string, record PendingRegistration, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	ok, err := s.redis.SetNX(ctx, s.key(email), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return ok, nil
}

// Touch extends the lifetime of an existing record. Missing records stay
// missing.
func (s *PendingRegistrationStore) Touch(ctx context.Context, email string, ttl time.Duration) error {
	if err := s.redis.Expire(ctx, s.key(email), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return nil
}

// Get returns the pending record, or ok=false when none exists.
func (s *PendingRegistrationStore) Get(ctx context.Context, email string) (PendingRegistration, bool, error) {
	data, err := s.redis.Get(ctx, s.key(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingRegistration{}, false, nil
		}
		return PendingRegistration{}, false, fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}

	var record PendingRegistration
	if err := json.Unmarshal(data, &record); err != nil {
		_ = s.redis.Del(ctx, s.key(email)).Err()
		return PendingRegistration{}, false, nil
	}
	return record, true, nil
}

func (s *PendingRegistrationStore) Delete(ctx context.Context, email string) error {
	if err := s.redis.Del(ctx, s.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationRedisUnavailable, err)
	}
	return nil
}
