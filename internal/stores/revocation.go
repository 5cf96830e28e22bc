package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRevocationRedisUnavailable = errors.New("revocation redis unavailable")
)

const defaultSweepBatch = 64

// ExpiryFunc returns the embedded expiry of a correctly signed token. Any
// error means the token could not be parsed and is treated as malformed.
type ExpiryFunc func(token string) (time.Time, error)

// RevocationStore tracks tokens that must be rejected before their natural
// expiry.
type RevocationStore interface {
	Revoke(ctx context.Context, token string) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

var (
	_ RevocationStore = (*MemoryRevocationStore)(nil)
	_ RevocationStore = (*RedisRevocationStore)(nil)
)

// RevocationConfig configures both revocation backends.
type RevocationConfig struct {
	// MalformedTTL bounds how long an unparseable token is remembered.
	MalformedTTL time.Duration
	// SweepBatch caps how many entries one opportunistic sweep inspects.
	SweepBatch int
	Prefix     string
}

// MemoryRevocationStore is a process-local revocation set.
//
// Entries map the raw token to its embedded expiry. Revoke runs a bounded
// sweep of other entries and skips it when the lock is contended. Run can
// additionally sweep on a timer.
type MemoryRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	expiry  ExpiryFunc
	cfg     RevocationConfig
	now     func() time.Time
}

func NewMemoryRevocationStore(expiry ExpiryFunc, cfg RevocationConfig) *MemoryRevocationStore {
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	return &MemoryRevocationStore{
		entries: make(map[string]time.Time),
		expiry:  expiry,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *MemoryRevocationStore) Revoke(ctx context.Context, token string) error {
	now := s.now()
	exp, ok := revocationExpiry(s.expiry, s.cfg.MalformedTTL, token, now)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if current, exists := s.entries[token]; !exists || current.Before(exp) {
		s.entries[token] = exp
	}
	s.mu.Unlock()

	if s.mu.TryLock() {
		s.sweepLocked(now, s.cfg.SweepBatch)
		s.mu.Unlock()
	}
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	s.mu.RLock()
	_, exists := s.entries[token]
	s.mu.RUnlock()
	if !exists {
		return false, nil
	}

	exp, err := s.expiry(token)
	if err != nil {
		return true, nil
	}
	if s.now().Before(exp) {
		return true, nil
	}

	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
	return false, nil
}

// Sweep removes up to limit entries whose expiry has passed. A limit <= 0
// inspects every entry. It returns the number removed.
func (s *MemoryRevocationStore) Sweep(limit int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now(), limit)
}

// Run sweeps every interval until ctx is done.
func (s *MemoryRevocationStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(0)
		}
	}
}

// Len returns the number of tracked entries.
func (s *MemoryRevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryRevocationStore) sweepLocked(now time.Time, limit int) int {
	removed := 0
	inspected := 0
	for token, exp := range s.entries {
		if limit > 0 && inspected >= limit {
			break
		}
		inspected++
		if !now.Before(exp) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// RedisRevocationStore keeps revocations in Redis keyed by the token's
// SHA-256. Each key expires with the token, so Redis performs the sweep.
type RedisRevocationStore struct {
	redis  redis.UniversalClient
	expiry ExpiryFunc
	cfg    RevocationConfig
	now    func() time.Time
}

func NewRedisRevocationStore(redisClient redis.UniversalClient, expiry ExpiryFunc, cfg RevocationConfig) *RedisRevocationStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "ta:rv"
	}
	return &RedisRevocationStore{
		redis:  redisClient,
		expiry: expiry,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *RedisRevocationStore) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.cfg.Prefix + ":" + hex.EncodeToString(sum[:])
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, token string) error {
	now := s.now()
	exp, ok := revocationExpiry(s.expiry, s.cfg.MalformedTTL, token, now)
	if !ok {
		return nil
	}

	ttl := exp.Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := s.redis.Set(ctx, s.key(token), exp.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationRedisUnavailable, err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	key := s.key(token)
	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationRedisUnavailable, err)
	}
	if n == 0 {
		return false, nil
	}

	exp, err := s.expiry(token)
	if err != nil {
		return true, nil
	}
	if s.now().Before(exp) {
		return true, nil
	}

	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationRedisUnavailable, err)
	}
	return false, nil
}

// revocationExpiry decides how long token must stay revoked. ok is false for
// a token that has already expired and needs no tracking.
func revocationExpiry(expiry ExpiryFunc, malformedTTL time.Duration, token string, now time.Time) (time.Time, bool) {
	exp, err := expiry(token)
	if err != nil {
		if malformedTTL <= 0 {
			malformedTTL = 12 * time.Hour
		}
		return now.Add(malformedTTL), true
	}
	if !now.Before(exp) {
		return time.Time{}, false
	}
	return exp, true
}
