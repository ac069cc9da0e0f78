// Package redisidem implements the idempotency store on Redis, shared
// across gateway replicas. A reservation is SET NX with a TTL; the stored
// value flips from a placeholder to the JSON outcome once the decision
// commits, so replays within the TTL return the original result.
package redisidem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gatewarden/internal/store"
	"gatewarden/pkg/sentinel"
)

const (
	keyPrefix = "gatewarden:idem:"

	// pending marks a reserved key whose verification is still in flight.
	pending = "__pending__"
)

// Store is a Redis-backed IdempotencyStore.
type Store struct {
	client *redis.Client
}

// New wraps a connected client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, pending, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return ok, nil
}

func (s *Store) SaveResult(ctx context.Context, key string, result store.VerificationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	// KEEPTTL preserves the reservation window set at Reserve time.
	if err := s.client.Set(ctx, keyPrefix+key, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Release drops a reservation that never completed. Only the pending
// placeholder is deleted; a stored result is left for replays.
func (s *Store) Release(ctx context.Context, key string) error {
	const script = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`
	if err := s.client.Eval(ctx, script, []string{keyPrefix + key}, pending).Err(); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, key string) (*store.VerificationResult, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	if raw == pending {
		// Reserved but not yet completed; the caller treats this the same
		// as an in-flight duplicate.
		return nil, sentinel.ErrNotFound
	}
	var result store.VerificationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}
