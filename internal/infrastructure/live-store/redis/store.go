// Package redislivestore implements ports.LiveStore as a read-through,
// TTL-bounded cache over a single redis.Client: writes invalidate the
// affected key, nothing here is ever the sole copy of the data it caches.
package redislivestore

import (
	"context"
	"fmt"
	"time"

	"github.com/ark-relay/gateway/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix    = "session:"
	challengeKeyPrefix  = "challenge:"
	inventoryKeyPrefix  = "inventory:"
	idempotencyPrefix   = "idem:"
	admissionCounterKey = "admission:counter"
)

type liveStore struct {
	rdb          *redis.Client
	numOfRetries int

	sessions   *sessionCache
	challenges *challengeCache
	inventory  *vtxoInventoryCache
	idempotent *idempotencyStore
	admission  *admissionCounter
}

// NewLiveStore dials redisURL and returns the gateway's LiveStore. Writes
// that race under optimistic locking (WATCH/MULTI) are retried up to
// numOfRetries times before giving up.
func NewLiveStore(redisURL string, numOfRetries int) (ports.LiveStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return &liveStore{
		rdb:          rdb,
		numOfRetries: numOfRetries,
		sessions:     &sessionCache{rdb: rdb},
		challenges:   &challengeCache{rdb: rdb},
		inventory:    &vtxoInventoryCache{rdb: rdb},
		idempotent:   &idempotencyStore{rdb: rdb},
		admission:    &admissionCounter{rdb: rdb, retries: numOfRetries},
	}, nil
}

func (s *liveStore) Sessions() ports.SessionCache             { return s.sessions }
func (s *liveStore) Challenges() ports.ChallengeCache          { return s.challenges }
func (s *liveStore) VtxoInventory() ports.VtxoInventoryCache   { return s.inventory }
func (s *liveStore) Idempotency() ports.IdempotencyStore       { return s.idempotent }
func (s *liveStore) Admission() ports.AdmissionCounter         { return s.admission }

func (s *liveStore) Close() {
	_ = s.rdb.Close()
}

type sessionCache struct{ rdb *redis.Client }

func (c *sessionCache) Get(ctx context.Context, sessionID string) ([]byte, bool, error) {
	return getBytes(ctx, c.rdb, sessionKeyPrefix+sessionID)
}

func (c *sessionCache) Set(ctx context.Context, sessionID string, snapshot []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, sessionKeyPrefix+sessionID, snapshot, ttl).Err()
}

func (c *sessionCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, sessionKeyPrefix+sessionID).Err()
}

type challengeCache struct{ rdb *redis.Client }

func (c *challengeCache) Get(ctx context.Context, challengeID string) ([]byte, bool, error) {
	return getBytes(ctx, c.rdb, challengeKeyPrefix+challengeID)
}

func (c *challengeCache) Set(ctx context.Context, challengeID string, snapshot []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, challengeKeyPrefix+challengeID, snapshot, ttl).Err()
}

func (c *challengeCache) Invalidate(ctx context.Context, challengeID string) error {
	return c.rdb.Del(ctx, challengeKeyPrefix+challengeID).Err()
}

type vtxoInventoryCache struct{ rdb *redis.Client }

func (c *vtxoInventoryCache) AvailableCount(ctx context.Context, assetID string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, inventoryKeyPrefix+assetID).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

func (c *vtxoInventoryCache) SetAvailableCount(ctx context.Context, assetID string, count int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, inventoryKeyPrefix+assetID, count, ttl).Err()
}

func (c *vtxoInventoryCache) Invalidate(ctx context.Context, assetID string) error {
	return c.rdb.Del(ctx, inventoryKeyPrefix+assetID).Err()
}

type idempotencyStore struct{ rdb *redis.Client }

// SeenOrMark uses SetNX so the check-and-record happens atomically server
// side; no WATCH/retry loop is needed for a single-key operation like this.
func (s *idempotencyStore) SeenOrMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, idempotencyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency check failed: %w", err)
	}
	return ok, nil
}

type admissionCounter struct {
	rdb     *redis.Client
	retries int
}

func (a *admissionCounter) Increment(ctx context.Context) (int64, error) {
	return a.rdb.Incr(ctx, admissionCounterKey).Result()
}

func (a *admissionCounter) Decrement(ctx context.Context) error {
	var err error
	for range a.retries {
		if err = a.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, gerr := tx.Get(ctx, admissionCounterKey).Int64()
			if gerr != nil && gerr != redis.Nil {
				return gerr
			}
			if current <= 0 {
				return nil
			}
			_, perr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Decr(ctx, admissionCounterKey)
				return nil
			})
			return perr
		}, admissionCounterKey); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("failed to decrement admission counter after retries: %w", err)
}

func (a *admissionCounter) Current(ctx context.Context) (int64, error) {
	val, err := a.rdb.Get(ctx, admissionCounterKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func getBytes(ctx context.Context, rdb *redis.Client, key string) ([]byte, bool, error) {
	val, err := rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}
