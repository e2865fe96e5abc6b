package ports

import (
	"context"
	"time"
)

// LiveStore is the read-through, TTL-bounded cache layer described in the
// concurrency model: writes invalidate the affected key, and a cache miss
// always falls through to the data store. Nothing here is a source of
// truth; every method here may be reconstructed from RepoManager state.
type LiveStore interface {
	Sessions() SessionCache
	Challenges() ChallengeCache
	VtxoInventory() VtxoInventoryCache
	Idempotency() IdempotencyStore
	Admission() AdmissionCounter

	Close()
}

// SessionCache caches SigningSession snapshots by session id so the
// dispatcher and orchestrator avoid a data-store round trip on every event.
type SessionCache interface {
	Get(ctx context.Context, sessionID string) ([]byte, bool, error)
	Set(ctx context.Context, sessionID string, snapshot []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, sessionID string) error
}

// ChallengeCache caches outstanding SigningChallenge snapshots by challenge
// id, keyed with the same TTL as the challenge's own expires_at.
type ChallengeCache interface {
	Get(ctx context.Context, challengeID string) ([]byte, bool, error)
	Set(ctx context.Context, challengeID string, snapshot []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, challengeID string) error
}

// VtxoInventoryCache holds the per-asset available-VTXO counters the C9
// monitor polls every M minutes without hitting the data store each tick.
type VtxoInventoryCache interface {
	AvailableCount(ctx context.Context, assetID string) (int64, bool, error)
	SetAvailableCount(ctx context.Context, assetID string, count int64, ttl time.Duration) error
	Invalidate(ctx context.Context, assetID string) error
}

// IdempotencyStore backs the dedup checks C4 performs before handing an
// event to C5/C6: intents by (author, action_id) and responses by
// (session_id, challenge_id).
type IdempotencyStore interface {
	// SeenOrMark atomically checks whether key was already recorded and, if
	// not, records it with ttl; returns true if this call is the first to
	// see key (the caller should proceed), false if it is a duplicate.
	SeenOrMark(ctx context.Context, key string, ttl time.Duration) (firstSeen bool, err error)
}

// AdmissionCounter tracks the count of concurrent non-terminal sessions
// against the soft ceiling described in the concurrency model.
type AdmissionCounter interface {
	Increment(ctx context.Context) (current int64, err error)
	Decrement(ctx context.Context) error
	Current(ctx context.Context) (int64, error)
}
