package livestore_test

import (
	"context"
	"os"
	"testing"
	"time"

	redislivestore "github.com/ark-relay/gateway/internal/infrastructure/live-store/redis"
	"github.com/stretchr/testify/require"
)

// requireRedis skips the test unless REDIS_URL points at a reachable redis;
// there is no in-process fake for go-redis in this module's dependency set.
func requireRedis(t *testing.T) string {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping redis live store test")
	}
	return url
}

func TestLiveStoreSessionCacheRoundTrip(t *testing.T) {
	url := requireRedis(t)
	store, err := redislivestore.NewLiveStore(url, 5)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, found, err := store.Sessions().Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Sessions().Set(ctx, "s1", []byte(`{"status":"initiated"}`), time.Minute))
	snapshot, found, err := store.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"status":"initiated"}`, string(snapshot))

	require.NoError(t, store.Sessions().Invalidate(ctx, "s1"))
	_, found, err = store.Sessions().Get(ctx, "s1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLiveStoreVtxoInventoryCache(t *testing.T) {
	url := requireRedis(t)
	store, err := redislivestore.NewLiveStore(url, 5)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.VtxoInventory().SetAvailableCount(ctx, "gBTC", 42, time.Minute))
	count, found, err := store.VtxoInventory().AvailableCount(ctx, "gBTC")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(42), count)
}

func TestLiveStoreIdempotencyStoreFirstSeenOnce(t *testing.T) {
	url := requireRedis(t)
	store, err := redislivestore.NewLiveStore(url, 5)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := "intent:npub1abc:action-1"
	first, err := store.Idempotency().SeenOrMark(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	second, err := store.Idempotency().SeenOrMark(ctx, key, time.Minute)
	require.NoError(t, err)
	require.False(t, second)
}

func TestLiveStoreAdmissionCounter(t *testing.T) {
	url := requireRedis(t)
	store, err := redislivestore.NewLiveStore(url, 5)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	before, err := store.Admission().Current(ctx)
	require.NoError(t, err)

	current, err := store.Admission().Increment(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, current)

	require.NoError(t, store.Admission().Decrement(ctx))
	after, err := store.Admission().Current(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
