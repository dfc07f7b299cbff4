package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuotaGuard_LimitBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)}
	raw, err := json.Marshal(QuotaRecord{Date: "2024-03-10", Count: 4999})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, QuotaKey, raw))

	guard := NewQuotaGuard(store, clock, time.UTC, zap.NewNop())
	guard.SetLimit(5000)
	require.NoError(t, guard.Load(ctx))
	require.True(t, guard.CanProceed())

	guard.Record(ctx)
	require.False(t, guard.CanProceed())

	rec, limit := guard.Usage()
	require.Equal(t, 5000, rec.Count)
	require.Equal(t, 5000, limit)

	stored, err := store.Get(ctx, QuotaKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"date":"2024-03-10","count":5000}`, string(stored))
}

func TestQuotaGuard_StaleDateResetsOnLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	raw, err := json.Marshal(QuotaRecord{Date: "2024-03-09", Count: 5000})
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, QuotaKey, raw))

	clock := &fakeClock{now: time.Date(2024, 3, 10, 0, 1, 0, 0, time.UTC)}
	guard := NewQuotaGuard(store, clock, time.UTC, nil)
	guard.SetLimit(5000)
	require.NoError(t, guard.Load(ctx))
	require.True(t, guard.CanProceed())

	rec, _ := guard.Usage()
	require.Equal(t, QuotaRecord{Date: "2024-03-10", Count: 0}, rec)
}

func TestQuotaGuard_RollsOverAtLocalMidnight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	loc := time.FixedZone("UTC-5", -5*3600)
	clock := &fakeClock{now: time.Date(2024, 3, 10, 23, 59, 0, 0, loc)}
	guard := NewQuotaGuard(newMemStore(), clock, loc, nil)
	guard.SetLimit(1)
	require.NoError(t, guard.Load(ctx))

	guard.Record(ctx)
	require.False(t, guard.CanProceed())

	// 04:59 UTC on the 11th is still the 10th locally.
	clock.set(time.Date(2024, 3, 11, 4, 59, 0, 0, time.UTC))
	require.False(t, guard.CanProceed())

	clock.set(time.Date(2024, 3, 11, 0, 0, 1, 0, loc))
	require.True(t, guard.CanProceed())
}

func TestQuotaGuard_ZeroLimitIsUnlimited(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	guard := NewQuotaGuard(newMemStore(), &fakeClock{now: time.Now()}, time.UTC, nil)
	for range 10 {
		guard.Record(ctx)
	}
	require.True(t, guard.CanProceed())
}

func TestQuotaGuard_PersistFailureKeepsCounting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newMemStore()
	store.failSet = errors.New("disk full")
	guard := NewQuotaGuard(store, &fakeClock{now: time.Now()}, time.UTC, nil)
	guard.SetLimit(2)

	guard.Record(ctx)
	guard.Record(ctx)
	require.False(t, guard.CanProceed())
}

func TestQuotaGuard_LoadError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failGet = errors.New("unreachable")
	guard := NewQuotaGuard(store, &fakeClock{now: time.Now()}, time.UTC, nil)
	require.Error(t, guard.Load(context.Background()))
	require.True(t, guard.CanProceed())
}
