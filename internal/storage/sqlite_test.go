package storage

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "iranfinance/pkg/logx"
)

func openTest(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCatalogueUpsertIsLastWriterWins(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	t0 := time.Unix(1_700_000_000, 0)
	require.NoError(t, st.Upsert(ctx, "USD", 60_000, t0))
	require.NoError(t, st.Upsert(ctx, "Gold", 3_000_000, t0))
	require.NoError(t, st.Upsert(ctx, "USD", 61_500, t0.Add(time.Minute)))

	names, err := st.ListNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gold", "USD"}, names)

	got, err := st.Get(ctx, []string{"USD", "Missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 61_500.0, got["USD"].Value)
	assert.Equal(t, t0.Add(time.Minute).Unix(), got["USD"].UpdatedAt.Unix())
}

func TestGetManyNames(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	now := time.Now()

	names := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		n := "item-" + strconv.Itoa(i)
		names = append(names, n)
		require.NoError(t, st.Upsert(ctx, n, float64(i), now))
	}
	got, err := st.Get(ctx, names)
	require.NoError(t, err)
	assert.Len(t, got, 1200)
}

func TestEnsureSubscriberKeepsPointer(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	require.NoError(t, st.EnsureSubscriber(ctx, 7, "Ali"))
	require.NoError(t, st.SetPointer(ctx, 7, 555))
	require.NoError(t, st.EnsureSubscriber(ctx, 7, ""))

	sub, err := st.Subscriber(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Ali", sub.DisplayName)
	assert.Equal(t, 555, sub.LastMessageID)

	require.NoError(t, st.SetPointer(ctx, 7, 0))
	sub, err = st.Subscriber(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, sub.LastMessageID)

	_, err = st.Subscriber(ctx, 8)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.SetPointer(ctx, 8, 1), ErrNotFound)
}

func TestReplaceSubscriptions(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	require.NoError(t, st.EnsureSubscriber(ctx, 1, "a"))

	require.NoError(t, st.ReplaceSubscriptions(ctx, 1, []string{"USD", "Gold", "USD"}))
	got, err := st.Subscriptions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gold", "USD"}, got)

	// Replaced, not merged.
	require.NoError(t, st.ReplaceSubscriptions(ctx, 1, []string{"EUR"}))
	got, err = st.Subscriptions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"EUR"}, got)

	require.NoError(t, st.ReplaceSubscriptions(ctx, 1, nil))
	got, err = st.Subscriptions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplaceSubscriptionsIsAtomic(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	require.NoError(t, st.EnsureSubscriber(ctx, 1, "a"))
	require.NoError(t, st.ReplaceSubscriptions(ctx, 1, []string{"USD", "EUR"}))

	// The empty name violates a CHECK constraint after the delete already ran
	// inside the transaction.
	err := st.ReplaceSubscriptions(ctx, 1, []string{"Gold", "Zinc", ""})
	require.Error(t, err)

	got, err := st.Subscriptions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"EUR", "USD"}, got)
}

func TestReplaceSubscriptionsUnknownSubscriber(t *testing.T) {
	st := openTest(t)
	assert.Error(t, st.ReplaceSubscriptions(context.Background(), 99, []string{"USD"}))
}

func TestActiveSubscribersIsInnerJoin(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, st.EnsureSubscriber(ctx, id, ""))
	}
	require.NoError(t, st.ReplaceSubscriptions(ctx, 3, []string{"USD", "Gold"}))
	require.NoError(t, st.ReplaceSubscriptions(ctx, 1, []string{"USD"}))
	require.NoError(t, st.SetPointer(ctx, 3, 42))

	subs, err := st.ActiveSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, int64(1), subs[0].ID)
	assert.Equal(t, int64(3), subs[1].ID)
	assert.Equal(t, 42, subs[1].LastMessageID)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Items: 0, Subscribers: 3, Active: 2}, stats)
	assert.NoError(t, st.Ping(ctx))
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(ctx, "USD", 1, time.Now()))
	require.NoError(t, st.Close())

	st, err = Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	names, err := st.ListNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"USD"}, names)
}
