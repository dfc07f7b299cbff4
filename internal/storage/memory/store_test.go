package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

func TestStoreCopiesValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	payload := []byte("content")
	require.NoError(t, store.Set(ctx, "settings", payload))
	payload[0] = 'C'

	got, err := store.Get(ctx, "settings")
	require.NoError(t, err)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, err := store.Get(ctx, "settings")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))
}

func TestStoreMissingKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	_, err := store.Get(ctx, "checkpoint")
	require.ErrorIs(t, err, crawl.ErrNotFound)
	require.ErrorIs(t, store.Remove(ctx, "checkpoint"), crawl.ErrNotFound)

	require.NoError(t, store.Set(ctx, "checkpoint", []byte("{}")))
	require.NoError(t, store.Remove(ctx, "checkpoint"))
	_, err = store.Get(ctx, "checkpoint")
	require.ErrorIs(t, err, crawl.ErrNotFound)
}
