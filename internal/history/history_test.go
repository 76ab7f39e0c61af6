package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, locator := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		require.NoError(t, s.Record(ctx, Entry{
			Locator:         locator,
			StartedAt:       base.Add(time.Duration(i) * time.Minute),
			PlayedSeconds:   float64(i+1) * 30,
			DurationSeconds: 180,
			Reason:          "EOF",
		}))
	}

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "c.mp3", entries[0].Locator, "newest first")
	assert.Equal(t, "a.mp3", entries[2].Locator)
	assert.Equal(t, 90.0, entries[0].PlayedSeconds)
	assert.Equal(t, 180.0, entries[0].DurationSeconds)
	assert.Equal(t, "EOF", entries[0].Reason)
	assert.True(t, entries[0].StartedAt.Equal(base.Add(2*time.Minute)))
}

func TestStoreRecentLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{
			Locator:   "x.mp3",
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
			Reason:    "UserAction",
		}))
	}

	entries, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStoreRecentEmpty(t *testing.T) {
	s := openTestStore(t)

	entries, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, Entry{Locator: "keep.mp3", StartedAt: time.Now(), Reason: "EOF"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	entries, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.mp3", entries[0].Locator)
}
