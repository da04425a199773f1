package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundhoard/soundhoard/internal/blocklist"
)

func TestBlocklistRepository_RoundTrip(t *testing.T) {
	repo := NewBlocklistRepository(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(time.Hour)

	require.NoError(t, repo.AddEntry(ctx, blocklist.Entry{
		Scope:     blocklist.ScopePeerPath,
		Peer:      "badpeer",
		Path:      "Music\\broken.flac",
		Reason:    "transfer rejected",
		ExpiresAt: expires,
		CreatedAt: now,
	}))
	require.NoError(t, repo.AddEntry(ctx, blocklist.Entry{
		Scope:     blocklist.ScopePeer,
		Peer:      "permabad",
		CreatedAt: now,
	}))

	entries, err := repo.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, blocklist.ScopePeerPath, entries[0].Scope)
	assert.Equal(t, "badpeer", entries[0].Peer)
	assert.Equal(t, "Music\\broken.flac", entries[0].Path)
	assert.Equal(t, "transfer rejected", entries[0].Reason)
	assert.True(t, entries[0].ExpiresAt.Equal(expires))

	// NULL expiry comes back as the zero time, meaning no expiry.
	assert.True(t, entries[1].ExpiresAt.IsZero())
}

func TestBlocklistRepository_DeleteExpiredEntries(t *testing.T) {
	repo := NewBlocklistRepository(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.AddEntry(ctx, blocklist.Entry{
		Scope:     blocklist.ScopePeer,
		Peer:      "expired",
		ExpiresAt: now.Add(-time.Hour),
		CreatedAt: now,
	}))
	require.NoError(t, repo.AddEntry(ctx, blocklist.Entry{
		Scope:     blocklist.ScopePeer,
		Peer:      "current",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))
	require.NoError(t, repo.AddEntry(ctx, blocklist.Entry{
		Scope:     blocklist.ScopePeer,
		Peer:      "forever",
		CreatedAt: now,
	}))

	deleted, err := repo.DeleteExpiredEntries(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	entries, err := repo.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	peers := []string{entries[0].Peer, entries[1].Peer}
	assert.ElementsMatch(t, []string{"current", "forever"}, peers)
}
