package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundhoard/soundhoard/internal/catalog"
)

func TestDedupRepository_TrackRoundTrip(t *testing.T) {
	repo := NewDedupRepository(newTestDB(t))
	ctx := context.Background()

	track := catalog.StoredTrack{
		LogicalID:     "lt-1",
		Title:         "so what",
		Artist:        "miles davis",
		Album:         "kind of blue",
		UniversalCode: "USSM15900113",
	}
	require.NoError(t, repo.CreateTrack(ctx, track))

	got, err := repo.GetTrack(ctx, "lt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, track, *got)

	missing, err := repo.GetTrack(ctx, "lt-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDedupRepository_FindByUniversalCode(t *testing.T) {
	repo := NewDedupRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateTrack(ctx, catalog.StoredTrack{
		LogicalID:     "lt-1",
		UniversalCode: "USSM15900113",
	}))

	id, err := repo.FindByUniversalCode(ctx, "USSM15900113")
	require.NoError(t, err)
	assert.Equal(t, "lt-1", id)

	id, err = repo.FindByUniversalCode(ctx, "UNKNOWN")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestDedupRepository_DuplicateCodeIgnored(t *testing.T) {
	repo := NewDedupRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateTrack(ctx, catalog.StoredTrack{LogicalID: "lt-1", UniversalCode: "CODE"}))
	require.NoError(t, repo.CreateTrack(ctx, catalog.StoredTrack{LogicalID: "lt-2", UniversalCode: "CODE"}))

	// The first writer keeps the code.
	id, err := repo.FindByUniversalCode(ctx, "CODE")
	require.NoError(t, err)
	assert.Equal(t, "lt-1", id)
}

func TestDedupRepository_SourceMapping(t *testing.T) {
	repo := NewDedupRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.RecordSource(ctx, "lt-1", "spotify", "abc123"))

	id, err := repo.FindBySource(ctx, "spotify", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "lt-1", id)

	id, err = repo.FindBySource(ctx, "spotify", "other")
	require.NoError(t, err)
	assert.Empty(t, id)

	// Re-recording the same pair rebinds rather than erroring.
	require.NoError(t, repo.RecordSource(ctx, "lt-2", "spotify", "abc123"))

	id, err = repo.FindBySource(ctx, "spotify", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "lt-2", id)
}

func TestDedupRepository_MarkSatisfied(t *testing.T) {
	repo := NewDedupRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateTrack(ctx, catalog.StoredTrack{LogicalID: "lt-1"}))
	require.NoError(t, repo.MarkSatisfied(ctx, "lt-1"))

	got, err := repo.GetTrack(ctx, "lt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Satisfied)
}

func TestDedupRepository_ListTracks(t *testing.T) {
	repo := NewDedupRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateTrack(ctx, catalog.StoredTrack{LogicalID: "lt-1", Title: "one"}))
	require.NoError(t, repo.CreateTrack(ctx, catalog.StoredTrack{LogicalID: "lt-2", Title: "two", Satisfied: true}))

	tracks, err := repo.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
}
