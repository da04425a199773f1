package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/soundhoard/soundhoard/internal/quality"
	"github.com/soundhoard/soundhoard/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *memRepo, *catalog.Index) {
	t.Helper()

	repo := newMemRepo()
	index := catalog.NewIndex(newMemDedupStore(), 0.85)

	svc := NewService(repo, index, quality.Constraint{Level: quality.Good}, 5, 10)

	return svc, repo, index
}

func TestEnqueue(t *testing.T) {
	svc, _, _ := newTestService(t)

	dl, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track:    catalog.TrackRef{Title: "  Song  ", Artist: "Artist", Album: "Album"},
		Priority: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, download.StateWaiting, dl.State)
	assert.Equal(t, "Song", dl.Track.Title, "whitespace must be normalized")
	assert.Equal(t, 2, dl.Priority)
	assert.Equal(t, 5, dl.MaxAttempts)
	assert.Equal(t, quality.Good, dl.Constraint.Level)
	assert.NotEmpty(t, dl.LogicalTrackID)
}

func TestEnqueue_SameTrackSharesLogicalID(t *testing.T) {
	svc, _, _ := newTestService(t)

	first, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track: catalog.TrackRef{Title: "Song", Artist: "Artist", UniversalCode: "USRC17607839"},
	})
	require.NoError(t, err)

	second, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track: catalog.TrackRef{Title: "Song (Remastered)", Artist: "Artist", UniversalCode: "USRC17607839"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.LogicalTrackID, second.LogicalTrackID)
	assert.NotEqual(t, first.ID, second.ID, "queue records stay distinct")
}

func TestEnqueue_SatisfiedTrackCompletesImmediately(t *testing.T) {
	svc, _, index := newTestService(t)

	ref := catalog.TrackRef{Title: "Song", Artist: "Artist"}

	logicalID, err := index.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.NoError(t, index.MarkSatisfied(context.Background(), logicalID))

	dl, err := svc.Enqueue(context.Background(), EnqueueRequest{Track: ref})
	require.NoError(t, err)
	assert.Equal(t, download.StateCompleted, dl.State)
}

func TestEnqueueBatch_EveryItemAccountedFor(t *testing.T) {
	svc, _, _ := newTestService(t)

	reqs := make([]EnqueueRequest, 25)
	for i := range reqs {
		reqs[i] = EnqueueRequest{
			Track: catalog.TrackRef{Title: fmt.Sprintf("Song %d", i), Artist: "Artist"},
		}
	}

	result, err := svc.EnqueueBatch(context.Background(), reqs)
	require.NoError(t, err)

	assert.Len(t, result.Succeeded, 25)
	assert.Empty(t, result.Failed)
}

func TestPauseResume(t *testing.T) {
	svc, repo, _ := newTestService(t)

	dl, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track: catalog.TrackRef{Title: "Song", Artist: "Artist"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Pause(context.Background(), dl.ID))

	stored, err := repo.GetDownload(context.Background(), dl.ID)
	require.NoError(t, err)
	assert.True(t, stored.Paused)
	assert.Equal(t, download.StateWaiting, stored.State, "pause keeps the stored state")

	claimed, err := repo.ClaimNextEligible(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, claimed, "paused records are not claimable")

	require.NoError(t, svc.Resume(context.Background(), dl.ID))

	claimed, err = repo.ClaimNextEligible(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, dl.ID, claimed.ID)
}

func TestCancel_TerminalRecordRejected(t *testing.T) {
	svc, repo, _ := newTestService(t)

	dl, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track: catalog.TrackRef{Title: "Song", Artist: "Artist"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), dl.ID))

	stored, err := repo.GetDownload(context.Background(), dl.ID)
	require.NoError(t, err)
	assert.Equal(t, download.StateCancelled, stored.State)

	err = svc.Cancel(context.Background(), dl.ID)
	assert.ErrorIs(t, err, storage.ErrTerminal)
}

func TestSetPriorityReordersQueue(t *testing.T) {
	svc, _, _ := newTestService(t)

	first, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track:    catalog.TrackRef{Title: "First", Artist: "Artist"},
		Priority: 5,
	})
	require.NoError(t, err)

	second, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track:    catalog.TrackRef{Title: "Second", Artist: "Artist"},
		Priority: 5,
	})
	require.NoError(t, err)

	require.NoError(t, svc.SetPriority(context.Background(), second.ID, 1))

	queue, err := svc.ListQueue(context.Background(), download.Filter{})
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, second.ID, queue[0].ID)
	assert.Equal(t, first.ID, queue[1].ID)
}

func TestPurgeTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)

	keep, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track: catalog.TrackRef{Title: "Keep", Artist: "Artist"},
	})
	require.NoError(t, err)

	gone, err := svc.Enqueue(context.Background(), EnqueueRequest{
		Track: catalog.TrackRef{Title: "Gone", Artist: "Artist"},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), gone.ID))

	purged, err := svc.PurgeTerminal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = svc.Get(context.Background(), gone.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = svc.Get(context.Background(), keep.ID)
	assert.NoError(t, err)
}
