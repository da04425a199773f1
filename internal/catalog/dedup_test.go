package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	tracks map[string]*StoredTrack
	byCode map[string]string
	bySrc  map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tracks: make(map[string]*StoredTrack),
		byCode: make(map[string]string),
		bySrc:  make(map[string]string),
	}
}

func (f *fakeStore) FindByUniversalCode(_ context.Context, code string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.byCode[code], nil
}

func (f *fakeStore) FindBySource(_ context.Context, sourceName, sourceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.bySrc[sourceName+"|"+sourceID], nil
}

func (f *fakeStore) GetTrack(_ context.Context, logicalID string) (*StoredTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tracks[logicalID]
	if !ok {
		return nil, nil
	}

	cp := *t

	return &cp, nil
}

func (f *fakeStore) ListTracks(_ context.Context) ([]StoredTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]StoredTrack, 0, len(f.tracks))
	for _, t := range f.tracks {
		out = append(out, *t)
	}

	return out, nil
}

func (f *fakeStore) CreateTrack(_ context.Context, track StoredTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := track
	f.tracks[track.LogicalID] = &cp

	if track.UniversalCode != "" {
		f.byCode[track.UniversalCode] = track.LogicalID
	}

	return nil
}

func (f *fakeStore) RecordSource(_ context.Context, logicalID, sourceName, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bySrc[sourceName+"|"+sourceID] = logicalID

	return nil
}

func (f *fakeStore) MarkSatisfied(_ context.Context, logicalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.tracks[logicalID]; ok {
		t.Satisfied = true
	}

	return nil
}

func TestResolve_CreatesOnce(t *testing.T) {
	index := NewIndex(newFakeStore(), 0.85)
	ref := TrackRef{Title: "Song", Artist: "Artist", Album: "Album"}

	first, err := index.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := index.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, first, second, "resolution must be idempotent")
}

func TestResolve_UniversalCodeWinsOverTitle(t *testing.T) {
	index := NewIndex(newFakeStore(), 0.85)

	first, err := index.Resolve(context.Background(), TrackRef{
		Title: "Song", Artist: "Artist", UniversalCode: "USRC17607839",
	})
	require.NoError(t, err)

	// A very different title with the same recording code is the same track.
	second, err := index.Resolve(context.Background(), TrackRef{
		Title: "Song (2011 Remaster)", Artist: "Artist", UniversalCode: "USRC17607839",
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolve_SourceMapping(t *testing.T) {
	store := newFakeStore()
	index := NewIndex(store, 0.85)

	first, err := index.Resolve(context.Background(), TrackRef{
		Title: "Song", Artist: "Artist", SourceName: "spotify", SourceID: "abc123",
	})
	require.NoError(t, err)

	second, err := index.Resolve(context.Background(), TrackRef{
		Title: "Totally Renamed", Artist: "Someone Else", SourceName: "spotify", SourceID: "abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, first, second, "a known source id must map to the existing track")
}

func TestResolve_FuzzyMatchPreventsDuplicates(t *testing.T) {
	index := NewIndex(newFakeStore(), 0.85)

	first, err := index.Resolve(context.Background(), TrackRef{
		Title: "Song", Artist: "Artist", Album: "Album",
	})
	require.NoError(t, err)

	second, err := index.Resolve(context.Background(), TrackRef{
		Title: "SONG", Artist: "artist!", Album: "album",
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	third, err := index.Resolve(context.Background(), TrackRef{
		Title: "A Different Song Entirely", Artist: "Other Band", Album: "Other",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestResolve_DistinctCodesNeverFuzzyMerge(t *testing.T) {
	index := NewIndex(newFakeStore(), 0.85)

	// Identical triples, different recordings: a remaster carries its own
	// universal code even when the metadata reads the same.
	first, err := index.Resolve(context.Background(), TrackRef{
		Title: "Song", Artist: "Artist", Album: "Album", UniversalCode: "USRC17607839",
	})
	require.NoError(t, err)

	second, err := index.Resolve(context.Background(), TrackRef{
		Title: "Song", Artist: "Artist", Album: "Album", UniversalCode: "USRC20109999",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "distinct universal codes are distinct tracks")
}

func TestResolve_ConcurrentSameRefSingleCreate(t *testing.T) {
	store := newFakeStore()
	index := NewIndex(store, 0.85)
	ref := TrackRef{Title: "Song", Artist: "Artist", Album: "Album"}

	const resolvers = 16

	ids := make([]string, resolvers)

	var wg sync.WaitGroup
	for n := 0; n < resolvers; n++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			id, err := index.Resolve(context.Background(), ref)
			assert.NoError(t, err)
			ids[n] = id
		}(n)
	}

	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.tracks, 1, "concurrent resolves must not create duplicate tracks")
}

func TestResolve_BackfillsSourceMapping(t *testing.T) {
	store := newFakeStore()
	index := NewIndex(store, 0.85)

	_, err := index.Resolve(context.Background(), TrackRef{
		Title: "Song", Artist: "Artist", UniversalCode: "USRC17607839",
	})
	require.NoError(t, err)

	id, err := index.Resolve(context.Background(), TrackRef{
		Title: "Song", Artist: "Artist", UniversalCode: "USRC17607839",
		SourceName: "tidal", SourceID: "t-9",
	})
	require.NoError(t, err)

	mapped, err := store.FindBySource(context.Background(), "tidal", "t-9")
	require.NoError(t, err)
	assert.Equal(t, id, mapped, "resolving with a new source must backfill its mapping")
}

func TestMarkSatisfied(t *testing.T) {
	index := NewIndex(newFakeStore(), 0.85)

	id, err := index.Resolve(context.Background(), TrackRef{Title: "Song", Artist: "Artist"})
	require.NoError(t, err)

	satisfied, err := index.IsSatisfied(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, satisfied)

	require.NoError(t, index.MarkSatisfied(context.Background(), id))

	satisfied, err = index.IsSatisfied(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, satisfied)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Track (Remastered)", "the track remastered"},
		{"  spaced   out  ", "spaced out"},
		{"Açaí", "açaí"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in))
	}
}
