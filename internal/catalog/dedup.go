package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/soundhoard/soundhoard/internal/quality"
	"golang.org/x/sync/singleflight"
)

// StoredTrack is the persisted shape of one logical track.
type StoredTrack struct {
	LogicalID     string
	Title         string
	Artist        string
	Album         string
	UniversalCode string
	Satisfied     bool // a file for this track already lives in the library
}

// DedupStore persists logical tracks and their per-source mappings. Both
// lookups must be indexed; the index is on the hot path of every resolve.
type DedupStore interface {
	FindByUniversalCode(ctx context.Context, code string) (string, error)
	FindBySource(ctx context.Context, sourceName, sourceID string) (string, error)
	GetTrack(ctx context.Context, logicalID string) (*StoredTrack, error)
	ListTracks(ctx context.Context) ([]StoredTrack, error)
	CreateTrack(ctx context.Context, track StoredTrack) error
	RecordSource(ctx context.Context, logicalID, sourceName, sourceID string) error
	MarkSatisfied(ctx context.Context, logicalID string) error
}

// Index maps universal recording codes and per-source identifiers to a
// single logical track, preventing duplicate downloads across sources.
type Index struct {
	store     DedupStore
	threshold float64

	group singleflight.Group
}

func NewIndex(store DedupStore, fuzzyThreshold float64) *Index {
	if fuzzyThreshold <= 0 {
		fuzzyThreshold = 0.85
	}

	return &Index{store: store, threshold: fuzzyThreshold}
}

// Resolve returns the logical track id for the ref, creating one if no
// equivalent track exists. Resolution order: universal code, then per-source
// mapping, then a fuzzy match on the normalized (title, artist, album)
// triple. The fuzzy path only runs for refs without a universal code; two
// distinct codes are distinct recordings no matter how alike their names
// are. Concurrent resolves for the same key collapse to a single store
// round-trip.
func (i *Index) Resolve(ctx context.Context, ref TrackRef) (string, error) {
	id, err, _ := i.group.Do(i.flightKey(ref), func() (interface{}, error) {
		return i.resolve(ctx, ref)
	})
	if err != nil {
		return "", err
	}

	return id.(string), nil
}

// RecordSource binds a per-source identifier to an existing logical track.
func (i *Index) RecordSource(ctx context.Context, logicalID, sourceName, sourceID string) error {
	return i.store.RecordSource(ctx, logicalID, sourceName, sourceID)
}

// IsSatisfied reports whether a file for the logical track already exists in
// the library.
func (i *Index) IsSatisfied(ctx context.Context, logicalID string) (bool, error) {
	track, err := i.store.GetTrack(ctx, logicalID)
	if err != nil {
		return false, err
	}

	if track == nil {
		return false, nil
	}

	return track.Satisfied, nil
}

// MarkSatisfied records that the logical track has been imported.
func (i *Index) MarkSatisfied(ctx context.Context, logicalID string) error {
	return i.store.MarkSatisfied(ctx, logicalID)
}

func (i *Index) flightKey(ref TrackRef) string {
	if ref.UniversalCode != "" {
		return "code:" + ref.UniversalCode
	}

	if ref.SourceName != "" && ref.SourceID != "" {
		return "src:" + ref.SourceName + ":" + ref.SourceID
	}

	return "ref:" + ref.Key()
}

func (i *Index) resolve(ctx context.Context, ref TrackRef) (string, error) {
	if ref.UniversalCode != "" {
		id, err := i.store.FindByUniversalCode(ctx, ref.UniversalCode)
		if err != nil {
			return "", fmt.Errorf("universal code lookup: %w", err)
		}

		if id != "" {
			i.backfillSource(ctx, id, ref)

			return id, nil
		}
	}

	if ref.SourceName != "" && ref.SourceID != "" {
		id, err := i.store.FindBySource(ctx, ref.SourceName, ref.SourceID)
		if err != nil {
			return "", fmt.Errorf("source lookup: %w", err)
		}

		if id != "" {
			return id, nil
		}
	}

	// A ref carrying a universal code that matched nothing is a recording we
	// have never seen. Fuzzy matching on the triple could glue it to a
	// different recording with a near-identical name, so it only runs for
	// refs with no code at all.
	if ref.UniversalCode == "" {
		if id, err := i.fuzzyMatch(ctx, ref); err != nil {
			return "", err
		} else if id != "" {
			// Backfill so the next lookup for this source is an indexed hit.
			i.backfillSource(ctx, id, ref)

			return id, nil
		}
	}

	track := StoredTrack{
		LogicalID:     uuid.New().String(),
		Title:         ref.Title,
		Artist:        ref.Artist,
		Album:         ref.Album,
		UniversalCode: ref.UniversalCode,
	}

	if err := i.store.CreateTrack(ctx, track); err != nil {
		return "", fmt.Errorf("create track: %w", err)
	}

	i.backfillSource(ctx, track.LogicalID, ref)

	return track.LogicalID, nil
}

// fuzzyMatch compares normalized triples against known tracks and returns
// the first above the threshold.
func (i *Index) fuzzyMatch(ctx context.Context, ref TrackRef) (string, error) {
	tracks, err := i.store.ListTracks(ctx)
	if err != nil {
		return "", fmt.Errorf("list tracks: %w", err)
	}

	want := ref.Key()

	for _, t := range tracks {
		have := TrackRef{Title: t.Title, Artist: t.Artist, Album: t.Album}.Key()
		if quality.Similarity(want, have) >= i.threshold {
			return t.LogicalID, nil
		}
	}

	return "", nil
}

func (i *Index) backfillSource(ctx context.Context, logicalID string, ref TrackRef) {
	if ref.SourceName == "" || ref.SourceID == "" {
		return
	}

	// Best effort: a failed backfill only costs a fuzzy re-resolve later.
	_ = i.store.RecordSource(ctx, logicalID, ref.SourceName, ref.SourceID)
}
