package sqlite

import (
	"context"
	"database/sql"

	"github.com/soundhoard/soundhoard/internal/catalog"
)

// DedupRepository implements catalog.DedupStore on SQLite. Universal code
// and (source, id) lookups are both indexed.
type DedupRepository struct {
	db *sql.DB
}

func NewDedupRepository(dbConn *sql.DB) *DedupRepository {
	return &DedupRepository{db: dbConn}
}

func (r *DedupRepository) FindByUniversalCode(ctx context.Context, code string) (string, error) {
	var id string

	err := r.db.QueryRowContext(ctx,
		`SELECT logical_track_id FROM tracks WHERE universal_code = ?`, code).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return id, nil
}

func (r *DedupRepository) FindBySource(ctx context.Context, sourceName, sourceID string) (string, error) {
	var id string

	err := r.db.QueryRowContext(ctx,
		`SELECT logical_track_id FROM track_sources WHERE source_name = ? AND source_id = ?`,
		sourceName, sourceID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return id, nil
}

func (r *DedupRepository) GetTrack(ctx context.Context, logicalID string) (*catalog.StoredTrack, error) {
	var (
		track     catalog.StoredTrack
		satisfied int
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT logical_track_id, title, artist, album, universal_code, satisfied
		FROM tracks WHERE logical_track_id = ?`, logicalID).
		Scan(&track.LogicalID, &track.Title, &track.Artist, &track.Album,
			&track.UniversalCode, &satisfied)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	track.Satisfied = satisfied != 0

	return &track, nil
}

func (r *DedupRepository) ListTracks(ctx context.Context) ([]catalog.StoredTrack, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT logical_track_id, title, artist, album, universal_code, satisfied
		FROM tracks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []catalog.StoredTrack

	for rows.Next() {
		var (
			track     catalog.StoredTrack
			satisfied int
		)

		if err := rows.Scan(&track.LogicalID, &track.Title, &track.Artist,
			&track.Album, &track.UniversalCode, &satisfied); err != nil {
			return nil, err
		}

		track.Satisfied = satisfied != 0

		tracks = append(tracks, track)
	}

	return tracks, rows.Err()
}

func (r *DedupRepository) CreateTrack(ctx context.Context, track catalog.StoredTrack) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tracks (logical_track_id, title, artist, album, universal_code, satisfied)
		VALUES (?, ?, ?, ?, ?, ?)`,
		track.LogicalID, track.Title, track.Artist, track.Album,
		track.UniversalCode, boolToInt(track.Satisfied))

	return err
}

// RecordSource upserts so repeated backfills of the same mapping are no-ops.
func (r *DedupRepository) RecordSource(ctx context.Context, logicalID, sourceName, sourceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO track_sources (source_name, source_id, logical_track_id)
		VALUES (?, ?, ?)
		ON CONFLICT(source_name, source_id) DO UPDATE SET
			logical_track_id = excluded.logical_track_id`,
		sourceName, sourceID, logicalID)

	return err
}

func (r *DedupRepository) MarkSatisfied(ctx context.Context, logicalID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracks SET satisfied = 1 WHERE logical_track_id = ?`, logicalID)

	return err
}
