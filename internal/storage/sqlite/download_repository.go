package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/soundhoard/soundhoard/internal/quality"
	"github.com/soundhoard/soundhoard/internal/storage"
)

const downloadColumns = `id, title, artist, album, duration_secs, universal_code,
	source_name, source_id, logical_track_id, priority, constraint_level,
	constraint_profile, state, paused, attempt_count, max_attempts,
	next_attempt_at, error_kind, error_message, selected_peer, selected_path,
	candidate_failures, cancel_requested, staged_path, imported_path,
	created_at, updated_at`

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

func (r *DownloadRepository) CreateDownload(ctx context.Context, d *download.Download) error {
	profile, err := encodeProfile(d.Constraint.Profile)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO downloads (
			id, title, artist, album, duration_secs, universal_code,
			source_name, source_id, logical_track_id, priority, constraint_level,
			constraint_profile, state, paused, attempt_count, max_attempts,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Track.Title, d.Track.Artist, d.Track.Album, d.Track.DurationSecs,
		d.Track.UniversalCode, d.Track.SourceName, d.Track.SourceID,
		d.LogicalTrackID, d.Priority, string(d.Constraint.Level), profile,
		string(d.State), boolToInt(d.Paused), d.AttemptCount, d.MaxAttempts,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)

	return err
}

func (r *DownloadRepository) GetDownload(ctx context.Context, id string) (*download.Download, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)

	d, err := scanDownload(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return d, nil
}

func (r *DownloadRepository) ListDownloads(ctx context.Context, filter download.Filter) ([]download.Download, error) {
	query := `SELECT ` + downloadColumns + ` FROM downloads`

	var (
		conds []string
		args  []interface{}
	)

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, s := range filter.States {
			placeholders[i] = "?"

			args = append(args, string(s))
		}

		conds = append(conds, "state IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.Terminal != nil {
		op := "IN"
		if !*filter.Terminal {
			op = "NOT IN"
		}

		conds = append(conds, "state "+op+" ('completed', 'failed', 'cancelled')")
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	query += " ORDER BY priority ASC, created_at ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"

		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []download.Download

	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, *d)
	}

	return downloads, rows.Err()
}

func (r *DownloadRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested int

	err := r.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM downloads WHERE id = ?`, id).Scan(&requested)
	if err == sql.ErrNoRows {
		return false, storage.ErrNotFound
	}

	if err != nil {
		return false, err
	}

	return requested != 0, nil
}

// ClaimNextEligible atomically transitions the most urgent waiting record to
// searching. The conditional update is a single statement, so exactly one
// caller wins a given record; a loser simply picks again. No transaction
// wraps the read and the write: two deferred transactions upgrading to a
// write lock would deadlock each other under SQLite.
func (r *DownloadRepository) ClaimNextEligible(ctx context.Context, claimedBy string) (*download.Download, error) {
	for {
		row := r.db.QueryRowContext(ctx, `
			SELECT `+downloadColumns+` FROM downloads
			WHERE state = 'waiting' AND paused = 0 AND cancel_requested = 0
			ORDER BY priority ASC, created_at ASC
			LIMIT 1`)

		d, err := scanDownload(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		res, err := r.db.ExecContext(ctx, `
			UPDATE downloads
			SET state = 'searching',
				claimed_by = ?,
				attempt_count = attempt_count + 1,
				candidate_failures = 0,
				updated_at = ?
			WHERE id = ? AND state = 'waiting'`,
			claimedBy, formatTime(time.Now()), d.ID)
		if err != nil {
			return nil, err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}

		if affected == 0 {
			// Raced with another claimer; try the next candidate.
			continue
		}

		d.State = download.StateSearching
		d.AttemptCount++
		d.CandidateFailures = 0

		return d, nil
	}
}

// ReleaseAbandoned re-queues records a previous process claimed but never
// finished. The interrupted attempt is refunded so a crash cannot consume
// budget. Only safe at startup, before any worker holds a claim.
func (r *DownloadRepository) ReleaseAbandoned(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM downloads
		WHERE state IN ('searching', 'transferring', 'verifying')`)
	if err != nil {
		return nil, err
	}

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()

			return nil, err
		}

		ids = append(ids, id)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE downloads
		SET state = 'waiting',
			claimed_by = NULL,
			attempt_count = MAX(attempt_count - 1, 0),
			updated_at = ?
		WHERE state IN ('searching', 'transferring', 'verifying')`,
		formatTime(time.Now()))
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *DownloadRepository) UpdateDownload(ctx context.Context, d *download.Download) error {
	d.UpdatedAt = time.Now()

	var errKind, errMsg string
	if d.LastError != nil {
		errKind = string(d.LastError.Kind)
		errMsg = d.LastError.Message
	}

	var peer, path string
	if d.SelectedSource != nil {
		peer = d.SelectedSource.Peer
		path = d.SelectedSource.Path
	}

	// A record leaving the active states gives its claim back; claims on
	// still-active records survive so claimed_by stays attributable.
	_, err := r.db.ExecContext(ctx, `
		UPDATE downloads SET
			logical_track_id = ?,
			priority = ?,
			state = ?,
			paused = ?,
			attempt_count = ?,
			next_attempt_at = ?,
			error_kind = ?,
			error_message = ?,
			selected_peer = ?,
			selected_path = ?,
			candidate_failures = ?,
			claimed_by = CASE WHEN ? THEN claimed_by ELSE NULL END,
			staged_path = ?,
			imported_path = ?,
			updated_at = ?
		WHERE id = ?`,
		d.LogicalTrackID, d.Priority, string(d.State), boolToInt(d.Paused),
		d.AttemptCount, formatTimePtr(d.NextAttemptAt), errKind, errMsg,
		peer, path, d.CandidateFailures, boolToInt(d.State.Active()),
		d.StagedPath, d.ImportedPath, formatTime(d.UpdatedAt), d.ID,
	)

	return err
}

func (r *DownloadRepository) SetPriority(ctx context.Context, id string, priority int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE downloads SET priority = ?, updated_at = ?
		WHERE id = ? AND state NOT IN ('completed', 'failed', 'cancelled')`,
		priority, formatTime(time.Now()), id)
	if err != nil {
		return err
	}

	return r.checkAffected(ctx, res, id)
}

// SetPaused pauses or resumes a record. Only waiting and retry_scheduled
// records can be paused; the stored state is preserved so resume returns to
// exactly where the record was.
func (r *DownloadRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE downloads SET paused = ?, updated_at = ?
		WHERE id = ? AND state IN ('waiting', 'retry_scheduled')`,
		boolToInt(paused), formatTime(time.Now()), id)
	if err != nil {
		return err
	}

	return r.checkAffected(ctx, res, id)
}

// RequestCancel cancels an idle record immediately and flags an active one
// for its worker to notice at the next state boundary.
func (r *DownloadRepository) RequestCancel(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var state string

	err = tx.QueryRowContext(ctx, `SELECT state FROM downloads WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}

	if err != nil {
		return err
	}

	if download.State(state).Terminal() {
		return storage.ErrTerminal
	}

	now := formatTime(time.Now())

	if download.State(state).Active() {
		_, err = tx.ExecContext(ctx,
			`UPDATE downloads SET cancel_requested = 1, updated_at = ? WHERE id = ?`, now, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE downloads
			SET state = 'cancelled', error_kind = 'cancelled', paused = 0, updated_at = ?
			WHERE id = ?`, now, id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// ReleaseDue flips due retry_scheduled records back to waiting and returns
// their ids. The flip happens inside one transaction, so polling is
// idempotent: a record is surfaced exactly once per elapsed due time.
func (r *DownloadRepository) ReleaseDue(ctx context.Context, now time.Time) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM downloads
		WHERE state = 'retry_scheduled' AND paused = 0 AND next_attempt_at <= ?`,
		formatTime(now))
	if err != nil {
		return nil, err
	}

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()

			return nil, err
		}

		ids = append(ids, id)
	}

	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, formatTime(now))

	for i, id := range ids {
		placeholders[i] = "?"

		args = append(args, id)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE downloads SET state = 'waiting', updated_at = ?
		WHERE state = 'retry_scheduled' AND id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, err
	}

	return ids, tx.Commit()
}

func (r *DownloadRepository) PurgeTerminal(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM downloads WHERE state IN ('completed', 'failed', 'cancelled')`)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *DownloadRepository) checkAffected(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected > 0 {
		return nil
	}

	var state string

	err = r.db.QueryRowContext(ctx, `SELECT state FROM downloads WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}

	if err != nil {
		return err
	}

	if download.State(state).Terminal() {
		return storage.ErrTerminal
	}

	return fmt.Errorf("%w: %s", storage.ErrInvalidState, state)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDownload(row scanner) (*download.Download, error) {
	var (
		d                            download.Download
		track                        catalog.TrackRef
		constraintLevel              string
		constraintProfile            sql.NullString
		state                        string
		paused, cancelReq            int
		nextAttemptAt                sql.NullString
		errKind, errMsg              sql.NullString
		peer, path, imported         sql.NullString
		staged                       sql.NullString
		universalCode, srcName       sql.NullString
		srcID, createdAt, updatedAt  sql.NullString
		title, artist, album         sql.NullString
		logicalID                    sql.NullString
	)

	err := row.Scan(
		&d.ID, &title, &artist, &album, &track.DurationSecs, &universalCode,
		&srcName, &srcID, &logicalID, &d.Priority, &constraintLevel,
		&constraintProfile, &state, &paused, &d.AttemptCount, &d.MaxAttempts,
		&nextAttemptAt, &errKind, &errMsg, &peer, &path,
		&d.CandidateFailures, &cancelReq, &staged, &imported,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	track.Title = title.String
	track.Artist = artist.String
	track.Album = album.String
	track.UniversalCode = universalCode.String
	track.SourceName = srcName.String
	track.SourceID = srcID.String

	profile, err := decodeProfile(constraintProfile.String)
	if err != nil {
		return nil, err
	}

	d.Track = track
	d.LogicalTrackID = logicalID.String
	d.Constraint = quality.Constraint{Level: quality.Level(constraintLevel), Profile: profile}
	d.State = download.State(state)
	d.Paused = paused != 0
	d.StagedPath = staged.String
	d.ImportedPath = imported.String

	if nextAttemptAt.Valid && nextAttemptAt.String != "" {
		if t, err := time.Parse(time.RFC3339, nextAttemptAt.String); err == nil {
			d.NextAttemptAt = &t
		}
	}

	if errKind.Valid && (errKind.String != "" || errMsg.String != "") {
		d.LastError = &download.Failure{
			Kind:    download.ErrorKind(errKind.String),
			Message: errMsg.String,
		}
	}

	if peer.Valid && peer.String != "" {
		d.SelectedSource = &download.SourceRef{Peer: peer.String, Path: path.String}
	}

	d.CreatedAt = parseTime(createdAt.String)
	d.UpdatedAt = parseTime(updatedAt.String)

	return &d, nil
}

// encodeProfile stores a quality profile as JSON; coarse levels leave the
// column empty.
func encodeProfile(p *quality.Profile) (string, error) {
	if p == nil {
		return "", nil
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode quality profile: %w", err)
	}

	return string(encoded), nil
}

func decodeProfile(s string) (*quality.Profile, error) {
	if s == "" {
		return nil, nil
	}

	var p quality.Profile
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decode quality profile: %w", err)
	}

	return &p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}

	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)

	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
