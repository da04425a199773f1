package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/soundhoard/soundhoard/internal/blocklist"
)

// BlocklistRepository implements blocklist.Store on SQLite.
type BlocklistRepository struct {
	db *sql.DB
}

func NewBlocklistRepository(dbConn *sql.DB) *BlocklistRepository {
	return &BlocklistRepository{db: dbConn}
}

func (r *BlocklistRepository) AddEntry(ctx context.Context, entry blocklist.Entry) error {
	var expires interface{}
	if !entry.ExpiresAt.IsZero() {
		expires = formatTime(entry.ExpiresAt)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocklist_entries (scope, peer, path, reason, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(entry.Scope), entry.Peer, entry.Path, entry.Reason,
		expires, formatTime(entry.CreatedAt))

	return err
}

func (r *BlocklistRepository) ListEntries(ctx context.Context) ([]blocklist.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope, peer, path, reason, expires_at, created_at
		FROM blocklist_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []blocklist.Entry

	for rows.Next() {
		var (
			entry              blocklist.Entry
			scope              string
			expires, createdAt sql.NullString
		)

		if err := rows.Scan(&scope, &entry.Peer, &entry.Path, &entry.Reason,
			&expires, &createdAt); err != nil {
			return nil, err
		}

		entry.Scope = blocklist.Scope(scope)

		if expires.Valid && expires.String != "" {
			entry.ExpiresAt = parseTime(expires.String)
		}

		entry.CreatedAt = parseTime(createdAt.String)

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (r *BlocklistRepository) DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM blocklist_entries
		WHERE expires_at IS NOT NULL AND expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
