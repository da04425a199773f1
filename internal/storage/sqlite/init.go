package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the schema if it doesn't exist.
// The busy timeout makes concurrent writers queue instead of failing with
// SQLITE_BUSY.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, err
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS downloads (
			id TEXT PRIMARY KEY,
			title TEXT,
			artist TEXT,
			album TEXT,
			duration_secs INTEGER DEFAULT 0,
			universal_code TEXT,
			source_name TEXT,
			source_id TEXT,
			logical_track_id TEXT,
			priority INTEGER DEFAULT 0,
			constraint_level TEXT DEFAULT 'good',
			constraint_profile TEXT DEFAULT '',
			state TEXT DEFAULT 'waiting',
			paused INTEGER DEFAULT 0,
			attempt_count INTEGER DEFAULT 0,
			max_attempts INTEGER DEFAULT 5,
			next_attempt_at DATETIME,
			error_kind TEXT,
			error_message TEXT,
			selected_peer TEXT,
			selected_path TEXT,
			candidate_failures INTEGER DEFAULT 0,
			cancel_requested INTEGER DEFAULT 0,
			claimed_by TEXT,
			staged_path TEXT,
			imported_path TEXT,
			created_at DATETIME,
			updated_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_downloads_claim
			ON downloads (state, paused, priority, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_downloads_retry
			ON downloads (state, next_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			logical_track_id TEXT PRIMARY KEY,
			title TEXT,
			artist TEXT,
			album TEXT,
			universal_code TEXT,
			satisfied INTEGER DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tracks_code
			ON tracks (universal_code) WHERE universal_code != ''`,
		`CREATE TABLE IF NOT EXISTS track_sources (
			source_name TEXT,
			source_id TEXT,
			logical_track_id TEXT,
			PRIMARY KEY (source_name, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS blocklist_entries (
			id INTEGER PRIMARY KEY,
			scope TEXT,
			peer TEXT,
			path TEXT,
			reason TEXT,
			expires_at DATETIME,
			created_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blocklist_lookup
			ON blocklist_entries (peer, path)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, err
		}
	}

	return db, nil
}
