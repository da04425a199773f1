package blocklist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soundhoard/soundhoard/internal/logctx"
)

// Scope is the granularity at which a bad source is excluded.
type Scope string

const (
	ScopePeer     Scope = "peer"
	ScopePath     Scope = "path"
	ScopePeerPath Scope = "peer_path"
)

// Entry is one exclusion. A zero ExpiresAt never expires.
type Entry struct {
	Scope     Scope
	Peer      string
	Path      string
	Reason    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func (e Entry) key() string {
	switch e.Scope {
	case ScopePeer:
		return "p|" + e.Peer
	case ScopePath:
		return "f|" + e.Path
	default:
		return "pf|" + e.Peer + "|" + e.Path
	}
}

// Store persists entries across restarts.
type Store interface {
	AddEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context) ([]Entry, error)
	DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error)
}

// Blocklist excludes known-bad sources from candidate selection. Reads hit
// an in-memory index and happen once per candidate per search; writes go
// through the store. Expired entries are inert at read time; a periodic
// sweep reclaims their storage.
type Blocklist struct {
	store Store

	mu      sync.RWMutex
	entries map[string]Entry
}

// Load builds a Blocklist over the store's current contents.
func Load(ctx context.Context, store Store) (*Blocklist, error) {
	persisted, err := store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocklist: %w", err)
	}

	entries := make(map[string]Entry, len(persisted))
	for _, e := range persisted {
		entries[e.key()] = e
	}

	return &Blocklist{store: store, entries: entries}, nil
}

// Add records an exclusion and indexes it immediately.
func (b *Blocklist) Add(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := b.store.AddEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist blocklist entry: %w", err)
	}

	b.mu.Lock()
	b.entries[entry.key()] = entry
	b.mu.Unlock()

	return nil
}

// IsBlocked reports whether the (peer, path) pair is excluded under any
// scope. Expired entries are treated as absent.
func (b *Blocklist) IsBlocked(peer, path string) bool {
	now := time.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range []string{"p|" + peer, "f|" + path, "pf|" + peer + "|" + path} {
		if e, ok := b.entries[key]; ok && !e.expired(now) {
			return true
		}
	}

	return false
}

// Sweep deletes expired entries from the store and the index.
func (b *Blocklist) Sweep(ctx context.Context, now time.Time) error {
	logger := logctx.LoggerFromContext(ctx)

	removed, err := b.store.DeleteExpiredEntries(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to sweep blocklist: %w", err)
	}

	b.mu.Lock()
	for key, e := range b.entries {
		if e.expired(now) {
			delete(b.entries, key)
		}
	}
	b.mu.Unlock()

	if removed > 0 {
		logger.Info("swept expired blocklist entries", "removed", removed)
	}

	return nil
}
