package storage

import (
	"context"
	"errors"
	"time"

	"github.com/soundhoard/soundhoard/internal/download"
)

// ErrNotFound is returned when a download id does not exist.
var ErrNotFound = errors.New("record not found")

// ErrTerminal is returned when an operation targets a record that already
// reached a terminal state.
var ErrTerminal = errors.New("record is in a terminal state")

// ErrInvalidState is returned when the record's current state does not admit
// the requested operation, such as pausing an active transfer.
var ErrInvalidState = errors.New("operation not allowed in current state")

// DownloadReadRepository serves queue listings and single-record reads.
type DownloadReadRepository interface {
	GetDownload(ctx context.Context, id string) (*download.Download, error)
	ListDownloads(ctx context.Context, filter download.Filter) ([]download.Download, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// DownloadWriteRepository mutates download records. ClaimNextEligible is the
// single-writer gate: it atomically transitions the best waiting record to
// searching, so concurrent dispatchers can never own the same record.
// ReleaseAbandoned runs once at startup to re-queue records a previous
// process claimed but never finished; the interrupted attempt is refunded.
type DownloadWriteRepository interface {
	CreateDownload(ctx context.Context, d *download.Download) error
	ClaimNextEligible(ctx context.Context, claimedBy string) (*download.Download, error)
	UpdateDownload(ctx context.Context, d *download.Download) error
	SetPriority(ctx context.Context, id string, priority int) error
	SetPaused(ctx context.Context, id string, paused bool) error
	RequestCancel(ctx context.Context, id string) error
	ReleaseDue(ctx context.Context, now time.Time) ([]string, error)
	ReleaseAbandoned(ctx context.Context) ([]string, error)
	PurgeTerminal(ctx context.Context) (int64, error)
}

// DownloadRepository combines both sides for callers that need them.
type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
