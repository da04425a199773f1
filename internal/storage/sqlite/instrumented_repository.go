package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/soundhoard/soundhoard/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) CreateDownload(ctx context.Context, d *download.Download) error {
	return r.telemetry.InstrumentDBOperation(ctx, "create_download", func(ctx context.Context) error {
		return r.repo.CreateDownload(ctx, d)
	})
}

func (r *InstrumentedDownloadRepository) GetDownload(ctx context.Context, id string) (*download.Download, error) {
	var result *download.Download

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var innerErr error

		result, innerErr = r.repo.GetDownload(ctx, id)

		return innerErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) ListDownloads(ctx context.Context, filter download.Filter) ([]download.Download, error) {
	var result []download.Download

	err := r.telemetry.InstrumentDBOperation(ctx, "list_downloads", func(ctx context.Context) error {
		var innerErr error

		result, innerErr = r.repo.ListDownloads(ctx, filter)

		return innerErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) CancelRequested(ctx context.Context, id string) (bool, error) {
	var result bool

	err := r.telemetry.InstrumentDBOperation(ctx, "cancel_requested", func(ctx context.Context) error {
		var innerErr error

		result, innerErr = r.repo.CancelRequested(ctx, id)

		return innerErr
	})
	if err != nil {
		return false, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) ClaimNextEligible(ctx context.Context, claimedBy string) (*download.Download, error) {
	var result *download.Download

	err := r.telemetry.InstrumentDBOperation(ctx, "claim_next_eligible", func(ctx context.Context) error {
		var innerErr error

		result, innerErr = r.repo.ClaimNextEligible(ctx, claimedBy)

		return innerErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) UpdateDownload(ctx context.Context, d *download.Download) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_download", func(ctx context.Context) error {
		return r.repo.UpdateDownload(ctx, d)
	})
}

func (r *InstrumentedDownloadRepository) SetPriority(ctx context.Context, id string, priority int) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_priority", func(ctx context.Context) error {
		return r.repo.SetPriority(ctx, id, priority)
	})
}

func (r *InstrumentedDownloadRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_paused", func(ctx context.Context) error {
		return r.repo.SetPaused(ctx, id, paused)
	})
}

func (r *InstrumentedDownloadRepository) RequestCancel(ctx context.Context, id string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "request_cancel", func(ctx context.Context) error {
		return r.repo.RequestCancel(ctx, id)
	})
}

func (r *InstrumentedDownloadRepository) ReleaseDue(ctx context.Context, now time.Time) ([]string, error) {
	var result []string

	err := r.telemetry.InstrumentDBOperation(ctx, "release_due", func(ctx context.Context) error {
		var innerErr error

		result, innerErr = r.repo.ReleaseDue(ctx, now)

		return innerErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) ReleaseAbandoned(ctx context.Context) ([]string, error) {
	var result []string

	err := r.telemetry.InstrumentDBOperation(ctx, "release_abandoned", func(ctx context.Context) error {
		var innerErr error

		result, innerErr = r.repo.ReleaseAbandoned(ctx)

		return innerErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) PurgeTerminal(ctx context.Context) (int64, error) {
	var result int64

	err := r.telemetry.InstrumentDBOperation(ctx, "purge_terminal", func(ctx context.Context) error {
		var innerErr error

		result, innerErr = r.repo.PurgeTerminal(ctx)

		return innerErr
	})
	if err != nil {
		return 0, err
	}

	return result, nil
}
