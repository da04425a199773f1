package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soundhoard/soundhoard/internal/batch"
	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/soundhoard/soundhoard/internal/logctx"
	"github.com/soundhoard/soundhoard/internal/quality"
	"github.com/soundhoard/soundhoard/internal/storage"
)

// EnqueueRequest asks the engine to acquire one track.
type EnqueueRequest struct {
	Track      catalog.TrackRef
	Priority   int
	Constraint *quality.Constraint // nil means the service default
}

// Service is the operation surface over the queue: everything callers can
// do to a download that is not the dispatcher's own lifecycle work.
type Service struct {
	repo              storage.DownloadRepository
	index             *catalog.Index
	defaultConstraint quality.Constraint
	maxAttempts       int
	batchSize         int
}

func NewService(
	repo storage.DownloadRepository,
	index *catalog.Index,
	defaultConstraint quality.Constraint,
	maxAttempts int,
	batchSize int,
) *Service {
	if batchSize <= 0 {
		batchSize = 20
	}

	return &Service{
		repo:              repo,
		index:             index,
		defaultConstraint: defaultConstraint,
		maxAttempts:       maxAttempts,
		batchSize:         batchSize,
	}
}

// Enqueue resolves the track against the deduplication index and creates a
// queue record. A track the library already holds is admitted as an
// immediately completed record so callers still get an id to point at.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*download.Download, error) {
	logger := logctx.LoggerFromContext(ctx)

	req.Track.Title = normalizeSpace(req.Track.Title)
	req.Track.Artist = normalizeSpace(req.Track.Artist)
	req.Track.Album = normalizeSpace(req.Track.Album)

	logicalID, err := s.index.Resolve(ctx, req.Track)
	if err != nil {
		return nil, err
	}

	constraint := s.defaultConstraint
	if req.Constraint != nil {
		constraint = *req.Constraint
	}

	now := time.Now()
	dl := &download.Download{
		ID:             uuid.New().String(),
		Track:          req.Track,
		LogicalTrackID: logicalID,
		Priority:       req.Priority,
		Constraint:     constraint,
		State:          download.StateWaiting,
		MaxAttempts:    s.maxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	satisfied, err := s.index.IsSatisfied(ctx, logicalID)
	if err != nil {
		return nil, err
	}

	if satisfied {
		dl.State = download.StateCompleted

		logger.Info("track already in library, enqueue short-circuited",
			"logical_track_id", logicalID,
			"artist", req.Track.Artist,
			"title", req.Track.Title)
	}

	if err := s.repo.CreateDownload(ctx, dl); err != nil {
		return nil, err
	}

	logger.Debug("download enqueued", "download_id", dl.ID, "state", dl.State)

	return dl, nil
}

// EnqueueBatch admits many tracks in bounded batches. Dedup resolution hits
// external catalog stores, so the batch size keeps one oversized playlist
// from hammering them all at once. Per-item failures do not abort the rest.
func (s *Service) EnqueueBatch(ctx context.Context, reqs []EnqueueRequest) (*batch.Result[EnqueueRequest, *download.Download], error) {
	coordinator := batch.NewCoordinator(s.batchSize, 0, func(ctx context.Context, items []EnqueueRequest) (*batch.Result[EnqueueRequest, *download.Download], error) {
		result := &batch.Result[EnqueueRequest, *download.Download]{}

		for _, item := range items {
			dl, err := s.Enqueue(ctx, item)
			if err != nil {
				result.Failed = append(result.Failed, batch.ItemError[EnqueueRequest]{Item: item, Err: err})

				continue
			}

			result.Succeeded = append(result.Succeeded, dl)
		}

		return result, nil
	})

	merged := &batch.Result[EnqueueRequest, *download.Download]{}

	for _, req := range reqs {
		result, err := coordinator.Add(ctx, req)
		if err != nil {
			return nil, err
		}

		mergeResult(merged, result)
	}

	result, err := coordinator.Flush(ctx)
	if err != nil {
		return nil, err
	}

	mergeResult(merged, result)

	return merged, nil
}

// Cancel stops a download. Idle records become cancelled immediately;
// records owned by a worker are flagged and finalized at the worker's next
// state boundary. Terminal records return ErrTerminal.
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.repo.RequestCancel(ctx, id)
}

// Pause holds a waiting or retry-scheduled download out of claiming. The
// stored state survives, so Resume puts the record back exactly where it
// was.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.repo.SetPaused(ctx, id, true)
}

func (s *Service) Resume(ctx context.Context, id string) error {
	return s.repo.SetPaused(ctx, id, false)
}

// SetPriority reorders a non-terminal download. Lower values claim first.
func (s *Service) SetPriority(ctx context.Context, id string, priority int) error {
	return s.repo.SetPriority(ctx, id, priority)
}

func (s *Service) Get(ctx context.Context, id string) (*download.Download, error) {
	return s.repo.GetDownload(ctx, id)
}

// ListQueue returns queue records ordered by priority, then age.
func (s *Service) ListQueue(ctx context.Context, filter download.Filter) ([]download.Download, error) {
	return s.repo.ListDownloads(ctx, filter)
}

// PurgeTerminal deletes completed, failed and cancelled records.
func (s *Service) PurgeTerminal(ctx context.Context) (int64, error) {
	return s.repo.PurgeTerminal(ctx)
}

func mergeResult[T, R any](dst, src *batch.Result[T, R]) {
	if src == nil {
		return
	}

	dst.Succeeded = append(dst.Succeeded, src.Succeeded...)
	dst.Failed = append(dst.Failed, src.Failed...)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
