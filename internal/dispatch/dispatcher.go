// Package dispatch owns the download lifecycle: it claims eligible records,
// drives each one through search, transfer and import, and decides what a
// failure means for the record's future.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soundhoard/soundhoard/internal/blocklist"
	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/soundhoard/soundhoard/internal/library"
	"github.com/soundhoard/soundhoard/internal/logctx"
	"github.com/soundhoard/soundhoard/internal/provider"
	"github.com/soundhoard/soundhoard/internal/quality"
	"github.com/soundhoard/soundhoard/internal/retry"
	"github.com/soundhoard/soundhoard/internal/storage"
	"github.com/soundhoard/soundhoard/internal/telemetry"
)

// Options tunes the dispatcher's loops.
type Options struct {
	InstanceID          string
	MaxParallel         int
	ClaimInterval       time.Duration
	SearchTimeout       time.Duration
	PollInterval        time.Duration
	TransferTimeout     time.Duration
	MaxCandidateRetries int
	BlocklistTTL        time.Duration
	MaxFileSize         int64 // 0 means unlimited
}

func (o Options) withDefaults() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 3
	}

	if o.ClaimInterval <= 0 {
		o.ClaimInterval = 5 * time.Second
	}

	if o.SearchTimeout <= 0 {
		o.SearchTimeout = 45 * time.Second
	}

	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}

	if o.TransferTimeout <= 0 {
		o.TransferTimeout = 30 * time.Minute
	}

	if o.MaxCandidateRetries <= 0 {
		o.MaxCandidateRetries = 3
	}

	return o
}

// Dispatcher is the only writer of non-terminal download records. Consumers
// of the event channels must drain them for the lifetime of the dispatcher.
type Dispatcher struct {
	repo      storage.DownloadRepository
	gateway   provider.SearchGateway
	policy    *quality.Policy
	index     *catalog.Index
	blocklist *blocklist.Blocklist
	pipeline  *library.Pipeline
	scheduler *retry.Scheduler
	telemetry *telemetry.Telemetry
	opts      Options

	workers   sync.WaitGroup
	closeOnce sync.Once

	OnCompleted chan *download.Download
	OnFailed    chan *download.Download
}

func NewDispatcher(
	repo storage.DownloadRepository,
	gateway provider.SearchGateway,
	policy *quality.Policy,
	index *catalog.Index,
	bl *blocklist.Blocklist,
	pipeline *library.Pipeline,
	scheduler *retry.Scheduler,
	tel *telemetry.Telemetry,
	opts Options,
) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		gateway:     gateway,
		policy:      policy,
		index:       index,
		blocklist:   bl,
		pipeline:    pipeline,
		scheduler:   scheduler,
		telemetry:   tel,
		opts:        opts.withDefaults(),
		OnCompleted: make(chan *download.Download),
		OnFailed:    make(chan *download.Download),
	}
}

// Close waits for in-flight workers before closing the event channels, so no
// worker can send on a closed channel. Callers must keep draining the
// channels until Close returns.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.workers.Wait()

		close(d.OnCompleted)
		close(d.OnFailed)
	})
}

// Run drives the claim and retry-release loops until the context ends.
func (d *Dispatcher) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("dispatcher running",
		"instance_id", d.opts.InstanceID,
		"max_parallel", d.opts.MaxParallel)

	// Records claimed by a previous run of this process are orphans: no
	// worker will ever finish them. Hand them back before claiming anything.
	if ids, err := d.repo.ReleaseAbandoned(ctx); err != nil {
		logger.Error("failed to release abandoned downloads", "err", err)
	} else if len(ids) > 0 {
		logger.Info("requeued downloads abandoned by a previous run", "count", len(ids))
	}

	claimTicker := time.NewTicker(d.opts.ClaimInterval)
	defer claimTicker.Stop()

	retryTicker := time.NewTicker(d.opts.ClaimInterval)
	defer retryTicker.Stop()

	sem := make(chan struct{}, d.opts.MaxParallel)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down dispatcher")

			return
		case <-retryTicker.C:
			ids, err := d.scheduler.DueForRetry(ctx, time.Now())
			if err != nil {
				logger.Error("failed to release due retries", "err", err)

				continue
			}

			if len(ids) > 0 {
				logger.Info("released scheduled retries", "count", len(ids))
			}
		case <-claimTicker.C:
			d.claimEligible(ctx, sem)
		}
	}
}

// claimEligible fills every free worker slot with a claimed record. Claiming
// stops as soon as the queue runs dry or the slots are exhausted.
func (d *Dispatcher) claimEligible(ctx context.Context, sem chan struct{}) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case sem <- struct{}{}:
		default:
			return
		}

		dl, err := d.repo.ClaimNextEligible(ctx, d.opts.InstanceID)
		if err != nil {
			logger.Error("failed to claim download", "err", err)
		}

		if dl == nil {
			<-sem

			return
		}

		d.workers.Add(1)

		go func() {
			defer d.workers.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("worker panic", "download_id", dl.ID, "panic", r)

					d.fail(ctx, dl, fmt.Errorf("worker panic: %v", r))
				}
			}()

			d.process(ctx, dl)
		}()
	}
}

// process runs one claimed attempt end to end. The record is already in
// searching state with the attempt counted.
func (d *Dispatcher) process(ctx context.Context, dl *download.Download) {
	ctx = logctx.With(ctx,
		"download_id", dl.ID,
		"artist", dl.Track.Artist,
		"title", dl.Track.Title,
		"attempt", dl.AttemptCount)
	logger := logctx.LoggerFromContext(ctx)

	_ = d.telemetry.InstrumentDownloadAttempt(ctx, func(ctx context.Context) error {
		if satisfied, err := d.index.IsSatisfied(ctx, dl.LogicalTrackID); err == nil && satisfied {
			logger.Info("track already satisfied, completing without transfer")

			d.complete(ctx, dl, &library.Result{Duplicate: true})

			return nil
		}

		if d.cancelRequested(ctx, dl) {
			d.finalizeCancel(ctx, dl)

			return nil
		}

		// A staged file from an earlier attempt means the transfer already
		// happened; pick up at verification instead of searching again.
		if dl.StagedPath != "" {
			logger.Info("resuming verification of staged file", "path", dl.StagedPath)

			return d.verify(ctx, dl)
		}

		candidates, err := d.search(ctx, dl)
		if err != nil {
			d.fail(ctx, dl, err)

			return err
		}

		return d.acquire(ctx, dl, candidates)
	})
}

func (d *Dispatcher) search(ctx context.Context, dl *download.Download) ([]provider.Candidate, error) {
	logger := logctx.LoggerFromContext(ctx)

	searchCtx, cancel := context.WithTimeout(ctx, d.opts.SearchTimeout)
	defer cancel()

	candidates, err := d.gateway.Search(searchCtx, provider.Query{
		Artist: dl.Track.Artist,
		Title:  dl.Track.Title,
		Album:  dl.Track.Album,
	})
	if err != nil {
		d.telemetry.RecordSearch("error", 0)

		return nil, err
	}

	ranked := d.policy.Rank(candidates, dl.Constraint, quality.Target{
		Artist: dl.Track.Artist,
		Title:  dl.Track.Title,
	})

	eligible := ranked[:0]

	for _, c := range ranked {
		if d.blocklist.IsBlocked(c.Peer, c.Path) {
			continue
		}

		if d.opts.MaxFileSize > 0 && c.Size > d.opts.MaxFileSize {
			continue
		}

		eligible = append(eligible, c)
	}

	d.telemetry.RecordSearch("ok", len(eligible))

	logger.Debug("search ranked",
		"raw", len(candidates),
		"eligible", len(eligible))

	if len(eligible) == 0 {
		return nil, &provider.NoResultsError{Terms: dl.Track.Artist + " " + dl.Track.Title}
	}

	return eligible, nil
}

// acquire walks the ranked candidates best-first. A bad candidate is
// blocklisted and the next one tried immediately; the per-attempt failure
// budget keeps one search from burning hours on a hostile result set.
func (d *Dispatcher) acquire(ctx context.Context, dl *download.Download, candidates []provider.Candidate) error {
	logger := logctx.LoggerFromContext(ctx)

	var lastErr error

	for _, candidate := range candidates {
		if dl.CandidateFailures >= d.opts.MaxCandidateRetries {
			break
		}

		if d.cancelRequested(ctx, dl) {
			d.finalizeCancel(ctx, dl)

			return nil
		}

		dl.State = download.StateTransferring
		dl.SelectedSource = &download.SourceRef{Peer: candidate.Peer, Path: candidate.Path}

		if err := d.repo.UpdateDownload(ctx, dl); err != nil {
			logger.Error("failed to persist transferring state", "err", err)
		}

		localPath, err := d.transfer(ctx, dl, candidate)
		if err != nil {
			kind := retry.Classify(err)
			if kind == download.KindCancelled || kind == download.KindAuth || kind == download.KindNetwork {
				// A cancel or daemon-level trouble ends the whole attempt;
				// the candidates are fine.
				d.fail(ctx, dl, err)

				return err
			}

			logger.Warn("candidate failed",
				"peer", candidate.Peer,
				"path", candidate.Path,
				"err", err)

			d.blockCandidate(ctx, candidate, err)

			dl.CandidateFailures++
			lastErr = err

			continue
		}

		dl.StagedPath = localPath

		return d.verify(ctx, dl)
	}

	if lastErr == nil {
		lastErr = &provider.NoResultsError{Terms: dl.Track.Artist + " " + dl.Track.Title}
	}

	d.fail(ctx, dl, lastErr)

	return lastErr
}

// verify runs the staged file through the import pipeline and finalizes the
// record either way.
func (d *Dispatcher) verify(ctx context.Context, dl *download.Download) error {
	logger := logctx.LoggerFromContext(ctx)

	dl.State = download.StateVerifying

	if err := d.repo.UpdateDownload(ctx, dl); err != nil {
		logger.Error("failed to persist verifying state", "err", err)
	}

	result, err := d.pipeline.Process(ctx, dl.StagedPath, dl.Track)
	if err != nil {
		d.fail(ctx, dl, err)

		return err
	}

	d.complete(ctx, dl, result)

	return nil
}

// transfer starts the candidate's download and polls until it finishes,
// fails, stalls past the deadline, or a cancel arrives.
func (d *Dispatcher) transfer(ctx context.Context, dl *download.Download, candidate provider.Candidate) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("peer", candidate.Peer)

	handle, err := d.gateway.StartTransfer(ctx, candidate)
	if err != nil {
		return "", err
	}

	logger.Debug("transfer started", "transfer_id", handle.ID)

	deadline := time.Now().Add(d.opts.TransferTimeout)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.abortTransfer(handle)

			return "", ctx.Err()
		case <-ticker.C:
		}

		if d.cancelRequested(ctx, dl) {
			d.abortTransfer(handle)

			return "", context.Canceled
		}

		if time.Now().After(deadline) {
			d.abortTransfer(handle)

			return "", &provider.TransferRejectedError{
				Peer:   candidate.Peer,
				Path:   candidate.Path,
				Reason: fmt.Sprintf("stalled, no completion within %s", d.opts.TransferTimeout),
			}
		}

		status, err := d.gateway.PollTransfer(ctx, handle)
		if err != nil {
			return "", err
		}

		switch status.State {
		case provider.TransferCompleted:
			return status.LocalPath, nil
		case provider.TransferFailed:
			return "", &provider.TransferRejectedError{
				Peer:   candidate.Peer,
				Path:   candidate.Path,
				Reason: status.FailReason,
			}
		default:
			logger.Debug("transfer progress", "percent", status.Progress)
		}
	}
}

func (d *Dispatcher) blockCandidate(ctx context.Context, candidate provider.Candidate, cause error) {
	logger := logctx.LoggerFromContext(ctx)

	entry := blocklist.Entry{
		Scope:  blocklist.ScopePeerPath,
		Peer:   candidate.Peer,
		Path:   candidate.Path,
		Reason: cause.Error(),
	}
	if d.opts.BlocklistTTL > 0 {
		entry.ExpiresAt = time.Now().Add(d.opts.BlocklistTTL)
	}

	if err := d.blocklist.Add(ctx, entry); err != nil {
		logger.Error("failed to blocklist candidate", "peer", candidate.Peer, "err", err)
	}
}

func (d *Dispatcher) complete(ctx context.Context, dl *download.Download, result *library.Result) {
	logger := logctx.LoggerFromContext(ctx)

	dl.State = download.StateCompleted
	dl.ImportedPath = result.Path
	dl.StagedPath = ""
	dl.LastError = nil
	dl.NextAttemptAt = nil

	if err := d.repo.UpdateDownload(ctx, dl); err != nil {
		logger.Error("failed to persist completed state", "err", err)
	}

	if err := d.index.MarkSatisfied(ctx, dl.LogicalTrackID); err != nil {
		logger.Error("failed to mark track satisfied", "err", err)
	}

	status := "imported"
	if result.Duplicate {
		status = "duplicate"
	}

	d.telemetry.RecordImport(status)

	logger.Info("download completed", "path", result.Path, "duplicate", result.Duplicate)

	d.OnCompleted <- dl
}

// fail classifies the error and either schedules a retry or finalizes the
// record. The attempt was already counted at claim time.
func (d *Dispatcher) fail(ctx context.Context, dl *download.Download, cause error) {
	logger := logctx.LoggerFromContext(ctx)

	kind := retry.Classify(cause)
	if kind == download.KindCancelled {
		// Two things surface as a cancel: the user's request and process
		// shutdown. Only the former finalizes the record. A shutdown leaves
		// it in its active state, where startup recovery re-queues it with
		// the attempt refunded.
		base := context.WithoutCancel(ctx)
		if d.cancelRequested(base, dl) {
			d.finalizeCancel(base, dl)

			return
		}

		logger.Info("attempt interrupted by shutdown, leaving record for startup recovery")

		return
	}

	dl.LastError = &download.Failure{Kind: kind, Message: cause.Error()}

	if kind == download.KindNotYetStable {
		// The writer just needs more time. Give the attempt back and keep
		// the staged file so the next attempt re-enters verification
		// instead of searching again.
		dl.AttemptCount--
	} else {
		dl.SelectedSource = nil
		dl.StagedPath = ""
	}

	if !kind.Retryable() || dl.AttemptCount >= d.scheduler.MaxAttempts() {
		dl.State = download.StateFailed
		dl.NextAttemptAt = nil

		if err := d.repo.UpdateDownload(ctx, dl); err != nil {
			logger.Error("failed to persist failed state", "err", err)
		}

		logger.Error("download failed permanently",
			"kind", kind,
			"attempts", dl.AttemptCount,
			"err", cause)

		d.OnFailed <- dl

		return
	}

	next := d.scheduler.Schedule(dl.AttemptCount, kind, time.Now())
	dl.State = download.StateRetryScheduled
	dl.NextAttemptAt = &next

	if err := d.repo.UpdateDownload(ctx, dl); err != nil {
		logger.Error("failed to persist retry state", "err", err)
	}

	logger.Warn("retry scheduled",
		"kind", kind,
		"attempt", dl.AttemptCount,
		"next_attempt_at", next)
}

func (d *Dispatcher) finalizeCancel(ctx context.Context, dl *download.Download) {
	logger := logctx.LoggerFromContext(ctx)

	dl.State = download.StateCancelled
	dl.NextAttemptAt = nil
	dl.SelectedSource = nil
	dl.StagedPath = ""

	// The cancel must be recorded even when it rode in on a dying context.
	if err := d.repo.UpdateDownload(context.WithoutCancel(ctx), dl); err != nil {
		logger.Error("failed to persist cancelled state", "err", err)
	}

	logger.Info("download cancelled")
}

func (d *Dispatcher) cancelRequested(ctx context.Context, dl *download.Download) bool {
	requested, err := d.repo.CancelRequested(ctx, dl.ID)
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to check cancel flag", "err", err)

		return false
	}

	return requested
}

// abortTransfer tells the provider to stop a transfer we no longer want.
// Best effort: the claim on the record is what actually matters.
func (d *Dispatcher) abortTransfer(handle provider.TransferHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = d.gateway.CancelTransfer(ctx, handle)
}
