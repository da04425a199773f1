package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/soundhoard/soundhoard/internal/download"
	"github.com/soundhoard/soundhoard/internal/library"
	"github.com/soundhoard/soundhoard/internal/provider"
)

// Options configures backoff behavior and the attempt budget.
//
// BaseDelay is the initial backoff duration and MaxDelay is a hard ceiling
// on each jittered delay. NoResultsMultiplier stretches the curve for
// candidate-exhausted failures, where waiting longer is the whole point: the
// file may simply not be shared yet.
type Options struct {
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	NoResultsMultiplier int
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}

	if o.BaseDelay <= 0 {
		o.BaseDelay = 30 * time.Second
	}

	if o.MaxDelay <= 0 {
		o.MaxDelay = 6 * time.Hour
	}

	if o.NoResultsMultiplier <= 0 {
		o.NoResultsMultiplier = 6
	}

	return o
}

// Store surfaces scheduled retries. ReleaseDue must atomically flip each due
// record back to waiting so a record is never surfaced twice for the same
// elapsed due time.
type Store interface {
	ReleaseDue(ctx context.Context, now time.Time) ([]string, error)
}

// Scheduler decides when a failed download gets its next attempt.
type Scheduler struct {
	opts  Options
	store Store
}

func NewScheduler(opts Options, store Store) *Scheduler {
	return &Scheduler{opts: opts.withDefaults(), store: store}
}

// MaxAttempts returns the configured attempt budget.
func (s *Scheduler) MaxAttempts() int {
	return s.opts.MaxAttempts
}

// Delay computes the backoff for the given attempt count:
// baseDelay * 2^attempt plus up to 25% jitter, never exceeding maxDelay. The
// candidate-exhausted kind uses a stretched base. A file still being written
// by its peer needs a re-poll, not backoff, so that kind gets a flat base
// delay.
func (s *Scheduler) Delay(attempt int, kind download.ErrorKind) time.Duration {
	if kind == download.KindNotYetStable {
		return s.opts.BaseDelay
	}

	base := s.opts.BaseDelay
	if kind == download.KindNoResults {
		base *= time.Duration(s.opts.NoResultsMultiplier)
	}

	if attempt > 62 {
		attempt = 62 // avoid shift overflow; the cap applies long before this
	}

	d := base << uint(attempt)
	if d <= 0 || d > s.opts.MaxDelay {
		d = s.opts.MaxDelay
	}

	d += time.Duration(rand.Int63n(int64(d/4 + 1)))
	if d > s.opts.MaxDelay {
		d = s.opts.MaxDelay
	}

	return d
}

// Schedule computes the next attempt time for a failed download.
func (s *Scheduler) Schedule(attempt int, kind download.ErrorKind, now time.Time) time.Time {
	return now.Add(s.Delay(attempt, kind))
}

// DueForRetry returns downloads whose retry time has elapsed, flipping each
// back to waiting exactly once.
func (s *Scheduler) DueForRetry(ctx context.Context, now time.Time) ([]string, error) {
	return s.store.ReleaseDue(ctx, now)
}

// Classify maps an error from the provider or the import pipeline onto the
// download error taxonomy. Unknown errors are treated as transient network
// failures, the cheapest wrong answer.
func Classify(err error) download.ErrorKind {
	switch {
	case err == nil:
		return download.KindNone
	case errors.Is(err, context.Canceled):
		return download.KindCancelled
	case errors.Is(err, library.ErrStillTransferring):
		return download.KindNotYetStable
	default:
	}

	var (
		unreachable *provider.UnreachableError
		noResults   *provider.NoResultsError
		rejected    *provider.TransferRejectedError
		auth        *provider.AuthError
		verify      *library.VerifyError
	)

	switch {
	case errors.As(err, &auth):
		return download.KindAuth
	case errors.As(err, &noResults):
		return download.KindNoResults
	case errors.As(err, &rejected):
		return download.KindSourceBad
	case errors.As(err, &verify):
		return download.KindCorruptFile
	case errors.As(err, &unreachable):
		return download.KindNetwork
	default:
		return download.KindNetwork
	}
}
