package download

import (
	"time"

	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/quality"
)

// State is the persistent lifecycle of a Download.
type State string

const (
	StateWaiting        State = "waiting"
	StateSearching      State = "searching"
	StateTransferring   State = "transferring"
	StateVerifying      State = "verifying"
	StateRetryScheduled State = "retry_scheduled"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Active reports whether a worker currently owns the record.
func (s State) Active() bool {
	return s == StateSearching || s == StateTransferring || s == StateVerifying
}

var transitions = map[State][]State{
	StateWaiting:        {StateSearching, StateCancelled},
	StateSearching:      {StateTransferring, StateRetryScheduled, StateFailed, StateCancelled},
	StateTransferring:   {StateVerifying, StateSearching, StateRetryScheduled, StateFailed, StateCancelled},
	StateVerifying:      {StateCompleted, StateRetryScheduled, StateFailed, StateCancelled},
	StateRetryScheduled: {StateWaiting, StateFailed, StateCancelled},
}

// CanTransitionTo reports whether the state machine admits s -> next.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// ErrorKind classifies a failure for retry policy and operator diagnosis.
type ErrorKind string

const (
	KindNone         ErrorKind = ""
	KindNetwork      ErrorKind = "network"             // provider unreachable, transfer stalled
	KindNoResults    ErrorKind = "candidate-exhausted" // no qualifying candidate this attempt
	KindSourceBad    ErrorKind = "source-bad"          // one candidate failed mid-transfer
	KindCorruptFile  ErrorKind = "corrupt-file"        // post-transfer verification failed
	KindNotYetStable ErrorKind = "not-yet-stable"      // file still being written, re-poll
	KindAuth         ErrorKind = "auth"                // provider credentials rejected
	KindCancelled    ErrorKind = "cancelled"
)

// Retryable reports whether the kind goes back through the retry scheduler.
// Auth failures and explicit cancels bypass retry entirely.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindNoResults, KindCorruptFile, KindNotYetStable, KindSourceBad:
		return true
	default:
		return false
	}
}

// Failure is the last recorded failure on a Download.
type Failure struct {
	Kind    ErrorKind
	Message string
}

// SourceRef identifies the candidate currently being transferred.
type SourceRef struct {
	Peer string
	Path string
}

// Download is one request to acquire one track. It is mutated exclusively by
// the dispatcher and the post-processing pipeline; terminal records survive
// until an explicit purge.
type Download struct {
	ID             string
	Track          catalog.TrackRef
	LogicalTrackID string
	Priority       int // lower is more urgent, FIFO within a priority
	Constraint     quality.Constraint

	State  State
	Paused bool // only meaningful in waiting / retry_scheduled

	AttemptCount  int
	MaxAttempts   int
	NextAttemptAt *time.Time
	LastError     *Failure

	SelectedSource    *SourceRef
	CandidateFailures int // per-attempt bad-candidate count, reset on each search

	// StagedPath is the transferred file awaiting verification. It survives a
	// not-yet-stable retry so the next attempt re-enters verification instead
	// of searching again.
	StagedPath string

	ImportedPath string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Filter narrows queue listings.
type Filter struct {
	States   []State
	Terminal *bool
	Limit    int
}
