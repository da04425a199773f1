package library

import (
	"errors"
	"fmt"
)

// ErrStillTransferring means the file's modification time kept changing for
// the whole settle budget. The writer has not finished; the caller should
// re-poll later rather than count a failed attempt.
var ErrStillTransferring = errors.New("file is still being written")

// VerifyError represents a completed transfer whose file failed verification:
// missing, empty, or otherwise unusable. Re-downloading is cheap, so callers
// treat this as a normal retryable failure.
type VerifyError struct {
	Path   string
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verification failed for %s: %s", e.Path, e.Reason)
}
