package provider

import "fmt"

// UnreachableError represents a provider that could not be contacted at all:
// connection refused, DNS failure, timeouts, or 5xx responses. It is distinct
// from NoResultsError so the dispatcher can apply a shorter backoff curve.
type UnreachableError struct {
	Operation string // The operation that failed (e.g., "search", "start_transfer")
	Err       error  // Underlying error, if any
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("provider unreachable during %s: %v", e.Operation, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// NoResultsError represents a search that completed normally but produced no
// candidates. The network was healthy; the file simply was not offered.
type NoResultsError struct {
	Terms string // The search terms that produced nothing
}

func (e *NoResultsError) Error() string {
	return fmt.Sprintf("no results for %q", e.Terms)
}

// TransferRejectedError represents a specific peer refusing or aborting a
// transfer: disconnect mid-transfer, queue rejection, or a vanished file.
// The candidate is bad, not the whole attempt.
type TransferRejectedError struct {
	Peer   string
	Path   string
	Reason string
}

func (e *TransferRejectedError) Error() string {
	return fmt.Sprintf("transfer rejected by %s for %s: %s", e.Peer, e.Path, e.Reason)
}

// AuthError represents authentication failures against the provider daemon,
// 401 or 403 responses. These are terminal for the engine: retrying cannot
// help until the operator fixes credentials.
type AuthError struct {
	Operation string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
