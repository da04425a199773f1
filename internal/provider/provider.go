package provider

import (
	"context"
	"strings"
)

// Candidate is a single remote file discovered by a search. Candidates are
// ephemeral: they live for the duration of one search attempt and are never
// persisted.
type Candidate struct {
	Peer     string
	Path     string
	Filename string
	Size     int64
	BitRate  int  // kbps as reported by the peer, 0 when unknown
	Lossless bool // reported by some peers independently of the extension
}

// Extension returns the lowercased filename extension without the dot.
func (c Candidate) Extension() string {
	idx := strings.LastIndex(c.Filename, ".")
	if idx < 0 || idx == len(c.Filename)-1 {
		return ""
	}

	return strings.ToLower(c.Filename[idx+1:])
}

// TransferHandle identifies an in-flight transfer at the provider.
type TransferHandle struct {
	ID   string
	Peer string
	Path string
}

// TransferState is the provider-side lifecycle of a transfer.
type TransferState string

const (
	TransferQueued     TransferState = "queued"
	TransferInProgress TransferState = "in_progress"
	TransferCompleted  TransferState = "completed"
	TransferFailed     TransferState = "failed"
)

// TransferStatus is a snapshot from one PollTransfer call.
type TransferStatus struct {
	State      TransferState
	Progress   float64
	LocalPath  string // set once State is TransferCompleted
	FailReason string
}

// Query carries the normalized search terms for one wanted track.
type Query struct {
	Artist string
	Title  string
	Album  string
}

func (q Query) Terms() string {
	parts := make([]string, 0, 2)
	if q.Artist != "" {
		parts = append(parts, q.Artist)
	}

	if q.Title != "" {
		parts = append(parts, q.Title)
	}

	return strings.Join(parts, " ")
}

// SearchGateway abstracts the peer file-sharing network. Implementations must
// map raw provider payloads to Candidate at their own boundary; raw payloads
// never cross this interface.
type SearchGateway interface {
	Search(ctx context.Context, query Query) ([]Candidate, error)
	StartTransfer(ctx context.Context, candidate Candidate) (TransferHandle, error)
	PollTransfer(ctx context.Context, handle TransferHandle) (TransferStatus, error)
	CancelTransfer(ctx context.Context, handle TransferHandle) error
}
