// Package slskd implements the search gateway against a slskd daemon, the
// HTTP front of the Soulseek network.
package slskd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soundhoard/soundhoard/internal/logctx"
	"github.com/soundhoard/soundhoard/internal/provider"
)

// stablePollLimit is how many consecutive polls with an unchanged response
// count we treat as "the network has answered"; slskd searches have no hard
// completion signal while peers trickle in.
const stablePollLimit = 3

const searchPollInterval = 2 * time.Second

type Client struct {
	baseURL      string
	apiKey       string
	downloadDir  string
	httpClient   *http.Client
	pollInterval time.Duration
}

func NewClient(baseURL, apiKey, downloadDir string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		downloadDir:  downloadDir,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: searchPollInterval,
	}
}

// Search starts a slskd search, polls until the response count settles or
// the daemon reports completion, collects the responses, and converts them
// to candidates. The context deadline bounds the whole cycle.
func (c *Client) Search(ctx context.Context, query provider.Query) ([]provider.Candidate, error) {
	logger := logctx.LoggerFromContext(ctx).With("terms", query.Terms())

	searchID := uuid.New().String()

	payload := map[string]interface{}{
		"id":         searchID,
		"searchText": query.Terms(),
	}

	if err := c.do(ctx, http.MethodPost, "/api/v0/searches", payload, nil); err != nil {
		return nil, wrapf(err, "search")
	}

	// Best effort: stop the server-side search when we are done with it.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = c.do(cleanupCtx, http.MethodDelete, "/api/v0/searches/"+searchID, nil, nil)
	}()

	if err := c.awaitSearch(ctx, searchID); err != nil {
		return nil, err
	}

	// A wait ended by the deadline still produced partial results. Collecting
	// them is one local daemon call, so it gets its own short budget instead
	// of failing on the already-expired context.
	collectCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc

		collectCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}

	var responses []searchResponse
	if err := c.do(collectCtx, http.MethodGet, "/api/v0/searches/"+searchID+"/responses", nil, &responses); err != nil {
		return nil, wrapf(err, "collect_responses")
	}

	candidates := candidatesFromResponses(responses)

	logger.Debug("search finished", "responses", len(responses), "candidates", len(candidates))

	if len(candidates) == 0 {
		return nil, &provider.NoResultsError{Terms: query.Terms()}
	}

	return candidates, nil
}

// StartTransfer enqueues the candidate's file for download and locates the
// resulting transfer id.
func (c *Client) StartTransfer(ctx context.Context, candidate provider.Candidate) (provider.TransferHandle, error) {
	payload := []map[string]interface{}{
		{"filename": candidate.Path, "size": candidate.Size},
	}

	endpoint := "/api/v0/transfers/downloads/" + url.PathEscape(candidate.Peer)

	if err := c.do(ctx, http.MethodPost, endpoint, payload, nil); err != nil {
		return provider.TransferHandle{}, wrapf(err, "start_transfer")
	}

	var queued []downloadEntry
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &queued); err != nil {
		return provider.TransferHandle{}, wrapf(err, "locate_transfer")
	}

	for _, entry := range queued {
		if entry.Filename == candidate.Path {
			return provider.TransferHandle{
				ID:   entry.ID,
				Peer: candidate.Peer,
				Path: candidate.Path,
			}, nil
		}
	}

	return provider.TransferHandle{}, &provider.TransferRejectedError{
		Peer:   candidate.Peer,
		Path:   candidate.Path,
		Reason: "transfer not queued by daemon",
	}
}

// PollTransfer reports the transfer's current state. Peer-side failures are
// reported in the status, not as an error; errors mean the daemon itself
// could not be asked.
func (c *Client) PollTransfer(ctx context.Context, handle provider.TransferHandle) (provider.TransferStatus, error) {
	endpoint := "/api/v0/transfers/downloads/" + url.PathEscape(handle.Peer) + "/" + url.PathEscape(handle.ID)

	var entry downloadEntry
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &entry); err != nil {
		return provider.TransferStatus{}, wrapf(err, "poll_transfer")
	}

	return c.statusFromEntry(entry), nil
}

// CancelTransfer asks the daemon to abort the transfer.
func (c *Client) CancelTransfer(ctx context.Context, handle provider.TransferHandle) error {
	endpoint := "/api/v0/transfers/downloads/" + url.PathEscape(handle.Peer) + "/" + url.PathEscape(handle.ID)

	if err := c.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return wrapf(err, "cancel_transfer")
	}

	return nil
}

func (c *Client) awaitSearch(ctx context.Context, searchID string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	lastCount := -1
	stable := 0

	for {
		select {
		case <-ctx.Done():
			// Deadline elapsed; whatever arrived so far is the result set.
			return nil
		case <-ticker.C:
		}

		var state searchState
		if err := c.do(ctx, http.MethodGet, "/api/v0/searches/"+searchID, nil, &state); err != nil {
			// The deadline can land between the tick and the poll; that is
			// still a settled search, not a failure.
			if ctx.Err() != nil {
				return nil
			}

			return wrapf(err, "poll_search")
		}

		if strings.Contains(state.State, "Completed") {
			return nil
		}

		if state.ResponseCount == lastCount && state.ResponseCount > 0 {
			stable++
			if stable >= stablePollLimit {
				return nil
			}
		} else {
			stable = 0
		}

		lastCount = state.ResponseCount
	}
}

func (c *Client) statusFromEntry(entry downloadEntry) provider.TransferStatus {
	status := provider.TransferStatus{Progress: entry.PercentComplete}

	switch {
	case strings.HasPrefix(entry.State, "Completed, Succeeded"):
		status.State = provider.TransferCompleted
		status.Progress = 100
		status.LocalPath = c.localPathFor(entry.Filename)
	case strings.HasPrefix(entry.State, "Completed"):
		// Errored, Cancelled, TimedOut, Rejected: the peer is done with us.
		status.State = provider.TransferFailed
		status.FailReason = entry.State
	case strings.Contains(entry.State, "InProgress"):
		status.State = provider.TransferInProgress
	default:
		status.State = provider.TransferQueued
	}

	return status
}

// localPathFor mirrors slskd's layout: finished files land under the
// downloads dir in a folder named after the remote parent directory.
func (c *Client) localPathFor(remotePath string) string {
	normalized := strings.ReplaceAll(remotePath, "\\", "/")
	dir := path.Base(path.Dir(normalized))
	if dir == "." || dir == "/" {
		return path.Join(c.downloadDir, path.Base(normalized))
	}

	return path.Join(c.downloadDir, dir, path.Base(normalized))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("X-API-Key", c.apiKey)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &provider.UnreachableError{Operation: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &provider.AuthError{Operation: endpoint}
	case resp.StatusCode >= 500:
		return &provider.UnreachableError{
			Operation: endpoint,
			Err:       fmt.Errorf("daemon returned HTTP %d", resp.StatusCode),
		}
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("request to %s failed with HTTP %d: %s", endpoint, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}

	return nil
}

func wrapf(err error, operation string) error {
	var (
		unreachable *provider.UnreachableError
		auth        *provider.AuthError
	)

	// Typed errors pass through untouched so classification still works.
	if errors.As(err, &unreachable) || errors.As(err, &auth) {
		return err
	}

	return fmt.Errorf("%s: %w", operation, err)
}
