package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/soundhoard/soundhoard/internal/catalog"
	"github.com/soundhoard/soundhoard/internal/logctx"
)

// MetadataEnricher writes tags onto a finished file. Implementations live
// outside this engine; the pipeline tolerates absence and failure, importing
// with whatever tags already exist.
type MetadataEnricher interface {
	Enrich(ctx context.Context, filePath string, ref catalog.TrackRef) error
}

// ArtworkProvider fetches cover art for the track's album. Optional.
type ArtworkProvider interface {
	FetchArtwork(ctx context.Context, ref catalog.TrackRef) ([]byte, error)
}

// Result reports where a file landed.
type Result struct {
	Path      string
	Duplicate bool // the library already held this file; the source was discarded
}

// Pipeline turns a completed transfer into an organized library file.
type Pipeline struct {
	libraryDir     string
	template       string
	settleDuration time.Duration
	maxSettleWaits int
	enricher       MetadataEnricher
	artwork        ArtworkProvider
}

func NewPipeline(
	libraryDir string,
	template string,
	settleDuration time.Duration,
	maxSettleWaits int,
	enricher MetadataEnricher,
	artwork ArtworkProvider,
) *Pipeline {
	if settleDuration <= 0 {
		settleDuration = 10 * time.Second
	}

	if maxSettleWaits <= 0 {
		maxSettleWaits = 6
	}

	return &Pipeline{
		libraryDir:     libraryDir,
		template:       template,
		settleDuration: settleDuration,
		maxSettleWaits: maxSettleWaits,
		enricher:       enricher,
		artwork:        artwork,
	}
}

// Process verifies the finished transfer, enriches it, and moves it into the
// library tree. Returns ErrStillTransferring when the file has not settled
// yet and a VerifyError when it is unusable.
func (p *Pipeline) Process(ctx context.Context, transferPath string, ref catalog.TrackRef) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx).With("file", transferPath)

	if err := p.waitStable(ctx, transferPath); err != nil {
		return nil, err
	}

	info, err := os.Stat(transferPath)
	if err != nil {
		return nil, &VerifyError{Path: transferPath, Reason: fmt.Sprintf("stat failed: %v", err)}
	}

	if info.Size() == 0 {
		return nil, &VerifyError{Path: transferPath, Reason: "file is empty"}
	}

	if p.enricher != nil {
		if err := p.enricher.Enrich(ctx, transferPath, ref); err != nil {
			logger.Warn("tag enrichment failed, importing as-is", "err", err)
		}
	}

	dst := filepath.Join(p.libraryDir, RenderPath(p.template, ref)+filepath.Ext(transferPath))

	if _, err := os.Stat(dst); err == nil {
		// The wanted file already exists in the library. Drop the fresh copy
		// and report success.
		if err := os.Remove(transferPath); err != nil {
			logger.Warn("failed to remove duplicate source", "err", err)
		}

		logger.Info("destination already exists, treated as duplicate", "dst", dst)

		return &Result{Path: dst, Duplicate: true}, nil
	}

	if err := placeFile(ctx, transferPath, dst); err != nil {
		return nil, fmt.Errorf("failed to place file: %w", err)
	}

	p.saveArtwork(ctx, dst, ref)

	logger.Info("imported file", "dst", dst)

	return &Result{Path: dst}, nil
}

// waitStable confirms the writer has finished by watching the modification
// time across settle windows. A file that keeps changing for every round is
// reported as still transferring, which is not a verification failure.
func (p *Pipeline) waitStable(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &VerifyError{Path: path, Reason: fmt.Sprintf("stat failed: %v", err)}
	}

	lastMod := info.ModTime()

	for round := 0; round < p.maxSettleWaits; round++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.settleDuration):
		}

		info, err := os.Stat(path)
		if err != nil {
			return &VerifyError{Path: path, Reason: fmt.Sprintf("stat failed: %v", err)}
		}

		if info.ModTime().Equal(lastMod) {
			return nil
		}

		lastMod = info.ModTime()
	}

	return ErrStillTransferring
}

func (p *Pipeline) saveArtwork(ctx context.Context, trackPath string, ref catalog.TrackRef) {
	if p.artwork == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	coverPath := filepath.Join(filepath.Dir(trackPath), "cover.jpg")
	if _, err := os.Stat(coverPath); err == nil {
		return
	}

	img, err := p.artwork.FetchArtwork(ctx, ref)
	if err != nil || len(img) == 0 {
		logger.Debug("no artwork available", "err", err)

		return
	}

	if err := os.WriteFile(coverPath, img, 0644); err != nil {
		logger.Warn("failed to write artwork", "path", coverPath, "err", err)
	}
}
