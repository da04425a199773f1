package library

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/soundhoard/soundhoard/internal/logctx"
)

const dirPerm = 0755

// copyProgressInterval is how many bytes pass between progress log lines on
// the copy fallback.
const copyProgressInterval = int64(50 * 1024 * 1024)

// placeFile moves src to dst atomically. A same-filesystem rename is tried
// first; on failure the file is copied to a temporary sibling of dst,
// size-verified, renamed into place, and only then is src removed. At no
// point can a partial destination coexist with a deleted source.
func placeFile(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	// Rename failed, most likely EXDEV. Fall back to copy-then-delete.
	if err := copyVerified(ctx, src, dst); err != nil {
		return err
	}

	if err := os.Remove(src); err != nil {
		// The destination is complete; a leftover source is only wasted
		// space, not corruption.
		logctx.LoggerFromContext(ctx).Warn("failed to remove source after copy", "src", src, "err", err)
	}

	return nil
}

func copyVerified(ctx context.Context, src, dst string) error {
	logger := logctx.LoggerFromContext(ctx)

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	tmp := dst + ".partial"

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	logger.Info("copying across filesystems", "dst", dst, "size", humanize.Bytes(uint64(info.Size())))

	pr := newProgressReader(in, info.Size(), copyProgressInterval, func(copied, total int64) {
		logger.Debug("copy progress",
			"dst", dst,
			"copied", humanize.Bytes(uint64(copied)),
			"total", humanize.Bytes(uint64(total)))
	})

	written, err := io.Copy(out, pr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to copy file: %w", err)
	}

	if written != info.Size() {
		_ = os.Remove(tmp)

		return fmt.Errorf("copy size mismatch: wrote %d of %d bytes", written, info.Size())
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to finalize copy: %w", err)
	}

	return nil
}
