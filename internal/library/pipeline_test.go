package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundhoard/soundhoard/internal/catalog"
)

const testTemplate = "{artist}/{album}/{artist} - {title}"

func testRef() catalog.TrackRef {
	return catalog.TrackRef{Artist: "Portishead", Album: "Dummy", Title: "Roads"}
}

func writeStaged(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	// Move the mtime into the past so the first settle round already sees a
	// quiet file.
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	return path
}

func TestProcess_ImportsIntoLibraryTree(t *testing.T) {
	staging := t.TempDir()
	libraryDir := t.TempDir()

	p := NewPipeline(libraryDir, testTemplate, time.Millisecond, 2, nil, nil)

	src := writeStaged(t, staging, "roads.flac", "flac bytes")

	result, err := p.Process(context.Background(), src, testRef())
	require.NoError(t, err)

	want := filepath.Join(libraryDir, "Portishead", "Dummy", "Portishead - Roads.flac")
	assert.Equal(t, want, result.Path)
	assert.False(t, result.Duplicate)

	content, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "flac bytes", string(content))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source must be gone after import")
}

func TestProcess_EmptyFileFailsVerification(t *testing.T) {
	staging := t.TempDir()
	p := NewPipeline(t.TempDir(), testTemplate, time.Millisecond, 2, nil, nil)

	src := writeStaged(t, staging, "roads.flac", "")

	_, err := p.Process(context.Background(), src, testRef())

	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "empty")
}

func TestProcess_MissingFileFailsVerification(t *testing.T) {
	p := NewPipeline(t.TempDir(), testTemplate, time.Millisecond, 2, nil, nil)

	_, err := p.Process(context.Background(), filepath.Join(t.TempDir(), "gone.flac"), testRef())

	var verr *VerifyError
	require.ErrorAs(t, err, &verr)
}

func TestProcess_ExistingDestinationIsDuplicate(t *testing.T) {
	staging := t.TempDir()
	libraryDir := t.TempDir()

	p := NewPipeline(libraryDir, testTemplate, time.Millisecond, 2, nil, nil)

	dst := filepath.Join(libraryDir, "Portishead", "Dummy", "Portishead - Roads.flac")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
	require.NoError(t, os.WriteFile(dst, []byte("already here"), 0644))

	src := writeStaged(t, staging, "roads.flac", "fresh copy")

	result, err := p.Process(context.Background(), src, testRef())
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, dst, result.Path)

	// The library copy is untouched and the fresh one is discarded.
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(content))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestProcess_ActivelyWrittenFileIsStillTransferring(t *testing.T) {
	staging := t.TempDir()
	p := NewPipeline(t.TempDir(), testTemplate, 20*time.Millisecond, 3, nil, nil)

	src := writeStaged(t, staging, "roads.flac", "partial")

	// Keep bumping the mtime so no settle round ever sees a quiet file.
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		next := time.Now()

		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				next = next.Add(time.Second)
				_ = os.Chtimes(src, next, next)
			}
		}
	}()

	_, err := p.Process(context.Background(), src, testRef())
	assert.True(t, errors.Is(err, ErrStillTransferring))
}

func TestProcess_ContextCancelDuringSettle(t *testing.T) {
	staging := t.TempDir()
	p := NewPipeline(t.TempDir(), testTemplate, time.Minute, 2, nil, nil)

	src := writeStaged(t, staging, "roads.flac", "bytes")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, src, testRef())
	assert.True(t, errors.Is(err, context.Canceled))
}

type failingEnricher struct{}

func (failingEnricher) Enrich(context.Context, string, catalog.TrackRef) error {
	return errors.New("tag service down")
}

func TestProcess_EnricherFailureDoesNotBlockImport(t *testing.T) {
	staging := t.TempDir()
	libraryDir := t.TempDir()

	p := NewPipeline(libraryDir, testTemplate, time.Millisecond, 2, failingEnricher{}, nil)

	src := writeStaged(t, staging, "roads.flac", "flac bytes")

	result, err := p.Process(context.Background(), src, testRef())
	require.NoError(t, err)
	assert.FileExists(t, result.Path)
}

type staticArtwork struct{ img []byte }

func (s staticArtwork) FetchArtwork(context.Context, catalog.TrackRef) ([]byte, error) {
	return s.img, nil
}

func TestProcess_SavesArtworkNextToTrack(t *testing.T) {
	staging := t.TempDir()
	libraryDir := t.TempDir()

	p := NewPipeline(libraryDir, testTemplate, time.Millisecond, 2, nil, staticArtwork{img: []byte("jpeg")})

	src := writeStaged(t, staging, "roads.flac", "flac bytes")

	result, err := p.Process(context.Background(), src, testRef())
	require.NoError(t, err)

	cover := filepath.Join(filepath.Dir(result.Path), "cover.jpg")
	content, err := os.ReadFile(cover)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(content))
}
