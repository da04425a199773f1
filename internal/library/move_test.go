package library

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceFile_CreatesDestinationTree(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.flac")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	dst := filepath.Join(t.TempDir(), "Artist", "Album", "track.flac")

	require.NoError(t, placeFile(context.Background(), src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestCopyVerified(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.flac")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("x"), 4096), 0644))

	dst := filepath.Join(t.TempDir(), "dst.flac")

	require.NoError(t, copyVerified(context.Background(), src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, info.Size())

	// No partial file is left behind.
	_, err = os.Stat(dst + ".partial")
	assert.True(t, os.IsNotExist(err))
}

func TestCopyVerified_MissingSource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dst.flac")

	err := copyVerified(context.Background(), filepath.Join(t.TempDir(), "gone.flac"), dst)
	require.Error(t, err)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProgressReader_ReportsAtInterval(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1000)

	var reports []int64

	pr := newProgressReader(bytes.NewReader(payload), 1000, 300, func(copied, total int64) {
		assert.EqualValues(t, 1000, total)
		reports = append(reports, copied)
	})

	buf := make([]byte, 100)

	for {
		if _, err := pr.Read(buf); err != nil {
			break
		}
	}

	// 1000 bytes in 100-byte reads with a 300-byte interval reports at 300,
	// 600, and 900.
	assert.Equal(t, []int64{300, 600, 900}, reports)
}
