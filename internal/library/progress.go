package library

import "io"

// progressReader wraps an io.Reader and reports cumulative bytes through a
// callback every reportInterval bytes. Used on the cross-filesystem copy
// fallback, where moves can take minutes.
type progressReader struct {
	reader         io.Reader
	total          int64
	onProgress     func(copied int64, total int64)
	copied         int64
	sinceReport    int64
	reportInterval int64
}

func newProgressReader(r io.Reader, total int64, interval int64, cb func(copied int64, total int64)) *progressReader {
	return &progressReader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.copied += int64(n)
		pr.sinceReport += int64(n)

		if pr.sinceReport >= pr.reportInterval {
			pr.onProgress(pr.copied, pr.total)
			pr.sinceReport = 0
		}
	}

	return n, err
}
