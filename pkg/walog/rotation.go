package walog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// archiveDirName is the sibling directory rotated-out segments are
// compressed into when keep_logical_logs is set, so a slow follower
// can still be served via extract(from_tx_id).
const archiveDirName = "nioneo_logical.log.archive"

// archiveSegment zstd-compresses a rotated-out segment file into the
// archive directory and removes the uncompressed original. The archive
// name starts with a zero-padded timestamp, so name order is archive
// order.
func archiveSegment(segmentPath, logDir string) error {
	archiveDir := filepath.Join(logDir, archiveDirName)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("walog: mkdir archive dir: %w", err)
	}

	src, err := os.Open(segmentPath)
	if err != nil {
		return fmt.Errorf("walog: open segment for archive: %w", err)
	}
	defer src.Close()

	destPath := filepath.Join(archiveDir, fmt.Sprintf("%020d.%s.zst", time.Now().UnixNano(), filepath.Base(segmentPath)))
	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("walog: create archive file: %w", err)
	}
	defer dest.Close()

	enc, err := zstd.NewWriter(dest)
	if err != nil {
		return fmt.Errorf("walog: new zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return fmt.Errorf("walog: compress segment: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("walog: close zstd writer: %w", err)
	}

	return os.Remove(segmentPath)
}

// ListArchivedSegments returns the archived segment paths under dir,
// oldest first (os.ReadDir returns them sorted by name), for
// SegmentPaths to put ahead of the two active alternating segments.
func ListArchivedSegments(dir string) ([]string, error) {
	archiveDir := filepath.Join(dir, archiveDirName)
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("walog: list archive dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, filepath.Join(archiveDir, e.Name()))
		}
	}
	return out, nil
}

// openArchivedSegment transparently decompresses an archived segment
// for Scan.
func openArchivedSegment(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("walog: open archived segment %s: %w", path, err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("walog: new zstd reader: %w", err)
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}
