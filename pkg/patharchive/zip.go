package patharchive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// flateLevel maps the run's compression level to a flate level.
func (l Level) flateLevel() int {
	switch l {
	case Fastest:
		return flate.BestSpeed
	case Better:
		return 6 // Good balance
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

// writeZip streams the filtered source tree into targetF as a zip archive.
func (r *run) writeZip(ctx context.Context, targetF *os.File) (retErr error) {
	bufWriter := bufio.NewWriterSize(targetF, archiveBufferSize)

	zw := zip.NewWriter(bufWriter)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, r.task.Level.flateLevel())
	})

	// Robust cleanup
	defer func() {
		if err := zw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("zip writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	return r.walkTree(ctx, func(f *os.File, relKey string, info os.FileInfo) error {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("failed to create zip header for %s: %w", relKey, err)
		}
		header.Name = relKey
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to create entry for %s: %w", relKey, err)
		}
		_, err = io.Copy(w, f)
		return err
	}, func(target, relKey string, info os.FileInfo) error {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("failed to create zip header for %s: %w", relKey, err)
		}
		header.Name = relKey
		header.Method = zip.Store // Symlinks are stored, not compressed

		w, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to create entry for %s: %w", relKey, err)
		}
		_, err = w.Write([]byte(target))
		return err
	})
}
