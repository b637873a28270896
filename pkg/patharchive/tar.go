package patharchive

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// gzipLevel maps the run's compression level to a pgzip level.
func (l Level) gzipLevel() int {
	switch l {
	case Fastest:
		return pgzip.BestSpeed
	case Better:
		return 6 // Good balance
	case Best:
		return pgzip.BestCompression
	default:
		return pgzip.DefaultCompression
	}
}

// zstdLevel maps the run's compression level to a zstd encoder level.
func (l Level) zstdLevel() zstd.EncoderLevel {
	switch l {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// writeTar streams the filtered source tree into targetF as a compressed
// tarball (gzip or zstd depending on the task's format).
func (r *run) writeTar(ctx context.Context, targetF *os.File) (retErr error) {
	bufWriter := bufio.NewWriterSize(targetF, archiveBufferSize)

	var compressedWriter io.WriteCloser
	if r.task.Format == TarZst {
		zstdWriter, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(r.task.Level.zstdLevel()))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zstdWriter
	} else {
		pgzipWriter, err := pgzip.NewWriterLevel(bufWriter, r.task.Level.gzipLevel())
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = pgzipWriter
	}

	tarWriter := tar.NewWriter(compressedWriter)

	// Robust cleanup
	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	return r.walkTree(ctx, func(f *os.File, relKey string, info os.FileInfo) error {
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", relKey, err)
		}
		header.Name = relKey

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", relKey, err)
		}
		_, err = io.Copy(tarWriter, f)
		return err
	}, func(target, relKey string, info os.FileInfo) error {
		header, err := tar.FileInfoHeader(info, target)
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", relKey, err)
		}
		header.Name = relKey

		return tarWriter.WriteHeader(header)
	})
}
