// Package patharchive builds a single compressed snapshot of a directory
// tree. It walks the source, applies the exclusion filter, and streams
// eligible entries into a timestamped archive in the destination directory.
//
// The archive file name is an on-disk contract: consumers identify backup
// artifacts by the `backup_<YYYYMMDD>_<HHMMSS>.<ext>` pattern.
package patharchive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quietbyte/treevault/pkg/pathfilter"
	"github.com/quietbyte/treevault/pkg/plog"
	"github.com/quietbyte/treevault/pkg/util"
)

// NamePrefix is the fixed prefix of every archive file name.
const NamePrefix = "backup_"

// nameTimeFormat encodes the run's wall-clock time into the archive name.
// Lexical order of generated names equals chronological order.
const nameTimeFormat = "20060102_150405"

// archiveBufferSize is the write buffer in front of the archive file.
const archiveBufferSize = 256 * 1024

// ErrNameCollision is returned when an archive with the generated name
// already exists (two runs within the same second). The existing archive
// is never overwritten.
var ErrNameCollision = errors.New("an archive with this name already exists")

// Format identifies the archive container and compression format.
type Format string

const (
	Zip    Format = "zip"
	TarGz  Format = "tar.gz"
	TarZst Format = "tar.zst"
)

// FormatFromString validates and converts a configuration string.
func FormatFromString(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case Zip:
		return Zip, nil
	case TarGz:
		return TarGz, nil
	case TarZst:
		return TarZst, nil
	default:
		return "", fmt.Errorf("unsupported archive format %q (valid: zip, tar.gz, tar.zst)", s)
	}
}

// Extension returns the file extension for the format, without a leading dot.
func (f Format) Extension() string {
	return string(f)
}

// Level selects the compression effort for a run.
type Level string

const (
	Fastest Level = "fastest"
	Default Level = "default"
	Better  Level = "better"
	Best    Level = "best"
)

// LevelFromString validates and converts a configuration string.
func LevelFromString(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case Fastest:
		return Fastest, nil
	case Default, "":
		return Default, nil
	case Better:
		return Better, nil
	case Best:
		return Best, nil
	default:
		return "", fmt.Errorf("unsupported compression level %q (valid: fastest, default, better, best)", s)
	}
}

// ArchiveName generates the file name for an archive created at t.
func ArchiveName(t time.Time, f Format) string {
	return NamePrefix + t.Format(nameTimeFormat) + "." + f.Extension()
}

// ParseArchiveName reports whether name matches the archive naming contract
// and returns the encoded creation time if it does. Unrelated files in the
// destination directory never match.
func ParseArchiveName(name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, NamePrefix)
	if !ok {
		return time.Time{}, false
	}
	for _, f := range []Format{Zip, TarGz, TarZst} {
		ts, ok := strings.CutSuffix(rest, "."+f.Extension())
		if !ok {
			continue
		}
		t, err := time.ParseInLocation(nameTimeFormat, ts, time.Local)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Task describes one archive run. It is created at the start of a backup
// run and discarded afterwards.
type Task struct {
	SourceRoot string
	DestDir    string
	Filter     pathfilter.RuleSet
	Format     Format
	Level      Level
}

// Result reports a successfully completed build.
type Result struct {
	ArchivePath string
	SizeBytes   int64
	Duration    time.Duration
	// Skipped counts single entries that could not be read (permission
	// errors, files that vanished mid-walk) and were left out.
	Skipped int
}

// Builder creates archives. The zero value is not usable; use NewBuilder.
type Builder struct {
	// now provides the wall-clock time used to name the archive.
	// It's a field so tests can pin it.
	now func() time.Time
}

// NewBuilder returns a Builder using the system clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// run holds the mutable state of a single build, keeping the Builder itself
// stateless.
type run struct {
	task      Task
	absSource string
	absDest   string
	tmpPath   string
	finalPath string
	skipped   int
}

// Build walks task.SourceRoot and streams every eligible entry into a new
// archive in task.DestDir. The archive is written to a temp file first and
// renamed into place on success; on any failure the partial file is removed
// and an error returned, never a half-written archive.
func (b *Builder) Build(ctx context.Context, task Task) (Result, error) {
	started := time.Now()
	nameTime := b.now()

	absSource, err := filepath.Abs(task.SourceRoot)
	if err != nil {
		return Result{}, fmt.Errorf("could not resolve source root %s: %w", task.SourceRoot, err)
	}
	absDest, err := filepath.Abs(task.DestDir)
	if err != nil {
		return Result{}, fmt.Errorf("could not resolve destination %s: %w", task.DestDir, err)
	}
	if _, err := os.Stat(absSource); err != nil {
		return Result{}, fmt.Errorf("source root is not readable: %w", err)
	}

	name := ArchiveName(nameTime, task.Format)
	finalPath := filepath.Join(absDest, name)
	if _, err := os.Lstat(finalPath); err == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNameCollision, name)
	} else if !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("could not check for existing archive %s: %w", finalPath, err)
	}

	// Write to a temp file in the destination directory so the final step
	// is an atomic rename on the same filesystem.
	tmpF, err := os.CreateTemp(absDest, "treevault-*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create archive in %s: %w", absDest, err)
	}

	r := &run{
		task:      task,
		absSource: absSource,
		absDest:   absDest,
		tmpPath:   tmpF.Name(),
		finalPath: finalPath,
	}

	plog.Info("Starting archive build", "source", absSource, "archive", name, "format", task.Format)

	if err := r.write(ctx, tmpF); err != nil {
		tmpF.Close()
		r.removePartial()
		return Result{}, err
	}
	if err := tmpF.Close(); err != nil {
		r.removePartial()
		return Result{}, fmt.Errorf("failed to flush archive to disk: %w", err)
	}
	if err := os.Rename(r.tmpPath, finalPath); err != nil {
		r.removePartial()
		return Result{}, fmt.Errorf("failed to move archive into place: %w", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return Result{}, fmt.Errorf("archive vanished after rename: %w", err)
	}

	result := Result{
		ArchivePath: finalPath,
		SizeBytes:   info.Size(),
		Duration:    time.Since(started),
		Skipped:     r.skipped,
	}
	plog.Info("Archive build finished",
		"archive", name,
		"sizeBytes", result.SizeBytes,
		"duration", result.Duration.Round(time.Millisecond),
		"skipped", result.Skipped)
	return result, nil
}

// write dispatches to the container implementation for the task's format.
func (r *run) write(ctx context.Context, targetF *os.File) error {
	switch r.task.Format {
	case Zip:
		return r.writeZip(ctx, targetF)
	case TarGz, TarZst:
		return r.writeTar(ctx, targetF)
	default:
		return fmt.Errorf("unsupported archive format %q", r.task.Format)
	}
}

// removePartial deletes the temp archive after a failed build.
func (r *run) removePartial() {
	if err := os.Remove(r.tmpPath); err != nil && !os.IsNotExist(err) {
		plog.Warn("Could not remove partial archive", "path", r.tmpPath, "error", err)
	}
}

// isOwnArtifact reports whether path is this run's in-progress output or a
// previous archive sitting in the destination directory. Both must be
// skipped when the destination is nested inside the source tree, or every
// backup would swallow the ones before it.
func (r *run) isOwnArtifact(path string) bool {
	if path == r.tmpPath || path == r.finalPath {
		return true
	}
	if filepath.Dir(path) == r.absDest {
		if _, ok := ParseArchiveName(filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

// walkTree walks the source tree depth-first, applying the exclusion filter
// and the self-inclusion guard, and hands each eligible entry to the format
// callbacks. Unreadable single entries are skipped and counted; directory
// read failures abort the walk.
func (r *run) walkTree(
	ctx context.Context,
	addFile func(f *os.File, relKey string, info os.FileInfo) error,
	addSymlink func(target, relKey string, info os.FileInfo) error,
) error {
	return filepath.WalkDir(r.absSource, func(path string, d os.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			if d == nil || d.IsDir() {
				return fmt.Errorf("failed to walk directory %s: %w", path, walkErr)
			}
			r.skipped++
			plog.Warn("Skipping unreadable entry", "path", path, "error", walkErr)
			return nil
		}

		if d.IsDir() {
			if path == r.absSource {
				return nil
			}
			if r.task.Filter.ShouldExclude(path, true) {
				plog.Debug("EXCLUDE", "dir", path)
				return filepath.SkipDir
			}
			return nil
		}

		if r.task.Filter.ShouldExclude(path, false) {
			plog.Debug("EXCLUDE", "file", path)
			return nil
		}
		if r.isOwnArtifact(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			r.skipped++
			plog.Warn("Skipping entry that disappeared during walk", "path", path, "error", err)
			return nil
		}

		relKey, err := filepath.Rel(r.absSource, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}
		relKey = util.NormalizePath(relKey)

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				r.skipped++
				plog.Warn("Skipping unreadable symlink", "path", path, "error", err)
				return nil
			}
			plog.Notice("ADD", "file", relKey)
			if err := addSymlink(target, relKey, info); err != nil {
				return fmt.Errorf("failed to archive symlink %s: %w", relKey, err)
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			plog.Debug("Skipping non-regular file", "path", path, "mode", info.Mode().String())
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			r.skipped++
			plog.Warn("Skipping unreadable file", "path", path, "error", err)
			return nil
		}
		plog.Notice("ADD", "file", relKey)
		addErr := addFile(f, relKey, info)
		if closeErr := f.Close(); addErr == nil && closeErr != nil {
			addErr = closeErr
		}
		if addErr != nil {
			// A write failure here means the archive itself is broken
			// (disk full, I/O error), which aborts the whole run.
			return fmt.Errorf("failed to archive %s: %w", relKey, addErr)
		}
		return nil
	})
}
