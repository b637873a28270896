// Package pathretention prunes old archives from a destination directory so
// the number of retained backups never exceeds the configured cap. Only files
// matching the archive naming contract are considered; everything else in the
// directory is left alone.
package pathretention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/quietbyte/treevault/pkg/patharchive"
	"github.com/quietbyte/treevault/pkg/plog"
)

// FileRecord describes one archive found in the destination directory.
type FileRecord struct {
	Name      string
	Path      string
	SizeBytes int64
	ModTime   int64 // Unix seconds, used for ordering
}

// DeleteFailure records an archive that should have been pruned but could
// not be removed.
type DeleteFailure struct {
	Name string
	Err  error
}

// List returns the archives in dirPath ordered oldest first. Files that do
// not match the archive naming contract are ignored. A missing directory
// yields an empty list, not an error.
func List(dirPath string) ([]FileRecord, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory %s: %w", dirPath, err)
	}

	var records []FileRecord
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := patharchive.ParseArchiveName(entry.Name()); !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Vanished between ReadDir and Info; nothing to retain.
			continue
		}
		records = append(records, FileRecord{
			Name:      entry.Name(),
			Path:      filepath.Join(dirPath, entry.Name()),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime().Unix(),
		})
	}

	// Oldest first. Names encode the creation time, so the lexical tie-break
	// keeps ordering stable when modification times collide.
	sort.Slice(records, func(i, j int) bool {
		if records[i].ModTime != records[j].ModTime {
			return records[i].ModTime < records[j].ModTime
		}
		return records[i].Name < records[j].Name
	})
	return records, nil
}

// Enforce deletes the oldest archives in dirPath until at most maxBackups
// remain. It returns the names of deleted archives and any per-file delete
// failures; a failure to delete one archive never stops the pruning of the
// rest.
func Enforce(ctx context.Context, dirPath string, maxBackups int) (deleted []string, failed []DeleteFailure, err error) {
	if maxBackups < 1 {
		return nil, nil, fmt.Errorf("retention cap must be at least 1, got %d", maxBackups)
	}

	records, err := List(dirPath)
	if err != nil {
		return nil, nil, err
	}
	surplus := len(records) - maxBackups
	if surplus <= 0 {
		return nil, nil, nil
	}

	plog.Info("Enforcing retention", "dir", dirPath, "have", len(records), "keep", maxBackups)

	for _, record := range records[:surplus] {
		select {
		case <-ctx.Done():
			return deleted, failed, ctx.Err()
		default:
		}

		if err := os.Remove(record.Path); err != nil {
			plog.Warn("Could not delete old archive", "name", record.Name, "error", err)
			failed = append(failed, DeleteFailure{Name: record.Name, Err: err})
			continue
		}
		plog.Notice("DELETE", "name", record.Name)
		deleted = append(deleted, record.Name)
	}
	return deleted, failed, nil
}
