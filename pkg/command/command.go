// Package command renders engine operations as user-facing text replies.
// It is the surface a chat frontend or CLI talks to: inputs are caller names
// and outputs are plain strings, with permission checks applied before any
// work starts.
package command

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/quietbyte/treevault/pkg/engine"
	"github.com/quietbyte/treevault/pkg/pathretention"
)

// statusListLimit caps how many archives a status reply lists in full.
const statusListLimit = 5

// PermissionSource answers whether a caller may trigger privileged
// operations. Frontends plug in their own admin lists.
type PermissionSource interface {
	IsAdmin(caller string) bool
}

// AdminList is a fixed-set PermissionSource.
type AdminList []string

func (a AdminList) IsAdmin(caller string) bool {
	for _, name := range a {
		if name == caller {
			return true
		}
	}
	return false
}

// Handler turns commands into engine calls and engine results into replies.
type Handler struct {
	engine *engine.Engine
	perms  PermissionSource
}

// NewHandler wires a command handler to an engine and a permission source.
func NewHandler(e *engine.Engine, perms PermissionSource) *Handler {
	return &Handler{engine: e, perms: perms}
}

// BackupNow triggers a manual backup for the named caller and returns the
// reply text. Permission and concurrency refusals come back as friendly
// messages, not errors; only unexpected failures surface in the text.
func (h *Handler) BackupNow(ctx context.Context, caller string) string {
	outcome, err := h.engine.ManualBackup(ctx, engine.Caller{
		Name:    caller,
		IsAdmin: h.perms.IsAdmin(caller),
	})
	switch {
	case errors.Is(err, engine.ErrPermissionDenied):
		return "Only administrators can trigger a backup."
	case errors.Is(err, engine.ErrBusy):
		return "A backup is already running, try again later."
	case err != nil:
		return fmt.Sprintf("Backup failed: %v", err)
	}
	return formatBackupReply(outcome)
}

// formatBackupReply renders a successful run, including any partial-cleanup
// warnings, as one reply line.
func formatBackupReply(outcome engine.RunOutcome) string {
	reply := fmt.Sprintf("Backup complete: %s (%s in %s)",
		filepath.Base(outcome.ArchivePath),
		humanize.IBytes(uint64(outcome.SizeBytes)),
		outcome.Duration.Round(time.Millisecond))
	if outcome.Skipped > 0 {
		reply += fmt.Sprintf(", %d unreadable entries skipped", outcome.Skipped)
	}
	if len(outcome.Deleted) > 0 {
		reply += fmt.Sprintf(", pruned %d old archive(s)", len(outcome.Deleted))
	}
	if len(outcome.DeleteFailures) > 0 {
		reply += fmt.Sprintf(", %d old archive(s) could not be deleted", len(outcome.DeleteFailures))
	}
	return reply
}

// Status returns a listing of the retained archives, newest first.
func (h *Handler) Status() string {
	records, err := h.engine.Status()
	if err != nil {
		return fmt.Sprintf("Could not read backup directory: %v", err)
	}
	if len(records) == 0 {
		return "No backups yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d backup(s) in %s:\n", len(records), h.engine.BackupPath())
	b.WriteString(FormatRecords(records, statusListLimit))
	return b.String()
}

// FormatRecords renders archive records as an indented listing, at most
// limit entries with a trailing summary line for the rest. A limit of 0
// lists everything.
func FormatRecords(records []pathretention.FileRecord, limit int) string {
	var b strings.Builder
	for i, record := range records {
		if limit > 0 && i == limit {
			fmt.Fprintf(&b, "  …and %d more\n", len(records)-limit)
			break
		}
		fmt.Fprintf(&b, "  %s  %s  %s\n",
			record.Name,
			humanize.IBytes(uint64(record.SizeBytes)),
			time.Unix(record.ModTime, 0).Format("2006-01-02 15:04"))
	}
	return b.String()
}
