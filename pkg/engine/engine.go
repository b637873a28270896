// Package engine orchestrates backup runs: preflight, archive build and
// retention enforcement, serialized so that at most one run is in flight at
// any time regardless of whether it was triggered by the schedule or by an
// operator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/quietbyte/treevault/pkg/config"
	"github.com/quietbyte/treevault/pkg/patharchive"
	"github.com/quietbyte/treevault/pkg/pathfilter"
	"github.com/quietbyte/treevault/pkg/pathretention"
	"github.com/quietbyte/treevault/pkg/plog"
	"github.com/quietbyte/treevault/pkg/preflight"
)

// ErrBusy is returned when a backup run is requested while another one is
// still in flight. The new request is rejected, never queued.
var ErrBusy = errors.New("a backup run is already in progress")

// ErrPermissionDenied is returned when a caller without admin rights
// requests a manual backup.
var ErrPermissionDenied = errors.New("caller is not allowed to trigger backups")

// Trigger records what started a backup run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Caller identifies who requested a manual operation.
type Caller struct {
	Name    string
	IsAdmin bool
}

// RunOutcome summarizes the most recent completed backup run.
type RunOutcome struct {
	Trigger     Trigger
	StartedAt   time.Time
	Duration    time.Duration
	ArchivePath string
	SizeBytes   int64
	Skipped     int
	Deleted     []string
	// DeleteFailures lists old archives retention could not remove. They do
	// not flip the run's success; callers surface them as warnings.
	DeleteFailures []pathretention.DeleteFailure
	Err            error
}

// Succeeded reports whether the run produced an archive.
func (o RunOutcome) Succeeded() bool {
	return o.Err == nil && o.ArchivePath != ""
}

// Engine wires the configuration to the archive builder and the retention
// policy. All methods are safe for concurrent use.
type Engine struct {
	cfg        config.Config
	backupPath string
	builder    *patharchive.Builder
	filter     pathfilter.RuleSet
	format     patharchive.Format
	level      patharchive.Level

	// inFlight has weight 1: whoever holds it owns the current run.
	inFlight *semaphore.Weighted

	mu          sync.Mutex
	lastOutcome *RunOutcome
}

// New builds an Engine from a validated configuration.
func New(cfg config.Config) (*Engine, error) {
	backupPath, err := cfg.ResolveBackupPath()
	if err != nil {
		return nil, err
	}
	format, err := patharchive.FormatFromString(cfg.ArchiveFormat)
	if err != nil {
		return nil, err
	}
	level, err := patharchive.LevelFromString(cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		backupPath: backupPath,
		builder:    patharchive.NewBuilder(),
		filter:     pathfilter.NewRuleSet(cfg.ExcludeDirs, cfg.ExcludeSuffixes),
		format:     format,
		level:      level,
		inFlight:   semaphore.NewWeighted(1),
	}, nil
}

// BackupPath returns the resolved destination directory.
func (e *Engine) BackupPath() string {
	return e.backupPath
}

// RunBackup executes one full backup run: preflight, archive build and
// retention enforcement. If another run is in flight it returns ErrBusy
// immediately without touching the filesystem.
func (e *Engine) RunBackup(ctx context.Context, trigger Trigger) (RunOutcome, error) {
	if !e.inFlight.TryAcquire(1) {
		plog.Warn("Backup request rejected, another run is in progress", "trigger", trigger)
		return RunOutcome{}, ErrBusy
	}
	defer e.inFlight.Release(1)

	outcome := RunOutcome{Trigger: trigger, StartedAt: time.Now()}
	plog.Info("Backup run starting", "trigger", trigger, "source", e.cfg.Source, "destination", e.backupPath)

	outcome.Err = e.runLocked(ctx, &outcome)
	outcome.Duration = time.Since(outcome.StartedAt)

	e.mu.Lock()
	e.lastOutcome = &outcome
	e.mu.Unlock()

	if outcome.Err != nil {
		plog.Error("Backup run failed", "trigger", trigger, "error", outcome.Err)
		return outcome, outcome.Err
	}
	plog.Info("Backup run finished",
		"trigger", trigger,
		"archive", outcome.ArchivePath,
		"sizeBytes", outcome.SizeBytes,
		"duration", outcome.Duration.Round(time.Millisecond))
	return outcome, nil
}

// runLocked performs the run body. The in-flight semaphore is held.
func (e *Engine) runLocked(ctx context.Context, outcome *RunOutcome) error {
	if err := preflight.Check(e.backupPath, e.cfg.MinFreeSpaceBytes()); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	result, err := e.builder.Build(ctx, patharchive.Task{
		SourceRoot: e.cfg.Source,
		DestDir:    e.backupPath,
		Filter:     e.filter,
		Format:     e.format,
		Level:      e.level,
	})
	if err != nil {
		return err
	}
	outcome.ArchivePath = result.ArchivePath
	outcome.SizeBytes = result.SizeBytes
	outcome.Skipped = result.Skipped

	// Retention problems are warnings: the new archive exists, so the run
	// itself succeeded even if an old archive could not be pruned.
	deleted, failed, err := pathretention.Enforce(ctx, e.backupPath, e.cfg.MaxBackups)
	outcome.Deleted = deleted
	outcome.DeleteFailures = failed
	if err != nil {
		plog.Warn("Retention enforcement failed", "error", err)
	}
	for _, f := range failed {
		plog.Warn("Old archive could not be deleted", "name", f.Name, "error", f.Err)
	}
	return nil
}

// ManualBackup runs a backup on behalf of a caller. Callers without admin
// rights are refused before any filesystem work happens.
func (e *Engine) ManualBackup(ctx context.Context, caller Caller) (RunOutcome, error) {
	if !caller.IsAdmin {
		plog.Warn("Manual backup refused", "caller", caller.Name)
		return RunOutcome{}, ErrPermissionDenied
	}
	return e.RunBackup(ctx, TriggerManual)
}

// Status returns the retained archives, newest first. It only reads the
// destination directory and never interferes with a run in flight.
func (e *Engine) Status() ([]pathretention.FileRecord, error) {
	records, err := pathretention.List(e.backupPath)
	if err != nil {
		return nil, err
	}
	// List is oldest first; status wants the most recent on top.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// LastOutcome returns the outcome of the most recent completed run, or nil
// if no run has completed yet.
func (e *Engine) LastOutcome() *RunOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastOutcome
}
