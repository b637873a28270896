package pathretention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeArchive creates an empty archive file with a deterministic mtime so
// ordering in the tests is stable.
func writeArchive(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("archive"), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime on %s: %v", name, err)
	}
}

func TestListOrdersOldestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	writeArchive(t, dir, "backup_20250103_000000.zip", base.Add(48*time.Hour))
	writeArchive(t, dir, "backup_20250101_000000.zip", base)
	writeArchive(t, dir, "backup_20250102_000000.zip", base.Add(24*time.Hour))

	records, err := List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{
		"backup_20250101_000000.zip",
		"backup_20250102_000000.zip",
		"backup_20250103_000000.zip",
	}
	if len(records) != len(want) {
		t.Fatalf("List returned %d records, want %d", len(records), len(want))
	}
	for i, record := range records {
		if record.Name != want[i] {
			t.Errorf("record %d = %q, want %q", i, record.Name, want[i])
		}
	}
}

func TestListIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeArchive(t, dir, "backup_20250101_000000.zip", now)
	writeArchive(t, dir, "notes.txt", now)
	writeArchive(t, dir, "treevault-99.tmp", now)
	if err := os.Mkdir(filepath.Join(dir, "backup_20250102_000000.zip"), 0755); err != nil {
		t.Fatalf("failed to create decoy directory: %v", err)
	}

	records, err := List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 || records[0].Name != "backup_20250101_000000.zip" {
		t.Errorf("List = %v, want only the real archive", records)
	}
}

func TestListMissingDirectory(t *testing.T) {
	records, err := List(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("List of missing directory failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestEnforceDeletesOldestSurplus(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	names := []string{
		"backup_20250101_000000.zip",
		"backup_20250102_000000.zip",
		"backup_20250103_000000.zip",
		"backup_20250104_000000.zip",
		"backup_20250105_000000.zip",
		"backup_20250106_000000.zip",
	}
	for i, name := range names {
		writeArchive(t, dir, name, base.Add(time.Duration(i)*24*time.Hour))
	}

	deleted, failed, err := Enforce(context.Background(), dir, 5)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("unexpected delete failures: %v", failed)
	}
	if len(deleted) != 1 || deleted[0] != names[0] {
		t.Fatalf("deleted = %v, want [%s]", deleted, names[0])
	}

	if _, err := os.Stat(filepath.Join(dir, names[0])); !os.IsNotExist(err) {
		t.Error("oldest archive should have been removed")
	}
	for _, name := range names[1:] {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("archive %s should have survived: %v", name, err)
		}
	}
}

func TestEnforceNoSurplusIsNoOp(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "backup_20250101_000000.zip", time.Now())

	deleted, failed, err := Enforce(context.Background(), dir, 5)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if len(deleted) != 0 || len(failed) != 0 {
		t.Errorf("expected no-op, got deleted=%v failed=%v", deleted, failed)
	}
}

func TestEnforceLeavesUnrelatedFilesAlone(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	writeArchive(t, dir, "notes.txt", base)
	writeArchive(t, dir, "backup_20250101_000000.zip", base.Add(time.Hour))
	writeArchive(t, dir, "backup_20250102_000000.zip", base.Add(2*time.Hour))

	if _, _, err := Enforce(context.Background(), dir, 1); err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Errorf("unrelated file should never be pruned: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "backup_20250102_000000.zip")); err != nil {
		t.Errorf("newest archive should have survived: %v", err)
	}
}

func TestEnforceRejectsNonPositiveCap(t *testing.T) {
	if _, _, err := Enforce(context.Background(), t.TempDir(), 0); err == nil {
		t.Error("expected retention cap of 0 to be rejected")
	}
}
