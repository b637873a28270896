package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CronExpression != "0 0 */7 * *" {
		t.Errorf("default cron = %q, want %q", cfg.CronExpression, "0 0 */7 * *")
	}
	if cfg.MaxBackups != 5 {
		t.Errorf("default maxBackups = %d, want 5", cfg.MaxBackups)
	}
	if cfg.ArchiveFormat != "zip" {
		t.Errorf("default archiveFormat = %q, want zip", cfg.ArchiveFormat)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default logLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `{"source": "/data/app", "maxBackups": 3}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source != "/data/app" {
		t.Errorf("source = %q, want /data/app", cfg.Source)
	}
	if cfg.MaxBackups != 3 {
		t.Errorf("maxBackups = %d, want 3", cfg.MaxBackups)
	}
	// Fields absent from the file keep their defaults.
	if cfg.CronExpression != "0 0 */7 * *" {
		t.Errorf("cron = %q, want the default", cfg.CronExpression)
	}
	if cfg.ArchiveFormat != "zip" {
		t.Errorf("archiveFormat = %q, want the default", cfg.ArchiveFormat)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatal("expected malformed config file to fail loading")
	}
}

func TestGenerateRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefault()
	cfg.Source = "/data/app"
	cfg.MaxBackups = 7

	if err := Generate(cfg, dir); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Source != cfg.Source || loaded.MaxBackups != cfg.MaxBackups {
		t.Errorf("round trip mismatch: got source=%q maxBackups=%d", loaded.Source, loaded.MaxBackups)
	}

	// The generated file must spell out the user-facing slices even when empty.
	raw, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("failed to read generated file: %v", err)
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		t.Fatalf("generated file is not valid JSON: %v", err)
	}
	for _, key := range []string{"excludeDirs", "excludeSuffixes", "cronExpression", "maxBackups"} {
		if _, ok := asMap[key]; !ok {
			t.Errorf("generated config is missing key %q", key)
		}
	}
}

func TestValidate(t *testing.T) {
	source := t.TempDir()

	valid := NewDefault()
	valid.Source = source
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty source", func(c *Config) { c.Source = "" }},
		{"missing source", func(c *Config) { c.Source = filepath.Join(source, "nope") }},
		{"bad cron", func(c *Config) { c.CronExpression = "not a cron" }},
		{"six cron fields", func(c *Config) { c.CronExpression = "0 0 * * * *" }},
		{"zero max backups", func(c *Config) { c.MaxBackups = 0 }},
		{"bad format", func(c *Config) { c.ArchiveFormat = "7z" }},
		{"bad compression level", func(c *Config) { c.CompressionLevel = "turbo" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			cfg.Source = source
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestResolveBackupPath(t *testing.T) {
	cfg := NewDefault()
	cfg.Source = filepath.Join("/data", "app")
	cfg.BackupPath = ""

	got, err := cfg.ResolveBackupPath()
	if err != nil {
		t.Fatalf("ResolveBackupPath failed: %v", err)
	}
	// No explicit path: archives land next to the source directory.
	if got != "/data" {
		t.Errorf("ResolveBackupPath = %q, want /data", got)
	}

	cfg.BackupPath = "/mnt/vault"
	got, err = cfg.ResolveBackupPath()
	if err != nil {
		t.Fatalf("ResolveBackupPath failed: %v", err)
	}
	if got != "/mnt/vault" {
		t.Errorf("ResolveBackupPath = %q, want /mnt/vault", got)
	}
}

func TestMergeWithFlags(t *testing.T) {
	base := NewDefault()
	base.Source = "/data/app"

	merged := MergeWithFlags(base, map[string]any{
		"max-backups": 9,
		"format":      "tar.zst",
	})

	if merged.MaxBackups != 9 {
		t.Errorf("maxBackups = %d, want 9", merged.MaxBackups)
	}
	if merged.ArchiveFormat != "tar.zst" {
		t.Errorf("archiveFormat = %q, want tar.zst", merged.ArchiveFormat)
	}
	// Untouched fields survive the merge.
	if merged.Source != "/data/app" {
		t.Errorf("source = %q, want /data/app", merged.Source)
	}
	if merged.CronExpression != base.CronExpression {
		t.Errorf("cron changed unexpectedly: %q", merged.CronExpression)
	}
}
