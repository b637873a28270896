// Package config loads, validates and persists the TreeVault configuration
// file. Loading is resilient to missing files and missing fields: defaults
// fill every gap, so a partial config file is always usable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quietbyte/treevault/pkg/buildinfo"
	"github.com/quietbyte/treevault/pkg/patharchive"
	"github.com/quietbyte/treevault/pkg/plog"
	"github.com/quietbyte/treevault/pkg/schedule"
	"github.com/quietbyte/treevault/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "treevault.config.json"

type Config struct {
	Version        string `json:"version"`
	Source         string `json:"source"`
	BackupPath     string `json:"backupPath"`
	CronExpression string `json:"cronExpression"`
	MaxBackups     int    `json:"maxBackups"`
	ArchiveFormat  string `json:"archiveFormat"`
	// CompressionLevel is one of fastest, default, better, best.
	CompressionLevel string `json:"compressionLevel"`
	// Note: omitempty is intentionally not used for user-configurable slices
	// so that they appear in the generated config file for better discoverability.
	ExcludeDirs     []string `json:"excludeDirs"`
	ExcludeSuffixes []string `json:"excludeSuffixes"`
	LogLevel        string   `json:"logLevel"`
	MinFreeSpaceMB  uint64   `json:"minFreeSpaceMB"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:          buildinfo.Version,
		Source:           "",                // Intentionally empty to force user configuration.
		BackupPath:       "",                // Empty means: the source's parent directory.
		CronExpression:   "0 0 */7 * *",     // Midnight on days 1, 8, 15, 22, 29 of each month.
		MaxBackups:       5,                 // Keep the five most recent archives.
		ArchiveFormat:    "zip",             // Default container format.
		CompressionLevel: "default",
		ExcludeDirs:      []string{},        // User additions on top of the built-in directory rules.
		ExcludeSuffixes:  []string{},        // User additions on top of the built-in suffix rules.
		LogLevel:         "info",            // Default log level.
		MinFreeSpaceMB:   0,                 // 0 disables the free space preflight.
	}
}

// Load reads the configuration file from dir. A missing file is a normal
// case and yields the defaults; a file that exists but fails to parse is an
// error. Fields absent from the file keep their default values.
func Load(dir string) (Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for config directory %s: %w", dir, err)
	}
	configPath := filepath.Join(absDir, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// NOTE: if config.Version differs from buildinfo.Version a migration
	// step can be added here.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}

	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites the configuration file in dir.
func Generate(configToGenerate Config, dir string) error {
	configPath := filepath.Join(dir, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors. It fails fast: an
// unparsable cron expression or an unknown format is rejected here, before
// any backup work starts. Source and BackupPath are expanded and cleaned in
// place.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}

	var err error
	c.Source, err = util.ExpandPath(c.Source)
	if err != nil {
		return fmt.Errorf("could not expand source path: %w", err)
	}
	c.Source = filepath.Clean(c.Source)
	if _, err := os.Stat(c.Source); os.IsNotExist(err) {
		return fmt.Errorf("source path '%s' does not exist", c.Source)
	}

	if c.BackupPath != "" {
		c.BackupPath, err = util.ExpandPath(c.BackupPath)
		if err != nil {
			return fmt.Errorf("could not expand backup path: %w", err)
		}
		c.BackupPath = filepath.Clean(c.BackupPath)
	}

	if _, err := schedule.Parse(c.CronExpression); err != nil {
		return fmt.Errorf("invalid cronExpression: %w", err)
	}
	if c.MaxBackups < 1 {
		return fmt.Errorf("maxBackups must be at least 1, got %d", c.MaxBackups)
	}
	if _, err := patharchive.FormatFromString(c.ArchiveFormat); err != nil {
		return fmt.Errorf("invalid archiveFormat: %w", err)
	}
	if _, err := patharchive.LevelFromString(c.CompressionLevel); err != nil {
		return fmt.Errorf("invalid compressionLevel: %w", err)
	}
	switch c.LogLevel {
	case "debug", "notice", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logLevel %q (valid: debug, notice, info, warn, error)", c.LogLevel)
	}
	return nil
}

// ResolveBackupPath returns the effective destination directory: the
// configured BackupPath, or the source's parent directory when none is set.
// Archives in a shared parent are safe because every consumer matches on
// the backup name pattern, never on "everything in the directory".
// Call after Validate so Source is absolute and clean.
func (c *Config) ResolveBackupPath() (string, error) {
	if c.BackupPath != "" {
		return c.BackupPath, nil
	}
	absSource, err := filepath.Abs(c.Source)
	if err != nil {
		return "", fmt.Errorf("could not resolve source path %s: %w", c.Source, err)
	}
	return filepath.Dir(absSource), nil
}

// MinFreeSpaceBytes converts the configured megabyte threshold to bytes.
func (c *Config) MinFreeSpaceBytes() uint64 {
	return c.MinFreeSpaceMB * 1024 * 1024
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"source", c.Source,
		"schedule", c.CronExpression,
		"max_backups", c.MaxBackups,
		"format", c.ArchiveFormat,
		"compression", c.CompressionLevel,
		"log_level", c.LogLevel,
	}
	if c.BackupPath != "" {
		logArgs = append(logArgs, "backup_path", c.BackupPath)
	}
	if c.MinFreeSpaceMB > 0 {
		logArgs = append(logArgs, "min_free_space_mb", c.MinFreeSpaceMB)
	}
	if len(c.ExcludeDirs) > 0 {
		logArgs = append(logArgs, "user_exclude_dirs", c.ExcludeDirs)
	}
	if len(c.ExcludeSuffixes) > 0 {
		logArgs = append(logArgs, "user_exclude_suffixes", c.ExcludeSuffixes)
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeWithFlags overlays configuration values from flags on top of a base
// configuration. setFlags contains only the flags explicitly provided by the
// user on the command line.
func MergeWithFlags(base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "source":
			merged.Source = value.(string)
		case "backup-path":
			merged.BackupPath = value.(string)
		case "cron":
			merged.CronExpression = value.(string)
		case "max-backups":
			merged.MaxBackups = value.(int)
		case "format":
			merged.ArchiveFormat = value.(string)
		case "compression-level":
			merged.CompressionLevel = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "min-free-space-mb":
			merged.MinFreeSpaceMB = value.(uint64)
		default:
			plog.Debug("unhandled flag in MergeWithFlags", "flag", name)
		}
	}
	return merged
}
