package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quietbyte/treevault/pkg/buildinfo"
	"github.com/quietbyte/treevault/pkg/command"
	"github.com/quietbyte/treevault/pkg/config"
	"github.com/quietbyte/treevault/pkg/engine"
	"github.com/quietbyte/treevault/pkg/plog"
	"github.com/quietbyte/treevault/pkg/schedule"
)

// action defines a special command to execute instead of the daemon.
type action int

const (
	actionRunDaemon action = iota // The default action is the scheduling daemon.
	actionBackupNow
	actionShowStatus
	actionInitConfig
	actionShowVersion
)

// init sets up a custom, more descriptive help message for the flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "Scheduled directory backups with automatic rotation.\n\n")
		flag.PrintDefaults()
	}
}

// parseFlagConfig defines and parses command-line flags, and constructs a
// map containing only the values the user explicitly provided.
func parseFlagConfig() (action, map[string]any, error) {
	// Flags cover per-run overrides. Long-term policy (schedule, retention)
	// belongs in the config file so behavior stays predictable over time.
	srcFlag := flag.String("source", "", "Source directory to back up")
	backupPathFlag := flag.String("backup-path", "", "Destination directory for archives (default: the source's parent directory)")
	configDirFlag := flag.String("config-dir", ".", "Directory holding "+config.ConfigFileName)
	cronFlag := flag.String("cron", "", "Cron expression for scheduled backups (5 fields)")
	maxBackupsFlag := flag.Int("max-backups", 0, "Number of archives to retain")
	formatFlag := flag.String("format", "", "Archive format: 'zip', 'tar.gz' or 'tar.zst'")
	levelFlag := flag.String("compression-level", "", "Compression effort: 'fastest', 'default', 'better' or 'best'")
	logLevelFlag := flag.String("log-level", "", "Logging level: 'debug', 'notice', 'info', 'warn', 'error'")
	minFreeFlag := flag.Uint64("min-free-space-mb", 0, "Minimum free space in MB required before a backup starts (0 disables the check)")
	backupNowFlag := flag.Bool("backup-now", false, "Run a single backup immediately and exit.")
	statusFlag := flag.Bool("status", false, "List retained backups and exit.")
	initFlag := flag.Bool("init", false, "Generate a default "+config.ConfigFileName+" file and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)
	addIfUsed := func(name string, value any) {
		if usedFlags[name] {
			flagMap[name] = value
		}
	}

	addIfUsed("source", *srcFlag)
	addIfUsed("backup-path", *backupPathFlag)
	addIfUsed("cron", *cronFlag)
	addIfUsed("max-backups", *maxBackupsFlag)
	addIfUsed("format", *formatFlag)
	addIfUsed("compression-level", *levelFlag)
	addIfUsed("log-level", *logLevelFlag)
	addIfUsed("min-free-space-mb", *minFreeFlag)

	// config-dir always has a value; the default "." is fine to carry along.
	flagMap["config-dir"] = *configDirFlag

	switch {
	case *versionFlag:
		return actionShowVersion, flagMap, nil
	case *initFlag:
		return actionInitConfig, flagMap, nil
	case *backupNowFlag:
		return actionBackupNow, flagMap, nil
	case *statusFlag:
		return actionShowStatus, flagMap, nil
	}
	return actionRunDaemon, flagMap, nil
}

// loadRunConfig loads the config file, overlays the flags and validates the
// result.
func loadRunConfig(flagMap map[string]any) (config.Config, error) {
	configDir := flagMap["config-dir"].(string)
	delete(flagMap, "config-dir")

	loaded, err := config.Load(configDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig := config.MergeWithFlags(loaded, flagMap)
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	return runConfig, nil
}

// runInit generates a default config file in the config directory.
func runInit(flagMap map[string]any) error {
	configDir := flagMap["config-dir"].(string)
	delete(flagMap, "config-dir")

	generated := config.MergeWithFlags(config.NewDefault(), flagMap)
	return config.Generate(generated, configDir)
}

// runBackupNow executes a single backup and prints the result.
func runBackupNow(ctx context.Context, runConfig config.Config) error {
	e, err := engine.New(runConfig)
	if err != nil {
		return err
	}

	outcome, err := e.RunBackup(ctx, engine.TriggerManual)
	if err != nil {
		return err
	}
	plog.Info("Backup finished",
		"archive", outcome.ArchivePath,
		"duration", outcome.Duration.Round(time.Millisecond))
	return nil
}

// runStatus prints the list of retained backups.
func runStatus(runConfig config.Config) error {
	e, err := engine.New(runConfig)
	if err != nil {
		return err
	}

	h := command.NewHandler(e, command.AdminList(nil))
	fmt.Println(strings.TrimRight(h.Status(), "\n"))
	return nil
}

// runDaemon starts the scheduler and blocks until the context is canceled.
func runDaemon(ctx context.Context, runConfig config.Config) error {
	runConfig.LogSummary()

	e, err := engine.New(runConfig)
	if err != nil {
		return err
	}
	sched, err := schedule.Parse(runConfig.CronExpression)
	if err != nil {
		return err
	}

	s := engine.NewScheduler(e, sched)
	s.Start(ctx)
	defer s.Stop()

	<-ctx.Done()
	plog.Info("Shutting down")
	return nil
}

// run encapsulates the main application logic and returns an error if
// something goes wrong, allowing main to handle exit codes.
func run(ctx context.Context) error {
	action, flagMap, err := parseFlagConfig()
	if err != nil {
		return err
	}

	switch action {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	case actionInitConfig:
		return runInit(flagMap)
	}

	plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())
	runConfig, err := loadRunConfig(flagMap)
	if err != nil {
		return err
	}

	switch action {
	case actionBackupNow:
		return runBackupNow(ctx, runConfig)
	case actionShowStatus:
		return runStatus(runConfig)
	case actionRunDaemon:
		return runDaemon(ctx, runConfig)
	default:
		return fmt.Errorf("internal error: unknown action %d", action)
	}
}

func main() {
	// Cancel the context on interrupt so a run in flight can clean up its
	// partial archive before the process exits.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
