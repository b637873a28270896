// Package preflight validates the backup destination before a run starts.
// Failing here is cheap; failing halfway through an archive write is not.
package preflight

import (
	"fmt"
	"os"

	"github.com/quietbyte/treevault/pkg/plog"
	"github.com/quietbyte/treevault/pkg/util"
)

// Check ensures the destination directory exists, is writable, and has at
// least minFreeBytes of free disk space (0 disables the space check).
func Check(destDir string, minFreeBytes uint64) error {
	// Create the destination if it does not exist yet. A backup target that
	// vanished (unmounted drive) usually surfaces right here.
	if err := os.MkdirAll(destDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("destination directory %s is not usable: %w", destDir, err)
	}

	// Probe writability with a throwaway file. Permission bits alone are not
	// reliable on network mounts, so we actually write.
	probe, err := os.CreateTemp(destDir, ".treevault-probe-*")
	if err != nil {
		return fmt.Errorf("destination directory %s is not writable: %w", destDir, err)
	}
	probeName := probe.Name()
	if err := probe.Close(); err != nil {
		os.Remove(probeName)
		return fmt.Errorf("destination directory %s failed write probe: %w", destDir, err)
	}
	if err := os.Remove(probeName); err != nil {
		plog.Warn("Could not remove write probe file", "path", probeName, "error", err)
	}

	if minFreeBytes > 0 {
		free, err := freeSpace(destDir)
		if err != nil {
			return fmt.Errorf("could not determine free space for %s: %w", destDir, err)
		}
		if free < minFreeBytes {
			return fmt.Errorf("insufficient free space in %s: %d bytes available, %d required", destDir, free, minFreeBytes)
		}
		plog.Debug("Preflight free space check passed", "path", destDir, "freeBytes", free)
	}

	return nil
}
