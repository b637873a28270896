// Package pathfilter decides whether a filesystem entry is eligible for
// inclusion in an archive, given a set of exclusion rules.
//
// Matching is deliberately simple and strict: directory rules match the
// entry's base name exactly (case-sensitive), file rules match an exact
// name suffix. Anything not matched by a rule is included.
package pathfilter

import (
	"path/filepath"
	"strings"

	"github.com/quietbyte/treevault/pkg/util"
)

// DefaultExcludeDirs are directory names that are always excluded. Each one
// is noise that would bloat an archive: virtual environments, bytecode
// caches, version-control metadata and dependency trees.
var DefaultExcludeDirs = []string{".venv", "__pycache__", ".git", "node_modules"}

// DefaultExcludeSuffixes are file name suffixes that are always excluded.
var DefaultExcludeSuffixes = []string{".pyc", ".log", ".tmp"}

// RuleSet holds the categorized exclusion rules for a single archive run.
// It is immutable after construction and safe for concurrent use.
type RuleSet struct {
	// dirNames are exact base-name matches for directories, O(1) to check.
	dirNames map[string]struct{}
	// suffixes are exact suffix matches for file names.
	suffixes []string
}

// NewRuleSet builds a RuleSet from the default rules plus any user-configured
// additions. Duplicates between the two sets are harmless.
func NewRuleSet(extraDirs, extraSuffixes []string) RuleSet {
	dirs := util.MergeAndDeduplicate(DefaultExcludeDirs, extraDirs)
	set := RuleSet{
		dirNames: make(map[string]struct{}, len(dirs)),
		suffixes: util.MergeAndDeduplicate(DefaultExcludeSuffixes, extraSuffixes),
	}
	for _, d := range dirs {
		set.dirNames[d] = struct{}{}
	}
	return set
}

// ShouldExclude reports whether the entry at path should be omitted from the
// archive. For directories the caller is expected to skip the entire subtree.
// It is a pure function of the entry's name and type.
func (rs RuleSet) ShouldExclude(path string, isDir bool) bool {
	name := filepath.Base(path)
	if isDir {
		_, excluded := rs.dirNames[name]
		return excluded
	}
	for _, suffix := range rs.suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
