package pathfilter

import (
	"path/filepath"
	"testing"
)

func TestShouldExcludeDirectories(t *testing.T) {
	rs := NewRuleSet(nil, nil)

	cases := []struct {
		path string
		want bool
	}{
		{".venv", true},
		{"__pycache__", true},
		{".git", true},
		{"node_modules", true},
		{filepath.Join("deep", "nested", ".venv"), true},
		{"app", false},
		{"data", false},
		// Segment-exact: similar names must not match.
		{".venv2", false},
		{"my.venv", false},
		// Case-sensitive.
		{".VENV", false},
		{"Node_Modules", false},
	}
	for _, tc := range cases {
		if got := rs.ShouldExclude(tc.path, true); got != tc.want {
			t.Errorf("ShouldExclude(%q, dir) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestShouldExcludeFiles(t *testing.T) {
	rs := NewRuleSet(nil, nil)

	cases := []struct {
		path string
		want bool
	}{
		{"a.pyc", true},
		{"data.log", true},
		{"scratch.tmp", true},
		{filepath.Join("app", "main.py"), false},
		{"notes.txt", false},
		// Suffix-exact and case-sensitive.
		{"data.LOG", false},
		{"logfile", false},
	}
	for _, tc := range cases {
		if got := rs.ShouldExclude(tc.path, false); got != tc.want {
			t.Errorf("ShouldExclude(%q, file) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestUserConfiguredAdditions(t *testing.T) {
	rs := NewRuleSet([]string{"dist"}, []string{".bak"})

	if !rs.ShouldExclude("dist", true) {
		t.Error("expected user-configured directory to be excluded")
	}
	if !rs.ShouldExclude("db.bak", false) {
		t.Error("expected user-configured suffix to be excluded")
	}
	// Defaults remain active alongside user additions.
	if !rs.ShouldExclude(".git", true) {
		t.Error("expected default directory rule to remain active")
	}
	// A directory rule does not leak into file matching and vice versa.
	if rs.ShouldExclude("dist", false) {
		t.Error("directory rule must not exclude a file of the same name")
	}
}

func TestUnknownEntriesIncludedByDefault(t *testing.T) {
	rs := NewRuleSet(nil, nil)

	if rs.ShouldExclude("something-unusual", true) {
		t.Error("unknown directory should be included by default")
	}
	if rs.ShouldExclude("README", false) {
		t.Error("unknown file should be included by default")
	}
}
