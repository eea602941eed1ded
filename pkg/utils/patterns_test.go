package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/poltergeist/matrixgen/pkg/utils"
)

func TestValueMatcher_Match(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		value   string
		want    bool
	}{
		{name: "exact", pattern: "windows", value: "windows", want: true},
		{name: "exact no match", pattern: "windows", value: "windows-2022", want: false},
		{name: "wildcard", pattern: "windows*", value: "windows-2022", want: true},
		{name: "wildcard crosses slash", pattern: "ubuntu*", value: "ubuntu/22.04", want: true},
		{name: "dot is literal", pattern: "3.9", value: "389", want: false},
		{name: "version prefix", pattern: "3.1*", value: "3.12", want: true},
		{name: "question mark", pattern: "3.?", value: "3.9", want: true},
		{name: "question mark no match", pattern: "3.?", value: "3.12", want: false},
		{name: "character class", pattern: "py3[0-9]", value: "py38", want: true},
		{name: "negated class", pattern: "py3[!0-8]", value: "py38", want: false},
		{name: "alternatives", pattern: "linux|macos", value: "macos", want: true},
		{name: "alternatives no match", pattern: "linux|macos", value: "windows", want: false},
		{name: "alternatives trimmed", pattern: "linux | macos", value: "macos", want: true},
		{name: "escaped star", pattern: `a\*`, value: "a*", want: true},
		{name: "escaped star literal", pattern: `a\*`, value: "ab", want: false},
		{name: "unclosed bracket literal", pattern: "a[b", value: "a[b", want: true},
		{name: "regex meta literal", pattern: "c++", value: "c++", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, err := utils.NewValueMatcher(tt.pattern)
			if err != nil {
				t.Fatalf("failed to compile %q: %v", tt.pattern, err)
			}
			if got := vm.Match(tt.value); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
			}
		})
	}
}

func TestValueMatcher_MatchAny(t *testing.T) {
	vm := utils.MustValueMatcher("3.1*")
	if !vm.MatchAny([]string{"3.9", "3.12"}) {
		t.Error("expected a match")
	}
	if vm.MatchAny([]string{"3.9", "2.7"}) {
		t.Error("expected no match")
	}
}

func TestIsGlobPattern(t *testing.T) {
	for pattern, want := range map[string]bool{
		"linux":     false,
		"linux*":    true,
		"3.?":       true,
		"[ab]":      true,
		"a|b":       true,
		"3.12-dev0": false,
	} {
		if got := utils.IsGlobPattern(pattern); got != want {
			t.Errorf("IsGlobPattern(%q) = %v, want %v", pattern, got, want)
		}
	}
}

func TestIdentifier(t *testing.T) {
	tests := map[string]string{
		"linux":         "linux",
		"3.12":          "3_12",
		"ubuntu-22.04":  "ubuntu_22_04",
		"--weird--":     "weird",
		"a  b":          "a_b",
		"pypy3.9":       "pypy3_9",
		"azure-storage": "azure_storage",
		"ümlaut":        "mlaut",
	}

	for in, want := range tests {
		if got := utils.Identifier(in); got != want {
			t.Errorf("Identifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFileSystem_WriteFileAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out", "pipeline.yaml")

	fs := utils.NewFileSystem()
	if err := fs.WriteFile(path, []byte("first")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if err := fs.WriteFile(path, []byte("second")); err != nil {
		t.Fatalf("failed to overwrite: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected second, got %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestFileSystem_ListDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	for _, d := range []string{"storage", "keyvault", "core"} {
		os.MkdirAll(filepath.Join(tmpDir, d), 0755)
	}
	os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("x"), 0644)

	dirs, err := utils.NewFileSystem().ListDirectories(tmpDir)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}

	want := []string{"core", "keyvault", "storage"}
	if len(dirs) != len(want) {
		t.Fatalf("expected %v, got %v", want, dirs)
	}
	for i := range want {
		if dirs[i] != want[i] {
			t.Errorf("expected %v, got %v", want, dirs)
		}
	}
}
