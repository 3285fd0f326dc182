package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShouldSkipDir(t *testing.T) {
	skip := []string{".git", "node_modules", "vendor", ".venv", ".hidden"}
	for _, name := range skip {
		if !shouldSkipDir(name) {
			t.Errorf("shouldSkipDir(%q) = false, want true", name)
		}
	}
	keep := []string{"src", "internal", "cmd", "."}
	for _, name := range keep {
		if shouldSkipDir(name) {
			t.Errorf("shouldSkipDir(%q) = true, want false", name)
		}
	}
}

func TestShouldSkipFile(t *testing.T) {
	tmp := t.TempDir()
	small := filepath.Join(tmp, "small.txt")
	if err := os.WriteFile(small, []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(small)
	if err != nil {
		t.Fatal(err)
	}
	if shouldSkipFile(info) {
		t.Error("small file should not be skipped")
	}
	if shouldSkipFile(nil) {
		t.Error("nil info should not be skipped")
	}
}

func TestResolvePath(t *testing.T) {
	cases := []struct {
		dir, path, want string
	}{
		{"", "a.txt", "a.txt"},
		{"/base", "a.txt", "/base/a.txt"},
		{"/base", "/abs/a.txt", "/abs/a.txt"},
		{"/base", "sub/a.txt", "/base/sub/a.txt"},
	}
	for _, tc := range cases {
		if got := resolvePath(tc.dir, tc.path); got != tc.want {
			t.Errorf("resolvePath(%q, %q) = %q, want %q", tc.dir, tc.path, got, tc.want)
		}
	}
}
