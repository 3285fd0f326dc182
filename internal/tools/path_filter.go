package tools

import (
	"os"
	"path/filepath"
	"strings"
)

var defaultSkipDirNames = map[string]bool{
	".git":          true,
	"node_modules":  true,
	"vendor":        true,
	"__pycache__":   true,
	".next":         true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".venv":         true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
}

func shouldSkipDir(name string) bool {
	if defaultSkipDirNames[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "."
}

func shouldSkipFile(info os.FileInfo) bool {
	// Don't scan very large files.
	return info != nil && info.Size() > 1024*1024
}

// resolvePath joins a relative path onto the tool's base directory.
// Absolute paths pass through unchanged.
func resolvePath(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
