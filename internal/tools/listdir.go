package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

const maxListDirEntries = 500

// ListDirTool lists directory contents.
type ListDirTool struct {
	// Dir is the base for relative paths ("" means current directory).
	Dir string
}

func (t *ListDirTool) Name() string    { return "list_dir" }
func (t *ListDirTool) IsReadOnly() bool { return true }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory. Directories are listed first " +
		"with a trailing slash. Hidden entries are skipped unless all=true."
}

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "Directory to list (default: current directory)",
		},
		"all": map[string]any{
			"type":        "boolean",
			"description": "Include hidden entries (default: false)",
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, params json.RawMessage) (ToolResult, error) {
	var p struct {
		Path string `json:"path"`
		All  bool   `json:"all"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("invalid params: %w", err)
	}
	if p.Path == "" {
		p.Path = "."
	}
	path := resolvePath(t.Dir, p.Path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to list directory: %w", err)
	}

	var dirs, files []string
	for _, entry := range entries {
		name := entry.Name()
		if !p.All && strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			dirs = append(dirs, name+"/")
		} else {
			files = append(files, name)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)

	names := append(dirs, files...)
	if len(names) == 0 {
		return ToolResult{Content: "empty directory"}, nil
	}

	truncated := false
	if len(names) > maxListDirEntries {
		names = names[:maxListDirEntries]
		truncated = true
	}

	content := strings.Join(names, "\n")
	if truncated {
		content += fmt.Sprintf("\n[Truncated: showing first %d entries]", maxListDirEntries)
	}

	return ToolResult{Content: content, Truncated: truncated}, nil
}
