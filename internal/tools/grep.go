package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// GrepTool recursively searches file contents.
type GrepTool struct {
	// Dir is the base for relative paths ("" means current directory).
	Dir string
}

func (t *GrepTool) Name() string    { return "grep" }
func (t *GrepTool) IsReadOnly() bool { return true }

func (t *GrepTool) Description() string {
	return "Recursively search file contents using a regex pattern. " +
		"Returns matching lines in 'file:line:content' format (max 50 results)."
}

func (t *GrepTool) Parameters() map[string]any {
	return map[string]any{
		"pattern": map[string]any{
			"type":        "string",
			"description": "Regular expression pattern to search for",
		},
		"path": map[string]any{
			"type":        "string",
			"description": "Directory or file to search in (default: current directory)",
		},
		"glob": map[string]any{
			"type":        "string",
			"description": "File glob filter (e.g. '*.go', '*.ts')",
		},
		"case_insensitive": map[string]any{
			"type":        "boolean",
			"description": "Whether to ignore case (default: false)",
		},
	}
}

const maxGrepResults = 50

var errGrepLimit = errors.New("limit reached")

func (t *GrepTool) Execute(_ context.Context, params json.RawMessage) (ToolResult, error) {
	var p struct {
		Pattern         string `json:"pattern"`
		Path            string `json:"path"`
		Glob            string `json:"glob"`
		CaseInsensitive bool   `json:"case_insensitive"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, fmt.Errorf("invalid params: %w", err)
	}
	if p.Pattern == "" {
		return ToolResult{}, fmt.Errorf("pattern is required")
	}
	if p.Path == "" {
		p.Path = "."
	}
	base := resolvePath(t.Dir, p.Path)

	regexPattern := p.Pattern
	if p.CaseInsensitive {
		regexPattern = "(?i)" + regexPattern
	}
	re, err := regexp.Compile(regexPattern)
	if err != nil {
		return ToolResult{}, fmt.Errorf("invalid regex pattern: %w", err)
	}

	var results []string

	err = filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip inaccessible files
		}
		if info.IsDir() {
			if path != base && shouldSkipDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldSkipFile(info) {
			return nil
		}
		// Apply glob filter
		if p.Glob != "" {
			matched, _ := filepath.Match(p.Glob, info.Name())
			if !matched {
				return nil
			}
		}

		if err := searchFile(path, re, &results); err != nil {
			return nil // skip files we can't read
		}
		if len(results) >= maxGrepResults {
			return errGrepLimit
		}
		return nil
	})

	if err != nil && !errors.Is(err, errGrepLimit) {
		return ToolResult{}, fmt.Errorf("search failed: %w", err)
	}

	if len(results) == 0 {
		return ToolResult{Content: "no matches found"}, nil
	}

	content := strings.Join(results, "\n")
	truncated := len(results) >= maxGrepResults
	if truncated {
		content += fmt.Sprintf("\n[Truncated: showing first %d results]", maxGrepResults)
	}

	return ToolResult{Content: content, Truncated: truncated}, nil
}

func searchFile(path string, re *regexp.Regexp, results *[]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if re.MatchString(line) {
			*results = append(*results, fmt.Sprintf("%s:%d:%s", path, lineNum, line))
			if len(*results) >= maxGrepResults {
				return nil
			}
		}
	}
	return scanner.Err()
}
