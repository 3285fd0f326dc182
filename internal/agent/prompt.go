package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// baseSystemPrompt is the built-in system prompt. Tool schemas are
// delivered separately with each request, so this only sets the working
// style.
const baseSystemPrompt = `You are loadout, a careful assistant that explores a project with read-only tools.

Work in steps: inspect with the available tools, then answer from what you actually read.

Guidelines:
- Prefer targeted lookups (grep, glob) over listing everything.
- Use code_map for a signature-level overview of Go packages before reading whole files.
- Quote file paths exactly as the tools return them.
- Older tool results may be replaced by {"_pruned":true} markers when the conversation grows long; re-read the file instead of relying on a pruned result.
- Once you have enough information, answer directly and stop calling tools.`

// DefaultSystemPrompt assembles the system prompt: the built-in base,
// replaced by a user override when one exists. Override paths (higher
// wins):
//
//	~/.config/loadout/system_prompt.md   (global)
//	{workDir}/.loadout/system_prompt.md  (project)
//
// A "_extra.md" in either directory is appended after the prompt rather
// than replacing it.
func DefaultSystemPrompt(workDir string) string {
	prompt := baseSystemPrompt

	dirs := promptOverrideDirs(workDir)
	for _, dir := range dirs {
		if s := readFileString(filepath.Join(dir, "system_prompt.md")); s != "" {
			prompt = s
		}
	}
	for _, dir := range dirs {
		if s := readFileString(filepath.Join(dir, "_extra.md")); s != "" {
			prompt += "\n\n" + s
		}
	}

	if workDir != "" {
		prompt += fmt.Sprintf("\n\nWorking directory: %s", workDir)
	}
	return prompt
}

// promptOverrideDirs returns the override directories that exist, in
// priority order (lowest first).
func promptOverrideDirs(workDir string) []string {
	var dirs []string
	add := func(dir string) {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return
		}
		dirs = append(dirs, abs)
	}

	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".config", "loadout"))
	}
	if workDir == "" {
		workDir = "."
	}
	add(filepath.Join(workDir, ".loadout"))
	return dirs
}

// readFileString reads a file and returns its trimmed content.
// Returns empty string if the file doesn't exist or is empty.
func readFileString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
