package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultSystemPrompt_Base(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	work := t.TempDir()

	prompt := DefaultSystemPrompt(work)
	if !strings.Contains(prompt, "read-only tools") {
		t.Error("expected built-in base prompt")
	}
	if !strings.Contains(prompt, "Working directory: "+work) {
		t.Error("expected working directory note")
	}
}

func TestDefaultSystemPrompt_ProjectOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	work := t.TempDir()

	dir := filepath.Join(work, ".loadout")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "system_prompt.md"), []byte("You are a pirate.\n"), 0644)

	prompt := DefaultSystemPrompt(work)
	if !strings.Contains(prompt, "You are a pirate.") {
		t.Error("expected project override to replace base prompt")
	}
	if strings.Contains(prompt, "read-only tools") {
		t.Error("override should replace the base prompt entirely")
	}
}

func TestDefaultSystemPrompt_ExtraAppends(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	work := t.TempDir()

	dir := filepath.Join(work, ".loadout")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "_extra.md"), []byte("Always answer in French."), 0644)

	prompt := DefaultSystemPrompt(work)
	if !strings.Contains(prompt, "read-only tools") {
		t.Error("extra file should not replace the base prompt")
	}
	if !strings.Contains(prompt, "Always answer in French.") {
		t.Error("expected _extra.md content appended")
	}
}

func TestDefaultSystemPrompt_GlobalThenProject(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	work := t.TempDir()

	globalDir := filepath.Join(home, ".config", "loadout")
	os.MkdirAll(globalDir, 0755)
	os.WriteFile(filepath.Join(globalDir, "system_prompt.md"), []byte("global prompt"), 0644)

	projDir := filepath.Join(work, ".loadout")
	os.MkdirAll(projDir, 0755)
	os.WriteFile(filepath.Join(projDir, "system_prompt.md"), []byte("project prompt"), 0644)

	prompt := DefaultSystemPrompt(work)
	if !strings.Contains(prompt, "project prompt") {
		t.Error("project override should win over global")
	}
	if strings.Contains(prompt, "global prompt") {
		t.Error("global override should be shadowed by project override")
	}
}
