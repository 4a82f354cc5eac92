// Package workspace manages an agent's flat-file state: rules.md,
// skills.md, memory.md, and task.md, spec.md §4.E. All I/O is best-effort —
// a missing or unreadable file yields a zero value rather than an error,
// matching original_source/sea_turtle/core/{memory,rules}.py.
package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Workspace is the set of flat files backing one agent.
type Workspace struct {
	dir string
}

// New wraps an agent's workspace directory.
func New(dir string) *Workspace {
	return &Workspace{dir: dir}
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func readFileOrEmpty(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func writeFile(path, content string) bool {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false
	}
	return os.WriteFile(path, []byte(content), 0o644) == nil
}

// Rules reads rules.md.
func (w *Workspace) Rules() string { return readFileOrEmpty(w.path("rules.md")) }

// Skills reads skills.md.
func (w *Workspace) Skills() string { return readFileOrEmpty(w.path("skills.md")) }

// Task reads task.md.
func (w *Workspace) Task() string { return readFileOrEmpty(w.path("task.md")) }

// PendingTasks parses task.md for unchecked markdown checkboxes
// ("- [ ] description") and returns their descriptions.
func (w *Workspace) PendingTasks() []string {
	content := w.Task()
	if content == "" {
		return nil
	}
	var pending []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- [ ]") {
			if text := strings.TrimSpace(trimmed[len("- [ ]"):]); text != "" {
				pending = append(pending, text)
			}
		}
	}
	return pending
}

// Memory reads the entire memory.md content.
func (w *Workspace) Memory() string { return readFileOrEmpty(w.path("memory.md")) }

// WriteMemory overwrites memory.md. Returns false on any I/O failure.
func (w *Workspace) WriteMemory(content string) bool {
	return writeFile(w.path("memory.md"), content)
}

// AppendMemory appends a timestamped entry to memory.md.
func (w *Workspace) AppendMemory(entry string) bool {
	path := w.path("memory.md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	defer f.Close()
	ts := time.Now().UTC().Format("2006-01-02 15:04:05 UTC")
	_, err = f.WriteString("\n### [" + ts + "]\n" + entry + "\n")
	return err == nil
}

// SearchMemory returns the lines of memory.md containing keyword
// (case-insensitive).
func (w *Workspace) SearchMemory(keyword string) []string {
	content := w.Memory()
	if content == "" {
		return nil
	}
	lower := strings.ToLower(keyword)
	var matches []string
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(strings.ToLower(line), lower) {
			matches = append(matches, line)
		}
	}
	return matches
}

// ClearMemory truncates memory.md to empty.
func (w *Workspace) ClearMemory() bool { return w.WriteMemory("") }

// Init scaffolds a new workspace directory with default rules.md,
// skills.md, memory.md, and task.md, if they don't already exist.
func Init(dir, agentName, humanName string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w := New(dir)

	rulesPath := w.path("rules.md")
	if _, err := os.Stat(rulesPath); os.IsNotExist(err) {
		rules := "# Agent Rules\n\n" +
			"## Identity\n\n" +
			"- You are **" + agentName + "**, a helpful personal AI assistant.\n" +
			"- You refer to the user as **" + humanName + "**.\n\n" +
			"## Behavior\n\n" +
			"- Be concise and direct in your responses.\n" +
			"- When executing shell commands, explain what you're doing before running them.\n" +
			"- Always ask for confirmation before performing destructive operations.\n" +
			"- Use the user's preferred language for communication.\n"
		if err := os.WriteFile(rulesPath, []byte(rules), 0o644); err != nil {
			return err
		}
	}

	skillsPath := w.path("skills.md")
	if _, err := os.Stat(skillsPath); os.IsNotExist(err) {
		skills := "# Skills\n\n" +
			"<!-- Define agent-specific skills and workflows here. -->\n" +
			"<!-- The agent will load these skills as reference during conversations. -->\n"
		if err := os.WriteFile(skillsPath, []byte(skills), 0o644); err != nil {
			return err
		}
	}

	memoryPath := w.path("memory.md")
	if _, err := os.Stat(memoryPath); os.IsNotExist(err) {
		if err := os.WriteFile(memoryPath, []byte(""), 0o644); err != nil {
			return err
		}
	}

	taskPath := w.path("task.md")
	if _, err := os.Stat(taskPath); os.IsNotExist(err) {
		task := "# Tasks\n\n<!-- Add tasks as: - [ ] task description -->\n"
		if err := os.WriteFile(taskPath, []byte(task), 0o644); err != nil {
			return err
		}
	}

	return nil
}
