// Package shellexec runs agent shell commands under a sandbox.Policy and
// records every attempt to a rotating .shell_history file, spec.md §4.D.
package shellexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	turtle "github.com/sea-turtle/sea-turtle"
	"github.com/sea-turtle/sea-turtle/internal/sandbox"
)

// Config controls one executor's behavior. Zero values fall back to the
// defaults below, matching original_source/sea_turtle/core/shell.py.
type Config struct {
	TimeoutSeconds       int
	MaxOutputChars       int
	HistoryMaxFileSizeMB int
	HistoryRecordOutput  bool
	HistoryOutputMaxChars int
}

func (c Config) withDefaults() Config {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxOutputChars <= 0 {
		c.MaxOutputChars = 10000
	}
	if c.HistoryMaxFileSizeMB <= 0 {
		c.HistoryMaxFileSizeMB = 50
	}
	if c.HistoryOutputMaxChars <= 0 {
		c.HistoryOutputMaxChars = 500
	}
	return c
}

// Executor runs shell commands confined to one agent's workspace.
type Executor struct {
	workspace   string
	historyFile string
	policy      sandbox.Policy
	cfg         Config
}

// New creates an Executor rooted at workspace, enforcing policy.
func New(workspace string, policy sandbox.Policy, cfg Config) *Executor {
	return &Executor{
		workspace:   workspace,
		historyFile: filepath.Join(workspace, ".shell_history"),
		policy:      policy,
		cfg:         cfg.withDefaults(),
	}
}

// Execute runs command, first checking it against the sandbox policy. Every
// attempt, allowed or not, is appended to .shell_history.
func (e *Executor) Execute(ctx context.Context, command string) turtle.ShellResult {
	if r, stop := e.check(command); stop {
		e.recordHistory(r)
		return r
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = e.workspace
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := turtle.ShellResult{
		Command: command,
		Stdout:  truncate(decodeUTF8(stdout.Bytes()), e.cfg.MaxOutputChars),
		Stderr:  truncate(decodeUTF8(stderr.Bytes()), e.cfg.MaxOutputChars),
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		result.Stderr = fmt.Sprintf("Command timed out after %d seconds.", e.cfg.TimeoutSeconds)
	} else if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}

	e.recordHistory(result)
	return result
}

// check applies the sandbox policy. stop is true when execution must not
// proceed (blocked or needs confirmation).
func (e *Executor) check(command string) (turtle.ShellResult, bool) {
	switch e.policy.Classify(command) {
	case sandbox.Blocked:
		return turtle.ShellResult{Command: command, ExitCode: -1, Blocked: true,
			Stderr: "Command blocked by sandbox policy."}, true
	case sandbox.NeedsConfirmation:
		return turtle.ShellResult{Command: command, ExitCode: -1, NeedsConfirmation: true,
			Stderr: "This command requires user confirmation before execution."}, true
	default:
		return turtle.ShellResult{}, false
	}
}

// decodeUTF8 replaces invalid byte sequences with the Unicode replacement
// character, matching stdout_bytes.decode("utf-8", errors="replace").
func decodeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// truncate slices s to at most max runes, never splitting a multi-byte
// sequence, matching Python's str-level (not byte-level) slicing.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// recordHistory appends a human-readable entry to .shell_history and rotates
// it when oversized. Failures here never propagate — a history write must
// not break command execution.
func (e *Executor) recordHistory(r turtle.ShellResult) {
	defer func() { recover() }()

	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0o755); err != nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] $ %s\n", time.Now().UTC().Format("2006-01-02 15:04:05"), r.Command)
	fmt.Fprintf(&b, "exit_code: %d\n", r.ExitCode)

	switch {
	case r.Blocked:
		fmt.Fprintf(&b, "blocked: %s\n", r.Stderr)
	case r.NeedsConfirmation:
		b.WriteString("status: needs_confirmation\n")
	case e.cfg.HistoryRecordOutput:
		if r.Stdout != "" {
			fmt.Fprintf(&b, "stdout: %s\n", truncate(r.Stdout, e.cfg.HistoryOutputMaxChars))
		}
		if r.Stderr != "" {
			fmt.Fprintf(&b, "stderr: %s\n", truncate(r.Stderr, e.cfg.HistoryOutputMaxChars))
		}
	}
	b.WriteString("---\n")

	f, err := os.OpenFile(e.historyFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	f.WriteString(b.String())
	f.Close()

	e.truncateHistoryIfNeeded()
}

// truncateHistoryIfNeeded keeps the last two-thirds of lines once the file
// exceeds HistoryMaxFileSizeMB, matching the original implementation's
// rotation scheme.
func (e *Executor) truncateHistoryIfNeeded() {
	info, err := os.Stat(e.historyFile)
	if err != nil {
		return
	}
	maxBytes := int64(e.cfg.HistoryMaxFileSizeMB) * 1024 * 1024
	if info.Size() <= maxBytes {
		return
	}

	data, err := os.ReadFile(e.historyFile)
	if err != nil {
		return
	}
	lines := strings.Split(string(data), "\n")
	keepFrom := len(lines) / 3
	trimmed := strings.Join(lines[keepFrom:], "\n")
	os.WriteFile(e.historyFile, []byte(trimmed), 0o644)
}
