// Package supervisor manages one child OS process per configured agent,
// spec.md §4.I. Mirrors original_source/sea_turtle/core/agent.py's
// AgentManager, with multiprocessing.Process/Queue replaced by a re-exec'd
// subprocess ("<exe> worker --agent <id> --config <path>") talking
// newline-delimited JSON turtle.Envelopes over its stdin/stdout pipes, and
// the mutex-guarded handle map styled after the teacher's AgentManager.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	turtle "github.com/sea-turtle/sea-turtle"
	"github.com/sea-turtle/sea-turtle/internal/config"
)

// Handle is a running agent child process.
type Handle struct {
	AgentID      string
	RestartCount int
	StartedAt    time.Time

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// IsAlive reports whether the process is still running, by probing it with
// signal 0 (no actual signal delivered, just existence/permission check).
func (h *Handle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return false
	}
	if h.cmd.ProcessState != nil {
		return false
	}
	return h.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// PID returns the process ID, or 0 if not running.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Uptime returns how long the process has been running.
func (h *Handle) Uptime() time.Duration {
	if h.StartedAt.IsZero() {
		return 0
	}
	return time.Since(h.StartedAt)
}

func (h *Handle) send(env turtle.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil {
		return fmt.Errorf("supervisor: agent %q has no stdin pipe", h.AgentID)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = h.stdin.Write(b)
	return err
}

// spawnFunc builds the *exec.Cmd for one agent, without starting it. The
// production spawner re-execs the current binary; tests substitute a fake.
type spawnFunc func(agentID string) *exec.Cmd

// Manager owns every agent's child process and routes replies read off each
// process's stdout to onReply.
type Manager struct {
	cfg     config.Config
	spawn   spawnFunc
	onReply func(agentID string, env turtle.Envelope)

	mu     sync.Mutex
	agents map[string]*Handle
}

// NewManager builds a Manager that re-execs exePath as
// "<exePath> worker --agent <id> --config <configPath>" for each agent.
// onReply is invoked (from a background goroutine, one per agent) for every
// Envelope a worker writes to its stdout.
func NewManager(cfg config.Config, exePath, configPath string, onReply func(agentID string, env turtle.Envelope)) *Manager {
	spawn := func(agentID string) *exec.Cmd {
		return exec.Command(exePath, "worker", "--agent", agentID, "--config", configPath)
	}
	return newManagerWithSpawner(cfg, spawn, onReply)
}

func newManagerWithSpawner(cfg config.Config, spawn spawnFunc, onReply func(agentID string, env turtle.Envelope)) *Manager {
	return &Manager{
		cfg:     cfg,
		spawn:   spawn,
		onReply: onReply,
		agents:  make(map[string]*Handle),
	}
}

// StartAgent launches agentID's child process, replacing any existing one.
func (m *Manager) StartAgent(agentID string) (*Handle, error) {
	agentCfg, ok := m.cfg.Agents[agentID]
	if !ok {
		return nil, fmt.Errorf("supervisor: agent %q not found in configuration", agentID)
	}
	_ = agentCfg

	m.mu.Lock()
	existing := m.agents[agentID]
	m.mu.Unlock()
	if existing != nil && existing.IsAlive() {
		m.StopAgent(agentID)
	}

	cmd := m.spawn(agentID)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdin pipe for %q: %w", agentID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdout pipe for %q: %w", agentID, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start agent %q: %w", agentID, err)
	}

	restartCount := 0
	if existing != nil {
		restartCount = existing.RestartCount
	}

	handle := &Handle{
		AgentID:      agentID,
		RestartCount: restartCount,
		StartedAt:    time.Now(),
		cmd:          cmd,
		stdin:        stdin,
		stdout:       stdout,
	}

	m.mu.Lock()
	m.agents[agentID] = handle
	m.mu.Unlock()

	go m.readReplies(handle)

	slog.Info("agent started", "agent_id", agentID, "pid", handle.PID())
	return handle, nil
}

func (m *Manager) readReplies(h *Handle) {
	scanner := bufio.NewScanner(h.stdout)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env turtle.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			slog.Error("supervisor received malformed envelope", "agent_id", h.AgentID, "error", err)
			continue
		}
		if m.onReply != nil {
			m.onReply(h.AgentID, env)
		}
	}
}

// StopAgent sends a shutdown envelope and joins with a layered deadline:
// 5s graceful, then SIGTERM and 3s more, then SIGKILL.
func (m *Manager) StopAgent(agentID string) bool {
	m.mu.Lock()
	handle := m.agents[agentID]
	m.mu.Unlock()
	if handle == nil {
		return false
	}
	if !handle.IsAlive() {
		return true
	}

	_ = handle.send(turtle.Envelope{Type: turtle.EnvShutdown})

	done := make(chan struct{})
	go func() {
		handle.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("agent did not exit after shutdown envelope, escalating to terminate", "agent_id", agentID)
		handle.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			slog.Warn("agent did not exit after terminate, killing", "agent_id", agentID)
			handle.cmd.Process.Kill()
			<-done
		}
	}

	slog.Info("agent stopped", "agent_id", agentID)
	return true
}

// RestartAgent stops then starts agentID, carrying its restart count over
// and incrementing it.
func (m *Manager) RestartAgent(agentID string) (*Handle, error) {
	m.mu.Lock()
	old := m.agents[agentID]
	m.mu.Unlock()

	m.StopAgent(agentID)
	handle, err := m.StartAgent(agentID)
	if err != nil {
		return nil, err
	}

	restartCount := 1
	if old != nil {
		restartCount = old.RestartCount + 1
	}
	handle.RestartCount = restartCount

	slog.Info("agent restarted", "agent_id", agentID, "restart_count", restartCount)
	return handle, nil
}

// GetHandle returns the handle for agentID, or nil if it has never been
// started. A returned handle may belong to a process that has exited.
func (m *Manager) GetHandle(agentID string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[agentID]
}

// SendMessage writes env to agentID's stdin pipe. Returns false if the
// agent isn't running or the write fails.
func (m *Manager) SendMessage(agentID string, env turtle.Envelope) bool {
	m.mu.Lock()
	handle := m.agents[agentID]
	m.mu.Unlock()
	if handle == nil || !handle.IsAlive() {
		return false
	}
	if err := handle.send(env); err != nil {
		slog.Error("failed to send message to agent", "agent_id", agentID, "error", err)
		return false
	}
	return true
}

// HealthStatus is one agent's point-in-time health snapshot.
type HealthStatus struct {
	Alive        bool
	PID          int
	Uptime       time.Duration
	RestartCount int
}

// CheckHealth returns a snapshot of every tracked agent's process state.
func (m *Manager) CheckHealth() map[string]HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HealthStatus, len(m.agents))
	for id, h := range m.agents {
		out[id] = HealthStatus{
			Alive:        h.IsAlive(),
			PID:          h.PID(),
			Uptime:       h.Uptime(),
			RestartCount: h.RestartCount,
		}
	}
	return out
}

// StartAll starts every configured agent, logging (not failing) on error.
func (m *Manager) StartAll() {
	for agentID := range m.cfg.Agents {
		if _, err := m.StartAgent(agentID); err != nil {
			slog.Error("failed to start agent", "agent_id", agentID, "error", err)
		}
	}
}

// StopAll stops every running agent.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.StopAgent(id)
	}
}

// RecoverCrashed restarts any tracked agent whose process has exited,
// returning the IDs that were restarted. Intended to be polled periodically
// (spec.md §4.K: 30s health monitor).
func (m *Manager) RecoverCrashed() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.agents))
	for id, h := range m.agents {
		if !h.IsAlive() && !h.StartedAt.IsZero() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var restarted []string
	for _, id := range ids {
		slog.Warn("agent crashed, restarting", "agent_id", id)
		if _, err := m.RestartAgent(id); err != nil {
			slog.Error("failed to restart crashed agent", "agent_id", id, "error", err)
			continue
		}
		restarted = append(restarted, id)
	}
	return restarted
}

// AgentInfo describes one configured agent for a /list-style command.
type AgentInfo struct {
	ID           string
	Name         string
	Model        string
	Sandbox      string
	Alive        bool
	PID          int
	Uptime       time.Duration
	RestartCount int
}

// ListAgents returns every configured agent merged with its live status.
func (m *Manager) ListAgents() []AgentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AgentInfo, 0, len(m.cfg.Agents))
	for id, agentCfg := range m.cfg.Agents {
		info := AgentInfo{ID: id, Name: agentCfg.Name, Model: agentCfg.Model, Sandbox: agentCfg.Sandbox}
		if h, ok := m.agents[id]; ok {
			info.Alive = h.IsAlive()
			info.PID = h.PID()
			info.Uptime = h.Uptime()
			info.RestartCount = h.RestartCount
		}
		out = append(out, info)
	}
	return out
}

// Shutdown stops every agent, used on daemon exit; ctx is currently
// informational only (StopAgent enforces its own timeout per agent).
func (m *Manager) Shutdown(ctx context.Context) {
	m.StopAll()
}
