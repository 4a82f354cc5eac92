// Package daemon wires the supervisor, channel adapters, and heartbeats
// into one long-running process, spec.md §4.K. Grounded on
// _examples/original_source/sea_turtle/daemon.py's Daemon (system command
// handling, reply dispatch, health monitor, PID file) and the signal
// handling idiom from _examples/nevindra-oasis/internal/app/app.go's
// RunWithSignal.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	turtle "github.com/sea-turtle/sea-turtle"
	"github.com/sea-turtle/sea-turtle/internal/channel"
	"github.com/sea-turtle/sea-turtle/internal/config"
	"github.com/sea-turtle/sea-turtle/internal/heartbeat"
	"github.com/sea-turtle/sea-turtle/internal/supervisor"
	"github.com/sea-turtle/sea-turtle/internal/workspace"
)

// Daemon is the supervisor, channel adapters, and heartbeats tied together.
type Daemon struct {
	cfg        config.Config
	dataDir    string
	supervisor *supervisor.Manager

	mu       sync.Mutex
	channels map[string]channel.Channel // keyed by channel.Name()
	pending  map[string]chan turtle.Envelope
}

// New builds a Daemon. exePath and configPath are passed straight through to
// supervisor.NewManager for the worker re-exec command line.
func New(cfg config.Config, exePath, configPath, dataDir string) *Daemon {
	d := &Daemon{
		cfg:      cfg,
		dataDir:  dataDir,
		channels: make(map[string]channel.Channel),
		pending:  make(map[string]chan turtle.Envelope),
	}
	d.supervisor = supervisor.NewManager(cfg, exePath, configPath, d.handleReply)
	return d
}

// RegisterChannel wires an already-constructed channel adapter into the
// daemon's reply-routing and polling loop. Call before Start.
func (d *Daemon) RegisterChannel(ch channel.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// Start launches every configured agent, heartbeat, channel poller, and the
// health monitor, then blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("sea turtle daemon starting")
	d.writePID()
	defer d.removePID()

	d.supervisor.StartAll()
	defer d.supervisor.StopAll()

	if d.cfg.Heartbeat.Enabled {
		for agentID, agentCfg := range d.cfg.Agents {
			ws := workspace.New(agentCfg.Workspace)
			interval := time.Duration(d.cfg.Heartbeat.IntervalSeconds) * time.Second
			hb := heartbeat.New(agentID, ws, interval, d.onTasksFound)
			go hb.Run(ctx)
		}
	}

	go d.healthMonitor(ctx)

	d.mu.Lock()
	channels := make([]channel.Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		channels = append(channels, ch)
	}
	d.mu.Unlock()

	for _, ch := range channels {
		msgs, err := ch.Poll(ctx)
		if err != nil {
			slog.Error("failed to start channel", "channel", ch.Name(), "error", err)
			continue
		}
		go d.consume(ctx, ch.Name(), msgs)
	}

	slog.Info("sea turtle daemon started")
	<-ctx.Done()
	slog.Info("sea turtle daemon stopping")
	return nil
}

func (d *Daemon) consume(ctx context.Context, channelName string, msgs <-chan turtle.IncomingMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			agentID := d.resolveAgentID(channelName, msg)
			if !d.isUserAllowed(agentID, channelName, msg.UserID) {
				continue
			}
			d.routeMessage(ctx, msg.Text, agentID, channelName, msg.ChatID, msg.UserID)
		}
	}
}

func (d *Daemon) healthMonitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if restarted := d.supervisor.RecoverCrashed(); len(restarted) > 0 {
				slog.Warn("recovered crashed agents", "agents", restarted)
			}
		}
	}
}

func (d *Daemon) onTasksFound(agentID string, tasks []string) {
	n := len(tasks)
	if n > 5 {
		tasks = tasks[:5]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d pending task(s):\n", n)
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	b.WriteString("Please work on them.")
	d.supervisor.SendMessage(agentID, turtle.Envelope{Type: turtle.EnvMessage, Content: b.String(), Source: "heartbeat"})
}

// resolveAgentID maps a bot-token-bound channel instance back to the agent
// it belongs to, mirroring BaseChannel._resolve_agent_id. Since we don't
// carry the originating token through IncomingMessage, this returns an agent
// that enables channelName, falling back to the default agent. When several
// agents enable it, which one is returned is not defined (cfg.Agents is a
// map) — exact behavior for the common single-bot-per-channel topology.
func (d *Daemon) resolveAgentID(channelName string, msg turtle.IncomingMessage) string {
	for agentID, agentCfg := range d.cfg.Agents {
		var cc config.ChannelConfig
		switch channelName {
		case "telegram":
			cc = agentCfg.Telegram
		case "discord":
			cc = agentCfg.Discord
		}
		if cc.Enabled && cc.BotTokenEnv != "" {
			return agentID
		}
	}
	return d.cfg.Global.DefaultAgent
}

func (d *Daemon) isUserAllowed(agentID, channelName, userID string) bool {
	agentCfg, ok := d.cfg.Agents[agentID]
	if !ok {
		return true
	}
	var cc config.ChannelConfig
	switch channelName {
	case "telegram":
		cc = agentCfg.Telegram
	case "discord":
		cc = agentCfg.Discord
	}
	return channel.IsUserAllowed(cc.AllowedUserIDs, userID)
}

// routeMessage dispatches text to the system command handler ("/"-prefixed)
// or forwards it to agentID's worker.
func (d *Daemon) routeMessage(ctx context.Context, text, agentID, source, chatID, userID string) {
	if strings.HasPrefix(text, "/") {
		go func() {
			reply := d.handleSystemCommand(ctx, text, agentID)
			if reply != "" {
				d.sendReply(ctx, source, chatID, reply)
			}
		}()
		return
	}
	d.supervisor.SendMessage(agentID, turtle.Envelope{
		Type: turtle.EnvMessage, Content: text, Source: source, ChatID: chatID, UserID: userID,
	})
}

func (d *Daemon) sendReply(ctx context.Context, source, chatID, text string) {
	d.mu.Lock()
	ch, ok := d.channels[source]
	d.mu.Unlock()
	if !ok {
		slog.Warn("no channel registered to deliver reply", "source", source)
		return
	}
	if err := ch.Send(ctx, chatID, text); err != nil {
		slog.Error("failed to send reply", "source", source, "chat_id", chatID, "error", err)
	}
}

// handleReply is the supervisor.Manager onReply callback: routes EnvStats
// replies to any pending request waiter, everything else to the channel
// that originated it.
func (d *Daemon) handleReply(agentID string, env turtle.Envelope) {
	if env.Type == turtle.EnvStats && env.RequestID != "" {
		d.mu.Lock()
		waiter, ok := d.pending[env.RequestID]
		d.mu.Unlock()
		if ok {
			waiter <- env
			return
		}
	}
	if env.Type == turtle.EnvReply {
		d.sendReply(context.Background(), env.Source, env.ChatID, env.Content)
	}
}

// requestStats asks agentID's worker for its current stats, blocking up to
// 10s for the reply (matches daemon.py's asyncio.wait_for timeout).
func (d *Daemon) requestStats(agentID string) (turtle.Envelope, bool) {
	reqID := turtle.NewID()
	waiter := make(chan turtle.Envelope, 1)

	d.mu.Lock()
	d.pending[reqID] = waiter
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, reqID)
		d.mu.Unlock()
	}()

	if !d.supervisor.SendMessage(agentID, turtle.Envelope{Type: turtle.EnvGetStats, RequestID: reqID}) {
		return turtle.Envelope{}, false
	}

	select {
	case env := <-waiter:
		return env, true
	case <-time.After(10 * time.Second):
		return turtle.Envelope{}, false
	}
}

func (d *Daemon) writePID() {
	path := d.cfg.Global.PIDFile
	if path == "" {
		return
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("failed to create pid file directory", "error", err)
		return
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		slog.Warn("failed to write pid file", "error", err)
	}
}

func (d *Daemon) removePID() {
	path := d.cfg.Global.PIDFile
	if path == "" {
		return
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	_ = os.Remove(path)
}
