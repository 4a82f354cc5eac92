package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	turtle "github.com/sea-turtle/sea-turtle"
	"github.com/sea-turtle/sea-turtle/internal/registry"
	"github.com/sea-turtle/sea-turtle/internal/tokens"
)

// statsPayload mirrors worker.Worker.Stats()'s JSON shape.
type statsPayload struct {
	Context struct {
		MessageCount     int     `json:"MessageCount"`
		EstimatedTokens  int     `json:"EstimatedTokens"`
		MaxTokens        int     `json:"MaxTokens"`
		UsageRatio       float64 `json:"UsageRatio"`
		CompressionCount int     `json:"CompressionCount"`
	} `json:"context"`
	TokenUsage struct {
		InputTokens  int     `json:"InputTokens"`
		OutputTokens int     `json:"OutputTokens"`
		CostUSD      float64 `json:"CostUSD"`
		Requests     int     `json:"Requests"`
	} `json:"token_usage"`
	Model string `json:"model"`
}

// handleSystemCommand processes a "/"-prefixed command, mirroring
// daemon.py's handle_system_command. Returns the reply text, or "" to send
// nothing back.
func (d *Daemon) handleSystemCommand(ctx context.Context, command, agentID string) string {
	parts := strings.Fields(strings.TrimSpace(command))
	cmd := ""
	if len(parts) > 0 {
		cmd = strings.ToLower(parts[0])
	}

	switch cmd {
	case "/start":
		name := "Turtle"
		if agentCfg, ok := d.cfg.Agents[agentID]; ok && agentCfg.Name != "" {
			name = agentCfg.Name
		}
		return fmt.Sprintf("🐢 Welcome! I'm %s, your personal AI assistant.\nType /help for available commands.", name)

	case "/help":
		return "🐢 Sea Turtle Commands:\n" +
			"/reset — Reset conversation context\n" +
			"/context — Show context stats\n" +
			"/restart — Restart agent process\n" +
			"/usage — Show token usage & costs\n" +
			"/status — Show agent status\n" +
			"/model list [provider] — List available models\n" +
			"/model <name> — Switch model\n" +
			"/help — Show this help"

	case "/reset":
		h := d.supervisor.GetHandle(agentID)
		if h == nil || !h.IsAlive() {
			return "⚠️ Agent is not running."
		}
		d.supervisor.SendMessage(agentID, turtle.Envelope{Type: turtle.EnvResetContext})
		return "✅ Context reset."

	case "/context":
		h := d.supervisor.GetHandle(agentID)
		if h == nil || !h.IsAlive() {
			return "⚠️ Agent is not running."
		}
		env, ok := d.requestStats(agentID)
		if !ok {
			return "⚠️ Timeout waiting for stats."
		}
		var stats statsPayload
		if err := json.Unmarshal(env.Data, &stats); err != nil {
			return "⚠️ Failed to parse stats."
		}
		return fmt.Sprintf(
			"📊 Context Stats:\n"+
				"  Model: %s\n"+
				"  Messages: %d\n"+
				"  Estimated tokens: ~%d / %d (%.1f%%)\n"+
				"  Compressions: %d",
			stats.Model, stats.Context.MessageCount, stats.Context.EstimatedTokens,
			stats.Context.MaxTokens, stats.Context.UsageRatio*100, stats.Context.CompressionCount,
		)

	case "/restart":
		if _, err := d.supervisor.RestartAgent(agentID); err != nil {
			return fmt.Sprintf("❌ Failed to restart: %v", err)
		}
		return fmt.Sprintf("✅ Agent '%s' restarted.", agentID)

	case "/usage":
		counter := tokens.NewCounter(d.dataDir, agentID)
		totals := counter.TotalUsage()
		return fmt.Sprintf("📊 Token Usage:\n  Input: %d\n  Output: %d\n  Requests: %d\n  Cost: $%.4f",
			totals.InputTokens, totals.OutputTokens, totals.Requests, totals.CostUSD)

	case "/status":
		h := d.supervisor.GetHandle(agentID)
		if h == nil {
			return fmt.Sprintf("⚠️ Agent '%s' not found.", agentID)
		}
		status := "🔴 Stopped"
		if h.IsAlive() {
			status = "🟢 Running"
		}
		return fmt.Sprintf("🐢 Agent: %s\n  Status: %s\n  PID: %d\n  Uptime: %.1f min\n  Restarts: %d",
			agentID, status, h.PID(), h.Uptime().Minutes(), h.RestartCount)

	case "/model":
		if len(parts) >= 2 && strings.ToLower(parts[1]) == "list" {
			provider := ""
			if len(parts) >= 3 {
				provider = strings.ToLower(parts[2])
			}
			models := registry.List(provider)
			if len(models) == 0 {
				if provider != "" {
					return fmt.Sprintf("No models found for provider '%s'.", provider)
				}
				return "No models found."
			}
			return registry.FormatList(models)
		}
		if len(parts) >= 2 {
			h := d.supervisor.GetHandle(agentID)
			if h == nil || !h.IsAlive() {
				return "⚠️ Agent is not running."
			}
			newModel := parts[1]
			d.supervisor.SendMessage(agentID, turtle.Envelope{Type: turtle.EnvSetModel, Model: newModel})
			return fmt.Sprintf("✅ Model switched to: %s", newModel)
		}
		return "Usage: /model list [provider] or /model <model_name>"
	}

	return fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd)
}
