// Package worker implements the agent conversation loop that runs inside
// each re-exec'd agent subprocess, spec.md §4.H. Mirrors
// original_source/sea_turtle/core/agent_worker.py's AgentWorker, adapted to
// the uniform turtle.Provider contract and a single-goroutine envelope loop
// instead of multiprocessing Queues.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	turtle "github.com/sea-turtle/sea-turtle"
	"github.com/sea-turtle/sea-turtle/internal/config"
	"github.com/sea-turtle/sea-turtle/internal/contextmgr"
	"github.com/sea-turtle/sea-turtle/internal/otelinit"
	"github.com/sea-turtle/sea-turtle/internal/sandbox"
	"github.com/sea-turtle/sea-turtle/internal/shellexec"
	"github.com/sea-turtle/sea-turtle/internal/tokens"
	"github.com/sea-turtle/sea-turtle/internal/workspace"
)

// maxToolRounds bounds the tool-call loop within a single message, spec.md §4.H.
const maxToolRounds = 10

// ProviderResolver resolves a model name to a Provider, implemented by
// provider/resolve.Registry. Kept as an interface here so the worker can be
// tested without constructing real HTTP-backed providers.
type ProviderResolver interface {
	ForModel(model string) (turtle.Provider, error)
}

// Worker runs one agent's conversation loop: system prompt composition,
// context management, LLM calls, and tool dispatch.
type Worker struct {
	agentID string
	cfg     config.Config
	agent   *config.AgentConfig
	model   string

	providers ProviderResolver
	ctxmgr    *contextmgr.Manager
	ws        *workspace.Workspace
	shell     *shellexec.Executor
	tokens    *tokens.Counter
	tracer    turtle.Tracer
}

// New constructs a Worker for agentID using cfg's global and per-agent
// settings. dataDir roots the token usage log.
func New(agentID string, cfg config.Config, agent *config.AgentConfig, providers ProviderResolver, dataDir string) *Worker {
	model := agent.Model
	if model == "" {
		model = cfg.LLM.DefaultModel
	}

	mode := sandbox.Mode(agent.Sandbox)
	if mode == "" {
		mode = sandbox.Confined
	}
	policy := sandbox.NewPolicy(mode, cfg.Shell.BlockedCommands, cfg.Shell.DangerousCommands)

	shellCfg := shellexec.Config{
		TimeoutSeconds:        cfg.Shell.TimeoutSeconds,
		MaxOutputChars:        cfg.Shell.MaxOutputChars,
		HistoryMaxFileSizeMB:  cfg.Shell.HistoryMaxFileSizeMB,
		HistoryRecordOutput:   cfg.Shell.HistoryRecordOutput,
		HistoryOutputMaxChars: cfg.Shell.HistoryOutputMaxChars,
	}

	return &Worker{
		agentID:   agentID,
		cfg:       cfg,
		agent:     agent,
		model:     model,
		providers: providers,
		ctxmgr:    contextmgr.New(cfg.Context),
		ws:        workspace.New(agent.Workspace),
		shell:     shellexec.New(agent.Workspace, policy, shellCfg),
		tokens:    tokens.NewCounter(dataDir, agentID),
		tracer:    otelinit.NewTracer(),
	}
}

// handleToolCall executes one tool call and returns the text fed back to
// the LLM as the tool result message.
func (w *Worker) handleToolCall(ctx context.Context, name string, args json.RawMessage) string {
	var a map[string]any
	_ = json.Unmarshal(args, &a)

	slog.Info("tool call", "agent_id", w.agentID, "tool", name)

	switch name {
	case "execute_shell":
		command, _ := a["command"].(string)
		result := w.shell.Execute(ctx, command)
		if result.NeedsConfirmation {
			return fmt.Sprintf("This command requires user confirmation: `%s`\nPlease ask the user to confirm before executing.", command)
		}
		var sb strings.Builder
		if result.Stdout != "" {
			fmt.Fprintf(&sb, "stdout:\n%s\n", result.Stdout)
		}
		if result.Stderr != "" {
			fmt.Fprintf(&sb, "stderr:\n%s\n", result.Stderr)
		}
		fmt.Fprintf(&sb, "exit_code: %d", result.ExitCode)
		return sb.String()

	case "read_memory":
		if content := w.ws.Memory(); content != "" {
			return content
		}
		return "(memory is empty)"

	case "write_memory":
		content, _ := a["content"].(string)
		mode, _ := a["mode"].(string)
		var ok bool
		if mode == "overwrite" {
			ok = w.ws.WriteMemory(content)
		} else {
			ok = w.ws.AppendMemory(content)
		}
		if ok {
			return "Memory updated."
		}
		return "Failed to update memory."

	case "read_tasks":
		if content := w.ws.Task(); content != "" {
			return content
		}
		return "(no tasks)"

	case "read_url":
		rawURL, _ := a["url"].(string)
		content, err := fetchURL(ctx, rawURL)
		if err != nil {
			return fmt.Sprintf("Failed to fetch URL: %v", err)
		}
		if len(content) > 8000 {
			content = content[:8000] + "\n... (truncated)"
		}
		return content

	default:
		return fmt.Sprintf("Unknown tool: %s", name)
	}
}

// ProcessMessage pushes a user message through the LLM, dispatching tool
// calls for up to maxToolRounds rounds, and returns the final text reply.
func (w *Worker) ProcessMessage(ctx context.Context, text string) (string, error) {
	ctx, span := w.tracer.Start(ctx, "worker.process_message",
		turtle.StringAttr("agent_id", w.agentID), turtle.StringAttr("model", w.model))
	defer span.End()

	text = norm.NFKC.String(text)

	provider, err := w.providers.ForModel(w.model)
	if err != nil {
		span.Error(err)
		return "", err
	}

	systemPrompt := buildSystemPrompt(w.agentID, w.agent, w.cfg.Shell, w.model, w.ws.Skills(), w.ws.Memory(), w.ws.Rules())
	w.ctxmgr.SetSystemPrompt(systemPrompt)
	w.ctxmgr.Add(turtle.UserMessage(text))

	if w.ctxmgr.NeedsCompression() {
		w.ctxmgr.Compress(ctx, provider)
	}

	tools := toolsFor(w.agent.Tools)

	for i := 0; i < maxToolRounds; i++ {
		chatCtx, chatSpan := w.tracer.Start(ctx, "worker.llm_chat", turtle.IntAttr("round", i))
		resp, err := provider.Chat(chatCtx, turtle.ChatRequest{
			Messages:        w.ctxmgr.Messages(),
			Model:           w.model,
			Temperature:     w.cfg.LLM.Temperature,
			MaxOutputTokens: w.cfg.LLM.MaxOutputTokens,
			Tools:           tools,
		})
		if err != nil {
			chatSpan.Error(err)
			chatSpan.End()
			span.Error(err)
			return "", err
		}
		chatSpan.SetAttr(turtle.IntAttr("input_tokens", resp.InputTokens), turtle.IntAttr("output_tokens", resp.OutputTokens))
		chatSpan.End()

		w.tokens.Record(w.model, resp.InputTokens, resp.OutputTokens)

		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				w.ctxmgr.Add(turtle.AssistantMessage(resp.Content))
			}
			return resp.Content, nil
		}

		names := make([]string, len(resp.ToolCalls))
		for i, tc := range resp.ToolCalls {
			names[i] = tc.Name
		}
		assistantMsg := resp.Content
		if assistantMsg == "" {
			assistantMsg = fmt.Sprintf("[Calling tools: %s]", strings.Join(names, ", "))
		}
		w.ctxmgr.Add(turtle.AssistantMessage(assistantMsg))

		for _, tc := range resp.ToolCalls {
			result := w.handleToolCall(ctx, tc.Name, tc.Args)
			w.ctxmgr.Add(turtle.ToolResultMessage(tc.ID, tc.Name, result))
		}
	}

	return "Maximum tool call rounds reached. Please try again.", nil
}

// SetModel switches the active model for subsequent messages and records a
// system note in the context so the conversation reflects the change.
func (w *Worker) SetModel(model string) {
	w.model = model
	w.ctxmgr.Add(turtle.SystemMessage(fmt.Sprintf("[System] Model switched to: %s. You are now running as %s.", model, model)))
}

// ResetContext clears the conversation history.
func (w *Worker) ResetContext() {
	w.ctxmgr.Reset()
}

// Stats returns the worker's current context and token-usage snapshot, for
// the get_stats envelope.
func (w *Worker) Stats() map[string]any {
	return map[string]any{
		"context":     w.ctxmgr.GetStats(),
		"token_usage": w.tokens.SessionTotals(),
		"model":       w.model,
	}
}

// Run reads newline-delimited JSON Envelopes from in and writes reply
// Envelopes to out until in is closed or a shutdown Envelope arrives.
func (w *Worker) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	enc := json.NewEncoder(out)

	slog.Info("agent worker started", "agent_id", w.agentID, "model", w.model)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env turtle.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			slog.Error("worker received malformed envelope", "agent_id", w.agentID, "error", err)
			continue
		}

		switch env.Type {
		case turtle.EnvShutdown:
			slog.Info("agent worker received shutdown signal", "agent_id", w.agentID)
			return nil

		case turtle.EnvMessage:
			reply, err := w.ProcessMessage(ctx, env.Content)
			if err != nil {
				slog.Error("error processing message", "agent_id", w.agentID, "error", err)
				reply = fmt.Sprintf("❌ Error: %v", err)
			}
			if reply == "" {
				reply = "(empty response)"
			}
			_ = enc.Encode(turtle.Envelope{
				Type:    turtle.EnvReply,
				Content: reply,
				Source:  env.Source,
				ChatID:  env.ChatID,
				UserID:  env.UserID,
			})

		case turtle.EnvSetModel:
			w.SetModel(env.Model)

		case turtle.EnvResetContext:
			w.ResetContext()

		case turtle.EnvGetStats:
			data, _ := json.Marshal(w.Stats())
			_ = enc.Encode(turtle.Envelope{
				Type:      turtle.EnvStats,
				RequestID: env.RequestID,
				Data:      data,
			})
		}
	}

	slog.Info("agent worker stopped", "agent_id", w.agentID)
	return scanner.Err()
}
