// Package tokens implements per-agent token accounting, spec.md §4.B: cost
// computation from the model registry, in-memory session counters, and an
// append-only JSONL usage log under data_dir/agents/<id>/token_usage.json.
package tokens

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sea-turtle/sea-turtle/internal/registry"
)

// SessionUsage is the in-memory running total for the current process
// lifetime (reset on worker restart).
type SessionUsage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Requests     int
}

// ModelUsage aggregates usage for one model, used in totals grouped by model.
type ModelUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Requests     int     `json:"requests"`
}

// Totals is the result of streaming the usage log.
type Totals struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Requests     int
	ByModel      map[string]*ModelUsage
}

type logEntry struct {
	Timestamp    int64   `json:"timestamp"`
	AgentID      string  `json:"agent_id"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Counter tracks token usage and cost for one agent.
type Counter struct {
	agentID string
	logFile string

	mu      sync.Mutex
	session SessionUsage
}

// NewCounter creates a Counter whose log lives under dataDir/agents/<agentID>/token_usage.json.
func NewCounter(dataDir, agentID string) *Counter {
	return &Counter{
		agentID: agentID,
		logFile: filepath.Join(dataDir, "agents", agentID, "token_usage.json"),
	}
}

// Record books one call's usage, derives cost from the registry, updates
// the session counters, and appends a record to the usage log. A failure to
// write the log is logged but never returned as an error — spec.md §4.B:
// "Failure to write the log must not fail the caller."
func (c *Counter) Record(model string, inputTokens, outputTokens int) float64 {
	cost := 0.0
	if in, out, ok := registry.Pricing(model); ok {
		cost = float64(inputTokens)/1e6*in + float64(outputTokens)/1e6*out
	}

	c.mu.Lock()
	c.session.InputTokens += inputTokens
	c.session.OutputTokens += outputTokens
	c.session.CostUSD += cost
	c.session.Requests++
	c.mu.Unlock()

	c.appendLog(model, inputTokens, outputTokens, cost)
	return cost
}

func (c *Counter) appendLog(model string, inputTokens, outputTokens int, cost float64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("token usage log write panicked", "agent_id", c.agentID, "recover", r)
		}
	}()
	if err := os.MkdirAll(filepath.Dir(c.logFile), 0o755); err != nil {
		slog.Warn("token usage log mkdir failed", "agent_id", c.agentID, "error", err)
		return
	}
	f, err := os.OpenFile(c.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("token usage log open failed", "agent_id", c.agentID, "error", err)
		return
	}
	defer f.Close()

	entry := logEntry{
		Timestamp:    time.Now().Unix(),
		AgentID:      c.agentID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
	}
	b, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("token usage log marshal failed", "agent_id", c.agentID, "error", err)
		return
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		slog.Warn("token usage log write failed", "agent_id", c.agentID, "error", err)
	}
}

// SessionTotals returns a snapshot of the in-memory session counters.
func (c *Counter) SessionTotals() SessionUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// TotalUsage streams the full usage log and aggregates it, grouped by model.
// Any read/parse failure yields zeroed totals rather than an error.
func (c *Counter) TotalUsage() Totals {
	totals := Totals{ByModel: map[string]*ModelUsage{}}

	f, err := os.Open(c.logFile)
	if err != nil {
		return totals
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		totals.InputTokens += e.InputTokens
		totals.OutputTokens += e.OutputTokens
		totals.CostUSD += e.CostUSD
		totals.Requests++

		model := e.Model
		if model == "" {
			model = "unknown"
		}
		mu, ok := totals.ByModel[model]
		if !ok {
			mu = &ModelUsage{}
			totals.ByModel[model] = mu
		}
		mu.InputTokens += e.InputTokens
		mu.OutputTokens += e.OutputTokens
		mu.CostUSD += e.CostUSD
		mu.Requests++
	}
	return totals
}
