// Package config loads sea_turtle's daemon configuration: JSON on disk,
// deep-merged over built-in defaults, with secrets resolved from the
// environment. Mirrors original_source/sea_turtle/config/loader.py.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	Version      string                  `json:"version"`
	Global       GlobalConfig            `json:"global"`
	LLM          LLMConfig               `json:"llm"`
	Context      ContextConfig           `json:"context"`
	Shell        ShellConfig             `json:"shell"`
	Telegram     ChannelConfig           `json:"telegram"`
	Discord      ChannelConfig           `json:"discord"`
	Heartbeat    HeartbeatConfig         `json:"heartbeat"`
	TokenBilling TokenBillingConfig      `json:"token_billing"`
	Logging      LoggingConfig           `json:"logging"`
	Agents       map[string]*AgentConfig `json:"agents"`
}

type GlobalConfig struct {
	LogLevel      string `json:"log_level"`
	LogFile       string `json:"log_file"`
	DataDir       string `json:"data_dir"`
	DefaultAgent  string `json:"default_agent"`
	PIDFile       string `json:"pid_file"`
	SocketPath    string `json:"socket_path"`
}

type LLMConfig struct {
	DefaultProvider string                    `json:"default_provider"`
	DefaultModel    string                    `json:"default_model"`
	Temperature     float64                   `json:"temperature"`
	MaxOutputTokens int                       `json:"max_output_tokens"`
	Providers       map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig names the environment variable holding a provider's API
// key. resolve_secret-style indirection: the key value itself never lives
// in the config file.
type ProviderConfig struct {
	APIKeyEnv string `json:"api_key_env"`
}

// APIKey resolves the provider's secret from the environment. Returns ""
// if unset, matching the original's "warn, don't fail" posture.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

type ContextConfig struct {
	MaxTokens               int     `json:"max_tokens"`
	CompressThresholdRatio  float64 `json:"compress_threshold_ratio"`
	CompressTargetRatio     float64 `json:"compress_target_ratio"`
	CompressModel           string  `json:"compress_model"`
}

type ShellConfig struct {
	Enabled               bool     `json:"enabled"`
	TimeoutSeconds        int      `json:"timeout_seconds"`
	MaxOutputChars        int      `json:"max_output_chars"`
	DangerousCommands     []string `json:"dangerous_commands"`
	BlockedCommands       []string `json:"blocked_commands"`
	HistoryMaxEntries     int      `json:"history_max_entries"`
	HistoryMaxFileSizeMB  int      `json:"history_max_file_size_mb"`
	HistoryRecordOutput   bool     `json:"history_record_output"`
	HistoryOutputMaxChars int      `json:"history_output_max_chars"`
}

// ChannelConfig configures one front-end (Telegram or Discord).
type ChannelConfig struct {
	Enabled        bool     `json:"enabled"`
	BotTokenEnv    string   `json:"bot_token_env"`
	AllowedUserIDs []string `json:"allowed_user_ids"`
}

// BotToken resolves the bot token from the environment.
func (c ChannelConfig) BotToken() string {
	if c.BotTokenEnv == "" {
		return ""
	}
	return os.Getenv(c.BotTokenEnv)
}

type HeartbeatConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
}

type TokenBillingConfig struct {
	Enabled bool   `json:"enabled"`
	LogFile string `json:"log_file"`
}

type LoggingConfig struct {
	Level         string `json:"level"`
	MaxFileSizeMB int    `json:"max_file_size_mb"`
	BackupCount   int    `json:"backup_count"`
}

// AgentConfig configures one agent worker.
type AgentConfig struct {
	Name      string        `json:"name"`
	HumanName string        `json:"human_name"`
	Workspace string        `json:"workspace"`
	Model     string        `json:"model"`
	Tools     []string      `json:"tools"`
	Sandbox   string        `json:"sandbox"`
	Telegram  ChannelConfig `json:"telegram"`
	Discord   ChannelConfig `json:"discord"`
}

var searchPaths = []string{
	"config.json",
	"~/.sea_turtle/config.json",
	"/etc/sea_turtle/config.json",
}

// pathKeys names the config fields that get `~` expanded against $HOME.
var pathKeys = map[string]bool{
	"log_file": true, "data_dir": true, "pid_file": true,
	"socket_path": true, "workspace": true,
}

// Default returns the built-in configuration, matching DEFAULT_CONFIG.
func Default() Config {
	return Config{
		Version: "1.0",
		Global: GlobalConfig{
			LogLevel:     "info",
			LogFile:      "~/.sea_turtle/logs/daemon.log",
			DataDir:      "~/.sea_turtle",
			DefaultAgent: "default",
			PIDFile:      "~/.sea_turtle/daemon.pid",
			SocketPath:   "~/.sea_turtle/daemon.sock",
		},
		LLM: LLMConfig{
			DefaultProvider: "google",
			DefaultModel:    "gemini-2.5-flash",
			Temperature:     0.7,
			MaxOutputTokens: 8192,
			Providers: map[string]ProviderConfig{
				"google":     {APIKeyEnv: "GOOGLE_API_KEY"},
				"openai":     {APIKeyEnv: "OPENAI_API_KEY"},
				"anthropic":  {APIKeyEnv: "ANTHROPIC_API_KEY"},
				"openrouter": {APIKeyEnv: "OPENROUTER_API_KEY"},
				"xai":        {APIKeyEnv: "XAI_API_KEY"},
			},
		},
		Context: ContextConfig{
			MaxTokens:              200000,
			CompressThresholdRatio: 0.7,
			CompressTargetRatio:    0.3,
			CompressModel:          "gemini-2.0-flash",
		},
		Shell: ShellConfig{
			Enabled:        true,
			TimeoutSeconds: 30,
			MaxOutputChars: 10000,
			DangerousCommands: []string{
				"rm", "rmdir", "chmod", "chown", "sudo",
				"shutdown", "reboot", "kill", "mkfs", "dd",
			},
			BlockedCommands:       []string{"rm -rf /", "rm -rf ~", ":(){ :|:& };:"},
			HistoryMaxEntries:     10000,
			HistoryMaxFileSizeMB:  50,
			HistoryRecordOutput:   true,
			HistoryOutputMaxChars: 500,
		},
		Telegram:  ChannelConfig{Enabled: false, BotTokenEnv: "TELEGRAM_BOT_TOKEN"},
		Discord:   ChannelConfig{Enabled: false, BotTokenEnv: "DISCORD_BOT_TOKEN"},
		Heartbeat: HeartbeatConfig{Enabled: true, IntervalSeconds: 300},
		TokenBilling: TokenBillingConfig{
			Enabled: true,
			LogFile: "token_usage.json",
		},
		Logging: LoggingConfig{Level: "info", MaxFileSizeMB: 10, BackupCount: 3},
		Agents: map[string]*AgentConfig{
			"default": {
				Name:      "Turtle",
				HumanName: "Human",
				Workspace: "./agents/default",
				Model:     "gemini-2.5-flash",
				Tools:     []string{"shell", "memory", "task"},
				Sandbox:   "confined",
				Telegram:  ChannelConfig{BotTokenEnv: "TELEGRAM_BOT_TOKEN"},
				Discord:   ChannelConfig{BotTokenEnv: "DISCORD_BOT_TOKEN"},
			},
		},
	}
}

// FindConfigFile resolves which config file to load: explicitPath if given
// (must exist), otherwise the first existing entry in searchPaths.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		p := expandHome(explicitPath)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return p, nil
	}
	for _, sp := range searchPaths {
		p := expandHome(sp)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// Load builds a Config by deep-merging a JSON file (if found) over Default,
// then expanding `~` in path-like fields. configPath may be empty, in which
// case the search-path order applies.
func Load(configPath string) (Config, error) {
	cfg := Default()

	file, err := FindConfigFile(configPath)
	if err != nil {
		return Config{}, err
	}
	if file == "" {
		return expandConfigPaths(cfg), nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", file, err)
	}

	var defaultsRaw, userRaw map[string]any
	defaultsJSON, _ := json.Marshal(cfg)
	if err := json.Unmarshal(defaultsJSON, &defaultsRaw); err != nil {
		return Config{}, fmt.Errorf("marshalling defaults: %w", err)
	}
	if err := json.Unmarshal(data, &userRaw); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", file, err)
	}

	merged := deepMerge(defaultsRaw, userRaw)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return Config{}, fmt.Errorf("remarshalling merged config: %w", err)
	}

	var out Config
	if err := json.Unmarshal(mergedJSON, &out); err != nil {
		return Config{}, fmt.Errorf("decoding merged config: %w", err)
	}

	return expandConfigPaths(out), nil
}

// deepMerge recursively merges override on top of base. Maps merge
// key-by-key; any other type in override replaces base outright.
func deepMerge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if bv, ok := result[k]; ok {
			bvMap, bOK := bv.(map[string]any)
			vMap, vOK := v.(map[string]any)
			if bOK && vOK {
				result[k] = deepMerge(bvMap, vMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// expandConfigPaths expands `~` against $HOME for every path-like field.
func expandConfigPaths(cfg Config) Config {
	cfg.Global.LogFile = expandHome(cfg.Global.LogFile)
	cfg.Global.DataDir = expandHome(cfg.Global.DataDir)
	cfg.Global.PIDFile = expandHome(cfg.Global.PIDFile)
	cfg.Global.SocketPath = expandHome(cfg.Global.SocketPath)
	for _, a := range cfg.Agents {
		a.Workspace = expandHome(a.Workspace)
	}
	return cfg
}

func expandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

// Save writes cfg to path as indented JSON, creating parent directories.
func Save(cfg Config, path string) error {
	p := expandHome(path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, append(data, '\n'), 0o644)
}

// Validate returns human-readable warnings/errors. An empty slice means cfg
// is usable as-is.
func Validate(cfg Config) []string {
	var issues []string

	if len(cfg.Agents) == 0 {
		issues = append(issues, "ERROR: No agents configured.")
	}
	if _, ok := cfg.Agents[cfg.Global.DefaultAgent]; !ok {
		issues = append(issues, fmt.Sprintf("ERROR: Default agent '%s' not found in agents config.", cfg.Global.DefaultAgent))
	}
	for id, a := range cfg.Agents {
		if a.Workspace == "" {
			issues = append(issues, fmt.Sprintf("ERROR: Agent '%s' has no workspace configured.", id))
		}
		switch a.Sandbox {
		case "normal", "confined", "restricted", "":
		default:
			issues = append(issues, fmt.Sprintf("WARNING: Agent '%s' has unknown sandbox mode '%s'. Valid: normal, confined, restricted.", id, a.Sandbox))
		}
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
		issues = append(issues, fmt.Sprintf("WARNING: Default LLM provider '%s' not configured.", cfg.LLM.DefaultProvider))
	}
	for name, p := range cfg.LLM.Providers {
		if p.APIKeyEnv != "" && os.Getenv(p.APIKeyEnv) == "" {
			issues = append(issues, fmt.Sprintf("WARNING: Provider '%s' API key env '%s' is not set.", name, p.APIKeyEnv))
		}
	}
	return issues
}

// AgentConfigFor looks up one agent's configuration by ID.
func AgentConfigFor(cfg Config, agentID string) (*AgentConfig, bool) {
	a, ok := cfg.Agents[agentID]
	return a, ok
}
