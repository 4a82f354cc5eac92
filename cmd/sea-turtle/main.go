// Command sea-turtle runs the daemon (default) or, when invoked with the
// hidden "worker" subcommand, a single agent's worker loop over
// stdin/stdout — the re-exec target spawned by internal/supervisor.
// Grounded on _examples/nevindra-oasis/cmd/oasis/main.go's composition-root
// style.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sea-turtle/sea-turtle/internal/channel/discord"
	"github.com/sea-turtle/sea-turtle/internal/channel/telegram"
	"github.com/sea-turtle/sea-turtle/internal/config"
	"github.com/sea-turtle/sea-turtle/internal/daemon"
	"github.com/sea-turtle/sea-turtle/internal/worker"
	"github.com/sea-turtle/sea-turtle/provider/resolve"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		if err := runWorker(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "sea-turtle worker:", err)
			os.Exit(1)
		}
		return
	}
	if err := runDaemon(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sea-turtle:", err)
		os.Exit(1)
	}
}

func runWorker(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	agentID := fs.String("agent", "", "agent ID to run")
	configPath := fs.String("config", "", "path to config.json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" {
		return fmt.Errorf("--agent is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	agentCfg, ok := config.AgentConfigFor(cfg, *agentID)
	if !ok {
		return fmt.Errorf("agent %q not found in configuration", *agentID)
	}

	providers := resolve.NewRegistry(cfg)
	w := worker.New(*agentID, cfg, agentCfg, providers, cfg.Global.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.Run(ctx, os.Stdin, os.Stdout)
}

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("sea-turtle", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetLogLoggerLevel(parseLevel(cfg.Logging.Level))

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	d := daemon.New(cfg, exePath, *configPath, cfg.Global.DataDir)

	for agentID, agentCfg := range cfg.Agents {
		if cfg.Telegram.Enabled && agentCfg.Telegram.Enabled {
			if token := agentCfg.Telegram.BotToken(); token != "" {
				d.RegisterChannel(telegram.New(token))
			}
		}
		if cfg.Discord.Enabled && agentCfg.Discord.Enabled {
			if token := agentCfg.Discord.BotToken(); token != "" {
				bot, err := discord.New(token)
				if err != nil {
					slog.Error("failed to build discord channel", "agent_id", agentID, "error", err)
					continue
				}
				d.RegisterChannel(bot)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Start(ctx)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
