package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"clawd/internal/agent"
	"clawd/internal/channel"
	"clawd/internal/chat"
	"clawd/internal/config"
	"clawd/internal/contextmgr"
	"clawd/internal/gateway"
	"clawd/internal/memory"
	"clawd/internal/provider"
	"clawd/internal/security"
	"clawd/internal/session"
	"clawd/internal/storage"
	"clawd/internal/tools"
)

const defaultSystemPrompt = `You are a helpful personal assistant with a persistent memory
and a small set of tools. Be concise and direct. Use tools when they genuinely help;
answer from what you know otherwise. Record things worth remembering in your memory files.`

func main() {
	var (
		configPath string
		serve      bool
		oneShot    string
		listFlag   bool
		deleteKey  string
		sender     string
	)
	flag.StringVar(&configPath, "config", "", "Path to config JSON/JSONC")
	flag.BoolVar(&serve, "serve", false, "Run the webhook channel instead of the CLI")
	flag.StringVar(&oneShot, "message", "", "Send one message, print the reply, and exit")
	flag.BoolVar(&listFlag, "sessions", false, "List known sessions and exit")
	flag.StringVar(&deleteKey, "delete-session", "", "Delete the session with the given key and exit")
	flag.StringVar(&sender, "sender", "local", "Sender id for CLI messages")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(configPath, serve, oneShot, listFlag, deleteKey, sender, logger); err != nil {
		fmt.Fprintf(os.Stderr, "clawd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, serve bool, oneShot string, listFlag bool, deleteKey, sender string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.BaseDir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	store, err := storage.Open(cfg.Storage.BaseDir, cfg.ResetPolicy())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	if listFlag {
		return listSessions(store)
	}
	if deleteKey != "" {
		return deleteSession(store, deleteKey)
	}

	workspace, err := memory.Open(cfg.Workspace.Root, cfg.Workspace.DailyLookback)
	if err != nil {
		return fmt.Errorf("open memory workspace: %w", err)
	}

	client, err := provider.New(provider.Config{
		Kind:       cfg.Provider.Kind,
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}

	registry, err := buildRegistry(cfg, workspace)
	if err != nil {
		return err
	}

	tokenizer := contextmgr.NewTokenizerForModel(cfg.Provider.Model)
	summarizer := contextmgr.NewLLMSummarizer(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		resp, err := client.Chat(ctx, provider.ChatRequest{
			Model: cfg.Provider.Model,
			Messages: []chat.Message{
				chat.NewMessage(chat.RoleSystem, systemPrompt),
				chat.NewMessage(chat.RoleUser, userPrompt),
			},
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
	compactor := contextmgr.NewCompactor(summarizer, 0, 0)

	systemPrompt := cfg.Agent.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	loopCfg := agent.Config{
		SystemPrompt:  systemPrompt,
		Model:         cfg.Provider.Model,
		MaxTurns:      cfg.Agent.MaxTurns,
		MaxTokens:     cfg.Agent.MaxTokens,
		ContextWindow: cfg.Agent.ContextWindow,
		KeepRecent:    cfg.Agent.KeepRecent,
	}
	if cfg.Agent.Temperature > 0 {
		temp := cfg.Agent.Temperature
		loopCfg.Temperature = &temp
	}
	loop := agent.New(client, registry, compactor, tokenizer, loopCfg, logger)

	g := gateway.New(store, loop, workspace, gateway.Options{
		AgentID:   cfg.Session.AgentID,
		DMScope:   cfg.Session.DMScope,
		ModelName: cfg.Provider.Model,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if oneShot != "" {
		reply, err := g.HandleMessage(ctx, gateway.IncomingMessage{
			Channel: "cli", Sender: sender, Content: oneShot,
		})
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}

	var ch channel.Channel
	if serve {
		ch = channel.NewWebhook(cfg.Webhook.Addr, logger)
	} else {
		cli := channel.NewCLI(sender, filepath.Join(cfg.Storage.BaseDir, "cli.history"))
		g.On(gateway.EventToolCall, func(payload any) {
			if e, ok := payload.(gateway.ToolEvent); ok {
				cli.PrintToolEvent(e)
			}
		})
		ch = cli
	}

	err = ch.Run(ctx, g.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildRegistry(cfg config.Config, workspace *memory.Workspace) (*tools.Registry, error) {
	fileRoot, err := security.NewWorkspace(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("init tool workspace: %w", err)
	}
	registry := tools.NewRegistry(
		tools.NewBashTool(cfg.Workspace.Root, cfg.Tools.CommandTimeoutMS, cfg.Tools.OutputLimitBytes),
		tools.NewReadTool(fileRoot),
		tools.NewWriteTool(fileRoot),
		tools.NewWebSearchTool(cfg.Tools.SearchTimeoutSec, cfg.Tools.SearchMaxResults),
		memory.NewSearchTool(workspace),
		memory.NewGetTool(workspace),
		memory.NewAppendTool(workspace),
		memory.NewUpdateTool(workspace),
	)
	if cfg.Tools.CallTimeoutMS > 0 {
		registry.SetTimeout(time.Duration(cfg.Tools.CallTimeoutMS) * time.Millisecond)
	}
	return registry, nil
}

func listSessions(store *storage.Store) error {
	infos, err := store.List(0)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%-48s %s  tokens=%d  updated=%s\n",
			info.Key, info.SessionID, info.TotalTokens, info.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func deleteSession(store *storage.Store, raw string) error {
	key := session.Parse(raw)
	deleted, err := store.Delete(key)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("no session for key %q", key.String())
	}
	fmt.Printf("deleted %s\n", key.String())
	return nil
}
