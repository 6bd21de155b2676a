package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agentchat/internal/agent"
	"agentchat/internal/api"
	"agentchat/internal/config"
	"agentchat/internal/provider"
	"agentchat/internal/storage"
	"agentchat/internal/store"
	"agentchat/internal/tools"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "chat":
		if err := runChat(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("agentchat %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: agentchat <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     Start the agentchat API server")
	fmt.Fprintln(os.Stderr, "  chat      Chat with the agent in a TUI")
	fmt.Fprintln(os.Stderr, "  version   Print version")
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.Service.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting agentchat", "version", version, "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	conversations := store.NewConversationStore(db)
	agents := store.NewAgentStore(db)
	approvals := store.NewApprovalStore(db)

	chatModel, err := provider.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}

	registry, err := tools.BuildRegistry(cfg.Agent, cfg.Tools)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	service := agent.NewService(chatModel, registry, conversations, agents, approvals, cfg.Agent, logger)

	srv := api.New(api.Config{
		Listen: cfg.API.Listen,
		Token:  cfg.API.Token,
	}, service, agents, cfg.Agent, cfg.LLM.Model, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}
