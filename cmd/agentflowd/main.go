package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentflow/internal/api"
	"agentflow/internal/archive"
	"agentflow/internal/config"
	"agentflow/internal/core"
	agentflowmcp "agentflow/internal/mcp"
	"agentflow/internal/logging"
	"agentflow/internal/notify"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	baseCtx := context.Background()

	var archiver core.Archiver
	var archiveStore *archive.SQLiteArchive
	if cfg.ArchivePath != "" {
		archiveStore, err = archive.Open(baseCtx, cfg.ArchivePath)
		if err != nil {
			logger.Error("open archive", "err", err)
			os.Exit(1)
		}
		defer archiveStore.Close()
		archiver = archiveStore
	}

	engine, err := core.NewEngine(core.Config{
		TickInterval:          cfg.Engine.TickInterval,
		Timezone:              cfg.Engine.Timezone,
		MaxFailureRatePercent: cfg.Engine.MaxFailureRatePercent,
		MaxConcurrent:         cfg.Engine.MaxConcurrent,
		Archiver:              archiver,
	}, logger)
	if err != nil {
		logger.Error("create engine", "err", err)
		os.Exit(1)
	}

	notifier := buildNotifier(cfg, logger)
	listener := engine.Subscribe(failureAlerter(notifier, logger))
	defer engine.Unsubscribe(listener)

	engine.InitializeAgents()
	for _, a := range cfg.Agents {
		logger.Info("agent pool entry", "type", a.Type, "name", a.Name)
	}
	engine.StartOrchestration()

	switch cfg.Mode {
	case "http", "":
		runHTTPMode(cfg, engine, logger)
	case "mcp":
		runMCPMode(engine, logger)
	case "both":
		runBothMode(cfg, engine, logger)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}

	engine.StopOrchestration()
	logger.Info("shutdown complete")
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		wh, err := notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
		if err != nil {
			logger.Error("configure webhook notifier", "err", err)
		} else {
			notifiers = append(notifiers, wh)
		}
	}
	if len(notifiers) == 0 {
		return notify.NoOpNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

// failureAlerter forwards task failures to the notifier. Delivery runs in
// its own goroutine so a slow webhook never blocks event dispatch.
func failureAlerter(notifier notify.Notifier, logger *slog.Logger) core.Listener {
	return func(ev core.Event) {
		if ev.Type != core.EventTaskFailed {
			return
		}
		name := ev.TaskID
		if ev.Task != nil {
			name = ev.Task.Name
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			body := fmt.Sprintf("Task %s failed", name)
			if ev.Error != "" {
				body += ": " + ev.Error
			}
			if err := notifier.Send(ctx, "agentflow task failed", body); err != nil {
				logger.Error("failure notification", "task_id", ev.TaskID, "err", err)
			}
		}()
	}
}

// runHTTPMode starts only the HTTP server.
func runHTTPMode(cfg *config.Config, engine *core.Engine, logger *slog.Logger) {
	mcpServer := agentflowmcp.NewMCPServer(engine, logger)
	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, engine, mcpServer, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
}

// runMCPMode serves the MCP protocol on stdio.
func runMCPMode(engine *core.Engine, logger *slog.Logger) {
	mcpServer := agentflowmcp.NewMCPServer(engine, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- mcpServer.Run() }()

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-done:
		if err != nil {
			logger.Error("mcp server error", "err", err)
		}
	}
}

// runBothMode serves HTTP and MCP-over-stdio at the same time.
func runBothMode(cfg *config.Config, engine *core.Engine, logger *slog.Logger) {
	mcpServer := agentflowmcp.NewMCPServer(engine, logger)

	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server, err := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, engine, mcpServer, logger)
	if err != nil {
		logger.Error("create server", "err", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
}
