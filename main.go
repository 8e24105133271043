package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turboalan/collab/pkg/config"
	"github.com/turboalan/collab/pkg/db"
	"github.com/turboalan/collab/pkg/event"
	"github.com/turboalan/collab/pkg/handler"
	"github.com/turboalan/collab/pkg/service"
	"github.com/turboalan/collab/pkg/utils"
)

func main() {
	// Initialize logging system
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	}
	cfg, cfgPath, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("Config loaded", "path", cfgPath)

	// The durable mirror is best-effort: with no database the server still
	// runs, memory-only.
	var store service.SnapshotStore
	if gdb, err := db.Open(cfg.DatabasePath()); err != nil {
		logger.Warn("Database unavailable, running memory-only", "path", cfg.DatabasePath(), "error", err)
	} else {
		workspaceStore := db.NewWorkspaceStore(gdb)
		if err := workspaceStore.AutoMigrate(); err != nil {
			logger.Warn("Database migration failed, running memory-only", "error", err)
		} else {
			store = workspaceStore
		}
	}

	events := event.NewEmitter(logger)
	manager := service.NewWorkspaceManager(store, events, service.ManagerOptions{
		MaxMessages:          cfg.MaxMessages(),
		MaxWorkspacesPerUser: cfg.MaxWorkspacesPerUser(),
		MaxTotalWorkspaces:   cfg.MaxTotalWorkspaces(),
		ContextMessages:      cfg.ContextMessages(),
	})
	chat := service.NewChatWebSocketManager(time.Duration(cfg.TypingTimeoutSeconds()) * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := cfg.RedisAddr(); addr != "" {
		relay, err := service.NewRelay(addr, chat)
		if err != nil {
			logger.Warn("Redis relay unavailable", "addr", addr, "error", err)
		} else {
			relay.Start(ctx)
			defer relay.Close()
			logger.Info("Redis relay connected", "addr", addr)
		}
	}

	var responder handler.AssistantResponder
	if cfg.ModelAPIKey() != "" {
		r, err := service.NewResponder(ctx, manager, service.ResponderConfig{
			BaseURL: cfg.ModelBaseURL(),
			APIKey:  cfg.ModelAPIKey(),
			Model:   cfg.ModelName(),
		})
		if err != nil {
			logger.Warn("Chat model unavailable, chat endpoint disabled", "error", err)
		} else {
			responder = r
		}
	} else {
		logger.Info("No model API key configured, chat endpoint disabled")
	}

	server := NewServer(cfg, manager, chat, responder)
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
}
