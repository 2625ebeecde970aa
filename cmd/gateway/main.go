package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arcrelay/mcp-gateway/internal/api"
	"github.com/arcrelay/mcp-gateway/internal/connmgr"
	"github.com/arcrelay/mcp-gateway/internal/metrics"
	"github.com/arcrelay/mcp-gateway/internal/tool"
	"github.com/arcrelay/mcp-gateway/internal/tool/builtin"
	"github.com/arcrelay/mcp-gateway/pkg/config"
)

func main() {
	config.LoadEnv()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.GatewayConfigFromEnv()

	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}

	registry := tool.NewRegistry()
	registry.Register(builtin.NewShellTool(workspaceDir, os.Getenv("TOOL_SHELL_ENABLED") != "false"))
	registry.Register(builtin.NewFileReadTool(workspaceDir))
	registry.Register(builtin.NewFileWriteTool(workspaceDir))
	registry.Register(builtin.NewFileListTool(workspaceDir))
	registry.Register(builtin.NewFileFindTool(workspaceDir))
	registry.Register(builtin.NewTimeTool())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.InitAll(ctx); err != nil {
		logger.Fatal("failed to initialize local tool registry", zap.Error(err))
	}
	defer registry.CloseAll()

	store := connmgr.NewFileConfigStore(cfg.ConfigStorePath)
	bus := connmgr.NewEventBus()
	manager := connmgr.NewManager(store, bus, logger, cfg.Options)
	manager.SetToolProvider(registry)

	recorder := metrics.NewRecorder(bus)
	defer recorder.Close()

	endpoints, err := store.ListEndpoints()
	if err != nil {
		logger.Fatal("failed to load endpoint config store", zap.Error(err))
	}
	if len(endpoints) == 0 && len(cfg.BootstrapEndpoints) > 0 {
		// First run against an empty store: seed it from the YAML overlay
		// so a fresh deployment doesn't start with zero endpoints.
		for _, e := range cfg.BootstrapEndpoints {
			if err := store.AddEndpoint(e); err != nil {
				logger.Warn("failed to persist bootstrap endpoint", zap.String("endpoint", e), zap.Error(err))
				continue
			}
			endpoints = append(endpoints, e)
		}
	}
	if err := manager.Initialize(ctx, endpoints, nil); err != nil {
		logger.Fatal("failed to initialize connection manager", zap.Error(err))
	}

	connected, err := manager.ConnectAll(ctx)
	if err != nil {
		logger.Warn("connect-all reported failures", zap.Error(err))
	}
	logger.Info("connection manager started", zap.Int("connected", connected), zap.Int("configured", len(endpoints)))

	router := api.NewRouter(manager, logger)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting http server", zap.String("address", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	if err := manager.Cleanup(); err != nil {
		logger.Error("connection manager cleanup error", zap.Error(err))
	}

	logger.Info("gateway stopped")
}
