// Package main is the entry point for the nodeforge orchestrator daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/nodeforge/internal/common/config"
	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/common/tracing"
	"github.com/kandev/nodeforge/internal/occlient"
	"github.com/kandev/nodeforge/internal/orchestrator"
)

const defaultMCPPort = 7331

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting nodeforge orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}

	directory, err := os.Getwd()
	if err != nil {
		log.Fatal("failed to resolve working directory", zap.Error(err))
	}

	client := occlient.NewHTTPClient(cfg.OCServer.Host, cfg.OCServer.Port, log)

	orchestratorCtx, err := orchestrator.New(ctx, orchestrator.Options{
		Config:    cfg,
		Directory: directory,
		ProjectID: filepath.Base(directory),
		Client:    client,
		Log:       log,
		Tracer:    tracer,
	})
	if err != nil {
		log.Fatal("failed to build orchestrator context", zap.Error(err))
	}

	if err := orchestratorCtx.Bridge.Start(ctx); err != nil {
		log.Fatal("failed to start bridge server", zap.Error(err))
	}
	// The bridge URL is only known once it listens; hand it to the backend
	// factory before any worker is spawned.
	orchestratorCtx.Backend.Bridge.URL = orchestratorCtx.Bridge.URL
	log.Info("bridge server listening", zap.String("url", orchestratorCtx.Bridge.URL))

	mcpServer := orchestrator.NewMCPServer(orchestratorCtx, orchestrator.MCPConfig{Port: defaultMCPPort})
	if err := mcpServer.Start(ctx); err != nil {
		log.Fatal("failed to start mcp server", zap.Error(err))
	}
	log.Info("mcp server listening", zap.Int("port", mcpServer.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down nodeforge orchestrator")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := mcpServer.Stop(shutdownCtx); err != nil {
		log.Error("mcp server shutdown error", zap.Error(err))
	}
	orchestratorCtx.Shutdown(shutdownCtx)
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Error("tracer shutdown error", zap.Error(err))
	}

	log.Info("nodeforge orchestrator stopped")
}
