package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mohammad-safakhou/wayfarer/config"
	"github.com/mohammad-safakhou/wayfarer/internal/agent"
	"github.com/mohammad-safakhou/wayfarer/internal/pipeline"
	"github.com/mohammad-safakhou/wayfarer/internal/runtime"
	"github.com/mohammad-safakhou/wayfarer/mcp"
	"github.com/mohammad-safakhou/wayfarer/provider"
	"github.com/mohammad-safakhou/wayfarer/session"
)

func newLogger(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

// app is the wired process: config, checkpoint store, telemetry and engine.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	store  session.Store
	tel    *runtime.Telemetry
	engine *pipeline.Engine
}

// loadApp wires everything the session commands need. Without withAgents the
// engine has no planner or writer and is only good for Status and Sessions.
func loadApp(ctx context.Context, cfgPath string, withAgents bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: newLogger("PIPELINE")}

	if a.store, err = session.NewStore(ctx, cfg.Storage); err != nil {
		return nil, err
	}
	if a.tel, err = runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    "wayfarer",
		ServiceVersion: version,
		Logger:         a.logger,
	}); err != nil {
		_ = a.store.Close()
		return nil, err
	}

	var (
		planner pipeline.Planner
		writer  pipeline.Writer
	)
	if withAgents {
		gen, err := provider.NewProvider(ctx, cfg.LLM, newLogger("LLM"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("llm provider: %w", err)
		}
		planner = agent.NewPlanner(gen, a.logger)
		writer = agent.NewWriter(gen, a.logger)
	}

	a.engine = pipeline.New(a.store, planner, newExecutor(cfg, cfgPath), writer,
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.tel.PipelineMetrics()),
		pipeline.WithTracer(a.tel.Tracer),
	)
	return a, nil
}

// toolClientConfig describes the tool process. The default command is this
// binary's own "tools serve", which is handed the same config file.
func toolClientConfig(cfg *config.Config, cfgPath string) mcp.ClientConfig {
	args := append([]string(nil), cfg.Tool.Args...)
	if cfgPath != "" && len(args) > 0 && args[0] == "tools" {
		args = append(args, "--config", cfgPath)
	}
	return mcp.ClientConfig{
		Command:          cfg.Tool.Command,
		Args:             args,
		Env:              cfg.Tool.Env,
		HandshakeTimeout: cfg.Tool.HandshakeTimeout,
		CallTimeout:      cfg.Tool.CallTimeout,
		ClientName:       "wayfarer",
		ClientVersion:    version,
	}
}

func newExecutor(cfg *config.Config, cfgPath string) *mcp.Executor {
	return mcp.NewExecutor(toolClientConfig(cfg, cfgPath), newLogger("MCP")).WithDebug(cfg.General.Debug)
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Printf("telemetry shutdown: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Printf("store close: %v", err)
	}
}
