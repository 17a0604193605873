// Package server wires together the Cubeline analytical engine: warehouse,
// agents, planner, execution engine, and the HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cubeline/cubeline/internal/agents"
	"github.com/cubeline/cubeline/internal/api"
	"github.com/cubeline/cubeline/internal/api/handlers"
	"github.com/cubeline/cubeline/internal/config"
	"github.com/cubeline/cubeline/internal/conversation"
	"github.com/cubeline/cubeline/internal/engine"
	"github.com/cubeline/cubeline/internal/planner"
	"github.com/cubeline/cubeline/internal/telemetry"
	"github.com/cubeline/cubeline/internal/warehouse"
)

// Server holds the initialized Cubeline service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Warehouse is the star-schema accessor; closed on shutdown.
	Warehouse *warehouse.Warehouse

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and returns
// a ready Server. A fresh warehouse is bootstrapped and seeded with
// synthetic data so the service answers queries immediately.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	wh, err := warehouse.Open(cfg.Warehouse.Path)
	if err != nil {
		return nil, err
	}
	if err := wh.Bootstrap(ctx); err != nil {
		wh.Close()
		return nil, fmt.Errorf("bootstrap warehouse: %w", err)
	}
	if err := wh.SeedIfEmpty(ctx, cfg.Warehouse.SeedRows, cfg.Warehouse.SeedSeed); err != nil {
		wh.Close()
		return nil, fmt.Errorf("seed warehouse: %w", err)
	}
	log.Info().Str("path", cfg.Warehouse.Path).Msg("✅ Warehouse ready")

	meta, err := warehouse.LoadMetadata()
	if err != nil {
		wh.Close()
		return nil, err
	}

	registry := agents.NewRegistry(wh, meta, cfg.Engine)
	turns := conversation.NewStore(cfg.Engine.ContextTurns)
	eng := engine.New(registry, turns, cfg.Engine)
	log.Info().Strs("agents", registry.Names()).Msg("✅ Agent registry initialized")

	var hosted planner.Planner
	if a := planner.NewAnthropic(cfg.Planner); a != nil {
		hosted = a
		log.Info().Str("model", cfg.Planner.Model).Msg("✅ Hosted planner configured")
	} else {
		log.Info().Msg("No planner API key; rule-based planner handles all queries")
	}
	pl := planner.NewService(hosted, planner.NewFallback(meta))

	h := handlers.New(eng, pl, wh, meta)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Warehouse:    wh,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
