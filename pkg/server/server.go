// Package server provides the public entry point for initializing the
// LoopCRM automation engine server.
//
// This package exists in pkg/ (not internal/) so embedders can compose the
// engine with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/loopcrm/engine/internal/api"
	"github.com/loopcrm/engine/internal/api/handlers"
	"github.com/loopcrm/engine/internal/config"
	"github.com/loopcrm/engine/internal/store"
	"github.com/loopcrm/engine/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store behind the engine.
	Store store.Store

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all engine components from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := dataStore.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging store: %w", err)
	}

	h := handlers.New(dataStore, cfg.Scoring.BatchLimit, cfg.Scoring.Workers)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Store.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		log.Info().Str("data_dir", cfg.Store.DataDir).Msg("SQLite store initialized")
		return s, nil
	case "memory", "":
		s := store.NewMemoryStore(cfg.Store.DataDir)
		log.Info().Str("data_dir", cfg.Store.DataDir).Msg("In-memory store initialized")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}
