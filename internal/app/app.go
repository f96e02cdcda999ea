package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/auth"
	"github.com/dykim-dev/talkline-server/internal/config"
	"github.com/dykim-dev/talkline-server/internal/core"
	"github.com/dykim-dev/talkline-server/internal/store"
	"github.com/dykim-dev/talkline-server/internal/store/sqlite"
	"github.com/dykim-dev/talkline-server/internal/transport/tcp"
)

// App wires together the persistence gateway, the core, and the transport.
type App struct {
	cfg      config.Config
	server   *tcp.Server
	hub      *core.Hub
	recorder *core.Recorder
	store    store.Store
	log      *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	tokens := &auth.TokenConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}

	directory := core.NewUserDirectory(st, logger)
	registry := core.NewRoomRegistry(st, logger)
	recorder := core.NewRecorder(cfg.RecorderQueue, logger)
	hub := core.NewHub(st, registry, directory, recorder, logger)
	dispatcher := core.NewDispatcher(hub, directory, tokens, logger)
	server := tcp.NewServer(cfg.Addr, cfg.IdleTimeout, dispatcher, logger)

	return &App{
		cfg:      cfg,
		server:   server,
		hub:      hub,
		recorder: recorder,
		store:    st,
		log:      logger,
	}, nil
}

// Run starts the hub, the recorder pool, and the acceptor, and blocks until
// context cancellation or a fatal listener error.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(ctx)
	a.recorder.Start(context.Background(), a.cfg.RecorderWorkers)

	err := a.server.Run(ctx)

	a.cleanup()
	return err
}

// cleanup drains pending persistence work and closes the database. The
// drain is bounded by shutdown_timeout; leftover jobs are abandoned so a
// wedged database cannot hold the process open.
func (a *App) cleanup() {
	drained := make(chan struct{})
	go func() {
		a.recorder.Close()
		close(drained)
	}()
	if a.cfg.ShutdownTimeout > 0 {
		select {
		case <-drained:
		case <-time.After(a.cfg.ShutdownTimeout):
			a.log.Warn().Dur("timeout", a.cfg.ShutdownTimeout).Msg("shutdown timeout, pending persistence jobs abandoned")
		}
	} else {
		<-drained
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
