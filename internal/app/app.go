package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/admin"
	"github.com/dkotenko/relaychat-server/internal/config"
	"github.com/dkotenko/relaychat-server/internal/core"
	"github.com/dkotenko/relaychat-server/internal/history"
	"github.com/dkotenko/relaychat-server/internal/ratelimit"
	"github.com/dkotenko/relaychat-server/internal/reset"
	"github.com/dkotenko/relaychat-server/internal/spam"
	"github.com/dkotenko/relaychat-server/internal/store"
	"github.com/dkotenko/relaychat-server/internal/store/memory"
	redisstore "github.com/dkotenko/relaychat-server/internal/store/redis"
	"github.com/dkotenko/relaychat-server/internal/token"
	transporthttp "github.com/dkotenko/relaychat-server/internal/transport/http"
)

// resetCheckInterval is how often a running server re-evaluates whether the
// month rolled over. The coordinator itself is idempotent.
const resetCheckInterval = time.Hour

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	reset           *reset.Coordinator
	monthlyReset    bool
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("backend", cfg.StoreBackend).Msg("store initialized")

	zone, err := time.LoadLocation(cfg.ResetTimezone)
	if err != nil {
		return nil, fmt.Errorf("load reset timezone: %w", err)
	}

	tokens := token.NewService(st, []byte(cfg.TokenSecret), cfg.TokenTTL, logger)
	limiter := ratelimit.New(st)
	guard := spam.NewGuard(st, logger)
	hist := history.NewService(st, cfg.HistoryLimit, logger)
	hub := core.NewHub(logger)
	admins := admin.NewService(st, cfg.AdminPasswordHash, hist, hub, logger)
	coordinator := reset.New(st, hub, hub, zone, uuid.NewString(), logger)

	server := transporthttp.NewServer(hub, tokens, admins, guard, hist, limiter, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		reset:           coordinator,
		monthlyReset:    cfg.MonthlyReset,
		log:             logger,
	}, nil
}

// OpenStore builds the configured store backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return memory.New(), nil
	case "redis":
		st, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)
	if a.monthlyReset {
		go a.resetLoop(ctx)
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// resetLoop periodically checks whether the monthly wipe is due.
func (a *App) resetLoop(ctx context.Context) {
	ticker := time.NewTicker(resetCheckInterval)
	defer ticker.Stop()

	a.runReset(ctx)
	for {
		select {
		case <-ticker.C:
			a.runReset(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) runReset(ctx context.Context) {
	performed, err := a.reset.RunIfDue(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("monthly reset check failed")
		return
	}
	if performed {
		a.log.Info().Msg("monthly reset completed")
	}
}

// cleanup closes the store and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
