package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/whatsease-server/internal/auth"
	"github.com/vovakirdan/whatsease-server/internal/bot"
	"github.com/vovakirdan/whatsease-server/internal/config"
	"github.com/vovakirdan/whatsease-server/internal/core"
	"github.com/vovakirdan/whatsease-server/internal/store"
	"github.com/vovakirdan/whatsease-server/internal/store/postgres"
	"github.com/vovakirdan/whatsease-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/whatsease-server/internal/transport/http"
)

// botUsername is the handle the bot account is seeded with.
const botUsername = "whatsease_bot"

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	coord           *core.Coordinator
	router          *core.Router
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.DBDriver).Msg("database initialized")

	// The bot must exist as a user so messages to it pass the recipient check.
	// "!" is never a valid bcrypt hash, so the account cannot log in.
	if _, err := st.EnsureUser(ctx, &store.User{
		Email:        cfg.BotEmail,
		Username:     botUsername,
		FullName:     cfg.BotName,
		PasswordHash: "!",
	}); err != nil {
		st.Close()
		return nil, fmt.Errorf("seed bot user: %w", err)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	responder := bot.NewResponder(cfg.BotHistoryLimit, logger)
	registry := core.NewRegistry()
	router := core.NewRouter(registry, st, responder, core.RouterConfig{
		BotIdentity: cfg.BotEmail,
		BotDelay:    cfg.BotResponseDelay,
	}, logger)
	coord := core.NewCoordinator(authService, registry, router, st, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Coordinator: coord,
		Auth:        authService,
		Store:       st,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		coord:           coord,
		router:          router,
		store:           st,
		log:             logger,
	}, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "sqlite", "":
		return sqlite.New(cfg.DatabasePath)
	case "postgres":
		return postgres.New(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup(context.Background())
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup(shutdownCtx)
			return err
		}

		a.cleanup(shutdownCtx)
		return <-serverErr
	}
}

// cleanup closes live WebSocket sessions, waits for pending bot replies and
// then closes the database. Hijacked connections are invisible to
// http.Server.Shutdown, so the coordinator closes them itself.
func (a *App) cleanup(ctx context.Context) {
	if err := a.coord.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("sessions still open at shutdown deadline")
	}
	a.router.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
}
