package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/welth/internal/api/handlers"
	"github.com/dvloznov/welth/internal/app"
	"github.com/dvloznov/welth/internal/config"
	"github.com/dvloznov/welth/internal/ledger"
	"github.com/dvloznov/welth/internal/logger"
	"github.com/dvloznov/welth/internal/store"
	"github.com/rs/zerolog"
)

// apiServer is the assembled HTTP server and the resources it owns.
type apiServer struct {
	http        *http.Server
	store       store.Store
	sideEffects *app.SideEffects
	cancel      context.CancelFunc
}

// newAPIServer wires the store, identity, side effects and routes from cfg
// and starts the job workers. It does not listen.
func newAPIServer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*apiServer, error) {
	st, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := app.NewIdentity(cfg.Auth)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	sideEffects, err := app.NewSideEffects(workerCtx, cfg, log)
	if err != nil {
		cancel()
		_ = st.Close()
		return nil, err
	}
	if err := sideEffects.Start(workerCtx); err != nil {
		cancel()
		_ = sideEffects.Close()
		_ = st.Close()
		return nil, err
	}

	service := ledger.NewService(st, append(sideEffects.LedgerOptions(), ledger.WithLogger(log))...)

	handler := handlers.NewRouter(handlers.Deps{
		Ledger:   service,
		Identity: verifier,
		Email:    handlers.NewEmailHandler(app.NewEmailClient(cfg.Email, log), app.DiagnosticMessage(cfg.Email)),
		Jobs:     handlers.NewJobsHandler(sideEffects.JobStore, log),
		Log:      log,
	})

	return &apiServer{
		http: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		store:       st,
		sideEffects: sideEffects,
		cancel:      cancel,
	}, nil
}

// shutdown stops accepting requests, drains the side effects queued by the
// last requests, then closes the store.
func (s *apiServer) shutdown(ctx context.Context) error {
	defer s.cancel()
	err := s.http.Shutdown(ctx)
	return errors.Join(err, s.sideEffects.Shutdown(ctx), s.store.Close())
}

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "configs/config.toml", "Path to the TOML configuration file")
		localPath  = flag.String("config-local", "configs/config.local.toml", "Optional local overrides")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, *localPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.NewWithLevel(cfg.Logging.Level, cfg.Logging.Format)
	ctx := logger.WithContext(context.Background(), log)

	srv, err := newAPIServer(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("Failed to initialize server")
	}

	// Start server in a goroutine
	go func() {
		log.Info().
			Str("addr", srv.http.Addr).
			Str("backend", cfg.Storage.Backend).
			Str("environment", cfg.Environment).
			Msg("Starting API server")
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer cancel()

	if err := srv.shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown was not clean")
	}

	log.Info().Msg("Server exited")
}
