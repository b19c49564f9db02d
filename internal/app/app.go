// Package app assembles the service from its configuration: the store
// backend, session verification, side-effect delivery and the job queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dvloznov/welth/internal/archive"
	"github.com/dvloznov/welth/internal/config"
	"github.com/dvloznov/welth/internal/email"
	"github.com/dvloznov/welth/internal/identity"
	infraBQ "github.com/dvloznov/welth/internal/infra/bigquery"
	"github.com/dvloznov/welth/internal/infra/memory"
	"github.com/dvloznov/welth/internal/infra/postgres"
	"github.com/dvloznov/welth/internal/jobs"
	"github.com/dvloznov/welth/internal/jobs/inmemory"
	"github.com/dvloznov/welth/internal/ledger"
	"github.com/dvloznov/welth/internal/revalidate"
	"github.com/dvloznov/welth/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// OpenStore opens the configured storage backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		if cfg.Storage.Fixture == "" {
			return memory.New(), nil
		}
		st, err = memory.LoadFixture(cfg.Storage.Fixture)

	case config.BackendPostgres:
		pg := cfg.Storage.Postgres
		st, err = postgres.Open(ctx, postgres.Config{
			PrimaryDSN:      pg.PrimaryDSN,
			ReplicaDSN:      pg.ReplicaDSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.GetConnMaxLifetime(),
		}, pg.MigrateOnStart)

	case config.BackendBigQuery:
		st, err = infraBQ.NewStore(ctx, cfg.Storage.BigQuery.ProjectID, cfg.Storage.BigQuery.Dataset)

	default:
		return nil, fmt.Errorf("OpenStore: unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewIdentity builds the session verifier. A configured public key file
// takes precedence over the shared secret.
func NewIdentity(cfg config.AuthConfig) (*identity.Verifier, error) {
	icfg := identity.Config{
		Secret:        cfg.JWTSecret,
		Issuer:        cfg.Issuer,
		SessionCookie: cfg.SessionCookie,
		Leeway:        cfg.GetLeeway(),
	}
	if cfg.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("NewIdentity: reading public key: %w", err)
		}
		icfg.Secret = ""
		icfg.PublicKeyPEM = pem
	}
	return identity.NewVerifier(icfg)
}

// NewEmailClient builds the email API client.
func NewEmailClient(cfg config.EmailConfig, log zerolog.Logger) *email.Client {
	return email.NewClient(cfg.APIKey,
		email.WithBaseURL(cfg.BaseURL),
		email.WithRateLimit(cfg.RateLimit),
		email.WithTimeout(cfg.GetTimeout()),
		email.WithLogger(log),
	)
}

// DiagnosticMessage is the message sent by the diagnostic email endpoint.
// Recipients are comma separated.
func DiagnosticMessage(cfg config.EmailConfig) email.Message {
	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return email.Message{
		From:    cfg.From,
		To:      to,
		Subject: cfg.Subject,
		Text:    cfg.Text,
	}
}

// SideEffects owns the background job queue and the collaborators that
// deliver post-commit side effects through it.
type SideEffects struct {
	Queue    *inmemory.Queue
	JobStore *inmemory.Store
	Notifier revalidate.Notifier
	Archiver ledger.Archiver

	router  *jobs.Router
	closers []func() error
}

// NewSideEffects wires notification and archiving according to cfg.
func NewSideEffects(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*SideEffects, error) {
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(cfg.Jobs.BufferSize, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithBackoff(cfg.Jobs.GetBackoff()),
	)
	se := &SideEffects{
		Queue:    queue,
		JobStore: jobStore,
		router:   jobs.NewRouter(),
	}

	var target revalidate.Notifier
	switch cfg.Revalidate.Mode {
	case config.RevalidateRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Revalidate.RedisAddr,
			Password: cfg.Revalidate.RedisPassword,
			DB:       cfg.Revalidate.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Revalidate.RedisAddr).Msg("Redis is not reachable; invalidations will fail until it is")
		}
		se.closers = append(se.closers, client.Close)
		target = revalidate.Multi{
			revalidate.LogNotifier{},
			revalidate.NewRedisNotifier(client, cfg.Revalidate.Channel),
		}
	case config.RevalidateNone:
		target = revalidate.NopNotifier{}
	default:
		target = revalidate.LogNotifier{}
	}

	se.Notifier = target
	if cfg.Revalidate.Queued {
		se.router.Handle(jobs.JobTypeRevalidateViews, revalidate.JobHandler(target))
		se.Notifier = revalidate.NewQueuedNotifier(queue)
	}

	if cfg.Archive.Enabled {
		objects, err := archive.NewGCSStore(ctx)
		if err != nil {
			_ = se.Close()
			return nil, fmt.Errorf("NewSideEffects: %w", err)
		}
		se.closers = append(se.closers, objects.Close)
		se.router.Handle(jobs.JobTypeArchiveTransactions,
			archive.JobHandler(archive.New(objects, cfg.Archive.Bucket, cfg.Archive.Prefix)))
		se.Archiver = archive.NewQueued(queue)
	}

	return se, nil
}

// LedgerOptions returns the service options for the configured side effects.
func (se *SideEffects) LedgerOptions() []ledger.Option {
	opts := []ledger.Option{ledger.WithNotifier(se.Notifier)}
	if se.Archiver != nil {
		opts = append(opts, ledger.WithArchiver(se.Archiver))
	}
	return opts
}

// Start launches the queue workers. Jobs run with ctx.
func (se *SideEffects) Start(ctx context.Context) error {
	return se.Queue.Start(ctx, se.router.Dispatch)
}

// Shutdown waits for in-flight jobs, bounded by ctx, then releases clients.
func (se *SideEffects) Shutdown(ctx context.Context) error {
	err := se.Queue.Stop(ctx)
	return errors.Join(err, se.Close())
}

// Close releases the clients opened by NewSideEffects.
func (se *SideEffects) Close() error {
	var errs []error
	for i := len(se.closers) - 1; i >= 0; i-- {
		errs = append(errs, se.closers[i]())
	}
	se.closers = nil
	return errors.Join(errs...)
}
