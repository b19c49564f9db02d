package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/welth/internal/config"
	infraBQ "github.com/dvloznov/welth/internal/infra/bigquery"
	"github.com/dvloznov/welth/internal/infra/postgres"
	"github.com/dvloznov/welth/internal/logger"
	"github.com/rs/zerolog"
)

// options are the parsed command-line flags.
type options struct {
	backend    string
	command    string
	configPath string
	dsn        string
	projectID  string
	datasetID  string
	appliedBy  string
}

func parseFlags(args []string, cfg *config.Config, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.backend, "backend", config.BackendPostgres, "Backend to migrate: postgres or bigquery")
	fs.StringVar(&opts.command, "cmd", "up", "Migration command: up, down or version")
	fs.StringVar(&opts.dsn, "dsn", cfg.Storage.Postgres.PrimaryDSN, "Postgres DSN (or set DATABASE_URL)")
	fs.StringVar(&opts.projectID, "project", cfg.Storage.BigQuery.ProjectID, "GCP project ID (or set GCP_PROJECT_ID)")
	fs.StringVar(&opts.datasetID, "dataset", cfg.Storage.BigQuery.Dataset, "BigQuery dataset ID")
	fs.StringVar(&opts.appliedBy, "applied-by", "migrate-cli", "Name recorded with applied BigQuery migrations")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch opts.backend {
	case config.BackendPostgres:
		if opts.dsn == "" {
			return nil, errors.New("-dsn (or DATABASE_URL) is required for the postgres backend")
		}
		switch opts.command {
		case "up", "down", "version":
		default:
			return nil, fmt.Errorf("unknown command %q for postgres", opts.command)
		}
	case config.BackendBigQuery:
		if opts.projectID == "" {
			return nil, errors.New("-project (or GCP_PROJECT_ID) is required for the bigquery backend")
		}
		switch opts.command {
		case "up", "version":
		default:
			return nil, fmt.Errorf("unknown command %q for bigquery: migrations are forward-only", opts.command)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.backend)
	}
	return opts, nil
}

func main() {
	log := logger.New()

	cfg := config.NewDefaultConfig()
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Postgres.PrimaryDSN = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		cfg.Storage.BigQuery.ProjectID = v
	}

	opts, err := parseFlags(os.Args[1:], cfg, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("Invalid arguments")
	}

	ctx := logger.WithContext(context.Background(), log)

	switch opts.backend {
	case config.BackendPostgres:
		err = migratePostgres(ctx, opts, log)
	case config.BackendBigQuery:
		err = migrateBigQuery(ctx, opts, log)
	}
	if err != nil {
		log.Fatal().Err(err).Str("backend", opts.backend).Str("cmd", opts.command).Msg("Migration failed")
	}
}

func migratePostgres(ctx context.Context, opts *options, log zerolog.Logger) error {
	resolver, primary, err := postgres.Connect(ctx, postgres.Config{PrimaryDSN: opts.dsn})
	if err != nil {
		return err
	}
	defer resolver.Close()

	switch opts.command {
	case "up":
		if err := postgres.MigrateUp(primary); err != nil {
			return err
		}
	case "down":
		if err := postgres.MigrateDown(primary); err != nil {
			return err
		}
	}

	version, dirty, err := postgres.MigrationVersion(primary)
	if err != nil {
		return err
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Postgres schema version")
	return nil
}

func migrateBigQuery(ctx context.Context, opts *options, log zerolog.Logger) error {
	client, err := bigquery.NewClient(ctx, opts.projectID)
	if err != nil {
		return fmt.Errorf("creating BigQuery client: %w", err)
	}
	defer client.Close()

	ds := infraBQ.Dataset{ProjectID: opts.projectID, DatasetID: opts.datasetID}
	log.Info().Str("project", ds.ProjectID).Str("dataset", ds.DatasetID).Msg("Connected to BigQuery")

	migrations, err := infraBQ.EmbeddedMigrations(ds)
	if err != nil {
		return err
	}

	if opts.command == "version" {
		applied, err := infraBQ.AppliedMigrations(ctx, client, ds)
		if err != nil {
			return err
		}
		pending := infraBQ.Pending(migrations, applied)
		for _, m := range pending {
			log.Info().Str("migration", m.Filename).Msg("Pending")
		}
		log.Info().Int("applied", len(applied)).Int("pending", len(pending)).Msg("BigQuery schema status")
		return nil
	}

	count, err := infraBQ.Migrate(ctx, client, ds, migrations, opts.appliedBy, log)
	if err != nil {
		return err
	}
	if count == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
	} else {
		log.Info().Int("count", count).Msg("Applied migrations")
	}
	return nil
}
