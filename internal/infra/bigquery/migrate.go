package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrationPattern matches migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// ReadMigrations parses the migration files in fsys, sorted by version, with
// the {{PROJECT_ID}} and {{DATASET_ID}} placeholders filled in from ds.
// The checksum is taken before substitution so it identifies the logical
// migration regardless of where it is applied.
func ReadMigrations(fsys fs.FS, ds Dataset) ([]Migration, error) {
	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("ReadMigrations: reading directory: %w", err)
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := migrationPattern.FindStringSubmatch(file.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(fsys, file.Name())
		if err != nil {
			return nil, fmt.Errorf("ReadMigrations: reading %s: %w", file.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", ds.ProjectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", ds.DatasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     matches[2],
			Filename: file.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// EmbeddedMigrations returns the ledger schema migrations shipped with the binary.
func EmbeddedMigrations(ds Dataset) ([]Migration, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("EmbeddedMigrations: %w", err)
	}
	return ReadMigrations(sub, ds)
}

// Pending returns the migrations whose version is not in applied.
func Pending(all []Migration, applied []AppliedMigration) []Migration {
	done := make(map[int]bool, len(applied))
	for _, am := range applied {
		done[am.Version] = true
	}
	var pending []Migration
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

// Migrate applies every pending migration and records it in
// schema_migrations. It returns the number of migrations applied.
func Migrate(ctx context.Context, client *bigquery.Client, ds Dataset, migrations []Migration, appliedBy string, log zerolog.Logger) (int, error) {
	if err := ensureSchemaMigrationsTable(ctx, client, ds); err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	applied, err := AppliedMigrations(ctx, client, ds)
	if err != nil {
		return 0, fmt.Errorf("Migrate: %w", err)
	}

	count := 0
	for _, m := range Pending(migrations, applied) {
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		if _, err := runDML(ctx, client.Query(m.SQL)); err != nil {
			return count, fmt.Errorf("Migrate: executing %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := recordMigration(ctx, client, ds, m, appliedBy); err != nil {
			return count, fmt.Errorf("Migrate: recording %04d_%s: %w", m.Version, m.Name, err)
		}
		count++
	}
	return count, nil
}

// ensureSchemaMigrationsTable creates the schema_migrations table if it doesn't exist
func ensureSchemaMigrationsTable(ctx context.Context, client *bigquery.Client, ds Dataset) error {
	q := client.Query(`
		CREATE TABLE IF NOT EXISTS ` + ds.Table("schema_migrations") + ` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`)
	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("ensureSchemaMigrationsTable: %w", err)
	}
	return nil
}

// AppliedMigrations lists the recorded migrations, oldest first.
func AppliedMigrations(ctx context.Context, client *bigquery.Client, ds Dataset) ([]AppliedMigration, error) {
	q := client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + ds.Table("schema_migrations") + `
		ORDER BY version ASC
	`)
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("AppliedMigrations: reading query: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("AppliedMigrations: iterating: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func recordMigration(ctx context.Context, client *bigquery.Client, ds Dataset, m Migration, appliedBy string) error {
	q := client.Query(`
		INSERT INTO ` + ds.Table("schema_migrations") + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	_, err := runDML(ctx, q)
	return err
}
