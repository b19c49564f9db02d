// Package bigquery is the BigQuery store backend. Units of work run as
// multi-statement transactions inside a BigQuery session.
package bigquery

import (
	"context"
	"fmt"
	"math/big"

	"cloud.google.com/go/bigquery"
	"github.com/shopspring/decimal"
)

const (
	DefaultProjectID = "studious-union-470122-v7"
	DefaultDatasetID = "finance"

	usersTable        = "users"
	accountsTable     = "accounts"
	transactionsTable = "transactions"

	// numericScale is the fractional precision of the NUMERIC type.
	numericScale = 9
)

// Dataset names the project and dataset holding the ledger tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

// Table returns the fully qualified, backtick-quoted table name.
func (d Dataset) Table(name string) string {
	return "`" + d.ProjectID + "." + d.DatasetID + "." + name + "`"
}

// querier builds queries. *bigquery.Client and session both satisfy it.
type querier interface {
	Query(q string) *bigquery.Query
}

// runDML runs q to completion and returns the number of rows it modified.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

func ratFromDecimal(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

func decimalFromRat(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	// NUMERIC carries at most nine fractional digits, so this is exact.
	return decimal.RequireFromString(r.FloatString(numericScale))
}
