package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/welth/internal/domain"
)

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	UserID    string `bigquery:"user_id"`    // REQUIRED
	AccountID string `bigquery:"account_id"` // REQUIRED

	TransactionType string     `bigquery:"transaction_type"` // REQUIRED, INCOME | EXPENSE
	TransactionDate time.Time `bigquery:"transaction_date"` // REQUIRED TIMESTAMP

	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC, non-negative

	Description  bigquery.NullString `bigquery:"description"`   // NULLABLE
	CategoryName bigquery.NullString `bigquery:"category_name"` // NULLABLE

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

// toDomain rejects rows with an unknown transaction type: balance deltas
// depend on it.
func (r *TransactionRow) toDomain() (domain.Transaction, error) {
	typ, err := domain.ParseTransactionType(r.TransactionType)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", r.TransactionID, err)
	}
	t := domain.Transaction{
		ID:          r.TransactionID,
		UserID:      r.UserID,
		AccountID:   r.AccountID,
		Type:        typ,
		Amount:      decimalFromRat(r.Amount),
		Description: r.Description.StringVal,
		Category:    r.CategoryName.StringVal,
		Date:        r.TransactionDate.UTC(),
		CreatedAt:   r.CreatedTS,
		UpdatedAt:   r.CreatedTS,
	}
	if r.UpdatedTS.Valid {
		t.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return t, nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
