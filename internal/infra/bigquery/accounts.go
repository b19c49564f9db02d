package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/welth/internal/domain"
)

type UserRow struct {
	UserID     string              `bigquery:"user_id"`     // REQUIRED
	ExternalID string              `bigquery:"external_id"` // REQUIRED
	Email      bigquery.NullString `bigquery:"email"`       // NULLABLE
	Name       bigquery.NullString `bigquery:"name"`        // NULLABLE
	CreatedTS  time.Time           `bigquery:"created_ts"`  // REQUIRED (default CURRENT_TIMESTAMP())
}

func (r *UserRow) toDomain() *domain.User {
	return &domain.User{
		ID:         r.UserID,
		ExternalID: r.ExternalID,
		Email:      r.Email.StringVal,
		Name:       r.Name.StringVal,
		CreatedAt:  r.CreatedTS,
	}
}

type AccountRow struct {
	AccountID string `bigquery:"account_id"` // REQUIRED
	UserID    string `bigquery:"user_id"`    // REQUIRED

	AccountName string `bigquery:"account_name"` // REQUIRED
	AccountType string `bigquery:"account_type"` // REQUIRED, CURRENT | SAVINGS

	Balance   *big.Rat `bigquery:"balance"`    // REQUIRED NUMERIC
	IsDefault bool     `bigquery:"is_default"` // REQUIRED

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

func (r *AccountRow) toDomain() *domain.Account {
	a := &domain.Account{
		ID:        r.AccountID,
		UserID:    r.UserID,
		Name:      r.AccountName,
		Type:      domain.AccountType(r.AccountType),
		Balance:   decimalFromRat(r.Balance),
		IsDefault: r.IsDefault,
		CreatedAt: r.CreatedTS,
		UpdatedAt: r.CreatedTS,
	}
	if r.UpdatedTS.Valid {
		a.UpdatedAt = r.UpdatedTS.Timestamp
	}
	return a
}
