package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType distinguishes everyday accounts from savings.
type AccountType string

const (
	AccountTypeCurrent AccountType = "CURRENT"
	AccountTypeSavings AccountType = "SAVINGS"
)

// User is the local record for an identity-provider subject.
type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Account is owned by exactly one user. Balance is kept equal to the signed
// sum of the account's transactions and is only ever changed incrementally.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"type"`
	Balance   decimal.Decimal `json:"balance"`
	IsDefault bool            `json:"is_default"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AccountWithTransactions is the account-detail view: the account plus its
// transactions, newest first.
type AccountWithTransactions struct {
	Account
	Transactions     []Transaction `json:"transactions"`
	TransactionCount int           `json:"transaction_count"`
}
