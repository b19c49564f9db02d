// Package store defines the persistence contract shared by every backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dvloznov/welth/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by point lookups when no owned row matches.
var ErrNotFound = errors.New("not found")

// Store provides read access and the atomic unit of work used by the ledger.
type Store interface {
	// FindUserByExternalID returns the user linked to an identity-provider subject.
	FindUserByExternalID(ctx context.Context, externalID string) (*domain.User, error)

	// FindAccount returns the account with accountID owned by userID.
	FindAccount(ctx context.Context, userID, accountID string) (*domain.Account, error)

	// ListAccountTransactions returns the account's transactions, newest first.
	ListAccountTransactions(ctx context.Context, userID, accountID string) ([]domain.Transaction, error)

	// FindTransactions returns the transactions whose id is in ids and that are
	// owned by userID. Unknown and foreign ids are skipped; each row appears once.
	FindTransactions(ctx context.Context, userID string, ids []string) ([]domain.Transaction, error)

	// WithinTx runs fn inside a single transaction. Every write fn performs through
	// tx commits together, or none does when fn or the commit returns an error.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases the backend's resources.
	Close() error
}

// Tx is the write side of a unit of work.
type Tx interface {
	// DeleteTransactions removes the transactions in ids owned by userID and
	// returns the rows that were actually removed.
	DeleteTransactions(ctx context.Context, userID string, ids []string) ([]domain.Transaction, error)

	// IncrementAccountBalance adds delta to the stored balance of the account.
	IncrementAccountBalance(ctx context.Context, userID, accountID string, delta decimal.Decimal) error

	// SwitchDefaultAccount makes accountID the only default account of userID
	// and returns it. ErrNotFound leaves the current default in place.
	SwitchDefaultAccount(ctx context.Context, userID, accountID string) (*domain.Account, error)
}

// Fixture is the JSON seed format shared by every backend.
type Fixture struct {
	Users        []domain.User        `json:"users"`
	Accounts     []domain.Account     `json:"accounts"`
	Transactions []domain.Transaction `json:"transactions"`
}

// ReadFixture decodes a JSON fixture file.
func ReadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadFixture: reading %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ReadFixture: decoding %s: %w", path, err)
	}
	if err := f.Normalize(); err != nil {
		return nil, fmt.Errorf("ReadFixture: %s: %w", path, err)
	}
	return &f, nil
}

// Normalize canonicalises transaction types in place and rejects unknown
// types and negative amounts.
func (f *Fixture) Normalize() error {
	for i := range f.Transactions {
		t := &f.Transactions[i]
		typ, err := domain.ParseTransactionType(string(t.Type))
		if err != nil {
			return fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		t.Type = typ
		if t.Amount.IsNegative() {
			return fmt.Errorf("transaction %s: negative amount %s", t.ID, t.Amount)
		}
	}
	return nil
}

// Seeder loads fixture rows into a backend. Balances are stored as given.
type Seeder interface {
	Seed(ctx context.Context, f *Fixture) error
}
