package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/store"
	"github.com/shopspring/decimal"
)

// Store implements store.Store on BigQuery. It holds a shared client to
// avoid creating a connection for each operation.
type Store struct {
	client *bigquery.Client
	ds     Dataset
}

// NewStore creates a client for projectID and returns a Store over datasetID.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	if projectID == "" {
		projectID = DefaultProjectID
	}
	if datasetID == "" {
		datasetID = DefaultDatasetID
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, Dataset{ProjectID: projectID, DatasetID: datasetID}), nil
}

// NewStoreWithClient returns a Store using the provided client.
func NewStoreWithClient(client *bigquery.Client, ds Dataset) *Store {
	return &Store{client: client, ds: ds}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// FindUserByExternalID implements store.Store.
func (s *Store) FindUserByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	return FindUserByExternalIDWithClient(ctx, s.client, s.ds, externalID)
}

// FindAccount implements store.Store.
func (s *Store) FindAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	return FindAccountWithClient(ctx, s.client, s.ds, userID, accountID)
}

// ListAccountTransactions implements store.Store.
func (s *Store) ListAccountTransactions(ctx context.Context, userID, accountID string) ([]domain.Transaction, error) {
	return ListAccountTransactionsWithClient(ctx, s.client, s.ds, userID, accountID)
}

// FindTransactions implements store.Store.
func (s *Store) FindTransactions(ctx context.Context, userID string, ids []string) ([]domain.Transaction, error) {
	return FindTransactionsWithClient(ctx, s.client, s.ds, userID, ids)
}

// WithinTx implements store.Store. fn runs inside a multi-statement
// transaction; BigQuery aborts the commit when a concurrent transaction
// modified the same tables.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := beginSession(ctx, s.client)
	if err != nil {
		return fmt.Errorf("WithinTx: %w", err)
	}
	defer sess.abort(ctx)

	if err := fn(ctx, &bqTx{sess: sess, ds: s.ds}); err != nil {
		if rbErr := sess.rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("WithinTx: %w", rbErr))
		}
		return err
	}

	if err := sess.commit(ctx); err != nil {
		return fmt.Errorf("WithinTx: %w", err)
	}
	return nil
}

type bqTx struct {
	sess *session
	ds   Dataset
}

func (t *bqTx) DeleteTransactions(ctx context.Context, userID string, ids []string) ([]domain.Transaction, error) {
	return DeleteTransactionsWithClient(ctx, t.sess, t.ds, userID, ids)
}

func (t *bqTx) IncrementAccountBalance(ctx context.Context, userID, accountID string, delta decimal.Decimal) error {
	return IncrementAccountBalanceWithClient(ctx, t.sess, t.ds, userID, accountID, delta)
}

func (t *bqTx) SwitchDefaultAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	return SwitchDefaultAccountWithClient(ctx, t.sess, t.ds, userID, accountID)
}

// Seed implements store.Seeder. Rows with an existing id are replaced.
func (s *Store) Seed(ctx context.Context, f *store.Fixture) error {
	if err := f.Normalize(); err != nil {
		return fmt.Errorf("Seed: %w", err)
	}
	return s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sess := tx.(*bqTx).sess
		for _, u := range f.Users {
			if err := InsertUserWithClient(ctx, sess, s.ds, u); err != nil {
				return fmt.Errorf("Seed: %w", err)
			}
		}
		for _, a := range f.Accounts {
			if err := InsertAccountWithClient(ctx, sess, s.ds, a); err != nil {
				return fmt.Errorf("Seed: %w", err)
			}
		}
		for _, t := range f.Transactions {
			if err := InsertTransactionWithClient(ctx, sess, s.ds, t); err != nil {
				return fmt.Errorf("Seed: %w", err)
			}
		}
		return nil
	})
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)
