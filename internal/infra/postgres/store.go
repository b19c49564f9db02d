package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/store"
	"github.com/shopspring/decimal"
)

const (
	userColumns        = `id, external_id, email, name, created_at`
	accountColumns     = `id, user_id, name, type, balance, is_default, created_at, updated_at`
	transactionColumns = `id, user_id, account_id, type, amount, description, category, date, created_at, updated_at`
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db dbresolver.DB
}

// NewStore wraps an open resolver.
func NewStore(db dbresolver.DB) *Store {
	return &Store{db: db}
}

// Close closes every pooled connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*domain.User, error) {
	var u domain.User
	if err := r.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanAccount(r rowScanner) (*domain.Account, error) {
	var a domain.Account
	var typ string
	if err := r.Scan(&a.ID, &a.UserID, &a.Name, &typ, &a.Balance, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = domain.AccountType(typ)
	return &a, nil
}

func scanTransaction(r rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	var typ string
	err := r.Scan(&t.ID, &t.UserID, &t.AccountID, &typ, &t.Amount, &t.Description, &t.Category, &t.Date, &t.CreatedAt, &t.UpdatedAt)
	t.Type = domain.TransactionType(typ)
	return t, err
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return out, nil
}

// FindUserByExternalID implements store.Store.
func (s *Store) FindUserByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindUserByExternalID: %w", err)
	}
	return u, nil
}

// FindAccount implements store.Store.
func (s *Store) FindAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND user_id = $2`, accountID, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindAccount: %w", err)
	}
	return a, nil
}

// ListAccountTransactions implements store.Store.
func (s *Store) ListAccountTransactions(ctx context.Context, userID, accountID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE account_id = $1 AND user_id = $2
		ORDER BY date DESC, id`, accountID, userID)
	if err != nil {
		return nil, fmt.Errorf("ListAccountTransactions: query: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("ListAccountTransactions: %w", err)
	}
	return txns, nil
}

// FindTransactions implements store.Store.
func (s *Store) FindTransactions(ctx context.Context, userID string, ids []string) ([]domain.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND id = ANY($2)
		ORDER BY id`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("FindTransactions: query: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("FindTransactions: %w", err)
	}
	return txns, nil
}

// sqlTx is the subset of a database transaction the unit of work uses.
type sqlTx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// WithinTx implements store.Store. The transaction runs on the primary at
// READ COMMITTED; row locks taken by DELETE and UPDATE serialize conflicting
// units of work.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	var tx sqlTx
	tx, err = s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("WithinTx: begin: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("WithinTx: rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("WithinTx: commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx sqlTx
}

// DeleteTransactions implements store.Tx. Rows already removed by a
// concurrent unit of work are not returned.
func (t *pgTx) DeleteTransactions(ctx context.Context, userID string, ids []string) ([]domain.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		DELETE FROM transactions
		WHERE user_id = $1 AND id = ANY($2)
		RETURNING `+transactionColumns, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("DeleteTransactions: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, fmt.Errorf("DeleteTransactions: %w", err)
	}
	return txns, nil
}

// IncrementAccountBalance implements store.Tx.
func (t *pgTx) IncrementAccountBalance(ctx context.Context, userID, accountID string, delta decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $3, updated_at = now()
		WHERE id = $1 AND user_id = $2`, accountID, userID, delta)
	if err != nil {
		return fmt.Errorf("IncrementAccountBalance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("IncrementAccountBalance: rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("IncrementAccountBalance: account %s: %w", accountID, store.ErrNotFound)
	}
	return nil
}

// SwitchDefaultAccount implements store.Tx. The user's account rows are
// locked first so concurrent switches for the same user run one after the
// other; the partial unique index on is_default is the backstop.
func (t *pgTx) SwitchDefaultAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id FROM accounts WHERE user_id = $1 ORDER BY id FOR UPDATE`, userID)
	if err != nil {
		return nil, fmt.Errorf("SwitchDefaultAccount: locking accounts: %w", err)
	}
	owned := false
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("SwitchDefaultAccount: scanning: %w", err)
		}
		owned = owned || id == accountID
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("SwitchDefaultAccount: locking accounts: %w", err)
	}
	rows.Close()
	if !owned {
		return nil, store.ErrNotFound
	}

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET is_default = false, updated_at = now()
		WHERE user_id = $1 AND is_default AND id <> $2`, userID, accountID); err != nil {
		return nil, fmt.Errorf("SwitchDefaultAccount: clearing default: %w", err)
	}

	row := t.tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET is_default = true, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+accountColumns, accountID, userID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("SwitchDefaultAccount: setting default: %w", err)
	}
	return a, nil
}

// Seed implements store.Seeder.
func (s *Store) Seed(ctx context.Context, f *store.Fixture) error {
	if err := f.Normalize(); err != nil {
		return fmt.Errorf("Seed: %w", err)
	}
	return s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		sqlTx := tx.(*pgTx).tx
		for _, u := range f.Users {
			if _, err := sqlTx.ExecContext(ctx, `
				INSERT INTO users (id, external_id, email, name)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET external_id = EXCLUDED.external_id, email = EXCLUDED.email, name = EXCLUDED.name`,
				u.ID, u.ExternalID, u.Email, u.Name); err != nil {
				return fmt.Errorf("Seed: user %s: %w", u.ID, err)
			}
		}
		for _, a := range f.Accounts {
			typ := a.Type
			if typ == "" {
				typ = domain.AccountTypeCurrent
			}
			if _, err := sqlTx.ExecContext(ctx, `
				INSERT INTO accounts (id, user_id, name, type, balance, is_default)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
					balance = EXCLUDED.balance, is_default = EXCLUDED.is_default, updated_at = now()`,
				a.ID, a.UserID, a.Name, string(typ), a.Balance, a.IsDefault); err != nil {
				return fmt.Errorf("Seed: account %s: %w", a.ID, err)
			}
		}
		for _, t := range f.Transactions {
			if _, err := sqlTx.ExecContext(ctx, `
				INSERT INTO transactions (id, user_id, account_id, type, amount, description, category, date)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO NOTHING`,
				t.ID, t.UserID, t.AccountID, string(t.Type), t.Amount, t.Description, t.Category, t.Date); err != nil {
				return fmt.Errorf("Seed: transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)
