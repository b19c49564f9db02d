package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *Store {
	s := New()
	s.AddUser(domain.User{ID: "u1", ExternalID: "ext-1"})
	s.AddAccount(domain.Account{ID: "a1", UserID: "u1", Balance: decimal.RequireFromString("100.00"), IsDefault: true})
	s.AddAccount(domain.Account{ID: "a2", UserID: "u1", Balance: decimal.Zero})
	s.AddAccount(domain.Account{ID: "b1", UserID: "u2", Balance: decimal.Zero})
	s.AddTransaction(domain.Transaction{ID: "t1", UserID: "u1", AccountID: "a1", Type: domain.TransactionTypeExpense,
		Amount: decimal.RequireFromString("30.00"), Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	s.AddTransaction(domain.Transaction{ID: "t2", UserID: "u1", AccountID: "a1", Type: domain.TransactionTypeIncome,
		Amount: decimal.RequireFromString("50.00"), Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})
	s.AddTransaction(domain.Transaction{ID: "x1", UserID: "u2", AccountID: "b1", Type: domain.TransactionTypeIncome,
		Amount: decimal.RequireFromString("5.00")})
	return s
}

func TestFindTransactions_OwnerScopedAndDeduplicated(t *testing.T) {
	s := seeded()

	got, err := s.FindTransactions(context.Background(), "u1", []string{"t1", "t1", "x1", "missing", "t2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "t2", got[1].ID)
}

func TestListAccountTransactions_NewestFirst(t *testing.T) {
	s := seeded()

	got, err := s.ListAccountTransactions(context.Background(), "u1", "a1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].ID)
	assert.Equal(t, "t1", got[1].ID)
}

func TestWithinTx_ErrorDiscardsStagedWrites(t *testing.T) {
	s := seeded()
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.DeleteTransactions(ctx, "u1", []string{"t1"})
		require.NoError(t, err)
		require.NoError(t, tx.IncrementAccountBalance(ctx, "u1", "a1", decimal.RequireFromString("30")))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.True(t, s.HasTransaction("t1"))
	a, _ := s.Account("a1")
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("100.00")))
}

func TestWithinTx_CommitFault(t *testing.T) {
	s := seeded()
	boom := errors.New("commit lost")
	s.InjectFaults(Faults{Commit: boom})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.DeleteTransactions(ctx, "u1", []string{"t1", "t2"})
		return err
	})

	assert.ErrorIs(t, err, boom)
	assert.True(t, s.HasTransaction("t1"))
	assert.True(t, s.HasTransaction("t2"))
}

func TestIncrementAccountBalance_ForeignAccount(t *testing.T) {
	s := seeded()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.IncrementAccountBalance(ctx, "u1", "b1", decimal.NewFromInt(1))
	})

	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSwitchDefaultAccount(t *testing.T) {
	s := seeded()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, err := tx.SwitchDefaultAccount(ctx, "u1", "a2")
		if err != nil {
			return err
		}
		assert.True(t, a.IsDefault)
		return nil
	})
	require.NoError(t, err)

	a1, _ := s.Account("a1")
	a2, _ := s.Account("a2")
	assert.False(t, a1.IsDefault)
	assert.True(t, a2.IsDefault)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.SwitchDefaultAccount(ctx, "u1", "b1")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	a2, _ = s.Account("a2")
	assert.True(t, a2.IsDefault)
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	fixture := `{
		"users": [{"id": "u1", "external_id": "user_abc"}],
		"accounts": [{"id": "a1", "user_id": "u1", "name": "Main", "type": "CURRENT", "balance": "12.34", "is_default": true}],
		"transactions": [{"id": "t1", "user_id": "u1", "account_id": "a1", "type": "EXPENSE", "amount": "2.34", "date": "2024-03-01T00:00:00Z"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	s, err := LoadFixture(path)
	require.NoError(t, err)

	u, err := s.FindUserByExternalID(context.Background(), "user_abc")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	a, ok := s.Account("a1")
	require.True(t, ok)
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("12.34")))
	assert.True(t, s.HasTransaction("t1"))
}

func TestSeed_NormalizesAndRejectsTransactionTypes(t *testing.T) {
	s := New()
	require.NoError(t, s.Seed(context.Background(), &store.Fixture{
		Transactions: []domain.Transaction{{ID: "t1", UserID: "u1", AccountID: "a1", Type: "expense", Amount: decimal.RequireFromString("2.00")}},
	}))
	txns, err := s.FindTransactions(context.Background(), "u1", []string{"t1"})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionTypeExpense, txns[0].Type)

	err = s.Seed(context.Background(), &store.Fixture{
		Users:        []domain.User{{ID: "u9", ExternalID: "ext-9"}},
		Transactions: []domain.Transaction{{ID: "t9", UserID: "u9", AccountID: "a9", Type: "TRANSFER"}},
	})
	assert.ErrorContains(t, err, "t9")
	_, err = s.FindUserByExternalID(context.Background(), "ext-9")
	assert.ErrorIs(t, err, store.ErrNotFound, "a rejected fixture inserts nothing")
}
