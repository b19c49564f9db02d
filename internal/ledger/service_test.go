package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/identity"
	"github.com/dvloznov/welth/internal/infra/memory"
	"github.com/dvloznov/welth/internal/logger"
	"github.com/dvloznov/welth/internal/revalidate"
	"github.com/dvloznov/welth/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = identity.Caller{ExternalID: "user_alice"}
	bob   = identity.Caller{ExternalID: "user_bob"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingNotifier) Invalidate(_ context.Context, paths ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, paths)
	return r.err
}

type recordingArchiver struct {
	userID string
	txns   []domain.Transaction
	err    error
}

func (r *recordingArchiver) ArchiveDeleted(_ context.Context, userID string, txns []domain.Transaction) error {
	r.userID, r.txns = userID, txns
	return r.err
}

// fixture: alice owns A (100.00) with t1 EXPENSE 30 and t2 INCOME 50, and
// B (10.00) with t3 EXPENSE 4.25; bob owns C (0) with x1 INCOME 7.
func fixture() *memory.Store {
	s := memory.New()
	s.AddUser(domain.User{ID: "u-alice", ExternalID: alice.ExternalID})
	s.AddUser(domain.User{ID: "u-bob", ExternalID: bob.ExternalID})

	s.AddAccount(domain.Account{ID: "A", UserID: "u-alice", Name: "Current", Balance: dec("100.00"), IsDefault: true})
	s.AddAccount(domain.Account{ID: "B", UserID: "u-alice", Name: "Savings", Balance: dec("10.00")})
	s.AddAccount(domain.Account{ID: "C", UserID: "u-bob", Name: "Bob", Balance: dec("0"), IsDefault: true})

	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	s.AddTransaction(domain.Transaction{ID: "t1", UserID: "u-alice", AccountID: "A", Type: domain.TransactionTypeExpense, Amount: dec("30.00"), Date: day(1)})
	s.AddTransaction(domain.Transaction{ID: "t2", UserID: "u-alice", AccountID: "A", Type: domain.TransactionTypeIncome, Amount: dec("50.00"), Date: day(2)})
	s.AddTransaction(domain.Transaction{ID: "t3", UserID: "u-alice", AccountID: "B", Type: domain.TransactionTypeExpense, Amount: dec("4.25"), Date: day(3)})
	s.AddTransaction(domain.Transaction{ID: "x1", UserID: "u-bob", AccountID: "C", Type: domain.TransactionTypeIncome, Amount: dec("7"), Date: day(4)})
	return s
}

func balance(t *testing.T, s *memory.Store, id string) decimal.Decimal {
	t.Helper()
	a, ok := s.Account(id)
	require.True(t, ok, "account %s", id)
	return a.Balance
}

func quietCtx() context.Context {
	return logger.WithContext(context.Background(), logger.NewWithWriter(&bytes.Buffer{}))
}

func TestBulkDelete_ReconcilesBalance(t *testing.T) {
	s := fixture()
	n := &recordingNotifier{}
	svc := NewService(s, WithNotifier(n))

	res := svc.BulkDeleteTransactions(quietCtx(), alice, []string{"t1", "t2"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, DeleteSummary{Deleted: 2, AffectedAccounts: []string{"A"}}, res.Data)
	assert.True(t, dec("80.00").Equal(balance(t, s, "A")), "got %s", balance(t, s, "A"))
	assert.False(t, s.HasTransaction("t1"))
	assert.False(t, s.HasTransaction("t2"))
	assert.Equal(t, [][]string{{revalidate.ViewDashboard, revalidate.ViewAccountDetail}}, n.calls)
}

func TestBulkDelete_BalanceFormulaAcrossAccounts(t *testing.T) {
	tests := []struct {
		name     string
		ids      []string
		balances map[string]string
	}{
		{"single expense", []string{"t1"}, map[string]string{"A": "130.00", "B": "10.00"}},
		{"single income", []string{"t2"}, map[string]string{"A": "50.00", "B": "10.00"}},
		{"two accounts", []string{"t3", "t1"}, map[string]string{"A": "130.00", "B": "14.25"}},
		{"everything owned", []string{"t1", "t2", "t3"}, map[string]string{"A": "80.00", "B": "14.25"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fixture()
			svc := NewService(s, WithNotifier(revalidate.NopNotifier{}))

			before := map[string]decimal.Decimal{"A": balance(t, s, "A"), "B": balance(t, s, "B")}
			planned, err := s.FindTransactions(context.Background(), "u-alice", tt.ids)
			require.NoError(t, err)

			res := svc.BulkDeleteTransactions(quietCtx(), alice, tt.ids)
			require.True(t, res.Success, res.Error)

			sums := map[string]decimal.Decimal{}
			for _, p := range planned {
				sums[p.AccountID] = sums[p.AccountID].Add(p.SignedAmount())
			}
			for id, want := range tt.balances {
				got := balance(t, s, id)
				assert.True(t, dec(want).Equal(got), "account %s: want %s got %s", id, want, got)
				assert.True(t, before[id].Sub(sums[id]).Equal(got), "account %s breaks balance_before - sum", id)
			}
		})
	}
}

func TestBulkDelete_ForeignIdsAreNoop(t *testing.T) {
	s := fixture()
	n := &recordingNotifier{}
	svc := NewService(s, WithNotifier(n))

	res := svc.BulkDeleteTransactions(quietCtx(), alice, []string{"x1", "does-not-exist"})

	require.True(t, res.Success)
	assert.Equal(t, DeleteSummary{AffectedAccounts: []string{}}, res.Data)
	assert.True(t, s.HasTransaction("x1"))
	assert.True(t, dec("0").Equal(balance(t, s, "C")))
	assert.True(t, dec("100.00").Equal(balance(t, s, "A")))
	assert.Empty(t, n.calls)
}

func TestBulkDelete_MixedOwnershipOnlyTouchesCaller(t *testing.T) {
	s := fixture()
	svc := NewService(s, WithNotifier(revalidate.NopNotifier{}))

	res := svc.BulkDeleteTransactions(quietCtx(), alice, []string{"t1", "x1"})

	require.True(t, res.Success)
	assert.Equal(t, 1, res.Data.(DeleteSummary).Deleted)
	assert.True(t, s.HasTransaction("x1"))
	assert.True(t, dec("0").Equal(balance(t, s, "C")))
	assert.True(t, dec("130.00").Equal(balance(t, s, "A")))
}

func TestBulkDelete_EmptyAndDuplicateIds(t *testing.T) {
	s := fixture()
	svc := NewService(s, WithNotifier(revalidate.NopNotifier{}))

	res := svc.BulkDeleteTransactions(quietCtx(), alice, nil)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Data.(DeleteSummary).Deleted)

	res = svc.BulkDeleteTransactions(quietCtx(), alice, []string{"t1", "t1", "t1"})
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Data.(DeleteSummary).Deleted)
	assert.True(t, dec("130.00").Equal(balance(t, s, "A")), "duplicate ids must be credited once")
}

func TestBulkDelete_ResubmissionChangesNothing(t *testing.T) {
	s := fixture()
	svc := NewService(s, WithNotifier(revalidate.NopNotifier{}))
	ids := []string{"t1", "t2", "t3"}

	first := svc.BulkDeleteTransactions(quietCtx(), alice, ids)
	require.True(t, first.Success)
	afterA, afterB := balance(t, s, "A"), balance(t, s, "B")

	second := svc.BulkDeleteTransactions(quietCtx(), alice, ids)
	require.True(t, second.Success)
	assert.Equal(t, 0, second.Data.(DeleteSummary).Deleted)
	assert.True(t, afterA.Equal(balance(t, s, "A")))
	assert.True(t, afterB.Equal(balance(t, s, "B")))
}

func TestBulkDelete_AtomicOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		faults memory.Faults
	}{
		{"fails after deletes are staged", memory.Faults{AfterDelete: errors.New("connection reset")}},
		{"commit aborted", memory.Faults{Commit: errors.New("serialization failure")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fixture()
			s.InjectFaults(tt.faults)
			n := &recordingNotifier{}
			arch := &recordingArchiver{}
			svc := NewService(s, WithNotifier(n), WithArchiver(arch))

			res := svc.BulkDeleteTransactions(quietCtx(), alice, []string{"t1", "t2", "t3"})

			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, ErrStoreFailure)
			assert.NotEmpty(t, res.Error)
			for _, id := range []string{"t1", "t2", "t3"} {
				assert.True(t, s.HasTransaction(id), "transaction %s must survive", id)
			}
			assert.True(t, dec("100.00").Equal(balance(t, s, "A")))
			assert.True(t, dec("10.00").Equal(balance(t, s, "B")))
			assert.Empty(t, n.calls)
			assert.Nil(t, arch.txns)
		})
	}
}

func TestBulkDelete_ConcurrentOverlapCreditsOnce(t *testing.T) {
	s := fixture()
	svc := NewService(s, WithNotifier(revalidate.NopNotifier{}))

	var wg sync.WaitGroup
	deleted := make([]int, 8)
	for i := range deleted {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := svc.BulkDeleteTransactions(quietCtx(), alice, []string{"t1", "t2"})
			if res.Success {
				deleted[i] = res.Data.(DeleteSummary).Deleted
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, d := range deleted {
		total += d
	}
	assert.Equal(t, 2, total)
	assert.True(t, dec("80.00").Equal(balance(t, s, "A")), "got %s", balance(t, s, "A"))
}

func TestBulkDelete_IdentityFailures(t *testing.T) {
	s := fixture()
	svc := NewService(s)

	tests := []struct {
		name   string
		caller identity.Caller
		want   error
		msg    string
	}{
		{"anonymous", identity.Caller{}, ErrNotAuthenticated, "unauthorized"},
		{"unknown user", identity.Caller{ExternalID: "user_ghost"}, ErrUserNotFound, "user not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.BulkDeleteTransactions(quietCtx(), tt.caller, []string{"t1"})
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tt.want)
			assert.Equal(t, tt.msg, res.Error)
			assert.True(t, s.HasTransaction("t1"))
		})
	}
}

func TestBulkDelete_ArchivesRemovedRows(t *testing.T) {
	s := fixture()
	arch := &recordingArchiver{}
	svc := NewService(s, WithNotifier(revalidate.NopNotifier{}), WithArchiver(arch))

	res := svc.BulkDeleteTransactions(quietCtx(), alice, []string{"t3", "x1"})
	require.True(t, res.Success)

	assert.Equal(t, "u-alice", arch.userID)
	require.Len(t, arch.txns, 1)
	assert.Equal(t, "t3", arch.txns[0].ID)
}

func TestBulkDelete_SideEffectFailuresDoNotFailTheDelete(t *testing.T) {
	s := fixture()
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))
	svc := NewService(s,
		WithNotifier(&recordingNotifier{err: errors.New("redis down")}),
		WithArchiver(&recordingArchiver{err: errors.New("bucket missing")}),
	)

	res := svc.BulkDeleteTransactions(ctx, alice, []string{"t1"})

	require.True(t, res.Success)
	assert.False(t, s.HasTransaction("t1"))
	assert.Contains(t, buf.String(), "view invalidation failed")
	assert.Contains(t, buf.String(), "archiving deleted transactions failed")
}

type failingLookups struct {
	store.Store
	err error
}

func (f failingLookups) FindUserByExternalID(context.Context, string) (*domain.User, error) {
	return nil, f.err
}

func TestBulkDelete_StoreLookupFailure(t *testing.T) {
	svc := NewService(failingLookups{Store: fixture(), err: fmt.Errorf("dial tcp: connection refused")})

	res := svc.BulkDeleteTransactions(quietCtx(), alice, []string{"t1"})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrStoreFailure)
	assert.Contains(t, res.Error, "connection refused")
}

func TestUpdateDefaultAccount(t *testing.T) {
	s := fixture()
	n := &recordingNotifier{}
	svc := NewService(s, WithNotifier(n))

	res := svc.UpdateDefaultAccount(quietCtx(), alice, "B")

	require.True(t, res.Success, res.Error)
	acct := res.Data.(*domain.Account)
	assert.Equal(t, "B", acct.ID)
	assert.True(t, acct.IsDefault)

	defaults := 0
	for _, a := range s.Accounts("u-alice") {
		if a.IsDefault {
			defaults++
			assert.Equal(t, "B", a.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	c, _ := s.Account("C")
	assert.True(t, c.IsDefault, "other users keep their default")
	assert.Equal(t, [][]string{{revalidate.ViewDashboard}}, n.calls)
}

func TestUpdateDefaultAccount_ExactlyOneDefault(t *testing.T) {
	for _, owned := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("%d accounts", owned), func(t *testing.T) {
			s := memory.New()
			s.AddUser(domain.User{ID: "u", ExternalID: "ext"})
			for i := 0; i < owned; i++ {
				s.AddAccount(domain.Account{ID: fmt.Sprintf("acc-%d", i), UserID: "u", IsDefault: i == 0})
			}
			svc := NewService(s, WithNotifier(revalidate.NopNotifier{}))

			target := fmt.Sprintf("acc-%d", owned-1)
			res := svc.UpdateDefaultAccount(quietCtx(), identity.Caller{ExternalID: "ext"}, target)
			require.True(t, res.Success, res.Error)

			var defaults []string
			for _, a := range s.Accounts("u") {
				if a.IsDefault {
					defaults = append(defaults, a.ID)
				}
			}
			assert.Equal(t, []string{target}, defaults)
		})
	}
}

func TestUpdateDefaultAccount_ForeignAccount(t *testing.T) {
	s := fixture()
	n := &recordingNotifier{}
	svc := NewService(s, WithNotifier(n))

	res := svc.UpdateDefaultAccount(quietCtx(), alice, "C")

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrAccountNotFound)
	assert.Equal(t, "account not found", res.Error)
	a, _ := s.Account("A")
	assert.True(t, a.IsDefault, "current default must be untouched")
	assert.Empty(t, n.calls)
}

func TestUpdateDefaultAccount_CommitFailure(t *testing.T) {
	s := fixture()
	s.InjectFaults(memory.Faults{Commit: errors.New("deadlock detected")})
	svc := NewService(s)

	res := svc.UpdateDefaultAccount(quietCtx(), alice, "B")

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrStoreFailure)
	a, _ := s.Account("A")
	assert.True(t, a.IsDefault)
}

func TestUpdateDefaultAccount_Unauthenticated(t *testing.T) {
	res := NewService(fixture()).UpdateDefaultAccount(quietCtx(), identity.Caller{}, "A")
	assert.ErrorIs(t, res.Err, ErrNotAuthenticated)
}

func TestGetAccountWithTransactions(t *testing.T) {
	svc := NewService(fixture())

	got, err := svc.GetAccountWithTransactions(quietCtx(), alice, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", got.ID)
	assert.Equal(t, 2, got.TransactionCount)
	require.Len(t, got.Transactions, 2)
	assert.Equal(t, "t2", got.Transactions[0].ID, "newest first")

	_, err = svc.GetAccountWithTransactions(quietCtx(), alice, "C")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = svc.GetAccountWithTransactions(quietCtx(), identity.Caller{}, "A")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestGetAccountWithTransactions_EmptyAccount(t *testing.T) {
	s := fixture()
	s.AddAccount(domain.Account{ID: "D", UserID: "u-alice"})

	got, err := NewService(s).GetAccountWithTransactions(quietCtx(), alice, "D")
	require.NoError(t, err)
	assert.NotNil(t, got.Transactions)
	assert.Equal(t, 0, got.TransactionCount)
}
