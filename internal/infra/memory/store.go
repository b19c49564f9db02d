// Package memory is an in-process store used by tests and local development.
// Units of work are serialized and applied copy-on-write, so a failed unit
// leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/store"
	"github.com/shopspring/decimal"
)

// Faults makes a unit of work fail at a chosen point.
type Faults struct {
	// AfterDelete is returned by DeleteTransactions once the deletion is staged.
	AfterDelete error
	// Commit is returned instead of committing an otherwise successful unit.
	Commit error
}

type state struct {
	users        map[string]domain.User
	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
}

func newState() *state {
	return &state{
		users:        make(map[string]domain.User),
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string]domain.Transaction),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	return c
}

// Store implements store.Store in memory.
type Store struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	data   *state
	faults Faults
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), now: time.Now}
}

// LoadFixture builds a store seeded from a JSON fixture file.
func LoadFixture(path string) (*Store, error) {
	f, err := store.ReadFixture(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFixture: %w", err)
	}
	s := New()
	if err := s.Seed(context.Background(), f); err != nil {
		return nil, err
	}
	return s, nil
}

// Seed implements store.Seeder.
func (s *Store) Seed(ctx context.Context, f *store.Fixture) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Normalize(); err != nil {
		return fmt.Errorf("Seed: %w", err)
	}
	for _, u := range f.Users {
		s.AddUser(u)
	}
	for _, a := range f.Accounts {
		s.AddAccount(a)
	}
	for _, t := range f.Transactions {
		s.AddTransaction(t)
	}
	return nil
}

// AddUser inserts or replaces a user.
func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = u
}

// AddAccount inserts or replaces an account.
func (s *Store) AddAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.accounts[a.ID] = a
}

// AddTransaction inserts or replaces a transaction without touching balances.
func (s *Store) AddTransaction(t domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.transactions[t.ID] = t
}

// InjectFaults sets the failure points for subsequent units of work.
func (s *Store) InjectFaults(f Faults) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.faults = f
}

// Account returns the committed state of an account regardless of owner.
func (s *Store) Account(id string) (domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.accounts[id]
	return a, ok
}

// HasTransaction reports whether a transaction is committed.
func (s *Store) HasTransaction(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data.transactions[id]
	return ok
}

// Accounts returns every committed account of userID ordered by id.
func (s *Store) Accounts(userID string) []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Account
	for _, a := range s.data.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) FindUserByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.data.users {
		if u.ExternalID == externalID {
			u := u
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.data.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListAccountTransactions(ctx context.Context, userID, accountID string) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.data.transactions {
		if t.AccountID == accountID && t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

func (s *Store) FindTransactions(ctx context.Context, userID string, ids []string) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return matching(s.data, userID, ids), nil
}

// WithinTx serializes units of work. fn must not call the read methods of
// the same Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	staged := s.data.clone()
	s.mu.RUnlock()

	tx := &memTx{data: staged, faults: s.faults, now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.faults.Commit != nil {
		return s.faults.Commit
	}

	s.mu.Lock()
	s.data = staged
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error { return nil }

type memTx struct {
	data   *state
	faults Faults
	now    func() time.Time
}

func (t *memTx) DeleteTransactions(ctx context.Context, userID string, ids []string) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deleted := matching(t.data, userID, ids)
	for _, d := range deleted {
		delete(t.data.transactions, d.ID)
	}
	if t.faults.AfterDelete != nil {
		return nil, t.faults.AfterDelete
	}
	return deleted, nil
}

func (t *memTx) IncrementAccountBalance(ctx context.Context, userID, accountID string, delta decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, ok := t.data.accounts[accountID]
	if !ok || a.UserID != userID {
		return fmt.Errorf("increment balance of %s: %w", accountID, store.ErrNotFound)
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = t.now()
	t.data.accounts[accountID] = a
	return nil
}

func (t *memTx) SwitchDefaultAccount(ctx context.Context, userID, accountID string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, ok := t.data.accounts[accountID]
	if !ok || target.UserID != userID {
		return nil, store.ErrNotFound
	}
	now := t.now()
	for id, a := range t.data.accounts {
		if a.UserID != userID {
			continue
		}
		isTarget := id == accountID
		if a.IsDefault != isTarget {
			a.IsDefault = isTarget
			a.UpdatedAt = now
			t.data.accounts[id] = a
		}
	}
	updated := t.data.accounts[accountID]
	return &updated, nil
}

// matching returns the owned transactions named in ids, once each, in the
// order they were first requested.
func matching(data *state, userID string, ids []string) []domain.Transaction {
	seen := make(map[string]bool, len(ids))
	var out []domain.Transaction
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if t, ok := data.transactions[id]; ok && t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)
