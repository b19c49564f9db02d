// Package ledger implements the account and transaction operations exposed to
// signed-in users: bulk deletion with balance reconciliation, default-account
// switching and account lookup.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/identity"
	"github.com/dvloznov/welth/internal/logger"
	"github.com/dvloznov/welth/internal/revalidate"
	"github.com/dvloznov/welth/internal/store"
	"github.com/rs/zerolog"
)

// Archiver keeps a copy of transactions after they are deleted.
type Archiver interface {
	ArchiveDeleted(ctx context.Context, userID string, txns []domain.Transaction) error
}

// DeleteSummary is the Data of a successful BulkDeleteTransactions result.
type DeleteSummary struct {
	Deleted          int      `json:"deleted"`
	AffectedAccounts []string `json:"affected_accounts"`
}

// Service runs ledger operations against a Store.
type Service struct {
	store    store.Store
	notifier revalidate.Notifier
	archiver Archiver
	log      *zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where stale-view notifications are sent.
func WithNotifier(n revalidate.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithArchiver enables archiving of deleted transactions.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithLogger sets a logger used when the context carries none.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = &l }
}

// NewService creates a Service. Without WithNotifier, invalidations are logged.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, notifier: revalidate.LogNotifier{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) logger(ctx context.Context) zerolog.Logger {
	if s.log != nil {
		return logger.FromContextOr(ctx, *s.log)
	}
	return logger.FromContext(ctx)
}

// resolveUser maps the caller to its local user record.
func (s *Service) resolveUser(ctx context.Context, caller identity.Caller) (*domain.User, error) {
	if !caller.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	u, err := s.store.FindUserByExternalID(ctx, caller.ExternalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storeFailure(fmt.Errorf("resolveUser: %w", err))
	}
	return u, nil
}

// BulkDeleteTransactions deletes the caller's transactions named in ids and
// adds each removal's delta back to its account balance, all in one unit of
// work. Ids that are unknown or belong to someone else are ignored.
func (s *Service) BulkDeleteTransactions(ctx context.Context, caller identity.Caller, ids []string) Result {
	log := s.logger(ctx)

	user, err := s.resolveUser(ctx, caller)
	if err != nil {
		log.Warn().Err(err).Msg("bulk delete rejected")
		return failed(err)
	}
	log = log.With().Str("user_id", user.ID).Logger()

	if len(ids) == 0 {
		return succeeded(DeleteSummary{AffectedAccounts: []string{}})
	}

	planned, err := s.store.FindTransactions(ctx, user.ID, ids)
	if err != nil {
		err = storeFailure(fmt.Errorf("BulkDeleteTransactions: loading transactions: %w", err))
		log.Error().Err(err).Msg("bulk delete failed")
		return failed(err)
	}
	if len(planned) == 0 {
		log.Info().Int("requested", len(ids)).Msg("no owned transactions matched")
		return succeeded(DeleteSummary{AffectedAccounts: []string{}})
	}

	var (
		removed  []domain.Transaction
		accounts []string
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		deleted, err := tx.DeleteTransactions(ctx, user.ID, ids)
		if err != nil {
			return fmt.Errorf("deleting transactions: %w", err)
		}
		deltas := BalanceDeltas(deleted)
		order := accountOrder(deltas)
		for _, accountID := range order {
			if err := tx.IncrementAccountBalance(ctx, user.ID, accountID, deltas[accountID]); err != nil {
				return fmt.Errorf("adjusting balance of account %s: %w", accountID, err)
			}
		}
		removed, accounts = deleted, order
		return nil
	})
	if err != nil {
		err = storeFailure(fmt.Errorf("BulkDeleteTransactions: %w", err))
		log.Error().Err(err).Msg("bulk delete failed")
		return failed(err)
	}

	if len(removed) != len(planned) {
		log.Warn().
			Int("planned", len(planned)).
			Int("deleted", len(removed)).
			Msg("transactions changed between lookup and delete")
	}
	log.Info().
		Int("deleted", len(removed)).
		Strs("accounts", accounts).
		Msg("transactions deleted")

	if len(removed) > 0 {
		s.InvalidateViews(ctx, revalidate.ViewDashboard, revalidate.ViewAccountDetail)
		s.archive(ctx, user.ID, removed)
	}

	return succeeded(DeleteSummary{Deleted: len(removed), AffectedAccounts: accounts})
}

// UpdateDefaultAccount makes accountID the caller's only default account.
func (s *Service) UpdateDefaultAccount(ctx context.Context, caller identity.Caller, accountID string) Result {
	log := s.logger(ctx)

	user, err := s.resolveUser(ctx, caller)
	if err != nil {
		log.Warn().Err(err).Msg("default switch rejected")
		return failed(err)
	}
	log = log.With().Str("user_id", user.ID).Str("account_id", accountID).Logger()

	if _, err := s.store.FindAccount(ctx, user.ID, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed(ErrAccountNotFound)
		}
		err = storeFailure(fmt.Errorf("UpdateDefaultAccount: loading account: %w", err))
		log.Error().Err(err).Msg("default switch failed")
		return failed(err)
	}

	var account *domain.Account
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.SwitchDefaultAccount(ctx, user.ID, accountID)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		// Removed between the ownership check and the switch.
		return failed(ErrAccountNotFound)
	}
	if err != nil {
		err = storeFailure(fmt.Errorf("UpdateDefaultAccount: %w", err))
		log.Error().Err(err).Msg("default switch failed")
		return failed(err)
	}

	log.Info().Msg("default account updated")
	s.InvalidateViews(ctx, revalidate.ViewDashboard)
	return succeeded(account)
}

// GetAccountWithTransactions returns one of the caller's accounts with its
// transactions, newest first.
func (s *Service) GetAccountWithTransactions(ctx context.Context, caller identity.Caller, accountID string) (*domain.AccountWithTransactions, error) {
	user, err := s.resolveUser(ctx, caller)
	if err != nil {
		return nil, err
	}

	account, err := s.store.FindAccount(ctx, user.ID, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storeFailure(fmt.Errorf("GetAccountWithTransactions: loading account: %w", err))
	}

	txns, err := s.store.ListAccountTransactions(ctx, user.ID, accountID)
	if err != nil {
		return nil, storeFailure(fmt.Errorf("GetAccountWithTransactions: listing transactions: %w", err))
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}

	return &domain.AccountWithTransactions{
		Account:          *account,
		Transactions:     txns,
		TransactionCount: len(txns),
	}, nil
}

// InvalidateViews notifies the front end that paths are stale. Failures are
// logged and otherwise ignored.
func (s *Service) InvalidateViews(ctx context.Context, paths ...string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Invalidate(ctx, paths...); err != nil {
		log := s.logger(ctx)
		log.Warn().Err(err).Strs("paths", paths).Msg("view invalidation failed")
	}
}

func (s *Service) archive(ctx context.Context, userID string, txns []domain.Transaction) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveDeleted(ctx, userID, txns); err != nil {
		log := s.logger(ctx)
		log.Warn().Err(err).Int("transactions", len(txns)).Msg("archiving deleted transactions failed")
	}
}
