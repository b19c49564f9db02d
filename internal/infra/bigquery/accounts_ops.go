package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/welth/internal/domain"
	"github.com/dvloznov/welth/internal/store"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

const accountColumns = `
			account_id,
			user_id,
			account_name,
			account_type,
			balance,
			is_default,
			created_ts,
			updated_ts`

// FindUserByExternalIDWithClient looks up the user linked to an identity-provider subject.
func FindUserByExternalIDWithClient(ctx context.Context, client querier, ds Dataset, externalID string) (*domain.User, error) {
	q := client.Query(`
		SELECT user_id, external_id, email, name, created_ts
		FROM ` + ds.Table(usersTable) + `
		WHERE external_id = @external_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "external_id", Value: externalID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindUserByExternalIDWithClient: reading query: %w", err)
	}

	var row UserRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindUserByExternalIDWithClient: iterating: %w", err)
	}
	return row.toDomain(), nil
}

// FindAccountWithClient returns the account owned by userID.
func FindAccountWithClient(ctx context.Context, client querier, ds Dataset, userID, accountID string) (*domain.Account, error) {
	q := client.Query(`
		SELECT` + accountColumns + `
		FROM ` + ds.Table(accountsTable) + `
		WHERE account_id = @account_id AND user_id = @user_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindAccountWithClient: reading query: %w", err)
	}

	var row AccountRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindAccountWithClient: iterating: %w", err)
	}
	return row.toDomain(), nil
}

// IncrementAccountBalanceWithClient adds delta to the stored balance.
func IncrementAccountBalanceWithClient(ctx context.Context, client querier, ds Dataset, userID, accountID string, delta decimal.Decimal) error {
	q := client.Query(`
		UPDATE ` + ds.Table(accountsTable) + `
		SET balance = balance + @delta, updated_ts = CURRENT_TIMESTAMP()
		WHERE account_id = @account_id AND user_id = @user_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "delta", Value: ratFromDecimal(delta)},
		{Name: "account_id", Value: accountID},
		{Name: "user_id", Value: userID},
	}

	n, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("IncrementAccountBalanceWithClient: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("IncrementAccountBalanceWithClient: account %s: %w", accountID, store.ErrNotFound)
	}
	return nil
}

// SwitchDefaultAccountWithClient makes accountID the user's only default in
// one UPDATE. BigQuery has no unique constraints, so the statement covers the
// old default and the new one together.
func SwitchDefaultAccountWithClient(ctx context.Context, client querier, ds Dataset, userID, accountID string) (*domain.Account, error) {
	if _, err := FindAccountWithClient(ctx, client, ds, userID, accountID); err != nil {
		return nil, err
	}

	q := client.Query(`
		UPDATE ` + ds.Table(accountsTable) + `
		SET is_default = (account_id = @account_id), updated_ts = CURRENT_TIMESTAMP()
		WHERE user_id = @user_id AND (is_default OR account_id = @account_id)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "user_id", Value: userID},
	}
	if _, err := runDML(ctx, q); err != nil {
		return nil, fmt.Errorf("SwitchDefaultAccountWithClient: %w", err)
	}

	return FindAccountWithClient(ctx, client, ds, userID, accountID)
}

// InsertAccountWithClient replaces the account row with the same id.
// DML is used instead of streaming inserts so the row can be updated at once.
func InsertAccountWithClient(ctx context.Context, client querier, ds Dataset, a domain.Account) error {
	typ := a.Type
	if typ == "" {
		typ = domain.AccountTypeCurrent
	}

	del := client.Query(`DELETE FROM ` + ds.Table(accountsTable) + ` WHERE account_id = @account_id`)
	del.Parameters = []bigquery.QueryParameter{{Name: "account_id", Value: a.ID}}
	if _, err := runDML(ctx, del); err != nil {
		return fmt.Errorf("InsertAccountWithClient: clearing %s: %w", a.ID, err)
	}

	q := client.Query(`
		INSERT INTO ` + ds.Table(accountsTable) + ` (
			account_id, user_id, account_name, account_type,
			balance, is_default, created_ts, updated_ts
		)
		VALUES (
			@account_id, @user_id, @account_name, @account_type,
			@balance, @is_default, CURRENT_TIMESTAMP(), NULL
		)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: a.ID},
		{Name: "user_id", Value: a.UserID},
		{Name: "account_name", Value: a.Name},
		{Name: "account_type", Value: string(typ)},
		{Name: "balance", Value: ratFromDecimal(a.Balance)},
		{Name: "is_default", Value: a.IsDefault},
	}
	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertAccountWithClient: %w", err)
	}
	return nil
}

// InsertUserWithClient replaces the user row with the same id.
func InsertUserWithClient(ctx context.Context, client querier, ds Dataset, u domain.User) error {
	del := client.Query(`DELETE FROM ` + ds.Table(usersTable) + ` WHERE user_id = @user_id`)
	del.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: u.ID}}
	if _, err := runDML(ctx, del); err != nil {
		return fmt.Errorf("InsertUserWithClient: clearing %s: %w", u.ID, err)
	}

	q := client.Query(`
		INSERT INTO ` + ds.Table(usersTable) + ` (user_id, external_id, email, name, created_ts)
		VALUES (@user_id, @external_id, @email, @name, CURRENT_TIMESTAMP())
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: u.ID},
		{Name: "external_id", Value: u.ExternalID},
		{Name: "email", Value: nullString(u.Email)},
		{Name: "name", Value: nullString(u.Name)},
	}
	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertUserWithClient: %w", err)
	}
	return nil
}
