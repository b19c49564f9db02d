package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/welth/internal/domain"
	"google.golang.org/api/iterator"
)

const transactionColumns = `
			transaction_id,
			user_id,
			account_id,
			transaction_type,
			transaction_date,
			amount,
			description,
			category_name,
			created_ts,
			updated_ts`

func readTransactions(ctx context.Context, q *bigquery.Query) ([]domain.Transaction, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var txns []domain.Transaction
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		t, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, nil
}

// ListAccountTransactionsWithClient returns the account's transactions, newest first.
func ListAccountTransactionsWithClient(ctx context.Context, client querier, ds Dataset, userID, accountID string) ([]domain.Transaction, error) {
	q := client.Query(`
		SELECT` + transactionColumns + `
		FROM ` + ds.Table(transactionsTable) + `
		WHERE account_id = @account_id AND user_id = @user_id
		ORDER BY transaction_date DESC, created_ts DESC, transaction_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
		{Name: "user_id", Value: userID},
	}

	txns, err := readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListAccountTransactionsWithClient: %w", err)
	}
	return txns, nil
}

// FindTransactionsWithClient returns the transactions in ids owned by userID.
func FindTransactionsWithClient(ctx context.Context, client querier, ds Dataset, userID string, ids []string) ([]domain.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := client.Query(`
		SELECT` + transactionColumns + `
		FROM ` + ds.Table(transactionsTable) + `
		WHERE user_id = @user_id AND transaction_id IN UNNEST(@ids)
		ORDER BY transaction_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "ids", Value: ids},
	}

	txns, err := readTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("FindTransactionsWithClient: %w", err)
	}
	return txns, nil
}

// DeleteTransactionsWithClient removes the transactions in ids owned by userID
// and returns them. BigQuery DML has no RETURNING clause, so the rows are read
// first; inside a transaction both statements see the same snapshot.
func DeleteTransactionsWithClient(ctx context.Context, client querier, ds Dataset, userID string, ids []string) ([]domain.Transaction, error) {
	rows, err := FindTransactionsWithClient(ctx, client, ds, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("DeleteTransactionsWithClient: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	q := client.Query(`
		DELETE FROM ` + ds.Table(transactionsTable) + `
		WHERE user_id = @user_id AND transaction_id IN UNNEST(@ids)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "ids", Value: ids},
	}

	n, err := runDML(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("DeleteTransactionsWithClient: %w", err)
	}
	if n != int64(len(rows)) {
		return nil, fmt.Errorf("DeleteTransactionsWithClient: deleted %d rows, read %d", n, len(rows))
	}
	return rows, nil
}

// InsertTransactionWithClient replaces the transaction row with the same id.
func InsertTransactionWithClient(ctx context.Context, client querier, ds Dataset, t domain.Transaction) error {
	del := client.Query(`DELETE FROM ` + ds.Table(transactionsTable) + ` WHERE transaction_id = @transaction_id`)
	del.Parameters = []bigquery.QueryParameter{{Name: "transaction_id", Value: t.ID}}
	if _, err := runDML(ctx, del); err != nil {
		return fmt.Errorf("InsertTransactionWithClient: clearing %s: %w", t.ID, err)
	}

	q := client.Query(`
		INSERT INTO ` + ds.Table(transactionsTable) + ` (
			transaction_id, user_id, account_id, transaction_type,
			transaction_date, amount, description, category_name,
			created_ts, updated_ts
		)
		VALUES (
			@transaction_id, @user_id, @account_id, @transaction_type,
			@transaction_date, @amount, @description, @category_name,
			CURRENT_TIMESTAMP(), NULL
		)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "transaction_id", Value: t.ID},
		{Name: "user_id", Value: t.UserID},
		{Name: "account_id", Value: t.AccountID},
		{Name: "transaction_type", Value: string(t.Type)},
		{Name: "transaction_date", Value: t.Date.UTC()},
		{Name: "amount", Value: ratFromDecimal(t.Amount)},
		{Name: "description", Value: nullString(t.Description)},
		{Name: "category_name", Value: nullString(t.Category)},
	}
	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("InsertTransactionWithClient: %w", err)
	}
	return nil
}
