package ledger

import (
	"testing"

	"github.com/dvloznov/welth/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBalanceDeltas(t *testing.T) {
	txns := []domain.Transaction{
		{AccountID: "b", Type: domain.TransactionTypeExpense, Amount: dec("30.00")},
		{AccountID: "b", Type: domain.TransactionTypeIncome, Amount: dec("50.00")},
		{AccountID: "a", Type: domain.TransactionTypeExpense, Amount: dec("0.10")},
		{AccountID: "a", Type: domain.TransactionTypeExpense, Amount: dec("0.20")},
	}

	deltas := BalanceDeltas(txns)

	assert.Len(t, deltas, 2)
	assert.True(t, dec("-20.00").Equal(deltas["b"]), "got %s", deltas["b"])
	assert.True(t, dec("0.30").Equal(deltas["a"]), "exact decimal sum, got %s", deltas["a"])
	assert.Equal(t, []string{"a", "b"}, accountOrder(deltas))
}

func TestBalanceDeltas_Empty(t *testing.T) {
	assert.Empty(t, BalanceDeltas(nil))
	assert.Empty(t, accountOrder(BalanceDeltas(nil)))
}
