package ledger

import (
	"sort"

	"github.com/dvloznov/welth/internal/domain"
	"github.com/shopspring/decimal"
)

// BalanceDeltas sums, per account, what removing txns adds back to each
// balance: +amount for every expense, -amount for every income.
func BalanceDeltas(txns []domain.Transaction) map[string]decimal.Decimal {
	deltas := make(map[string]decimal.Decimal)
	for _, t := range txns {
		deltas[t.AccountID] = deltas[t.AccountID].Add(t.RemovalDelta())
	}
	return deltas
}

// accountOrder returns the keys of deltas in ascending order so concurrent
// units of work lock accounts in the same sequence.
func accountOrder(deltas map[string]decimal.Decimal) []string {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
