// Package ledger holds the per-contributor running totals, the ordered
// contributor list and the pool balance. The pool balance always equals the
// sum of the contributor totals; every mutation preserves that in one
// atomic unit.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"fundpool/internal/funding/models"
)

// Store is the ledger contract shared by the in-memory and PostgreSQL stores.
type Store interface {
	// RecordContribution adds amount to principal's total and to the pool
	// balance, appending principal to the list if absent. amount must be > 0.
	RecordContribution(ctx context.Context, principal models.Principal, amount decimal.Decimal) error
	// DrainAll captures the balance and ordered snapshot, then clears
	// everything. Draining an empty ledger returns a zero result.
	DrainAll(ctx context.Context) (*models.DrainResult, error)
	// Restore merges a drained snapshot back into the ledger.
	Restore(ctx context.Context, snapshot []models.ContributorBalance) error
	// TotalFor returns principal's running total, zero when unknown.
	TotalFor(ctx context.Context, principal models.Principal) (decimal.Decimal, error)
	ContributorCount(ctx context.Context) (int, error)
	// ContributorAt returns the index-th contributor in list order, or
	// sentinel.ErrNotFound when out of range.
	ContributorAt(ctx context.Context, index int) (models.ContributorBalance, error)
	Contributors(ctx context.Context) ([]models.ContributorBalance, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	// VerifyBalance returns sentinel.ErrInvalidState when the pool balance
	// differs from the sum of contributor totals.
	VerifyBalance(ctx context.Context) error
}

func sumOf(snapshot []models.ContributorBalance) decimal.Decimal {
	total := decimal.Zero
	for _, row := range snapshot {
		total = total.Add(row.Total)
	}
	return total
}
