package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Contribution is an immutable event record of an accepted contribution.
// Withdrawal never mutates or removes it.
type Contribution struct {
	ID          uuid.UUID
	Contributor Principal
	Amount      decimal.Decimal
	Timestamp   time.Time
}

// NewContribution stamps a contribution event with a fresh ID.
func NewContribution(contributor Principal, amount decimal.Decimal, at time.Time) Contribution {
	return Contribution{
		ID:          uuid.New(),
		Contributor: contributor,
		Amount:      amount,
		Timestamp:   at,
	}
}

// ContributorBalance is one row of the ledger in list order.
type ContributorBalance struct {
	Principal Principal
	Total     decimal.Decimal
}

// DrainResult is what a ledger drain hands back: the drained total and the
// per-contributor snapshot captured before clearing.
type DrainResult struct {
	Total     decimal.Decimal
	Snapshot  []ContributorBalance
	DrainedAt time.Time
}

// Empty reports whether nothing was drained.
func (d *DrainResult) Empty() bool {
	return d == nil || d.Total.IsZero()
}

// Withdrawal describes a completed withdrawal.
type Withdrawal struct {
	Controller   Principal
	Amount       decimal.Decimal
	Contributors int
	WithdrawnAt  time.Time
}

// Summary is the display read of the pool.
type Summary struct {
	Controller      Principal
	Balance         decimal.Decimal
	BalanceExternal decimal.Decimal
	Contributors    int
	Minimum         decimal.Decimal
	Rate            Rate
}
