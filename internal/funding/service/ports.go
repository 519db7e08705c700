package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"iter"

	"github.com/shopspring/decimal"

	"fundpool/internal/funding/guard"
	"fundpool/internal/funding/models"
)

// RateSource reads the live exchange rate.
type RateSource interface {
	CurrentRate(ctx context.Context) (models.Rate, error)
}

// Ledger is the contribution ledger.
type Ledger interface {
	RecordContribution(ctx context.Context, principal models.Principal, amount decimal.Decimal) error
	DrainAll(ctx context.Context) (*models.DrainResult, error)
	Restore(ctx context.Context, snapshot []models.ContributorBalance) error
	TotalFor(ctx context.Context, principal models.Principal) (decimal.Decimal, error)
	ContributorCount(ctx context.Context) (int, error)
	ContributorAt(ctx context.Context, index int) (models.ContributorBalance, error)
	Contributors(ctx context.Context) ([]models.ContributorBalance, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	VerifyBalance(ctx context.Context) error
}

// EventLog is the append-only contribution history.
type EventLog interface {
	Append(ctx context.Context, record models.Contribution) error
	FilterByPrincipal(ctx context.Context, principal models.Principal) iter.Seq2[models.Contribution, error]
	Recent(ctx context.Context, limit int) ([]models.Contribution, error)
}

// Guard serializes withdrawals.
type Guard interface {
	Acquire(ctx context.Context) (guard.Lease, error)
}

// Payout transfers drained funds to the controller.
type Payout interface {
	Transfer(ctx context.Context, to models.Principal, amount decimal.Decimal) error
}

// EventPublisher receives ledger events after they commit. Implementations
// must not block or fail the caller.
type EventPublisher interface {
	ContributionRecorded(ctx context.Context, c models.Contribution)
	PoolWithdrawn(ctx context.Context, w models.Withdrawal)
}
