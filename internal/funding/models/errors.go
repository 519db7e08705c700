package models

import (
	"fmt"

	"github.com/shopspring/decimal"

	dErrors "fundpool/pkg/domain-errors"
)

// InsufficientContributionError reports a proposal below the live floor. It
// carries the floor computed at rejection time so callers can show it.
type InsufficientContributionError struct {
	Proposed decimal.Decimal
	Required decimal.Decimal
	Rate     Rate
}

func (e *InsufficientContributionError) Error() string {
	return fmt.Sprintf("%s: contribution %s is below the current minimum %s",
		dErrors.CodeInsufficientContribution, e.Proposed.String(), e.Required.String())
}

// Unwrap exposes the coded error so dErrors.HasCode matches.
func (e *InsufficientContributionError) Unwrap() error {
	return dErrors.New(dErrors.CodeInsufficientContribution, "contribution below current minimum")
}

// ErrNotController is returned for withdrawal attempts by anyone but the
// controller.
var ErrNotController = dErrors.New(dErrors.CodeNotController, "only the controller may withdraw")

// ErrWithdrawalInFlight is returned when a withdrawal is attempted while
// another one holds the guard.
var ErrWithdrawalInFlight = dErrors.New(dErrors.CodeConflict, "a withdrawal is already in progress")
