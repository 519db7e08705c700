// Package admission converts the external-unit minimum into native units at
// the live rate and decides whether a contribution clears it.
package admission

import (
	"context"

	"github.com/shopspring/decimal"

	"fundpool/internal/funding/models"
	dErrors "fundpool/pkg/domain-errors"
)

// RateSource supplies the current exchange rate. Every call must reach the
// source; nothing here caches a rate.
type RateSource interface {
	CurrentRate(ctx context.Context) (models.Rate, error)
}

// RequiredNativeAmount converts an external-unit threshold into native units,
// rounding half-up at the smallest native denomination.
func RequiredNativeAmount(threshold decimal.Decimal, rate models.Rate) (decimal.Decimal, error) {
	if !rate.Valid() {
		return decimal.Zero, dErrors.New(dErrors.CodeOracleUnavailable, "rate must be positive with at most 18 decimals")
	}
	return threshold.DivRound(rate.Value(), models.NativeDecimals), nil
}

// IsAdmissible reports whether proposed clears required. The floor itself
// is admissible; zero never is.
func IsAdmissible(proposed, required decimal.Decimal) bool {
	if !proposed.IsPositive() {
		return false
	}
	return proposed.GreaterThanOrEqual(required)
}

// Verdict is the outcome of one admission check.
type Verdict struct {
	Required decimal.Decimal
	Rate     models.Rate
	Admitted bool
}

// Policy evaluates proposals against a fixed external-unit threshold.
type Policy struct {
	threshold decimal.Decimal
	rates     RateSource
}

// NewPolicy creates a policy. threshold must be positive.
func NewPolicy(threshold decimal.Decimal, rates RateSource) (*Policy, error) {
	if !threshold.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "minimum threshold must be positive")
	}
	if rates == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "rate source is required")
	}
	return &Policy{threshold: threshold, rates: rates}, nil
}

// Threshold returns the configured external-unit minimum.
func (p *Policy) Threshold() decimal.Decimal { return p.threshold }

// CurrentRate fetches a fresh rate. Any source failure is reported as
// oracle_unavailable.
func (p *Policy) CurrentRate(ctx context.Context) (models.Rate, error) {
	rate, err := p.rates.CurrentRate(ctx)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeOracleUnavailable) {
			return models.Rate{}, err
		}
		return models.Rate{}, dErrors.Wrap(err, dErrors.CodeOracleUnavailable, "price oracle unavailable")
	}
	return rate, nil
}

// Minimum fetches a fresh rate and returns the current native floor.
func (p *Policy) Minimum(ctx context.Context) (decimal.Decimal, models.Rate, error) {
	rate, err := p.CurrentRate(ctx)
	if err != nil {
		return decimal.Zero, models.Rate{}, err
	}
	required, err := RequiredNativeAmount(p.threshold, rate)
	if err != nil {
		return decimal.Zero, models.Rate{}, err
	}
	return required, rate, nil
}

// Evaluate fetches a fresh rate and checks proposed against the floor.
func (p *Policy) Evaluate(ctx context.Context, proposed decimal.Decimal) (Verdict, error) {
	required, rate, err := p.Minimum(ctx)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{
		Required: required,
		Rate:     rate,
		Admitted: IsAdmissible(proposed, required),
	}, nil
}
