package models

import (
	"github.com/shopspring/decimal"

	dErrors "fundpool/pkg/domain-errors"
)

// NativeDecimals is the number of fractional digits of the native unit's
// smallest denomination.
const NativeDecimals = 18

// SmallestUnit is one unit of the smallest native denomination.
var SmallestUnit = decimal.New(1, -NativeDecimals)

// ParseAmount parses a decimal string in native units.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, dErrors.New(dErrors.CodeBadRequest, "amount must be a decimal number")
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount rejects negative amounts and amounts finer than the smallest
// denomination. Zero passes here; admission rejects it.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return dErrors.New(dErrors.CodeBadRequest, "amount must not be negative")
	}
	if !amount.Equal(amount.Truncate(NativeDecimals)) {
		return dErrors.New(dErrors.CodeBadRequest, "amount is finer than the smallest native denomination")
	}
	return nil
}
