package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxRateDecimals bounds the precision a price source may report.
const MaxRateDecimals = 18

// Rate is an oracle answer: Answer × 10^-Decimals external units per native
// unit, following the aggregator layout price feeds publish.
type Rate struct {
	Answer    int64
	Decimals  uint8
	UpdatedAt time.Time
	Source    string
}

// Value returns the rate as a decimal.
func (r Rate) Value() decimal.Decimal {
	return decimal.New(r.Answer, -int32(r.Decimals))
}

// Valid reports whether the rate can be used for conversion.
func (r Rate) Valid() bool {
	return r.Answer > 0 && r.Decimals <= MaxRateDecimals
}

// ToExternal converts a native amount into external units at this rate.
func (r Rate) ToExternal(native decimal.Decimal) decimal.Decimal {
	return native.Mul(r.Value())
}
