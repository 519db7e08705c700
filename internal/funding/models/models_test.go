package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "fundpool/pkg/domain-errors"
)

func TestParsePrincipal(t *testing.T) {
	const checksummed = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

	t.Run("lower case input is canonicalized to checksum form", func(t *testing.T) {
		p, err := ParsePrincipal("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
		require.NoError(t, err)
		assert.Equal(t, Principal(checksummed), p)
	})

	t.Run("upper case input is canonicalized to checksum form", func(t *testing.T) {
		p, err := ParsePrincipal("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
		require.NoError(t, err)
		assert.Equal(t, Principal(checksummed), p)
	})

	t.Run("valid checksum is accepted", func(t *testing.T) {
		p, err := ParsePrincipal(checksummed)
		require.NoError(t, err)
		assert.Equal(t, checksummed, p.String())
	})

	t.Run("broken checksum is rejected", func(t *testing.T) {
		_, err := ParsePrincipal("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("malformed input is rejected", func(t *testing.T) {
		for _, raw := range []string{"", "0x", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0xzzzeb6053f3e94c9b9a09f33669435e7ef1beaed", "0x5aaeb6053f"} {
			_, err := ParsePrincipal(raw)
			assert.Error(t, err, raw)
		}
	})
}

func TestValidateAmount(t *testing.T) {
	t.Run("accepts the smallest denomination", func(t *testing.T) {
		assert.NoError(t, ValidateAmount(SmallestUnit))
	})

	t.Run("accepts zero", func(t *testing.T) {
		assert.NoError(t, ValidateAmount(decimal.Zero))
	})

	t.Run("rejects sub-denomination precision", func(t *testing.T) {
		err := ValidateAmount(decimal.New(1, -19))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("rejects negative amounts", func(t *testing.T) {
		assert.Error(t, ValidateAmount(decimal.NewFromInt(-1)))
	})

	t.Run("parses decimal strings", func(t *testing.T) {
		amount, err := ParseAmount("0.025")
		require.NoError(t, err)
		assert.True(t, amount.Equal(decimal.RequireFromString("0.025")))

		_, err = ParseAmount("one ether")
		assert.Error(t, err)
	})
}

func TestRate(t *testing.T) {
	rate := Rate{Answer: 1500_00000000, Decimals: 8}
	assert.True(t, rate.Valid())
	assert.True(t, rate.Value().Equal(decimal.NewFromInt(1500)))
	assert.True(t, rate.ToExternal(decimal.RequireFromString("0.1")).Equal(decimal.NewFromInt(150)))

	assert.False(t, Rate{Answer: 0, Decimals: 8}.Valid())
	assert.False(t, Rate{Answer: 1, Decimals: 19}.Valid())
}

func TestInsufficientContributionError(t *testing.T) {
	err := &InsufficientContributionError{
		Proposed: decimal.RequireFromString("0.01"),
		Required: decimal.RequireFromString("0.025"),
	}
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientContribution))
	assert.Contains(t, err.Error(), "0.025")
}
