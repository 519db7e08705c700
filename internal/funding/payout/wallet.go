// Package payout is the transfer collaborator that receives drained pool
// funds. Wallet is the in-process book used by the server and tests; a
// chain-backed sender would satisfy the same method set.
package payout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/funding/models"
	"fundpool/pkg/platform/sentinel"
)

// Transfer is one completed payout.
type Transfer struct {
	To     models.Principal
	Amount decimal.Decimal
	At     time.Time
}

// Wallet credits payouts to external balances.
type Wallet struct {
	mu        sync.Mutex
	balances  map[models.Principal]decimal.Decimal
	transfers []Transfer
	now       func() time.Time
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithClock sets the clock stamped on transfers.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWallet creates an empty wallet book.
func NewWallet(opts ...Option) *Wallet {
	w := &Wallet{
		balances: make(map[models.Principal]decimal.Decimal),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Transfer credits amount to to. amount must be positive.
func (w *Wallet) Transfer(ctx context.Context, to models.Principal, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.IsZero() || !amount.IsPositive() {
		return fmt.Errorf("transfer %s to %q: %w", amount, to, sentinel.ErrInvalidState)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	current, ok := w.balances[to]
	if !ok {
		current = decimal.Zero
	}
	w.balances[to] = current.Add(amount)
	w.transfers = append(w.transfers, Transfer{To: to, Amount: amount, At: w.now()})
	return nil
}

// BalanceOf returns the credited balance of p.
func (w *Wallet) BalanceOf(p models.Principal) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.balances[p]; ok {
		return b
	}
	return decimal.Zero
}

// Transfers returns a copy of the transfer history.
func (w *Wallet) Transfers() []Transfer {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Transfer, len(w.transfers))
	copy(out, w.transfers)
	return out
}
