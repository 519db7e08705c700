package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundpool/internal/funding/models"
	"fundpool/pkg/platform/sentinel"
)

// InMemoryStore keeps the ledger behind a single RWMutex. Writers hold the
// write lock for the whole mutation, so readers never see the list and the
// totals disagree.
type InMemoryStore struct {
	mu      sync.RWMutex
	order   []models.Principal
	totals  map[models.Principal]decimal.Decimal
	balance decimal.Decimal
	now     func() time.Time
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryClock sets the clock stamped on drain results.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryStore creates an empty ledger.
func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		totals:  make(map[models.Principal]decimal.Decimal),
		balance: decimal.Zero,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) RecordContribution(ctx context.Context, principal models.Principal, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("record contribution of %s: %w", amount, sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.totals[principal]
	if !ok {
		s.order = append(s.order, principal)
		current = decimal.Zero
	}
	s.totals[principal] = current.Add(amount)
	s.balance = s.balance.Add(amount)
	return nil
}

func (s *InMemoryStore) DrainAll(ctx context.Context) (*models.DrainResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.DrainResult{
		Total:     s.balance,
		Snapshot:  s.snapshotLocked(),
		DrainedAt: s.now(),
	}
	s.order = nil
	s.totals = make(map[models.Principal]decimal.Decimal)
	s.balance = decimal.Zero
	return result, nil
}

// Restore puts snapshot principals back ahead of anyone who contributed
// since the drain, in snapshot order, adding to existing totals.
func (s *InMemoryStore) Restore(ctx context.Context, snapshot []models.ContributorBalance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(snapshot) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order := make([]models.Principal, 0, len(snapshot)+len(s.order))
	for _, row := range snapshot {
		if !row.Total.IsPositive() {
			continue
		}
		current, ok := s.totals[row.Principal]
		if !ok {
			current = decimal.Zero
		}
		s.totals[row.Principal] = current.Add(row.Total)
		s.balance = s.balance.Add(row.Total)
		if !slices.Contains(order, row.Principal) {
			order = append(order, row.Principal)
		}
	}
	for _, p := range s.order {
		if !slices.Contains(order, p) {
			order = append(order, p)
		}
	}
	s.order = order
	return nil
}

func (s *InMemoryStore) TotalFor(_ context.Context, principal models.Principal) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if total, ok := s.totals[principal]; ok {
		return total, nil
	}
	return decimal.Zero, nil
}

func (s *InMemoryStore) ContributorCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order), nil
}

func (s *InMemoryStore) ContributorAt(_ context.Context, index int) (models.ContributorBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.order) {
		return models.ContributorBalance{}, fmt.Errorf("contributor %d: %w", index, sentinel.ErrNotFound)
	}
	p := s.order[index]
	return models.ContributorBalance{Principal: p, Total: s.totals[p]}, nil
}

func (s *InMemoryStore) Contributors(_ context.Context) ([]models.ContributorBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

func (s *InMemoryStore) Balance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance, nil
}

func (s *InMemoryStore) VerifyBalance(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) != len(s.totals) {
		return fmt.Errorf("list has %d principals, mapping has %d: %w", len(s.order), len(s.totals), sentinel.ErrInvalidState)
	}
	sum := sumOf(s.snapshotLocked())
	if !sum.Equal(s.balance) {
		return fmt.Errorf("pool balance %s != contributor sum %s: %w", s.balance, sum, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *InMemoryStore) snapshotLocked() []models.ContributorBalance {
	out := make([]models.ContributorBalance, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, models.ContributorBalance{Principal: p, Total: s.totals[p]})
	}
	return out
}
