package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fundpool/internal/funding/models"
	"fundpool/pkg/platform/sentinel"
)

var (
	alice = models.MustPrincipal("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	bob   = models.MustPrincipal("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
	carol = models.MustPrincipal("0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb")
)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type InMemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemoryStore
	now   time.Time
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore(WithMemoryClock(func() time.Time { return s.now }))
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

// =============================================================================
// Recording
// =============================================================================

func (s *InMemoryStoreSuite) TestRecordContribution() {
	s.Run("first contribution appends the principal", func() {
		s.Require().NoError(s.store.RecordContribution(s.ctx, alice, amt("0.1")))

		total, err := s.store.TotalFor(s.ctx, alice)
		s.Require().NoError(err)
		s.Equal("0.1", total.String())

		count, err := s.store.ContributorCount(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, count)
	})

	s.Run("repeat contribution accumulates without a duplicate entry", func() {
		s.Require().NoError(s.store.RecordContribution(s.ctx, alice, amt("0.25")))

		total, _ := s.store.TotalFor(s.ctx, alice)
		s.Equal("0.35", total.String())
		count, _ := s.store.ContributorCount(s.ctx)
		s.Equal(1, count)
		balance, _ := s.store.Balance(s.ctx)
		s.Equal("0.35", balance.String())
	})

	s.Run("non-positive amount is refused", func() {
		err := s.store.RecordContribution(s.ctx, bob, decimal.Zero)
		s.ErrorIs(err, sentinel.ErrInvalidState)
		count, _ := s.store.ContributorCount(s.ctx)
		s.Equal(1, count)
	})

	s.Run("unknown principal totals zero", func() {
		total, err := s.store.TotalFor(s.ctx, carol)
		s.Require().NoError(err)
		s.True(total.IsZero())
	})
}

func (s *InMemoryStoreSuite) TestContributorAt() {
	s.Require().NoError(s.store.RecordContribution(s.ctx, bob, amt("1")))
	s.Require().NoError(s.store.RecordContribution(s.ctx, alice, amt("2")))

	first, err := s.store.ContributorAt(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(bob, first.Principal)

	second, err := s.store.ContributorAt(s.ctx, 1)
	s.Require().NoError(err)
	s.Equal(alice, second.Principal)
	s.Equal("2", second.Total.String())

	_, err = s.store.ContributorAt(s.ctx, 2)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.ContributorAt(s.ctx, -1)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// =============================================================================
// Draining
// =============================================================================

func (s *InMemoryStoreSuite) TestDrainAll() {
	s.Run("empty ledger drains zero", func() {
		result, err := s.store.DrainAll(s.ctx)
		s.Require().NoError(err)
		s.True(result.Empty())
		s.Empty(result.Snapshot)
	})

	s.Run("drain captures snapshot in list order then clears", func() {
		s.Require().NoError(s.store.RecordContribution(s.ctx, alice, amt("0.1")))
		s.Require().NoError(s.store.RecordContribution(s.ctx, bob, amt("0.2")))
		s.Require().NoError(s.store.RecordContribution(s.ctx, alice, amt("0.3")))

		result, err := s.store.DrainAll(s.ctx)
		s.Require().NoError(err)
		s.Equal("0.6", result.Total.String())
		s.Equal(s.now, result.DrainedAt)
		s.Require().Len(result.Snapshot, 2)
		s.Equal(alice, result.Snapshot[0].Principal)
		s.Equal("0.4", result.Snapshot[0].Total.String())
		s.Equal(bob, result.Snapshot[1].Principal)

		count, _ := s.store.ContributorCount(s.ctx)
		s.Zero(count)
		balance, _ := s.store.Balance(s.ctx)
		s.True(balance.IsZero())
		for _, p := range []models.Principal{alice, bob} {
			total, _ := s.store.TotalFor(s.ctx, p)
			s.True(total.IsZero())
		}
	})

	s.Run("second drain in succession is zero", func() {
		result, err := s.store.DrainAll(s.ctx)
		s.Require().NoError(err)
		s.True(result.Total.IsZero())
	})
}

func (s *InMemoryStoreSuite) TestRestore() {
	s.Require().NoError(s.store.RecordContribution(s.ctx, alice, amt("1")))
	s.Require().NoError(s.store.RecordContribution(s.ctx, bob, amt("2")))
	drained, err := s.store.DrainAll(s.ctx)
	s.Require().NoError(err)

	// someone contributes between drain and restore
	s.Require().NoError(s.store.RecordContribution(s.ctx, carol, amt("0.5")))
	s.Require().NoError(s.store.RecordContribution(s.ctx, bob, amt("0.5")))

	s.Require().NoError(s.store.Restore(s.ctx, drained.Snapshot))

	rows, err := s.store.Contributors(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rows, 3)
	s.Equal([]models.Principal{alice, bob, carol}, []models.Principal{rows[0].Principal, rows[1].Principal, rows[2].Principal})
	s.Equal("2.5", rows[1].Total.String())

	balance, _ := s.store.Balance(s.ctx)
	s.Equal("4", balance.String())
	s.NoError(s.store.VerifyBalance(s.ctx))
}

// =============================================================================
// Concurrency
// =============================================================================

func (s *InMemoryStoreSuite) TestConcurrentContributionsKeepBalance() {
	principals := []models.Principal{alice, bob, carol}
	const perWorker = 200

	var wg sync.WaitGroup
	for i := range 12 {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p := principals[worker%len(principals)]
			for range perWorker {
				_ = s.store.RecordContribution(s.ctx, p, amt("0.000000000000000001"))
			}
		}(i)
	}

	// readers run alongside writers and must never see a torn state
	done := make(chan struct{})
	var readerErr error
	go func() {
		defer close(done)
		for range 100 {
			if err := s.store.VerifyBalance(s.ctx); err != nil {
				readerErr = err
				return
			}
		}
	}()

	wg.Wait()
	<-done
	s.NoError(readerErr)

	balance, _ := s.store.Balance(s.ctx)
	s.Equal(amt(fmt.Sprintf("%d", 12*perWorker)).Shift(-18).String(), balance.String())
	count, _ := s.store.ContributorCount(s.ctx)
	s.Equal(3, count)
	s.NoError(s.store.VerifyBalance(s.ctx))
}
