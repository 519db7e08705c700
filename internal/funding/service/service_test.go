package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"fundpool/internal/funding/eventlog"
	"fundpool/internal/funding/guard"
	"fundpool/internal/funding/ledger"
	"fundpool/internal/funding/models"
	"fundpool/internal/funding/payout"
	"fundpool/internal/funding/service/mocks"
	dErrors "fundpool/pkg/domain-errors"
	"fundpool/pkg/platform/sentinel"
	"fundpool/pkg/requestcontext"
)

var controller = models.MustPrincipal("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")

func principal(i int) models.Principal {
	return models.MustPrincipal(fmt.Sprintf("0x%040x", i+1))
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rateOf(usd int64) models.Rate {
	return models.Rate{Answer: usd * 100_000_000, Decimals: 8, Source: "test"}
}

type FundingServiceSuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	rates   *mocks.MockRateSource
	payout  *mocks.MockPayout
	ledger  *ledger.InMemoryStore
	events  *eventlog.InMemoryLog
	guard   *guard.InMemoryGuard
	service *Service
	now     time.Time
}

func (s *FundingServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.rates = mocks.NewMockRateSource(s.ctrl)
	s.payout = mocks.NewMockPayout(s.ctrl)
	s.ledger = ledger.NewInMemoryStore()
	s.events = eventlog.NewInMemoryLog()
	s.guard = guard.NewInMemoryGuard()
	s.now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	svc, err := New(
		Config{Controller: controller, MinimumExternal: decimal.NewFromInt(50)},
		s.rates, s.ledger, s.events, s.payout,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithGuard(s.guard),
	)
	s.Require().NoError(err)
	s.service = svc
}

func TestFundingServiceSuite(t *testing.T) {
	suite.Run(t, new(FundingServiceSuite))
}

func (s *FundingServiceSuite) expectRate(usd int64) {
	s.rates.EXPECT().CurrentRate(gomock.Any()).Return(rateOf(usd), nil).AnyTimes()
}

func (s *FundingServiceSuite) assertEmptyLedger() {
	count, err := s.ledger.ContributorCount(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
	balance, err := s.ledger.Balance(s.ctx)
	s.Require().NoError(err)
	s.True(balance.IsZero())
}

// =============================================================================
// Construction
// =============================================================================

func (s *FundingServiceSuite) TestNew() {
	s.Run("controller is required", func() {
		_, err := New(Config{MinimumExternal: decimal.NewFromInt(50)}, s.rates, s.ledger, s.events, s.payout)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("threshold must be positive", func() {
		_, err := New(Config{Controller: controller}, s.rates, s.ledger, s.events, s.payout)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("controller is fixed at creation", func() {
		s.Equal(controller, s.service.Controller())
		s.Equal("50", s.service.Threshold().String())
	})
}

// =============================================================================
// Contribute
// =============================================================================

func (s *FundingServiceSuite) TestContributeAdmission() {
	s.expectRate(2000)

	s.Run("exactly the floor is accepted", func() {
		c, err := s.service.Contribute(s.ctx, principal(1), amt("0.025"))
		s.Require().NoError(err)
		s.Equal(principal(1), c.Contributor)
		s.Equal("0.025", c.Amount.String())
		s.Equal(s.now, c.Timestamp)
	})

	s.Run("just under a round floor is rejected with the floor attached", func() {
		_, err := s.service.Contribute(s.ctx, principal(2), amt("0.024999"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientContribution))

		var insufficient *models.InsufficientContributionError
		s.Require().ErrorAs(err, &insufficient)
		s.Equal("0.025", insufficient.Required.String())
		s.Equal("2000", insufficient.Rate.Value().String())
	})

	s.Run("floor minus the smallest unit is rejected", func() {
		_, err := s.service.Contribute(s.ctx, principal(2), amt("0.025").Sub(models.SmallestUnit))
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientContribution))
	})

	s.Run("zero is rejected", func() {
		_, err := s.service.Contribute(s.ctx, principal(2), decimal.Zero)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientContribution))
	})

	s.Run("sub-denomination precision is a bad request", func() {
		_, err := s.service.Contribute(s.ctx, principal(2), amt("0.1000000000000000001"))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejections leave the ledger unchanged", func() {
		total, err := s.service.Query(s.ctx, principal(2))
		s.Require().NoError(err)
		s.True(total.IsZero())
		count, _ := s.ledger.ContributorCount(s.ctx)
		s.Equal(1, count)
		s.Equal(1, s.events.Len())
	})
}

func (s *FundingServiceSuite) TestContributeThenQuery() {
	s.expectRate(1500)

	_, err := s.service.Contribute(s.ctx, principal(1), amt("0.1"))
	s.Require().NoError(err)

	total, err := s.service.Query(s.ctx, principal(1))
	s.Require().NoError(err)
	s.Equal("0.1", total.String())

	_, err = s.service.Contribute(s.ctx, principal(1), amt("0.05"))
	s.Require().NoError(err)
	total, _ = s.service.Query(s.ctx, principal(1))
	s.Equal("0.15", total.String())
}

func (s *FundingServiceSuite) TestContributeOracleFailure() {
	s.rates.EXPECT().CurrentRate(gomock.Any()).Return(models.Rate{}, errors.New("feed unreachable"))

	_, err := s.service.Contribute(s.ctx, principal(1), amt("10"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeOracleUnavailable))
	s.assertEmptyLedger()
	s.Zero(s.events.Len())
}

func (s *FundingServiceSuite) TestContributeFetchesRateEveryTime() {
	gomock.InOrder(
		s.rates.EXPECT().CurrentRate(gomock.Any()).Return(rateOf(2000), nil),
		s.rates.EXPECT().CurrentRate(gomock.Any()).Return(rateOf(1000), nil),
	)

	_, err := s.service.Contribute(s.ctx, principal(1), amt("0.025"))
	s.Require().NoError(err)

	// price halved: the same amount no longer clears the floor
	_, err = s.service.Contribute(s.ctx, principal(1), amt("0.025"))
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientContribution))
}

func (s *FundingServiceSuite) TestContributePublishesEvent() {
	s.expectRate(2000)
	publisher := mocks.NewMockEventPublisher(s.ctrl)
	svc, err := New(Config{Controller: controller, MinimumExternal: decimal.NewFromInt(50)},
		s.rates, s.ledger, s.events, s.payout, WithPublisher(publisher))
	s.Require().NoError(err)

	publisher.EXPECT().ContributionRecorded(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, c models.Contribution) {
			s.Equal(principal(3), c.Contributor)
		})

	_, err = svc.Contribute(s.ctx, principal(3), amt("1"))
	s.Require().NoError(err)
}

func (s *FundingServiceSuite) TestConcurrentContributionsKeepInvariant() {
	s.expectRate(2000)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 10 {
				_, _ = s.service.Contribute(s.ctx, principal(i%5), amt("0.03"))
			}
		}(i)
	}
	wg.Wait()

	s.NoError(s.service.VerifyLedger(s.ctx))
	balance, _ := s.ledger.Balance(s.ctx)
	s.Equal("6", balance.String())
	count, _ := s.ledger.ContributorCount(s.ctx)
	s.Equal(5, count)
	s.Equal(200, s.events.Len())
}

// =============================================================================
// Withdraw
// =============================================================================

func (s *FundingServiceSuite) TestWithdrawSixContributors() {
	s.expectRate(1500)
	wallet := payout.NewWallet()
	svc, err := New(Config{Controller: controller, MinimumExternal: decimal.NewFromInt(50)},
		s.rates, s.ledger, s.events, wallet)
	s.Require().NoError(err)

	for i := range 6 {
		_, err := svc.Contribute(s.ctx, principal(i), amt("0.1"))
		s.Require().NoError(err)
	}
	balance, _ := s.ledger.Balance(s.ctx)
	s.Equal("0.6", balance.String())

	w, err := svc.Withdraw(s.ctx, controller)
	s.Require().NoError(err)
	s.Equal("0.6", w.Amount.String())
	s.Equal(6, w.Contributors)
	s.Equal(s.now, w.WithdrawnAt)

	s.assertEmptyLedger()
	for i := range 6 {
		total, err := svc.Query(s.ctx, principal(i))
		s.Require().NoError(err)
		s.True(total.IsZero())
	}
	s.Equal("0.6", wallet.BalanceOf(controller).String())

	// history survives the withdrawal
	history, err := svc.History(s.ctx, principal(0), OrderAsc)
	s.Require().NoError(err)
	s.Len(history, 1)
}

func (s *FundingServiceSuite) TestWithdrawNotController() {
	s.Run("empty pool", func() {
		_, err := s.service.Withdraw(s.ctx, principal(1))
		s.True(dErrors.HasCode(err, dErrors.CodeNotController))
	})

	s.Run("funded pool is left intact", func() {
		s.expectRate(2000)
		_, err := s.service.Contribute(s.ctx, principal(1), amt("1"))
		s.Require().NoError(err)

		_, err = s.service.Withdraw(s.ctx, principal(1))
		s.True(dErrors.HasCode(err, dErrors.CodeNotController))

		balance, _ := s.ledger.Balance(s.ctx)
		s.Equal("1", balance.String())
		s.False(s.guard.Held())
	})
}

func (s *FundingServiceSuite) TestWithdrawTwiceDrainsZeroSecondTime() {
	s.expectRate(2000)
	_, err := s.service.Contribute(s.ctx, principal(1), amt("0.5"))
	s.Require().NoError(err)

	s.payout.EXPECT().Transfer(gomock.Any(), controller, gomock.Any()).Return(nil).Times(1)

	first, err := s.service.Withdraw(s.ctx, controller)
	s.Require().NoError(err)
	s.Equal("0.5", first.Amount.String())

	second, err := s.service.Withdraw(s.ctx, controller)
	s.Require().NoError(err)
	s.True(second.Amount.IsZero())
	s.Zero(second.Contributors)
	s.False(s.guard.Held())
}

func (s *FundingServiceSuite) TestWithdrawPayoutFailureRestoresLedger() {
	s.expectRate(2000)
	_, err := s.service.Contribute(s.ctx, principal(1), amt("0.3"))
	s.Require().NoError(err)
	_, err = s.service.Contribute(s.ctx, principal(2), amt("0.2"))
	s.Require().NoError(err)

	s.payout.EXPECT().Transfer(gomock.Any(), controller, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ models.Principal, amount decimal.Decimal) error {
			s.Equal("0.5", amount.String())
			// the ledger is already cleared when the transfer runs
			count, _ := s.ledger.ContributorCount(ctx)
			s.Zero(count)
			return errors.New("transfer rejected")
		})

	_, err = s.service.Withdraw(s.ctx, controller)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	rows, err := s.service.Contributors(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal(principal(1), rows[0].Principal)
	s.Equal("0.3", rows[0].Total.String())
	balance, _ := s.ledger.Balance(s.ctx)
	s.Equal("0.5", balance.String())
	s.False(s.guard.Held())
}

func (s *FundingServiceSuite) TestWithdrawWhileGuardHeld() {
	lease, err := s.guard.Acquire(s.ctx)
	s.Require().NoError(err)
	defer func() { _ = lease.Release(s.ctx) }()

	_, err = s.service.Withdraw(s.ctx, controller)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *FundingServiceSuite) TestWithdrawReentrantPayout() {
	s.expectRate(2000)
	_, err := s.service.Contribute(s.ctx, principal(1), amt("1"))
	s.Require().NoError(err)

	var nestedErr error
	s.payout.EXPECT().Transfer(gomock.Any(), controller, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ models.Principal, _ decimal.Decimal) error {
			_, nestedErr = s.service.Withdraw(ctx, controller)
			return nil
		})

	w, err := s.service.Withdraw(s.ctx, controller)
	s.Require().NoError(err)
	s.Equal("1", w.Amount.String())
	s.True(dErrors.HasCode(nestedErr, dErrors.CodeConflict))
}

func (s *FundingServiceSuite) TestWithdrawRestoreFailure() {
	mockLedger := mocks.NewMockLedger(s.ctrl)
	svc, err := New(Config{Controller: controller, MinimumExternal: decimal.NewFromInt(50)},
		s.rates, mockLedger, s.events, s.payout)
	s.Require().NoError(err)

	snapshot := []models.ContributorBalance{{Principal: principal(1), Total: amt("1")}}
	gomock.InOrder(
		mockLedger.EXPECT().DrainAll(gomock.Any()).Return(&models.DrainResult{Total: amt("1"), Snapshot: snapshot}, nil),
		s.payout.EXPECT().Transfer(gomock.Any(), controller, gomock.Any()).Return(errors.New("transfer rejected")),
		mockLedger.EXPECT().Restore(gomock.Any(), snapshot).Return(errors.New("db down")),
	)

	_, err = svc.Withdraw(s.ctx, controller)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Contains(err.Error(), "db down")
	s.Contains(err.Error(), "transfer rejected")
}

func (s *FundingServiceSuite) TestWithdrawGuardUnavailable() {
	mockGuard := mocks.NewMockGuard(s.ctrl)
	svc, err := New(Config{Controller: controller, MinimumExternal: decimal.NewFromInt(50)},
		s.rates, s.ledger, s.events, s.payout, WithGuard(mockGuard))
	s.Require().NoError(err)

	mockGuard.EXPECT().Acquire(gomock.Any()).Return(nil, fmt.Errorf("redis: %w", sentinel.ErrUnavailable))

	_, err = svc.Withdraw(s.ctx, controller)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

// =============================================================================
// Reads
// =============================================================================

func (s *FundingServiceSuite) TestMinimumAndSummary() {
	s.expectRate(2000)

	minimum, err := s.service.MinimumRequiredNow(s.ctx)
	s.Require().NoError(err)
	s.Equal("0.025", minimum.String())

	_, err = s.service.Contribute(s.ctx, principal(1), amt("0.5"))
	s.Require().NoError(err)

	summary, err := s.service.Summary(s.ctx)
	s.Require().NoError(err)
	s.Equal(controller, summary.Controller)
	s.Equal("0.5", summary.Balance.String())
	s.Equal("1000", summary.BalanceExternal.String())
	s.Equal(1, summary.Contributors)
	s.Equal("0.025", summary.Minimum.String())
}

func (s *FundingServiceSuite) TestContributorAt() {
	s.expectRate(2000)
	_, err := s.service.Contribute(s.ctx, principal(4), amt("0.5"))
	s.Require().NoError(err)

	row, err := s.service.ContributorAt(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(principal(4), row.Principal)

	_, err = s.service.ContributorAt(s.ctx, 1)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *FundingServiceSuite) TestHistoryAndRecent() {
	s.expectRate(2000)
	for i, a := range []string{"0.1", "0.2", "0.3"} {
		ctx := requestcontext.WithTime(s.ctx, s.now.Add(time.Duration(i)*time.Minute))
		_, err := s.service.Contribute(ctx, principal(1), amt(a))
		s.Require().NoError(err)
	}
	_, err := s.service.Contribute(s.ctx, principal(2), amt("1"))
	s.Require().NoError(err)

	asc, err := s.service.History(s.ctx, principal(1), OrderAsc)
	s.Require().NoError(err)
	s.Require().Len(asc, 3)
	s.Equal("0.1", asc[0].Amount.String())

	desc, err := s.service.History(s.ctx, principal(1), OrderDesc)
	s.Require().NoError(err)
	s.Equal("0.3", desc[0].Amount.String())

	again, err := s.service.History(s.ctx, principal(1), OrderAsc)
	s.Require().NoError(err)
	s.Equal("0.1", again[0].Amount.String(), "stored order is unaffected by a reversed read")

	none, err := s.service.History(s.ctx, principal(9), OrderAsc)
	s.Require().NoError(err)
	s.Empty(none)

	recent, err := s.service.RecentContributions(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal(principal(2), recent[0].Contributor)
}
