// Package service orchestrates the funding pool: price-gated contributions,
// controller-only withdrawal and the read side used for display.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fundpool/internal/funding/admission"
	"fundpool/internal/funding/eventlog"
	"fundpool/internal/funding/guard"
	"fundpool/internal/funding/metrics"
	"fundpool/internal/funding/models"
	dErrors "fundpool/pkg/domain-errors"
	"fundpool/pkg/platform/sentinel"
	"fundpool/pkg/requestcontext"
)

// Order selects the direction of a history read.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

// Config holds the values fixed at pool creation.
type Config struct {
	Controller      models.Principal
	MinimumExternal decimal.Decimal
}

// Service is the funding pool. The controller and threshold never change
// after construction.
type Service struct {
	controller models.Principal
	policy     *admission.Policy
	ledger     Ledger
	events     EventLog
	payout     Payout
	guard      Guard
	publisher  EventPublisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithGuard replaces the process-local withdrawal guard.
func WithGuard(g Guard) Option {
	return func(s *Service) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithPublisher sets the event feed.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New creates the pool.
func New(cfg Config, rates RateSource, ledger Ledger, events EventLog, payout Payout, opts ...Option) (*Service, error) {
	if cfg.Controller.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "controller is required")
	}
	if rates == nil || ledger == nil || events == nil || payout == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "rate source, ledger, event log and payout are required")
	}

	s := &Service{
		controller: cfg.Controller,
		ledger:     ledger,
		events:     events,
		payout:     payout,
		guard:      guard.NewInMemoryGuard(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("fundpool/funding"),
	}
	for _, opt := range opts {
		opt(s)
	}

	policy, err := admission.NewPolicy(cfg.MinimumExternal, timedRates{src: rates, metrics: s.metrics})
	if err != nil {
		return nil, err
	}
	s.policy = policy
	return s, nil
}

// Controller returns the principal allowed to withdraw.
func (s *Service) Controller() models.Principal { return s.controller }

// Threshold returns the external-unit minimum.
func (s *Service) Threshold() decimal.Decimal { return s.policy.Threshold() }

// =============================================================================
// Contribute
// =============================================================================

// Contribute admits amount from principal if it meets the live floor, then
// records it in the ledger and appends the event.
func (s *Service) Contribute(ctx context.Context, principal models.Principal, amount decimal.Decimal) (*models.Contribution, error) {
	ctx, span := s.tracer.Start(ctx, "funding.Contribute", trace.WithAttributes(
		attribute.String("principal", principal.String()),
		attribute.String("amount", amount.String()),
	))
	defer span.End()

	contribution, err := s.contribute(ctx, principal, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	return contribution, nil
}

func (s *Service) contribute(ctx context.Context, principal models.Principal, amount decimal.Decimal) (*models.Contribution, error) {
	requestID := requestcontext.RequestID(ctx)

	if principal.IsZero() {
		s.metrics.IncRejected(metrics.ReasonInvalid)
		return nil, dErrors.New(dErrors.CodeBadRequest, "contributor is required")
	}
	if err := models.ValidateAmount(amount); err != nil {
		s.metrics.IncRejected(metrics.ReasonInvalid)
		return nil, err
	}

	verdict, err := s.policy.Evaluate(ctx, amount)
	if err != nil {
		s.metrics.IncRejected(metrics.ReasonOracle)
		s.logger.WarnContext(ctx, "contribution refused: price oracle unavailable",
			"request_id", requestID,
			"principal", principal,
			"error", err,
		)
		return nil, err
	}
	if !verdict.Admitted {
		s.metrics.IncRejected(metrics.ReasonInsufficient)
		return nil, &models.InsufficientContributionError{
			Proposed: amount,
			Required: verdict.Required,
			Rate:     verdict.Rate,
		}
	}

	if err := s.ledger.RecordContribution(ctx, principal, amount); err != nil {
		s.metrics.IncRejected(metrics.ReasonStore)
		s.logger.ErrorContext(ctx, "failed to record contribution",
			"request_id", requestID,
			"principal", principal,
			"error", err,
		)
		return nil, translateStoreError(err, "failed to record contribution")
	}

	record := models.NewContribution(principal, amount, requestcontext.Now(ctx))
	// The ledger already committed; the append must not be lost to a
	// client disconnect.
	if err := s.events.Append(context.WithoutCancel(ctx), record); err != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: contribution recorded but event append failed",
			"request_id", requestID,
			"principal", principal,
			"amount", amount,
			"event_id", record.ID,
			"error", err,
		)
	}

	s.metrics.IncAccepted()
	s.refreshPoolGauges(ctx)
	if s.publisher != nil {
		s.publisher.ContributionRecorded(ctx, record)
	}

	s.logger.InfoContext(ctx, "contribution recorded",
		"request_id", requestID,
		"principal", principal,
		"amount", amount,
		"required", verdict.Required,
		"rate", verdict.Rate.Value(),
	)
	return &record, nil
}

// =============================================================================
// Withdraw
// =============================================================================

// Withdraw drains the whole pool to the controller. The ledger is cleared
// before the transfer starts; if the transfer fails the drained snapshot is
// restored.
func (s *Service) Withdraw(ctx context.Context, requester models.Principal) (*models.Withdrawal, error) {
	ctx, span := s.tracer.Start(ctx, "funding.Withdraw", trace.WithAttributes(
		attribute.String("requester", requester.String()),
	))
	defer span.End()

	withdrawal, err := s.withdraw(ctx, requester)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("amount", withdrawal.Amount.String()))
	return withdrawal, nil
}

func (s *Service) withdraw(ctx context.Context, requester models.Principal) (*models.Withdrawal, error) {
	requestID := requestcontext.RequestID(ctx)

	if requester != s.controller {
		s.metrics.IncWithdrawal(metrics.OutcomeNotController)
		s.logger.WarnContext(ctx, "withdrawal refused: requester is not the controller",
			"request_id", requestID,
			"requester", requester,
		)
		return nil, models.ErrNotController
	}

	lease, err := s.guard.Acquire(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncWithdrawal(metrics.OutcomeConflict)
			return nil, models.ErrWithdrawalInFlight
		}
		s.metrics.IncWithdrawal(metrics.OutcomeError)
		s.logger.ErrorContext(ctx, "failed to acquire withdrawal guard", "request_id", requestID, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "withdrawal guard unavailable")
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "failed to release withdrawal guard", "request_id", requestID, "error", err)
		}
	}()

	drained, err := s.ledger.DrainAll(ctx)
	if err != nil {
		s.metrics.IncWithdrawal(metrics.OutcomeError)
		s.logger.ErrorContext(ctx, "failed to drain ledger", "request_id", requestID, "error", err)
		return nil, translateStoreError(err, "failed to drain ledger")
	}

	withdrawal := &models.Withdrawal{
		Controller:   s.controller,
		Amount:       drained.Total,
		Contributors: len(drained.Snapshot),
		WithdrawnAt:  requestcontext.Now(ctx),
	}
	if drained.Empty() {
		s.metrics.IncWithdrawal(metrics.OutcomeEmpty)
		s.logger.InfoContext(ctx, "withdrawal drained an empty pool", "request_id", requestID)
		return withdrawal, nil
	}

	if err := s.payout.Transfer(ctx, s.controller, drained.Total); err != nil {
		s.metrics.IncWithdrawal(metrics.OutcomePayoutFailed)
		return nil, s.restoreAfterFailedPayout(ctx, drained, err)
	}

	s.metrics.IncWithdrawal(metrics.OutcomeSuccess)
	s.metrics.SetLastWithdrawn(drained.Total.InexactFloat64())
	s.metrics.SetPool(0, 0)
	if s.publisher != nil {
		s.publisher.PoolWithdrawn(ctx, *withdrawal)
	}

	s.logger.InfoContext(ctx, "pool withdrawn",
		"request_id", requestID,
		"controller", s.controller,
		"amount", drained.Total,
		"contributors", withdrawal.Contributors,
	)
	return withdrawal, nil
}

func (s *Service) restoreAfterFailedPayout(ctx context.Context, drained *models.DrainResult, transferErr error) error {
	requestID := requestcontext.RequestID(ctx)

	if err := s.ledger.Restore(context.WithoutCancel(ctx), drained.Snapshot); err != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: payout failed and ledger restore failed",
			"request_id", requestID,
			"amount", drained.Total,
			"contributors", len(drained.Snapshot),
			"transfer_error", transferErr,
			"error", err,
		)
		return dErrors.Wrap(errors.Join(transferErr, err), dErrors.CodeInternal, "payout failed and ledger restore failed")
	}

	s.logger.WarnContext(ctx, "payout failed; ledger restored",
		"request_id", requestID,
		"amount", drained.Total,
		"error", transferErr,
	)
	s.refreshPoolGauges(ctx)
	return dErrors.Wrap(transferErr, dErrors.CodeInternal, "payout transfer failed")
}

// =============================================================================
// Reads
// =============================================================================

// Query returns principal's running total; zero for unknown principals.
func (s *Service) Query(ctx context.Context, principal models.Principal) (decimal.Decimal, error) {
	total, err := s.ledger.TotalFor(ctx, principal)
	if err != nil {
		return decimal.Zero, translateStoreError(err, "failed to read contributor total")
	}
	return total, nil
}

// MinimumRequiredNow returns the native floor at the live rate.
func (s *Service) MinimumRequiredNow(ctx context.Context) (decimal.Decimal, error) {
	required, _, err := s.policy.Minimum(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return required, nil
}

// CurrentRate returns the live rate.
func (s *Service) CurrentRate(ctx context.Context) (models.Rate, error) {
	return s.policy.CurrentRate(ctx)
}

// Summary returns the display read of the pool. Balance and contributor
// count come from one ledger read each; the external values need the oracle.
func (s *Service) Summary(ctx context.Context) (*models.Summary, error) {
	balance, err := s.ledger.Balance(ctx)
	if err != nil {
		return nil, translateStoreError(err, "failed to read pool balance")
	}
	count, err := s.ledger.ContributorCount(ctx)
	if err != nil {
		return nil, translateStoreError(err, "failed to count contributors")
	}
	minimum, rate, err := s.policy.Minimum(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Summary{
		Controller:      s.controller,
		Balance:         balance,
		BalanceExternal: rate.ToExternal(balance),
		Contributors:    count,
		Minimum:         minimum,
		Rate:            rate,
	}, nil
}

// Contributors returns the current cycle's contributors in list order.
func (s *Service) Contributors(ctx context.Context) ([]models.ContributorBalance, error) {
	rows, err := s.ledger.Contributors(ctx)
	if err != nil {
		return nil, translateStoreError(err, "failed to list contributors")
	}
	if rows == nil {
		rows = []models.ContributorBalance{}
	}
	return rows, nil
}

// ContributorAt returns the index-th contributor of the current cycle.
func (s *Service) ContributorAt(ctx context.Context, index int) (models.ContributorBalance, error) {
	row, err := s.ledger.ContributorAt(ctx, index)
	if err != nil {
		return models.ContributorBalance{}, translateStoreError(err, fmt.Sprintf("no contributor at index %d", index))
	}
	return row, nil
}

// History returns principal's contributions across all cycles. Stored order
// is chronological; OrderDesc reverses a copy.
func (s *Service) History(ctx context.Context, principal models.Principal, order Order) ([]models.Contribution, error) {
	records, err := eventlog.Collect(s.events.FilterByPrincipal(ctx, principal))
	if err != nil {
		return nil, translateStoreError(err, "failed to read contribution history")
	}
	if records == nil {
		records = []models.Contribution{}
	}
	if order == OrderDesc {
		return eventlog.Reverse(records), nil
	}
	return records, nil
}

// RecentContributions returns the newest contributions, newest first.
func (s *Service) RecentContributions(ctx context.Context, limit int) ([]models.Contribution, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)
	records, err := s.events.Recent(ctx, limit)
	if err != nil {
		return nil, translateStoreError(err, "failed to read recent contributions")
	}
	return records, nil
}

// VerifyLedger checks the pool balance invariant. Run it at startup.
func (s *Service) VerifyLedger(ctx context.Context) error {
	if err := s.ledger.VerifyBalance(ctx); err != nil {
		return translateStoreError(err, "ledger balance does not match contributor totals")
	}
	s.refreshPoolGauges(ctx)
	return nil
}

func (s *Service) refreshPoolGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	balance, err := s.ledger.Balance(ctx)
	if err != nil {
		return
	}
	count, err := s.ledger.ContributorCount(ctx)
	if err != nil {
		return
	}
	s.metrics.SetPool(balance.InexactFloat64(), count)
}

// translateStoreError maps store sentinels to domain codes.
func translateStoreError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// timedRates observes oracle latency around every read.
type timedRates struct {
	src     RateSource
	metrics *metrics.Metrics
}

func (t timedRates) CurrentRate(ctx context.Context) (models.Rate, error) {
	start := time.Now()
	rate, err := t.src.CurrentRate(ctx)
	t.metrics.ObserveOracleLatency(time.Since(start).Seconds())
	return rate, err
}
