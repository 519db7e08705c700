package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fundpool/internal/funding/models"
	"fundpool/internal/funding/service"
	"fundpool/internal/platform/metrics"
	"fundpool/internal/platform/middleware"
	dErrors "fundpool/pkg/domain-errors"
	"fundpool/pkg/platform/httputil"
	"fundpool/pkg/requestcontext"
)

// Service defines the pool operations exposed over HTTP.
type Service interface {
	Contribute(ctx context.Context, principal models.Principal, amount decimal.Decimal) (*models.Contribution, error)
	Withdraw(ctx context.Context, requester models.Principal) (*models.Withdrawal, error)
	Query(ctx context.Context, principal models.Principal) (decimal.Decimal, error)
	MinimumRequiredNow(ctx context.Context) (decimal.Decimal, error)
	CurrentRate(ctx context.Context) (models.Rate, error)
	Summary(ctx context.Context) (*models.Summary, error)
	Contributors(ctx context.Context) ([]models.ContributorBalance, error)
	ContributorAt(ctx context.Context, index int) (models.ContributorBalance, error)
	History(ctx context.Context, principal models.Principal, order service.Order) ([]models.Contribution, error)
	RecentContributions(ctx context.Context, limit int) ([]models.Contribution, error)
}

// Handler serves the pool endpoints.
type Handler struct {
	logger         *slog.Logger
	pool           Service
	metrics        *metrics.Metrics
	limiter        *middleware.RateLimiter
	requestTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimiter throttles state-changing routes per caller.
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = rl
	}
}

// WithRequestTimeout overrides the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// New creates a pool Handler.
func New(pool Service, logger *slog.Logger, metrics *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		logger:         logger,
		pool:           pool,
		metrics:        metrics,
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the pool routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	poolRouter := chi.NewRouter()
	poolRouter.Use(middleware.Recovery(h.logger))
	poolRouter.Use(middleware.RequestID)
	poolRouter.Use(middleware.RequestTime)
	poolRouter.Use(middleware.ClientMetadata)
	poolRouter.Use(middleware.Logger(h.logger))
	poolRouter.Use(middleware.Timeout(h.requestTimeout))
	poolRouter.Use(middleware.ContentTypeJSON)
	poolRouter.Use(middleware.LatencyMiddleware(h.metrics))
	poolRouter.Use(middleware.Principal)

	writes := poolRouter.With()
	if h.limiter != nil {
		writes = poolRouter.With(h.limiter.Handler)
	}
	writes.Post("/pool/contributions", h.handleContribute)
	writes.Post("/pool/withdrawals", h.handleWithdraw)

	poolRouter.Get("/pool", h.handleSummary)
	poolRouter.Get("/pool/minimum", h.handleMinimum)
	poolRouter.Get("/pool/rate", h.handleRate)
	poolRouter.Get("/pool/contributors", h.handleContributors)
	poolRouter.Get("/pool/contributors/{index:[0-9]+}", h.handleContributorAt)
	poolRouter.Get("/pool/contributors/{principal:0[xX][0-9a-fA-F]+}/total", h.handleTotal)
	poolRouter.Get("/pool/contributors/{principal:0[xX][0-9a-fA-F]+}/history", h.handleHistory)
	poolRouter.Get("/pool/contributions/recent", h.handleRecent)

	r.Mount("/", poolRouter)
}

// handleContribute records a contribution from the calling principal.
func (h *Handler) handleContribute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	principal, err := callerPrincipal(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "invalid caller")
		return
	}

	var req ContributeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid contribute request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	amount, err := models.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(ctx, w, err, "invalid amount")
		return
	}

	contribution, err := h.pool.Contribute(ctx, principal, amount)
	if err != nil {
		h.writeError(ctx, w, err, "failed to record contribution")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toContributionResponse(*contribution))
}

// handleWithdraw drains the pool to the controller.
func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requester, err := callerPrincipal(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "invalid caller")
		return
	}

	withdrawal, err := h.pool.Withdraw(ctx, requester)
	if err != nil {
		h.writeError(ctx, w, err, "failed to withdraw")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, WithdrawalResponse{
		Controller:   withdrawal.Controller.String(),
		Amount:       withdrawal.Amount.String(),
		Contributors: withdrawal.Contributors,
		WithdrawnAt:  withdrawal.WithdrawnAt,
	})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := h.pool.Summary(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read pool summary")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SummaryResponse{
		Controller:      summary.Controller.String(),
		Balance:         summary.Balance.String(),
		BalanceExternal: summary.BalanceExternal.String(),
		Contributors:    summary.Contributors,
		Minimum:         summary.Minimum.String(),
		Rate:            toRateResponse(summary.Rate),
	})
}

func (h *Handler) handleMinimum(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	minimum, err := h.pool.MinimumRequiredNow(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "failed to compute minimum")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MinimumResponse{Minimum: minimum.String()})
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rate, err := h.pool.CurrentRate(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read rate")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRateResponse(rate))
}

func (h *Handler) handleContributors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.pool.Contributors(ctx)
	if err != nil {
		h.writeError(ctx, w, err, "failed to list contributors")
		return
	}
	resp := ContributorsResponse{Count: len(rows), Contributors: make([]ContributorResponse, 0, len(rows))}
	for i, row := range rows {
		resp.Contributors = append(resp.Contributors, ContributorResponse{
			Index:     i,
			Principal: row.Principal.String(),
			Total:     row.Total.String(),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleContributorAt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "index must be a non-negative integer"))
		return
	}
	row, err := h.pool.ContributorAt(ctx, index)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read contributor")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ContributorResponse{
		Index:     index,
		Principal: row.Principal.String(),
		Total:     row.Total.String(),
	})
}

func (h *Handler) handleTotal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := models.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		h.writeError(ctx, w, err, "invalid principal")
		return
	}
	total, err := h.pool.Query(ctx, principal)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read contributor total")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TotalResponse{Principal: principal.String(), Total: total.String()})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := models.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		h.writeError(ctx, w, err, "invalid principal")
		return
	}
	order, err := parseOrder(r.URL.Query().Get("order"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.pool.History(ctx, principal, order)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read history")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ContributionsResponse{
		Principal:     principal.String(),
		Order:         string(order),
		Contributions: toContributionResponses(records),
	})
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	records, err := h.pool.RecentContributions(ctx, limit)
	if err != nil {
		h.writeError(ctx, w, err, "failed to read recent contributions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ContributionsResponse{Contributions: toContributionResponses(records)})
}

// writeError renders a service error. Rejections below the floor carry the
// floor itself; client faults log at warn, everything else at error.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	requestID := middleware.GetRequestID(ctx)

	var insufficient *models.InsufficientContributionError
	if errors.As(err, &insufficient) {
		h.logger.InfoContext(ctx, "contribution below minimum",
			"request_id", requestID,
			"proposed", insufficient.Proposed.String(),
			"minimum", insufficient.Required.String(),
		)
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, InsufficientContributionResponse{
			Error:            string(dErrors.CodeInsufficientContribution),
			ErrorDescription: "contribution below current minimum",
			Proposed:         insufficient.Proposed.String(),
			Minimum:          insufficient.Required.String(),
			Rate:             insufficient.Rate.Value().String(),
		})
		return
	}

	status := dErrors.ToHTTPStatus(dErrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"error", err.Error(),
		)
	} else {
		h.logger.WarnContext(ctx, msg,
			"request_id", requestID,
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

func callerPrincipal(ctx context.Context) (models.Principal, error) {
	raw := requestcontext.Principal(ctx)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "X-Principal header is required")
	}
	return models.ParsePrincipal(raw)
}

func parseOrder(raw string) (service.Order, error) {
	switch service.Order(raw) {
	case "", service.OrderAsc:
		return service.OrderAsc, nil
	case service.OrderDesc:
		return service.OrderDesc, nil
	default:
		return "", dErrors.New(dErrors.CodeBadRequest, "order must be asc or desc")
	}
}
