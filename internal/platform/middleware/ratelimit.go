package middleware

import (
	"log/slog"
	"net/http"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "fundpool/pkg/domain-errors"
	"fundpool/pkg/platform/httputil"
	"fundpool/pkg/requestcontext"
)

const maxTrackedLimiters = 10000

type trackedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per caller, keyed by principal header
// or client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*trackedLimiter
	rate     rate.Limit
	burst    int
	idle     time.Duration
	logger   *slog.Logger
}

// NewRateLimiter creates a limiter allowing perSecond requests with burst.
func NewRateLimiter(perSecond float64, burst int, logger *slog.Logger) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*trackedLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		logger:   logger,
	}
}

func (rl *RateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tracked, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxTrackedLimiters {
			rl.evictLocked(now)
		}
		tracked = &trackedLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = tracked
	}
	tracked.lastSeen = now
	return tracked.limiter
}

// Handler rejects callers over their budget with 429.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := requestcontext.Principal(ctx)
		if key == "" {
			key = ClientIPFromRequest(r)
		}

		now := time.Now()
		reservation := rl.getLimiter(key, now).ReserveN(now, 1)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		if delay := reservation.DelayFrom(now); !reservation.OK() || delay > 0 {
			reservation.CancelAt(now)
			rl.logger.WarnContext(ctx, "rate limit exceeded",
				"request_id", GetRequestID(ctx),
				"key", key,
				"path", r.URL.Path,
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Cleanup drops limiters idle longer than the idle window.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.evictLocked(time.Now())
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	for key, tracked := range rl.limiters {
		if now.Sub(tracked.lastSeen) > rl.idle {
			delete(rl.limiters, key)
		}
	}
}

func retryAfterSeconds(delay time.Duration) int {
	if delay <= 0 || delay == rate.InfDuration {
		return 1
	}
	return int(math.Ceil(delay.Seconds()))
}
