package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"fundpool/internal/funding/models"
)

const (
	defaultAnswerPath = "answer"
	defaultDecimals   = 8
	maxResponseBytes  = 1 << 20
)

// HTTPFeed reads a rate from a JSON price endpoint. Every call goes to the
// source; there is no caching.
type HTTPFeed struct {
	id           string
	url          string
	client       *http.Client
	answerPath   string
	decimalsPath string
	updatedPath  string
	decimals     uint8
	now          func() time.Time
}

// FeedOption configures an HTTPFeed.
type FeedOption func(*HTTPFeed)

// WithAnswerPath sets the gjson path of the price answer.
func WithAnswerPath(path string) FeedOption {
	return func(f *HTTPFeed) {
		if path != "" {
			f.answerPath = path
		}
	}
}

// WithDecimalsPath reads the answer's decimals from the response. When set and
// present, the answer must already be an integer scaled by those decimals.
func WithDecimalsPath(path string) FeedOption {
	return func(f *HTTPFeed) {
		f.decimalsPath = path
	}
}

// WithUpdatedAtPath reads the answer's unix-seconds timestamp from the response.
func WithUpdatedAtPath(path string) FeedOption {
	return func(f *HTTPFeed) {
		f.updatedPath = path
	}
}

// WithDecimals sets the precision used when the source reports a plain price.
func WithDecimals(decimals uint8) FeedOption {
	return func(f *HTTPFeed) {
		f.decimals = decimals
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) FeedOption {
	return func(f *HTTPFeed) {
		if client != nil {
			f.client = client
		}
	}
}

// WithClock injects the clock used when the source reports no timestamp.
func WithClock(now func() time.Time) FeedOption {
	return func(f *HTTPFeed) {
		if now != nil {
			f.now = now
		}
	}
}

// NewHTTPFeed creates a feed reading url with the given request timeout.
func NewHTTPFeed(id, url string, timeout time.Duration, opts ...FeedOption) *HTTPFeed {
	f := &HTTPFeed{
		id:         id,
		url:        url,
		client:     &http.Client{Timeout: timeout},
		answerPath: defaultAnswerPath,
		decimals:   defaultDecimals,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ID returns the feed identifier.
func (f *HTTPFeed) ID() string { return f.id }

// CurrentRate fetches and parses the latest answer.
func (f *HTTPFeed) CurrentRate(ctx context.Context) (models.Rate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return models.Rate{}, NewFeedError(ErrorOutage, f.id, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return models.Rate{}, NewFeedError(ErrorTimeout, f.id, "request timed out", err)
		}
		return models.Rate{}, NewFeedError(ErrorOutage, f.id, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.Rate{}, NewFeedError(ErrorOutage, f.id, "read response", err)
	}
	return f.parse(resp.StatusCode, body)
}

func (f *HTTPFeed) parse(status int, body []byte) (models.Rate, error) {
	if status < 200 || status > 299 {
		return models.Rate{}, NewFeedError(ErrorOutage, f.id, fmt.Sprintf("unexpected status %d", status), nil)
	}
	if !gjson.ValidBytes(body) {
		return models.Rate{}, NewFeedError(ErrorBadData, f.id, "response is not valid JSON", nil)
	}

	answer := gjson.GetBytes(body, f.answerPath)
	if !answer.Exists() {
		return models.Rate{}, NewFeedError(ErrorBadData, f.id, "answer missing at "+f.answerPath, nil)
	}
	value, err := decimal.NewFromString(answer.String())
	if err != nil {
		return models.Rate{}, NewFeedError(ErrorBadData, f.id, "answer is not numeric", err)
	}

	rate := models.Rate{Decimals: f.decimals, Source: f.id}
	scaled := false
	if f.decimalsPath != "" {
		if d := gjson.GetBytes(body, f.decimalsPath); d.Exists() {
			if d.Int() < 0 || d.Int() > models.MaxRateDecimals {
				return models.Rate{}, NewFeedError(ErrorBadData, f.id, "decimals out of range", nil)
			}
			rate.Decimals = uint8(d.Int())
			scaled = true
		}
	}

	if scaled {
		if !value.Equal(value.Truncate(0)) {
			return models.Rate{}, NewFeedError(ErrorBadData, f.id, "scaled answer is not an integer", nil)
		}
	} else {
		value = value.Shift(int32(rate.Decimals)).Round(0)
	}
	if !value.BigInt().IsInt64() {
		return models.Rate{}, NewFeedError(ErrorBadData, f.id, "answer overflows", nil)
	}
	rate.Answer = value.IntPart()

	rate.UpdatedAt = f.now()
	if f.updatedPath != "" {
		if ts := gjson.GetBytes(body, f.updatedPath); ts.Exists() && ts.Int() > 0 {
			rate.UpdatedAt = time.Unix(ts.Int(), 0).UTC()
		}
	}

	if !rate.Valid() {
		return models.Rate{}, NewFeedError(ErrorBadData, f.id, "answer must be positive", nil)
	}
	return rate, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
