package oracle

import (
	"context"
	"sync"
	"time"

	"fundpool/internal/funding/models"
)

// Development aggregator defaults: 8 decimals, 1500 external units per native unit.
const (
	MockDecimals = 8
	MockAnswer   = 1500 * 100_000_000
)

// StaticAggregator is an in-process price source for development networks
// and tests. Its answer changes only through UpdateAnswer.
type StaticAggregator struct {
	mu        sync.RWMutex
	decimals  uint8
	answer    int64
	updatedAt time.Time
}

// NewStaticAggregator creates an aggregator with an initial answer.
func NewStaticAggregator(decimals uint8, answer int64) *StaticAggregator {
	return &StaticAggregator{
		decimals:  decimals,
		answer:    answer,
		updatedAt: time.Now(),
	}
}

// CurrentRate returns the current answer. A non-positive answer is reported
// as bad data, the same as a real source would be.
func (a *StaticAggregator) CurrentRate(_ context.Context) (models.Rate, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rate := models.Rate{
		Answer:    a.answer,
		Decimals:  a.decimals,
		UpdatedAt: a.updatedAt,
		Source:    "static",
	}
	if !rate.Valid() {
		return models.Rate{}, NewFeedError(ErrorBadData, "static", "answer must be positive", nil)
	}
	return rate, nil
}

// UpdateAnswer replaces the answer.
func (a *StaticAggregator) UpdateAnswer(answer int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answer = answer
	a.updatedAt = time.Now()
}
