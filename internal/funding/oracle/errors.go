package oracle

import (
	"errors"
	"fmt"

	dErrors "fundpool/pkg/domain-errors"
)

// ErrorCategory normalizes the ways a price source can fail.
type ErrorCategory string

const (
	// ErrorTimeout indicates the source did not answer in time.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the source answered with something we cannot use.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorOutage indicates the source could not be reached or refused the request.
	ErrorOutage ErrorCategory = "outage"
)

// FeedError wraps a price source failure. Every FeedError is an
// oracle_unavailable domain error; no category ever falls back to a default
// or stale price.
type FeedError struct {
	Category   ErrorCategory
	Source     string
	Message    string
	Underlying error
}

func (e *FeedError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("price feed %s [%s]: %s: %v", e.Source, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("price feed %s [%s]: %s", e.Source, e.Category, e.Message)
}

// Unwrap exposes both the coded domain error and the underlying cause.
func (e *FeedError) Unwrap() []error {
	coded := dErrors.New(dErrors.CodeOracleUnavailable, "price oracle unavailable")
	if e.Underlying == nil {
		return []error{coded}
	}
	return []error{coded, e.Underlying}
}

// NewFeedError creates a normalized feed error.
func NewFeedError(category ErrorCategory, source, message string, underlying error) *FeedError {
	return &FeedError{
		Category:   category,
		Source:     source,
		Message:    message,
		Underlying: underlying,
	}
}

// GetCategory extracts the category of a feed error, defaulting to outage.
func GetCategory(err error) ErrorCategory {
	var fe *FeedError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ErrorOutage
}
