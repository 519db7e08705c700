// Package eventlog is the append-only record of accepted contributions.
// Withdrawal never touches it; stored order is insertion order and any
// other ordering is produced on a copy at the query boundary.
package eventlog

import (
	"context"
	"iter"
	"slices"

	"fundpool/internal/funding/models"
)

// Log is the event log contract.
type Log interface {
	Append(ctx context.Context, record models.Contribution) error
	// FilterByPrincipal yields principal's records in chronological order.
	// The sequence is lazy and may be ranged more than once.
	FilterByPrincipal(ctx context.Context, principal models.Principal) iter.Seq2[models.Contribution, error]
	// All yields every record in insertion order.
	All(ctx context.Context) iter.Seq2[models.Contribution, error]
	// Recent returns up to limit of the newest records, newest first.
	Recent(ctx context.Context, limit int) ([]models.Contribution, error)
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[models.Contribution, error]) ([]models.Contribution, error) {
	var out []models.Contribution
	for record, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Reverse returns a reversed copy of records.
func Reverse(records []models.Contribution) []models.Contribution {
	out := slices.Clone(records)
	slices.Reverse(out)
	return out
}
