package eventlog

import (
	"context"
	"iter"
	"sync"

	"fundpool/internal/funding/models"
)

// InMemoryLog appends under a mutex. Iteration works on a snapshot of the
// slice header taken at range time; appends never rewrite earlier elements,
// so the snapshot stays valid without copying.
type InMemoryLog struct {
	mu      sync.RWMutex
	records []models.Contribution
}

// NewInMemoryLog creates an empty log.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{}
}

func (l *InMemoryLog) Append(ctx context.Context, record models.Contribution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *InMemoryLog) snapshot() []models.Contribution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[:len(l.records):len(l.records)]
}

func (l *InMemoryLog) FilterByPrincipal(ctx context.Context, principal models.Principal) iter.Seq2[models.Contribution, error] {
	return func(yield func(models.Contribution, error) bool) {
		for _, record := range l.snapshot() {
			if err := ctx.Err(); err != nil {
				yield(models.Contribution{}, err)
				return
			}
			if record.Contributor != principal {
				continue
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

func (l *InMemoryLog) All(ctx context.Context) iter.Seq2[models.Contribution, error] {
	return func(yield func(models.Contribution, error) bool) {
		for _, record := range l.snapshot() {
			if err := ctx.Err(); err != nil {
				yield(models.Contribution{}, err)
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

func (l *InMemoryLog) Recent(ctx context.Context, limit int) ([]models.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := l.snapshot()
	if limit <= 0 || len(records) == 0 {
		return []models.Contribution{}, nil
	}
	start := max(len(records)-limit, 0)
	return Reverse(records[start:]), nil
}

// Len returns the number of records.
func (l *InMemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
