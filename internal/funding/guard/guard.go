// Package guard provides the re-entrancy guard scoped to withdrawal. At most
// one withdrawal holds the guard at a time; a second attempt fails fast with
// sentinel.ErrConflict instead of waiting.
package guard

import (
	"context"
	"fmt"
	"sync/atomic"

	"fundpool/pkg/platform/sentinel"
)

var errConflict = fmt.Errorf("withdrawal guard held: %w", sentinel.ErrConflict)

// Lease is a held guard.
type Lease interface {
	Release(ctx context.Context) error
}

// Guard hands out at most one lease at a time.
type Guard interface {
	Acquire(ctx context.Context) (Lease, error)
}

// InMemoryGuard is a process-local guard backed by an atomic flag.
type InMemoryGuard struct {
	held atomic.Bool
}

// NewInMemoryGuard creates an unheld guard.
func NewInMemoryGuard() *InMemoryGuard {
	return &InMemoryGuard{}
}

func (g *InMemoryGuard) Acquire(ctx context.Context) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.held.CompareAndSwap(false, true) {
		return nil, errConflict
	}
	return &memoryLease{guard: g}, nil
}

// Held reports whether a lease is outstanding.
func (g *InMemoryGuard) Held() bool {
	return g.held.Load()
}

type memoryLease struct {
	guard    *InMemoryGuard
	released atomic.Bool
}

func (l *memoryLease) Release(context.Context) error {
	if l.released.CompareAndSwap(false, true) {
		l.guard.held.Store(false)
	}
	return nil
}
