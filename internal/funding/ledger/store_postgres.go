package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"fundpool/internal/funding/models"
	"fundpool/pkg/platform/sentinel"
	"fundpool/pkg/platform/tx"
)

// PostgresStore persists the ledger in ledger_pool (a single balance row) and
// ledger_contributors. Every mutation runs in one transaction that first
// locks the pool row, which serializes writers.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock sets the clock function for testability.
func WithPostgresClock(clock func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPostgresStore constructs a PostgreSQL-backed ledger.
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:    db,
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

const lockPoolQuery = `SELECT balance FROM ledger_pool WHERE id = 1 FOR UPDATE`

func lockPool(ctx context.Context, sqlTx *sql.Tx) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := sqlTx.QueryRowContext(ctx, lockPoolQuery).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("pool row missing: %w", sentinel.ErrInvalidState)
		}
		return decimal.Zero, fmt.Errorf("lock pool: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) RecordContribution(ctx context.Context, principal models.Principal, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("record contribution of %s: %w", amount, sentinel.ErrInvalidState)
	}
	return tx.Run(ctx, s.db, func(ctx context.Context, sqlTx *sql.Tx) error {
		if _, err := lockPool(ctx, sqlTx); err != nil {
			return err
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO ledger_contributors (principal, amount)
			VALUES ($1, $2)
			ON CONFLICT (principal) DO UPDATE SET
				amount = ledger_contributors.amount + EXCLUDED.amount
		`, principal.String(), amount)
		if err != nil {
			return fmt.Errorf("upsert contributor: %w", err)
		}
		_, err = sqlTx.ExecContext(ctx,
			`UPDATE ledger_pool SET balance = balance + $1, updated_at = $2 WHERE id = 1`,
			amount, s.clock())
		if err != nil {
			return fmt.Errorf("credit pool: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) DrainAll(ctx context.Context) (*models.DrainResult, error) {
	var result *models.DrainResult
	err := tx.Run(ctx, s.db, func(ctx context.Context, sqlTx *sql.Tx) error {
		balance, err := lockPool(ctx, sqlTx)
		if err != nil {
			return err
		}
		snapshot, err := queryContributors(ctx, sqlTx)
		if err != nil {
			return err
		}
		if _, err := sqlTx.ExecContext(ctx, `DELETE FROM ledger_contributors`); err != nil {
			return fmt.Errorf("clear contributors: %w", err)
		}
		drainedAt := s.clock()
		if _, err := sqlTx.ExecContext(ctx,
			`UPDATE ledger_pool SET balance = 0, updated_at = $1 WHERE id = 1`, drainedAt); err != nil {
			return fmt.Errorf("clear pool: %w", err)
		}
		result = &models.DrainResult{Total: balance, Snapshot: snapshot, DrainedAt: drainedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Restore re-inserts snapshot rows ahead of the current list, in snapshot
// order. Uses batch INSERT with unnest so the whole snapshot is one statement.
func (s *PostgresStore) Restore(ctx context.Context, snapshot []models.ContributorBalance) error {
	principals := make([]string, 0, len(snapshot))
	amounts := make([]string, 0, len(snapshot))
	for _, row := range snapshot {
		if !row.Total.IsPositive() {
			continue
		}
		principals = append(principals, row.Principal.String())
		amounts = append(amounts, row.Total.String())
	}
	if len(principals) == 0 {
		return nil
	}
	total := sumOf(snapshot)

	return tx.Run(ctx, s.db, func(ctx context.Context, sqlTx *sql.Tx) error {
		if _, err := lockPool(ctx, sqlTx); err != nil {
			return err
		}
		var minPosition int64
		if err := sqlTx.QueryRowContext(ctx,
			`SELECT COALESCE(MIN(position), 1) FROM ledger_contributors`).Scan(&minPosition); err != nil {
			return fmt.Errorf("read list head: %w", err)
		}
		base := minPosition - int64(len(principals)) - 1
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO ledger_contributors (principal, amount, position)
			SELECT u.principal, u.amount::numeric, $3 + u.ord
			FROM unnest($1::text[], $2::text[]) WITH ORDINALITY AS u(principal, amount, ord)
			ON CONFLICT (principal) DO UPDATE SET
				amount = ledger_contributors.amount + EXCLUDED.amount,
				position = LEAST(ledger_contributors.position, EXCLUDED.position)
		`, pq.Array(principals), pq.Array(amounts), base)
		if err != nil {
			return fmt.Errorf("restore contributors batch: %w", err)
		}
		_, err = sqlTx.ExecContext(ctx,
			`UPDATE ledger_pool SET balance = balance + $1, updated_at = $2 WHERE id = 1`,
			total, s.clock())
		if err != nil {
			return fmt.Errorf("restore pool: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) TotalFor(ctx context.Context, principal models.Principal) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM ledger_contributors WHERE principal = $1`, principal.String()).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("read contributor total: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) ContributorCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_contributors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count contributors: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ContributorAt(ctx context.Context, index int) (models.ContributorBalance, error) {
	if index < 0 {
		return models.ContributorBalance{}, fmt.Errorf("contributor %d: %w", index, sentinel.ErrNotFound)
	}
	var (
		principal string
		row       models.ContributorBalance
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT principal, amount FROM ledger_contributors ORDER BY position OFFSET $1 LIMIT 1`, index).
		Scan(&principal, &row.Total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ContributorBalance{}, fmt.Errorf("contributor %d: %w", index, sentinel.ErrNotFound)
		}
		return models.ContributorBalance{}, fmt.Errorf("read contributor %d: %w", index, err)
	}
	row.Principal = models.Principal(principal)
	return row, nil
}

func (s *PostgresStore) Contributors(ctx context.Context) ([]models.ContributorBalance, error) {
	return queryContributors(ctx, s.db)
}

func (s *PostgresStore) Balance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM ledger_pool WHERE id = 1`).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("pool row missing: %w", sentinel.ErrInvalidState)
		}
		return decimal.Zero, fmt.Errorf("read pool balance: %w", err)
	}
	return balance, nil
}

// VerifyBalance checks the persisted pool balance against the contributor
// rows. Run it after a restart before serving traffic.
func (s *PostgresStore) VerifyBalance(ctx context.Context) error {
	var balance, sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT p.balance, COALESCE((SELECT SUM(amount) FROM ledger_contributors), 0)
		FROM ledger_pool p WHERE p.id = 1
	`).Scan(&balance, &sum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("pool row missing: %w", sentinel.ErrInvalidState)
		}
		return fmt.Errorf("verify pool balance: %w", err)
	}
	if !balance.Equal(sum) {
		return fmt.Errorf("pool balance %s != contributor sum %s: %w", balance, sum, sentinel.ErrInvalidState)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryContributors(ctx context.Context, q queryer) ([]models.ContributorBalance, error) {
	rows, err := q.QueryContext(ctx, `SELECT principal, amount FROM ledger_contributors ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	defer rows.Close()

	var out []models.ContributorBalance
	for rows.Next() {
		var (
			principal string
			total     decimal.Decimal
		)
		if err := rows.Scan(&principal, &total); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		out = append(out, models.ContributorBalance{Principal: models.Principal(principal), Total: total})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributors: %w", err)
	}
	return out, nil
}
