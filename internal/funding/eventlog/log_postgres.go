package eventlog

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fundpool/internal/funding/models"
)

// PostgresLog stores records in contribution_events. seq preserves insertion
// order; each range over a returned sequence runs its query afresh.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog creates a log on pool.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

func (l *PostgresLog) Append(ctx context.Context, record models.Contribution) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO contribution_events (id, contributor, amount, occurred_at)
		VALUES ($1, $2, $3::numeric, $4)
	`, record.ID, record.Contributor.String(), record.Amount.String(), record.Timestamp)
	if err != nil {
		return fmt.Errorf("append contribution event: %w", err)
	}
	return nil
}

func (l *PostgresLog) FilterByPrincipal(ctx context.Context, principal models.Principal) iter.Seq2[models.Contribution, error] {
	return l.stream(ctx, `
		SELECT id, contributor, amount::text, occurred_at
		FROM contribution_events
		WHERE contributor = $1
		ORDER BY seq
	`, principal.String())
}

func (l *PostgresLog) All(ctx context.Context) iter.Seq2[models.Contribution, error] {
	return l.stream(ctx, `
		SELECT id, contributor, amount::text, occurred_at
		FROM contribution_events
		ORDER BY seq
	`)
}

func (l *PostgresLog) Recent(ctx context.Context, limit int) ([]models.Contribution, error) {
	if limit <= 0 {
		return []models.Contribution{}, nil
	}
	out, err := Collect(l.stream(ctx, `
		SELECT id, contributor, amount::text, occurred_at
		FROM contribution_events
		ORDER BY seq DESC
		LIMIT $1
	`, limit))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Contribution{}
	}
	return out, nil
}

func (l *PostgresLog) stream(ctx context.Context, query string, args ...any) iter.Seq2[models.Contribution, error] {
	return func(yield func(models.Contribution, error) bool) {
		rows, err := l.pool.Query(ctx, query, args...)
		if err != nil {
			yield(models.Contribution{}, fmt.Errorf("query contribution events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanContribution(rows)
			if err != nil {
				yield(models.Contribution{}, err)
				return
			}
			if !yield(record, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Contribution{}, fmt.Errorf("iterate contribution events: %w", err))
		}
	}
}

func scanContribution(rows pgx.Rows) (models.Contribution, error) {
	var (
		id          uuid.UUID
		contributor string
		amount      string
		occurredAt  time.Time
	)
	if err := rows.Scan(&id, &contributor, &amount, &occurredAt); err != nil {
		return models.Contribution{}, fmt.Errorf("scan contribution event: %w", err)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return models.Contribution{}, fmt.Errorf("parse contribution amount %q: %w", amount, err)
	}
	return models.Contribution{
		ID:          id,
		Contributor: models.Principal(contributor),
		Amount:      value,
		Timestamp:   occurredAt.UTC(),
	}, nil
}
