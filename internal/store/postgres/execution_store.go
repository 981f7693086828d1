package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Create inserts a dispatched order. Empty price fields are stored as NULL.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	closed := rec.Closed
	if closed == nil {
		closed = []int64{}
	}
	const query = `
		INSERT INTO executions (id, event_id, action, symbol, side, volume, stop_loss, take_profit, success, ticket, closed, error, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::numeric, NULLIF($7, '')::numeric, NULLIF($8, '')::numeric, $9, $10, $11, $12, COALESCE($13, NOW()))`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.EventID, string(rec.Action), rec.Symbol, string(rec.Side),
		rec.Volume, rec.StopLoss, rec.TakeProfit,
		rec.Success, rec.Ticket, closed, rec.Error, nullTime(rec),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns executions newest first with pagination and optional
// time filtering.
func (s *ExecutionStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	query := `
		SELECT id::text, event_id::text, action, symbol, side,
		       COALESCE(volume::text, ''), COALESCE(stop_loss::text, ''), COALESCE(take_profit::text, ''),
		       success, ticket, closed, error, created_at
		FROM executions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var recs []domain.ExecutionRecord
	for rows.Next() {
		var r domain.ExecutionRecord
		var action, side string
		if err := rows.Scan(
			&r.ID, &r.EventID, &action, &r.Symbol, &side,
			&r.Volume, &r.StopLoss, &r.TakeProfit,
			&r.Success, &r.Ticket, &r.Closed, &r.Error, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		r.Action = domain.OrderAction(action)
		r.Side = domain.Side(side)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate executions: %w", err)
	}
	return recs, nil
}

func nullTime(rec domain.ExecutionRecord) any {
	if rec.CreatedAt.IsZero() {
		return nil
	}
	return rec.CreatedAt
}
