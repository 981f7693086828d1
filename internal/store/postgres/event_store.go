package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// EventStore implements domain.EventJournal using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// eventDetail is stored as JSONB next to the flat columns.
type eventDetail struct {
	Signal  *domain.Signal       `json:"signal,omitempty"`
	Request *domain.OrderRequest `json:"request,omitempty"`
	Result  *domain.OrderOutcome `json:"result,omitempty"`
}

// RecordPipelineEvent inserts one processed line. Recording the same event
// twice is a no-op.
func (s *EventStore) RecordPipelineEvent(ctx context.Context, ev domain.PipelineEvent) error {
	detailJSON, err := json.Marshal(eventDetail{Signal: ev.Signal, Request: ev.Request, Result: ev.Result})
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}
	var symbol, kind string
	if ev.Signal != nil {
		symbol = ev.Signal.Symbol
		kind = string(ev.Signal.Kind)
	}

	const query = `
		INSERT INTO pipeline_events (id, outcome, stage, line, source, symbol, kind, reason, detail, observed_at, completed_at, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		ev.ID, string(ev.Outcome), string(ev.Stage), ev.Line, ev.Source,
		symbol, kind, ev.Reason, detailJSON,
		ev.ObservedAt, ev.CompletedAt, float64(ev.Latency.Microseconds())/1000,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert pipeline event %s: %w", ev.ID, err)
	}
	return nil
}

// RecordConnectionEvent appends one connection state transition.
func (s *EventStore) RecordConnectionEvent(ctx context.Context, ev domain.ConnectionEvent) error {
	const query = `INSERT INTO connection_events (from_state, to_state, attempt, error, at) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query, string(ev.From), string(ev.To), ev.Attempt, ev.Error, ev.At)
	if err != nil {
		return fmt.Errorf("postgres: insert connection event: %w", err)
	}
	return nil
}

// CountByOutcome returns how many events were recorded per outcome since
// the given time.
func (s *EventStore) CountByOutcome(ctx context.Context, opts domain.ListOpts) (map[domain.Outcome]int64, error) {
	query := `SELECT outcome, COUNT(*) FROM pipeline_events WHERE 1=1`
	args := []any{}
	argIdx := 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND observed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
	}
	query += " GROUP BY outcome"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: count events: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Outcome]int64, len(domain.Outcomes))
	for _, o := range domain.Outcomes {
		out[o] = 0
	}
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan event count: %w", err)
		}
		out[domain.Outcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate event counts: %w", err)
	}
	return out, nil
}
