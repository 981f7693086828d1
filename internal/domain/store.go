package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventJournal persists pipeline and connection events.
type EventJournal interface {
	RecordPipelineEvent(ctx context.Context, ev PipelineEvent) error
	RecordConnectionEvent(ctx context.Context, ev ConnectionEvent) error
}

// ExecutionRecord is one dispatched order as stored in the execution journal.
type ExecutionRecord struct {
	ID         string
	EventID    string
	Action     OrderAction
	Symbol     string
	Side       Side
	Volume     string
	StopLoss   string
	TakeProfit string
	Success    bool
	Ticket     int64
	Closed     []int64
	Error      string
	CreatedAt  time.Time
}

// ExecutionStore persists dispatched orders.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]ExecutionRecord, error)
}
