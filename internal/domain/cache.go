package domain

import (
	"context"
	"time"
)

// DedupWindow decides whether a signal key is accepted at time now and
// records the acceptance.
type DedupWindow interface {
	ShouldAccept(ctx context.Context, key DedupKey, now time.Time) (bool, error)
}

// EventStream publishes serialized events to a shared bus.
type EventStream interface {
	Append(ctx context.Context, stream string, payload []byte) error
	Publish(ctx context.Context, channel string, payload []byte) error
}
