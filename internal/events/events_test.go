package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

type collector struct {
	mu   sync.Mutex
	pipe []domain.PipelineEvent
	conn []domain.ConnectionEvent
}

func (c *collector) PipelineEvent(_ context.Context, ev domain.PipelineEvent) {
	c.mu.Lock()
	c.pipe = append(c.pipe, ev)
	c.mu.Unlock()
}

func (c *collector) ConnectionEvent(_ context.Context, ev domain.ConnectionEvent) {
	c.mu.Lock()
	c.conn = append(c.conn, ev)
	c.mu.Unlock()
}

func (c *collector) pipelineCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pipe)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &collector{}, &collector{}
	m := Multi{a, Discard{}, b}
	m.PipelineEvent(context.Background(), domain.PipelineEvent{ID: "1"})
	m.ConnectionEvent(context.Background(), domain.ConnectionEvent{To: domain.StateConnected})

	assert.Len(t, a.pipe, 1)
	assert.Len(t, b.pipe, 1)
	assert.Len(t, a.conn, 1)
	assert.Len(t, b.conn, 1)
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	for _, o := range domain.Outcomes {
		sink.PipelineEvent(context.Background(), domain.PipelineEvent{ID: string(o), Outcome: o, Line: "x"})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(domain.Outcomes))
	want := []string{"DEBUG", "INFO", "WARN", "INFO", "ERROR", "INFO"}
	for i, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, want[i], rec["level"], line)
		assert.Equal(t, "pipeline", rec["component"])
		assert.Equal(t, string(domain.Outcomes[i]), rec["outcome"])
	}
}

func TestAsyncDeliversAndDrops(t *testing.T) {
	next := &collector{}
	a := NewAsync("test", next, 2, slog.New(slog.DiscardHandler))

	for i := 0; i < 5; i++ {
		a.PipelineEvent(context.Background(), domain.PipelineEvent{})
	}
	assert.Equal(t, int64(3), a.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return next.pipelineCount() == 2 }, time.Second, 5*time.Millisecond)

	a.ConnectionEvent(context.Background(), domain.ConnectionEvent{})
	cancel()
	<-done
	assert.Len(t, next.conn, 1)
}

func TestRecentRingBuffer(t *testing.T) {
	r := NewRecent(3)
	for i, o := range []domain.Outcome{
		domain.OutcomeNotASignal,
		domain.OutcomeDuplicate,
		domain.OutcomeDispatchSuccess,
		domain.OutcomeDispatchSuccess,
	} {
		r.PipelineEvent(context.Background(), domain.PipelineEvent{ID: string(rune('a' + i)), Outcome: o})
	}

	evs := r.Events(0)
	require.Len(t, evs, 3)
	assert.Equal(t, "d", evs[0].ID)
	assert.Equal(t, "b", evs[2].ID)
	assert.Len(t, r.Events(2), 2)

	counts := r.Counts()
	assert.Equal(t, int64(2), counts[domain.OutcomeDispatchSuccess])
	assert.Equal(t, int64(0), counts[domain.OutcomeControlDisabled])
	assert.Len(t, counts, len(domain.Outcomes))

	_, ok := r.LastConnection()
	assert.False(t, ok)
	r.ConnectionEvent(context.Background(), domain.ConnectionEvent{To: domain.StateConnected})
	last, ok := r.LastConnection()
	require.True(t, ok)
	assert.Equal(t, domain.StateConnected, last.To)
}

func TestRecentPartiallyFilled(t *testing.T) {
	r := NewRecent(5)
	r.PipelineEvent(context.Background(), domain.PipelineEvent{ID: "only"})
	evs := r.Events(10)
	require.Len(t, evs, 1)
	assert.Equal(t, "only", evs[0].ID)
}
