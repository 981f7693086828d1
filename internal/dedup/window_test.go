package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

var (
	t0      = time.Date(2024, time.June, 12, 9, 0, 0, 0, time.UTC)
	goldBuy = domain.DedupKey{Symbol: "XAUUSD", Kind: domain.SignalOpenLong}
)

func accept(t *testing.T, w *Window, key domain.DedupKey, at time.Time) bool {
	t.Helper()
	ok, err := w.ShouldAccept(context.Background(), key, at)
	require.NoError(t, err)
	return ok
}

func TestWindowMeasuredFromLastAccepted(t *testing.T) {
	w := NewWindow(180 * time.Second)

	assert.True(t, accept(t, w, goldBuy, t0))
	assert.False(t, accept(t, w, goldBuy, t0.Add(179*time.Second)))
	// The rejected duplicate at t=179 does not move the window.
	assert.True(t, accept(t, w, goldBuy, t0.Add(181*time.Second)))
	assert.False(t, accept(t, w, goldBuy, t0.Add(300*time.Second)))
	assert.True(t, accept(t, w, goldBuy, t0.Add(362*time.Second)))
}

func TestWindowExactThresholdIsDuplicate(t *testing.T) {
	w := NewWindow(180 * time.Second)
	assert.True(t, accept(t, w, goldBuy, t0))
	assert.False(t, accept(t, w, goldBuy, t0.Add(180*time.Second)))
	assert.True(t, accept(t, w, goldBuy, t0.Add(180*time.Second+time.Millisecond)))
}

func TestWindowKeysAreIndependent(t *testing.T) {
	w := NewWindow(180 * time.Second)
	goldSell := domain.DedupKey{Symbol: "XAUUSD", Kind: domain.SignalOpenShort}
	btcBuy := domain.DedupKey{Symbol: "BTCUSD", Kind: domain.SignalOpenLong}

	assert.True(t, accept(t, w, goldBuy, t0))
	assert.True(t, accept(t, w, goldSell, t0.Add(time.Second)))
	assert.True(t, accept(t, w, btcBuy, t0.Add(2*time.Second)))
	assert.False(t, accept(t, w, goldBuy, t0.Add(3*time.Second)))
}

func TestWindowConcurrentSameKeyAcceptsOnce(t *testing.T) {
	w := NewWindow(180 * time.Second)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := w.ShouldAccept(context.Background(), goldBuy, t0)
			if ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

func TestSweep(t *testing.T) {
	w := NewWindow(180 * time.Second)
	goldSell := domain.DedupKey{Symbol: "XAUUSD", Kind: domain.SignalOpenShort}

	accept(t, w, goldBuy, t0)
	accept(t, w, goldSell, t0.Add(190*time.Second))
	require.Equal(t, 2, w.Len())

	assert.Equal(t, 1, w.Sweep(t0.Add(200*time.Second)))
	assert.Equal(t, 1, w.Len())

	// Sweeping never changes decisions.
	assert.True(t, accept(t, w, goldBuy, t0.Add(201*time.Second)))
	assert.False(t, accept(t, w, goldSell, t0.Add(201*time.Second)))
}

func TestSweepKeepsEntriesForLaggingLines(t *testing.T) {
	w := NewWindow(180 * time.Second)
	accept(t, w, goldBuy, t0)

	// The wall clock has moved on while the next line, observed 30 s after
	// the acceptance, is still queued behind a blocked dispatch.
	assert.Zero(t, w.Sweep(t0.Add(200*time.Second)))
	assert.False(t, accept(t, w, goldBuy, t0.Add(30*time.Second)))
	assert.Equal(t, 1, w.Len())
}

func TestSweepBeforeAnyLine(t *testing.T) {
	assert.Zero(t, NewWindow(time.Second).Sweep(t0))
}

func TestRecord(t *testing.T) {
	w := NewWindow(180 * time.Second)

	w.Record(goldBuy, t0)
	assert.False(t, accept(t, w, goldBuy, t0.Add(179*time.Second)))
	assert.True(t, accept(t, w, goldBuy, t0.Add(181*time.Second)))

	// An older acceptance does not move the window back.
	w.Record(goldBuy, t0)
	assert.False(t, accept(t, w, goldBuy, t0.Add(200*time.Second)))
}

func TestNewWindowDefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewWindow(0).Threshold())
}
