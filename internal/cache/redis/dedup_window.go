package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/alertbridge/internal/domain"
)

// acceptLua accepts a key when it has no previous acceptance or the previous
// one is more than the threshold older than now, and records now on accept.
// Rejections leave the stored time untouched.
//
// KEYS[1] = dedup key
// ARGV[1] = now (unix ms), ARGV[2] = threshold (ms), ARGV[3] = ttl (ms)
const acceptLua = `
local last = redis.call('GET', KEYS[1])
if last and (tonumber(ARGV[1]) - tonumber(last)) <= tonumber(ARGV[2]) then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`

// DedupWindow implements domain.DedupWindow on Redis so that several bridge
// processes watching the same alerts share one window. The check and the
// write run as one script, which serializes callers per key.
type DedupWindow struct {
	rdb       *redis.Client
	script    *redis.Script
	prefix    string
	threshold time.Duration
}

// NewDedupWindow creates a window with the given key prefix and threshold.
func NewDedupWindow(c *Client, prefix string, threshold time.Duration) *DedupWindow {
	if threshold <= 0 {
		threshold = 180 * time.Second
	}
	return &DedupWindow{
		rdb:       c.Underlying(),
		script:    redis.NewScript(acceptLua),
		prefix:    prefix,
		threshold: threshold,
	}
}

func (w *DedupWindow) key(k domain.DedupKey) string {
	return w.prefix + k.String()
}

// ShouldAccept implements domain.DedupWindow.
func (w *DedupWindow) ShouldAccept(ctx context.Context, key domain.DedupKey, now time.Time) (bool, error) {
	// Entries expire once they can no longer cause a rejection.
	ttl := 2 * w.threshold
	res, err := w.script.Run(ctx, w.rdb,
		[]string{w.key(key)},
		now.UnixMilli(), w.threshold.Milliseconds(), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: dedup %s: %w", key, err)
	}
	return res == 1, nil
}
