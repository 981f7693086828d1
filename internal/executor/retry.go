// Package executor dispatches order requests to the trading terminal and
// owns connection recovery.
package executor

import "time"

// RetryPolicy bounds reconnect attempts during one outage.
type RetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration // fixed pause between attempts
	ConnectTimeout time.Duration // per attempt
}

// DefaultRetryPolicy is 10 attempts, 5 s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    10,
		Delay:          5 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Delay <= 0 {
		p.Delay = d.Delay
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = d.ConnectTimeout
	}
	return p
}

// Budget is the longest time a call can spend waiting between attempts.
func (p RetryPolicy) Budget() time.Duration {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(p.MaxAttempts-1) * p.Delay
}
