package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidOrder = errors.New("invalid order parameters")
	ErrRejected     = errors.New("rejected by terminal")

	// ErrNotConnected means the request never left the process. Callers may
	// reconnect and send it again.
	ErrNotConnected = errors.New("terminal not connected")

	// ErrConnectionLost means the connection dropped after the request was
	// sent; whether the terminal acted on it is unknown.
	ErrConnectionLost = errors.New("terminal connection lost")

	// ErrOutage is returned once the reconnect budget is exhausted.
	ErrOutage = errors.New("terminal outage: reconnect attempts exhausted")

	ErrClosed = errors.New("closed")
)
