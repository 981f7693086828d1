package domain

import "time"

// TradeControlState is a snapshot of the externally written trade control
// file. Snapshots are replaced, never modified.
type TradeControlState struct {
	Enabled   bool
	UpdatedAt time.Time
	Source    string
	ReadAt    time.Time
}
