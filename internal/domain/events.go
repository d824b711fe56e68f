package domain

import "time"

// PositionUpdate is emitted every time the oracle reports fresh
// portfolio values for an active duel.
type PositionUpdate struct {
	DuelID        string
	CreatorValue  int64
	OpponentValue int64
	Timestamp     time.Time
}

// DuelSettled is emitted once per duel when settlement commits.
type DuelSettled struct {
	DuelID         string
	Winner         Winner
	CreatorPnLBps  int64
	OpponentPnLBps int64
	WinnerPayout   int64
	ProtocolFee    int64
}
