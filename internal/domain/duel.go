package domain

import "time"

// Status is the lifecycle stage of a duel. Transitions are strictly
// forward: Pending → Accepted → Active → Settled, or Pending → Cancelled.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusActive    Status = "ACTIVE"
	StatusSettled   Status = "SETTLED"
	StatusCancelled Status = "CANCELLED"
)

// Winner identifies the settlement outcome of a duel.
type Winner string

const (
	WinnerNone     Winner = "NONE"
	WinnerCreator  Winner = "CREATOR"
	WinnerOpponent Winner = "OPPONENT"
	WinnerDraw     Winner = "DRAW"
)

// Duel is one staked competition between two identities. Amounts are in
// integer base units of the settlement currency.
type Duel struct {
	ID          string
	Creator     string
	Opponent    string // empty until accepted
	StakeAmount int64
	CreatedAt   time.Time
	StartTime   time.Time // zero until active
	EndTime     time.Time // zero until active
	Duration    time.Duration
	Status      Status
	Winner      Winner

	CreatorDeposited  bool
	OpponentDeposited bool

	// AllowedTokens restricts which assets the parties may trade.
	// Informational: the duel stores it, the valuation feed enforces it.
	AllowedTokens []string

	CreatorStartValue  int64
	OpponentStartValue int64
	CreatorFinalValue  int64
	OpponentFinalValue int64
}

// NewDuel creates a pending duel challenge.
func NewDuel(id, creator string, stake int64, duration time.Duration, allowedTokens []string, now time.Time) (*Duel, error) {
	if stake <= 0 {
		return nil, ErrInvalidStake
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	return &Duel{
		ID:            id,
		Creator:       creator,
		StakeAmount:   stake,
		CreatedAt:     now,
		Duration:      duration,
		Status:        StatusPending,
		Winner:        WinnerNone,
		AllowedTokens: allowedTokens,
	}, nil
}

// IsParticipant reports whether the identity is a party to the duel.
func (d *Duel) IsParticipant(identity string) bool {
	return identity == d.Creator || (d.Opponent != "" && identity == d.Opponent)
}

// Terminal reports whether no further operation may alter the duel.
func (d *Duel) Terminal() bool {
	return d.Status == StatusSettled || d.Status == StatusCancelled
}

// Accept sets the opponent and moves the duel to Accepted.
func (d *Duel) Accept(opponent string) error {
	if d.Status != StatusPending {
		return ErrInvalidStatus
	}
	if d.Opponent != "" {
		return ErrAlreadyAccepted
	}
	if opponent == d.Creator {
		return ErrSelfAccept
	}
	d.Opponent = opponent
	d.Status = StatusAccepted
	return nil
}

// Cancel withdraws a pending challenge. Only the creator may cancel.
func (d *Duel) Cancel(caller string) error {
	if d.Status != StatusPending {
		return ErrCannotCancel
	}
	if caller != d.Creator {
		return ErrUnauthorized
	}
	d.Status = StatusCancelled
	return nil
}

// MarkDeposited flags the depositor's stake as escrowed and reports
// whether both stakes are now in. A repeated deposit is an error rather
// than a silent no-op so the caller is never double-charged.
func (d *Duel) MarkDeposited(depositor string) (both bool, err error) {
	if d.Status != StatusAccepted {
		return false, ErrInvalidStatus
	}
	switch depositor {
	case d.Creator:
		if d.CreatorDeposited {
			return false, ErrAlreadyDeposited
		}
		d.CreatorDeposited = true
	case d.Opponent:
		if d.OpponentDeposited {
			return false, ErrAlreadyDeposited
		}
		d.OpponentDeposited = true
	default:
		return false, ErrNotParticipant
	}
	return d.CreatorDeposited && d.OpponentDeposited, nil
}

// Activate starts the trading window. Starting values are snapshotted to
// the stake amount; a true initial-portfolio snapshot would come from the
// valuation feed.
func (d *Duel) Activate(now time.Time) {
	d.Status = StatusActive
	d.StartTime = now
	d.EndTime = now.Add(d.Duration)
	d.CreatorStartValue = d.StakeAmount
	d.OpponentStartValue = d.StakeAmount
}

// RecordValues overwrites both final portfolio values while the trading
// window is open. Last write wins.
func (d *Duel) RecordValues(creatorValue, opponentValue int64, now time.Time) error {
	if d.Status != StatusActive {
		return ErrInvalidStatus
	}
	if now.After(d.EndTime) {
		return ErrExpired
	}
	d.CreatorFinalValue = creatorValue
	d.OpponentFinalValue = opponentValue
	return nil
}
