package domain

import (
	"math"
	"time"
)

// PnLBps returns the profit-and-loss of a portfolio in signed basis
// points: ((final − starting) × 10000) / starting. A zero starting value
// yields zero rather than a division error.
func PnLBps(starting, final int64) (int64, error) {
	if starting == 0 {
		return 0, nil
	}
	delta, err := checkedSub(final, starting)
	if err != nil {
		return 0, err
	}
	scaled, err := checkedMul(delta, MaxFeeBps)
	if err != nil {
		return 0, err
	}
	return scaled / starting, nil
}

// DetermineWinner applies the strict-compare winner rule.
func DetermineWinner(creatorPnL, opponentPnL int64) Winner {
	switch {
	case creatorPnL > opponentPnL:
		return WinnerCreator
	case opponentPnL > creatorPnL:
		return WinnerOpponent
	default:
		return WinnerDraw
	}
}

// Payouts is the settlement money split for one duel.
//
// Non-draw: WinnerPayout goes to the single winner and ProtocolFee to the
// treasury. Draw: each party gets DrawRefund = stake − floor(fee/2) and the
// treasury gets DrawFee. An odd fee cannot split evenly, so DrawFee drops
// the odd unit (fee forgone, never minted) and the escrow still reaches
// exactly zero: 2×DrawRefund + DrawFee = TotalStake.
type Payouts struct {
	TotalStake   int64
	ProtocolFee  int64
	WinnerPayout int64
	DrawRefund   int64
	DrawFee      int64
}

// ComputePayouts derives the fee and payout amounts for a duel with the
// given per-party stake and fee rate.
func ComputePayouts(stake int64, feeBps uint16) (Payouts, error) {
	if stake <= 0 {
		return Payouts{}, ErrInvalidStake
	}
	if feeBps > MaxFeeBps {
		return Payouts{}, ErrFeeOutOfRange
	}

	total, err := checkedMul(stake, 2)
	if err != nil {
		return Payouts{}, err
	}
	feeNum, err := checkedMul(total, int64(feeBps))
	if err != nil {
		return Payouts{}, err
	}
	fee := feeNum / MaxFeeBps

	refund := stake - fee/2
	return Payouts{
		TotalStake:   total,
		ProtocolFee:  fee,
		WinnerPayout: total - fee,
		DrawRefund:   refund,
		DrawFee:      total - 2*refund,
	}, nil
}

// CanSettle checks the settlement guards without mutating the duel.
func (d *Duel) CanSettle(now time.Time) error {
	if d.Status != StatusActive {
		return ErrInvalidStatus
	}
	if now.Before(d.EndTime) {
		return ErrNotYetExpired
	}
	return nil
}

// Settle marks the duel settled with the given outcome.
func (d *Duel) Settle(winner Winner) {
	d.Status = StatusSettled
	d.Winner = winner
}

// checkedAdd, checkedSub and checkedMul reject int64 overflow instead of
// wrapping; stakes are caller-supplied and must not corrupt the ledger.

func checkedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func checkedSub(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

func checkedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/b != a {
		return 0, ErrOverflow
	}
	return prod, nil
}
