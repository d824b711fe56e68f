// Package duel orchestrates the duel lifecycle: every operation loads the
// records inside one store transaction, applies the domain guards, moves
// funds through the escrow capability and commits — or aborts with no
// partial effect.
package duel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexgmz/dueld/internal/domain"
	"github.com/alexgmz/dueld/internal/ports"
	"github.com/google/uuid"
)

// Service implements the protocol operation surface.
type Service struct {
	store    ports.Store
	notifier ports.Notifier
	clock    ports.Clock
}

// New wires the service to its collaborators.
func New(store ports.Store, notifier ports.Notifier, clock ports.Clock) *Service {
	if clock == nil {
		clock = systemClock{}
	}
	return &Service{store: store, notifier: notifier, clock: clock}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Initialize creates the protocol registry singleton. Fails with
// domain.ErrAlreadyInitialized on a second call.
func (s *Service) Initialize(ctx context.Context, authority, treasury, oracle string, feeBps uint16) (*domain.Protocol, error) {
	p, err := domain.NewProtocol(authority, treasury, oracle, feeBps)
	if err != nil {
		return nil, fmt.Errorf("duel.Initialize: %w", err)
	}

	err = s.store.ExecTx(ctx, func(tx ports.Tx) error {
		if _, err := tx.GetProtocol(); err == nil {
			return domain.ErrAlreadyInitialized
		} else if !errors.Is(err, domain.ErrNotInitialized) {
			return err
		}
		return tx.PutProtocol(p)
	})
	if err != nil {
		return nil, fmt.Errorf("duel.Initialize: %w", err)
	}

	slog.Info("protocol initialized", "fee_bps", feeBps, "treasury", treasury, "oracle", oracle)
	return p, nil
}

// Fund credits an identity's external balance so it can stake. Stands in
// for the host ledger's native funding path.
func (s *Service) Fund(ctx context.Context, identity string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("duel.Fund: %w", domain.ErrInvalidStake)
	}
	err := s.store.ExecTx(ctx, func(tx ports.Tx) error {
		return tx.Credit(identity, amount)
	})
	if err != nil {
		return fmt.Errorf("duel.Fund: %w", err)
	}
	return nil
}

// CreateDuel opens a pending challenge and bumps the registry counter in
// the same transaction.
func (s *Service) CreateDuel(ctx context.Context, creator string, stake int64, duration time.Duration, allowedTokens []string) (*domain.Duel, error) {
	d, err := domain.NewDuel(uuid.New().String(), creator, stake, duration, allowedTokens, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("duel.CreateDuel: %w", err)
	}

	err = s.store.ExecTx(ctx, func(tx ports.Tx) error {
		p, err := tx.GetProtocol()
		if err != nil {
			return err
		}
		p.RecordDuelCreated()
		if err := tx.PutProtocol(p); err != nil {
			return err
		}
		return tx.PutDuel(d)
	})
	if err != nil {
		return nil, fmt.Errorf("duel.CreateDuel: %w", err)
	}

	slog.Info("duel created", "duel", d.ID, "creator", creator, "stake", stake, "duration", duration)
	return d, nil
}

// AcceptDuel sets the opponent on a pending duel.
func (s *Service) AcceptDuel(ctx context.Context, id, opponent string) (*domain.Duel, error) {
	var d *domain.Duel
	err := s.store.ExecTx(ctx, func(tx ports.Tx) error {
		var err error
		if d, err = tx.GetDuel(id); err != nil {
			return err
		}
		if err := d.Accept(opponent); err != nil {
			return err
		}
		return tx.PutDuel(d)
	})
	if err != nil {
		return nil, fmt.Errorf("duel.AcceptDuel: %s: %w", id, err)
	}

	slog.Info("duel accepted", "duel", id, "opponent", opponent)
	return d, nil
}

// CancelDuel withdraws a pending challenge; creator only.
func (s *Service) CancelDuel(ctx context.Context, id, caller string) error {
	err := s.store.ExecTx(ctx, func(tx ports.Tx) error {
		d, err := tx.GetDuel(id)
		if err != nil {
			return err
		}
		if err := d.Cancel(caller); err != nil {
			return err
		}
		return tx.PutDuel(d)
	})
	if err != nil {
		return fmt.Errorf("duel.CancelDuel: %s: %w", id, err)
	}

	slog.Info("duel cancelled", "duel", id)
	return nil
}

// DepositStake pulls exactly the stake amount from the depositor into the
// duel's escrow. The second deposit flips the duel to Active and stamps
// the trading window.
func (s *Service) DepositStake(ctx context.Context, id, depositor string) (*domain.Duel, error) {
	var d *domain.Duel
	err := s.store.ExecTx(ctx, func(tx ports.Tx) error {
		var err error
		if d, err = tx.GetDuel(id); err != nil {
			return err
		}
		both, err := d.MarkDeposited(depositor)
		if err != nil {
			return err
		}
		if err := tx.Deposit(d.ID, depositor, d.StakeAmount); err != nil {
			return err
		}
		if both {
			d.Activate(s.clock.Now())
		}
		return tx.PutDuel(d)
	})
	if err != nil {
		return nil, fmt.Errorf("duel.DepositStake: %s: %w", id, err)
	}

	if d.Status == domain.StatusActive {
		slog.Info("duel active", "duel", id, "start", d.StartTime, "end", d.EndTime)
	} else {
		slog.Info("stake deposited", "duel", id, "depositor", depositor, "amount", d.StakeAmount)
	}
	return d, nil
}

// UpdatePositions records fresh portfolio valuations from the oracle.
// Only the registry's oracle identity may call it, and only while the
// trading window is open.
func (s *Service) UpdatePositions(ctx context.Context, id, caller string, creatorValue, opponentValue int64) error {
	now := s.clock.Now()
	err := s.store.ExecTx(ctx, func(tx ports.Tx) error {
		p, err := tx.GetProtocol()
		if err != nil {
			return err
		}
		if caller != p.Oracle {
			return domain.ErrUnauthorized
		}
		d, err := tx.GetDuel(id)
		if err != nil {
			return err
		}
		if err := d.RecordValues(creatorValue, opponentValue, now); err != nil {
			return err
		}
		return tx.PutDuel(d)
	})
	if err != nil {
		return fmt.Errorf("duel.UpdatePositions: %s: %w", id, err)
	}

	if s.notifier != nil {
		ev := domain.PositionUpdate{
			DuelID:        id,
			CreatorValue:  creatorValue,
			OpponentValue: opponentValue,
			Timestamp:     now,
		}
		if err := s.notifier.PositionUpdated(ctx, ev); err != nil {
			slog.Warn("position update notification failed", "duel", id, "err", err)
		}
	}
	return nil
}

// SettleDuel computes PnL, determines the winner and disburses the
// escrow. Anyone may trigger it once the window has elapsed. Disbursement,
// status flip and registry volume commit as one transaction.
func (s *Service) SettleDuel(ctx context.Context, id string) (*domain.DuelSettled, error) {
	now := s.clock.Now()
	var ev domain.DuelSettled

	err := s.store.ExecTx(ctx, func(tx ports.Tx) error {
		p, err := tx.GetProtocol()
		if err != nil {
			return err
		}
		d, err := tx.GetDuel(id)
		if err != nil {
			return err
		}
		if err := d.CanSettle(now); err != nil {
			return err
		}

		creatorPnL, err := domain.PnLBps(d.CreatorStartValue, d.CreatorFinalValue)
		if err != nil {
			return err
		}
		opponentPnL, err := domain.PnLBps(d.OpponentStartValue, d.OpponentFinalValue)
		if err != nil {
			return err
		}
		winner := domain.DetermineWinner(creatorPnL, opponentPnL)

		payouts, err := domain.ComputePayouts(d.StakeAmount, p.FeeBps)
		if err != nil {
			return err
		}

		fee := payouts.ProtocolFee
		if winner == domain.WinnerDraw {
			fee = payouts.DrawFee
			if err := tx.Disburse(d.ID, d.Creator, payouts.DrawRefund); err != nil {
				return err
			}
			if err := tx.Disburse(d.ID, d.Opponent, payouts.DrawRefund); err != nil {
				return err
			}
		} else {
			recipient := d.Creator
			if winner == domain.WinnerOpponent {
				recipient = d.Opponent
			}
			if err := tx.Disburse(d.ID, recipient, payouts.WinnerPayout); err != nil {
				return err
			}
		}
		if err := tx.Disburse(d.ID, p.Treasury, fee); err != nil {
			return err
		}

		d.Settle(winner)
		if err := tx.PutDuel(d); err != nil {
			return err
		}

		if err := p.RecordSettlement(payouts.TotalStake); err != nil {
			return err
		}
		if err := tx.PutProtocol(p); err != nil {
			return err
		}

		ev = domain.DuelSettled{
			DuelID:         d.ID,
			Winner:         winner,
			CreatorPnLBps:  creatorPnL,
			OpponentPnLBps: opponentPnL,
			WinnerPayout:   payouts.WinnerPayout,
			ProtocolFee:    fee,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("duel.SettleDuel: %s: %w", id, err)
	}

	slog.Info("duel settled",
		"duel", id,
		"winner", ev.Winner,
		"creator_pnl_bps", ev.CreatorPnLBps,
		"opponent_pnl_bps", ev.OpponentPnLBps,
		"payout", ev.WinnerPayout,
		"fee", ev.ProtocolFee,
	)

	if s.notifier != nil {
		if err := s.notifier.DuelSettled(ctx, ev); err != nil {
			slog.Warn("settlement notification failed", "duel", id, "err", err)
		}
	}
	return &ev, nil
}

// GetDuel returns one duel by ID.
func (s *Service) GetDuel(ctx context.Context, id string) (*domain.Duel, error) {
	d, err := s.store.GetDuel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("duel.GetDuel: %s: %w", id, err)
	}
	return d, nil
}

// ListDuels returns every duel, newest first.
func (s *Service) ListDuels(ctx context.Context) ([]domain.Duel, error) {
	duels, err := s.store.ListDuels(ctx)
	if err != nil {
		return nil, fmt.Errorf("duel.ListDuels: %w", err)
	}
	return duels, nil
}

// GetProtocol returns the registry singleton.
func (s *Service) GetProtocol(ctx context.Context) (*domain.Protocol, error) {
	p, err := s.store.GetProtocol(ctx)
	if err != nil {
		return nil, fmt.Errorf("duel.GetProtocol: %w", err)
	}
	return p, nil
}

// Balance returns an identity's external balance.
func (s *Service) Balance(ctx context.Context, identity string) (int64, error) {
	balance, err := s.store.AccountBalance(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("duel.Balance: %w", err)
	}
	return balance, nil
}
