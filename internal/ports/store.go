package ports

import (
	"context"

	"github.com/alexgmz/dueld/internal/domain"
)

// Store persists the protocol registry, duel records and balances.
type Store interface {
	// ExecTx runs fn against a single transaction. Every state-changing
	// operation on a duel goes through one ExecTx call, so fund movement,
	// status changes and registry updates commit or abort together.
	ExecTx(ctx context.Context, fn func(tx Tx) error) error

	// GetProtocol returns the registry singleton, or
	// domain.ErrNotInitialized if it was never created.
	GetProtocol(ctx context.Context) (*domain.Protocol, error)

	// GetDuel returns one duel by ID, or domain.ErrDuelNotFound.
	GetDuel(ctx context.Context, id string) (*domain.Duel, error)

	// ListDuels returns all duels, newest first.
	ListDuels(ctx context.Context) ([]domain.Duel, error)

	// AccountBalance returns an identity's external balance.
	AccountBalance(ctx context.Context, identity string) (int64, error)

	// Close releases the underlying database.
	Close() error
}

// Tx is the transactional view handed to ExecTx callbacks.
type Tx interface {
	GetProtocol() (*domain.Protocol, error)
	PutProtocol(p *domain.Protocol) error

	GetDuel(id string) (*domain.Duel, error)
	PutDuel(d *domain.Duel) error

	// Credit adds to an identity's external balance (account funding).
	Credit(identity string, amount int64) error

	Escrow
}
