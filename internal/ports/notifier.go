package ports

import (
	"context"

	"github.com/alexgmz/dueld/internal/domain"
)

// Notifier publishes protocol events after they commit.
type Notifier interface {
	// PositionUpdated announces fresh oracle valuations for a duel.
	PositionUpdated(ctx context.Context, ev domain.PositionUpdate) error

	// DuelSettled announces the outcome and money split of a settlement.
	DuelSettled(ctx context.Context, ev domain.DuelSettled) error
}
