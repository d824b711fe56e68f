package ports

// Escrow is the fund-holding capability: one isolated balance per duel.
// Both operations move money between a duel's escrow and an identity's
// external balance inside the enclosing transaction.
type Escrow interface {
	// Deposit pulls amount from the payer's balance into the duel's
	// escrow. Fails with domain.ErrInsufficientFunds.
	Deposit(duelID, payer string, amount int64) error

	// Disburse pays amount out of the duel's escrow to the recipient,
	// capped by the escrow's current balance.
	Disburse(duelID, recipient string, amount int64) error

	// EscrowBalance returns the duel's current escrowed amount.
	EscrowBalance(duelID string) (int64, error)
}
