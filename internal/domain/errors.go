package domain

import "errors"

// Rejection kinds. Every operation checks its guards before mutating
// anything, so a returned error always means "nothing happened".
var (
	ErrAlreadyInitialized = errors.New("protocol already initialized")
	ErrNotInitialized     = errors.New("protocol not initialized")
	ErrFeeOutOfRange      = errors.New("fee exceeds 10000 basis points")

	ErrInvalidStake    = errors.New("stake amount must be positive")
	ErrInvalidDuration = errors.New("duration must be positive")

	ErrInvalidStatus    = errors.New("invalid duel status for this operation")
	ErrAlreadyAccepted  = errors.New("duel has already been accepted")
	ErrSelfAccept       = errors.New("creator cannot accept own duel")
	ErrNotParticipant   = errors.New("not a participant in this duel")
	ErrAlreadyDeposited = errors.New("stake already deposited")
	ErrExpired          = errors.New("duel has expired")
	ErrNotYetExpired    = errors.New("duel has not expired yet")
	ErrCannotCancel     = errors.New("cannot cancel duel in current status")
	ErrUnauthorized     = errors.New("unauthorized action")

	ErrDuelNotFound      = errors.New("duel not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("arithmetic overflow")
)
