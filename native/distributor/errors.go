package distributor

import "errors"

var (
	// Configuration errors.
	ErrNilState        = errors.New("distributor: state not configured")
	ErrNilToken        = errors.New("distributor: token ledger not configured")
	ErrNilAuthority    = errors.New("distributor: root authority not configured")
	ErrNilVault        = errors.New("distributor: vault address not configured")
	ErrStartNotFuture  = errors.New("distributor: program start must be in the future")
	ErrInvalidDuration = errors.New("distributor: cycle duration must be positive")
	ErrPoolBelowFloor  = errors.New("distributor: total pool must exceed the protected floor")

	// Root commitment errors.
	ErrUnauthorized     = errors.New("distributor: caller is not the root authority")
	ErrEmptyRoot        = errors.New("distributor: merkle root must not be empty")
	ErrRootExists       = errors.New("distributor: root already set for cycle")
	ErrCycleNotStarted  = errors.New("distributor: cycle has not started")
	ErrRootWindowClosed = errors.New("distributor: root submission window closed")

	// Claim errors.
	ErrInvalidAmount        = errors.New("distributor: amount must be positive")
	ErrAlreadyClaimed       = errors.New("distributor: reward already claimed")
	ErrRootNotSet           = errors.New("distributor: no root committed for cycle")
	ErrClaimWindowClosed    = errors.New("distributor: claim window closed")
	ErrPoolExhausted        = errors.New("distributor: distributable pool exhausted")
	ErrExceedsDistributable = errors.New("distributor: amount exceeds remaining distributable")
	ErrInvalidProof         = errors.New("distributor: merkle proof verification failed")
	ErrPoolCeiling          = errors.New("distributor: claim would exceed the total pool")
	ErrInsufficientVault    = errors.New("distributor: vault balance below claim amount")

	// ErrReentrantCall aborts a nested or overlapping claim invocation.
	ErrReentrantCall = errors.New("distributor: claim already in flight")
)

// ReasonLabel maps a claim failure to a stable machine-readable label used
// by metrics and the RPC error surface.
func ReasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrRootNotSet):
		return "root_not_set"
	case errors.Is(err, ErrClaimWindowClosed):
		return "window_closed"
	case errors.Is(err, ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, ErrExceedsDistributable):
		return "exceeds_distributable"
	case errors.Is(err, ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, ErrPoolCeiling):
		return "pool_ceiling"
	case errors.Is(err, ErrInsufficientVault):
		return "vault_underfunded"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	default:
		return "internal"
	}
}
