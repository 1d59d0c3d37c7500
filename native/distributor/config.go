package distributor

import (
	"math/big"
)

const (
	// ClaimWindowSeconds is how long after a cycle ends its claims stay open.
	ClaimWindowSeconds int64 = 60 * 86400
	// RootWindowSeconds is the grace period after a cycle ends during which
	// the root authority may still commit that cycle's root.
	RootWindowSeconds int64 = 14 * 86400
	// NominalDurationSeconds is the advertised program length. It is not
	// enforced: the program keeps running until the pool is exhausted down
	// to the protected floor.
	NominalDurationSeconds int64 = 3650 * 86400
)

// MinRemaining is the protected floor: a permanent reserve the distributor
// never releases through claims. 50,000 whole tokens at 18 decimals.
func MinRemaining() *big.Int {
	floor := new(big.Int).SetUint64(50_000)
	return floor.Mul(floor, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// ProgramConfig is the immutable distribution program definition.
type ProgramConfig struct {
	// RootAuthority is the only identity allowed to commit cycle roots.
	RootAuthority [20]byte
	// Vault is the address whose token balance funds payouts.
	Vault [20]byte
	// Start is the unix timestamp at which cycle 0 begins. Must be strictly
	// in the future at configuration time.
	Start int64
	// CycleDuration is the fixed cycle length in seconds.
	CycleDuration int64
	// TotalPool is the program-wide ceiling on cumulative claimed value.
	TotalPool *big.Int
}

// Validate checks the configuration against the given wall-clock reading.
func (c ProgramConfig) Validate(now int64) error {
	if c.RootAuthority == ([20]byte{}) {
		return ErrNilAuthority
	}
	if c.Vault == ([20]byte{}) {
		return ErrNilVault
	}
	if c.Start <= now {
		return ErrStartNotFuture
	}
	if c.CycleDuration <= 0 {
		return ErrInvalidDuration
	}
	if c.TotalPool == nil || c.TotalPool.Cmp(MinRemaining()) <= 0 {
		return ErrPoolBelowFloor
	}
	return nil
}

// PlannedEnd returns the nominal program end instant. Informational only.
func (c ProgramConfig) PlannedEnd() int64 {
	return c.Start + NominalDurationSeconds
}
