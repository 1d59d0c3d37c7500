package distributor

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"cycledrop/core/events"
	"cycledrop/native/token"
	"cycledrop/observability/metrics"
)

// State is the persistence surface the engine mutates. Root commitments and
// claim flags are write-once per key; the engine enforces that with presence
// checks, the store is a plain keyed value layer.
type State interface {
	Root(cycle uint64) ([32]byte, bool, error)
	SetRoot(cycle uint64, root [32]byte) error
	Claimed(cycle uint64, recipient [20]byte) (bool, error)
	SetClaimed(cycle uint64, recipient [20]byte, claimed bool) error
	CycleTotal(cycle uint64) (*big.Int, error)
	SetCycleTotal(cycle uint64, total *big.Int) error
	TotalClaimed() (*big.Int, error)
	SetTotalClaimed(total *big.Int) error
}

// Engine orders the distribution program's state transitions: root
// commitment, proof-gated claims and the pool ledger.
type Engine struct {
	cfg     ProgramConfig
	state   State
	token   token.Ledger
	emitter events.Emitter
	nowFn   func() int64

	rootMu   sync.Mutex
	claiming atomic.Bool
}

// NewEngine validates the program definition and wires the engine. The
// emitter defaults to a no-op implementation.
func NewEngine(cfg ProgramConfig, state State, ledger token.Ledger) (*Engine, error) {
	if state == nil {
		return nil, ErrNilState
	}
	if ledger == nil {
		return nil, ErrNilToken
	}
	if err := cfg.Validate(time.Now().Unix()); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     ProgramConfig{RootAuthority: cfg.RootAuthority, Vault: cfg.Vault, Start: cfg.Start, CycleDuration: cfg.CycleDuration, TotalPool: cloneBigInt(cfg.TotalPool)},
		state:   state,
		token:   ledger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// Config returns a copy of the program definition.
func (e *Engine) Config() ProgramConfig {
	cfg := e.cfg
	cfg.TotalPool = cloneBigInt(e.cfg.TotalPool)
	return cfg
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine's time source. Primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// SetMerkleRoot commits the allocation table root for a cycle. The root is
// write-once and may only be set between the cycle's start and the end of
// its grace window.
func (e *Engine) SetMerkleRoot(caller [20]byte, cycle uint64, root [32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.rootMu.Lock()
	defer e.rootMu.Unlock()

	if caller != e.cfg.RootAuthority {
		return ErrUnauthorized
	}
	if root == ([32]byte{}) {
		return ErrEmptyRoot
	}
	if _, ok, err := e.state.Root(cycle); err != nil {
		return fmt.Errorf("distributor: load root: %w", err)
	} else if ok {
		return ErrRootExists
	}
	now := e.now()
	if now < e.cfg.CycleStart(cycle) {
		return ErrCycleNotStarted
	}
	if now > e.cfg.RootDeadline(cycle) {
		return ErrRootWindowClosed
	}
	if err := e.state.SetRoot(cycle, root); err != nil {
		return fmt.Errorf("distributor: store root: %w", err)
	}
	e.emit(newRootPublishedEvent(cycle, root, caller))
	metrics.Distributor().ObserveRootPublished()
	return nil
}

// Claim settles a reward for the caller against a committed cycle root. The
// ledger writes commit before the token payout; a reentrant or overlapping
// invocation is rejected by the in-flight guard.
func (e *Engine) Claim(caller [20]byte, cycle uint64, amount *big.Int, proof [][32]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.token == nil {
		return ErrNilToken
	}
	if !e.claiming.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.claiming.Store(false)

	if err := e.claimLocked(caller, cycle, amount, proof); err != nil {
		metrics.Distributor().ObserveClaimRejected(ReasonLabel(err))
		return err
	}
	return nil
}

func (e *Engine) claimLocked(caller [20]byte, cycle uint64, amount *big.Int, proof [][32]byte) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	claimed, err := e.state.Claimed(cycle, caller)
	if err != nil {
		return fmt.Errorf("distributor: load claim flag: %w", err)
	}
	if claimed {
		return ErrAlreadyClaimed
	}
	root, ok, err := e.state.Root(cycle)
	if err != nil {
		return fmt.Errorf("distributor: load root: %w", err)
	}
	if !ok || root == ([32]byte{}) {
		return ErrRootNotSet
	}
	if e.now() > e.cfg.ClaimDeadline(cycle) {
		return ErrClaimWindowClosed
	}
	total, err := e.state.TotalClaimed()
	if err != nil {
		return fmt.Errorf("distributor: load total claimed: %w", err)
	}
	distributable := remainingDistributable(e.cfg.TotalPool, total)
	if distributable.Sign() <= 0 {
		return ErrPoolExhausted
	}
	if amt.Cmp(distributable) > 0 {
		return ErrExceedsDistributable
	}
	if !VerifyProof(root, LeafHash(caller, amt), proof) {
		return ErrInvalidProof
	}
	newTotal := new(big.Int).Add(total, amt)
	if newTotal.Cmp(e.cfg.TotalPool) > 0 {
		return ErrPoolCeiling
	}
	if e.token.BalanceOf(e.cfg.Vault).Cmp(amt) < 0 {
		return ErrInsufficientVault
	}

	cycleTotal, err := e.state.CycleTotal(cycle)
	if err != nil {
		return fmt.Errorf("distributor: load cycle total: %w", err)
	}

	// Effects commit before the external payout. Any failure from here on
	// unwinds the writes already applied so the operation stays atomic.
	if err := e.state.SetClaimed(cycle, caller, true); err != nil {
		return fmt.Errorf("distributor: mark claimed: %w", err)
	}
	if err := e.state.SetCycleTotal(cycle, new(big.Int).Add(cycleTotal, amt)); err != nil {
		e.unwindClaim(cycle, caller, nil, nil)
		return fmt.Errorf("distributor: update cycle total: %w", err)
	}
	if err := e.state.SetTotalClaimed(newTotal); err != nil {
		e.unwindClaim(cycle, caller, cycleTotal, nil)
		return fmt.Errorf("distributor: update total claimed: %w", err)
	}
	if err := e.token.Transfer(e.cfg.Vault, caller, amt); err != nil {
		e.unwindClaim(cycle, caller, cycleTotal, total)
		return fmt.Errorf("distributor: payout failed: %w", err)
	}

	e.emit(newClaimedEvent(cycle, caller, amt))
	metrics.Distributor().ObserveClaimSettled(amt, remainingDistributable(e.cfg.TotalPool, newTotal))
	return nil
}

// unwindClaim restores the snapshot values taken before a claim's effects
// were applied. Nil arguments mean the corresponding write never happened.
func (e *Engine) unwindClaim(cycle uint64, recipient [20]byte, cycleTotal, total *big.Int) {
	_ = e.state.SetClaimed(cycle, recipient, false)
	if cycleTotal != nil {
		_ = e.state.SetCycleTotal(cycle, cycleTotal)
	}
	if total != nil {
		_ = e.state.SetTotalClaimed(total)
	}
}

// CurrentCycle derives the cycle index from the engine's clock.
func (e *Engine) CurrentCycle() uint64 {
	return e.cfg.CycleAt(e.now())
}

// CycleStart returns the cycle's start instant.
func (e *Engine) CycleStart(cycle uint64) int64 { return e.cfg.CycleStart(cycle) }

// CycleEnd returns the cycle's end instant.
func (e *Engine) CycleEnd(cycle uint64) int64 { return e.cfg.CycleEnd(cycle) }

// PlannedEnd returns the nominal program end instant.
func (e *Engine) PlannedEnd() int64 { return e.cfg.PlannedEnd() }

// MerkleRoot returns the committed root for a cycle, if any.
func (e *Engine) MerkleRoot(cycle uint64) ([32]byte, bool, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, false, ErrNilState
	}
	return e.state.Root(cycle)
}

// HasClaimed reports whether the (cycle, recipient) pair has been settled.
func (e *Engine) HasClaimed(cycle uint64, recipient [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.state.Claimed(cycle, recipient)
}

// CycleTotal returns the cumulative amount claimed within a cycle.
func (e *Engine) CycleTotal(cycle uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.CycleTotal(cycle)
}

// TotalClaimed returns the program-wide cumulative claimed amount.
func (e *Engine) TotalClaimed() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.TotalClaimed()
}

// RemainingPool returns the headroom left under the pool ceiling.
func (e *Engine) RemainingPool() (*big.Int, error) {
	total, err := e.TotalClaimed()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(e.cfg.TotalPool, total), nil
}

// RemainingDistributable returns the amount still claimable before the
// protected floor is reached.
func (e *Engine) RemainingDistributable() (*big.Int, error) {
	total, err := e.TotalClaimed()
	if err != nil {
		return nil, err
	}
	return remainingDistributable(e.cfg.TotalPool, total), nil
}

// Exhausted reports whether claims are shut down for lack of distributable
// pool.
func (e *Engine) Exhausted() (bool, error) {
	distributable, err := e.RemainingDistributable()
	if err != nil {
		return false, err
	}
	return distributable.Sign() <= 0, nil
}

// Balance returns the vault's current token balance.
func (e *Engine) Balance() *big.Int {
	if e == nil || e.token == nil {
		return big.NewInt(0)
	}
	return e.token.BalanceOf(e.cfg.Vault)
}

func remainingDistributable(pool, total *big.Int) *big.Int {
	remaining := new(big.Int).Sub(pool, total)
	remaining.Sub(remaining, MinRemaining())
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
