package distributor

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"cycledrop/core/events"
	"cycledrop/native/token"
)

type mockState struct {
	roots       map[uint64][32]byte
	claims      map[string]bool
	cycleTotals map[uint64]*big.Int
	total       *big.Int

	failSetCycleTotal   bool
	failSetTotalClaimed bool
}

func newMockState() *mockState {
	return &mockState{
		roots:       make(map[uint64][32]byte),
		claims:      make(map[string]bool),
		cycleTotals: make(map[uint64]*big.Int),
		total:       big.NewInt(0),
	}
}

func claimKey(cycle uint64, recipient [20]byte) string {
	return fmt.Sprintf("%d/%x", cycle, recipient)
}

func (m *mockState) Root(cycle uint64) ([32]byte, bool, error) {
	root, ok := m.roots[cycle]
	return root, ok, nil
}

func (m *mockState) SetRoot(cycle uint64, root [32]byte) error {
	m.roots[cycle] = root
	return nil
}

func (m *mockState) Claimed(cycle uint64, recipient [20]byte) (bool, error) {
	return m.claims[claimKey(cycle, recipient)], nil
}

func (m *mockState) SetClaimed(cycle uint64, recipient [20]byte, claimed bool) error {
	m.claims[claimKey(cycle, recipient)] = claimed
	return nil
}

func (m *mockState) CycleTotal(cycle uint64) (*big.Int, error) {
	if total, ok := m.cycleTotals[cycle]; ok {
		return new(big.Int).Set(total), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) SetCycleTotal(cycle uint64, total *big.Int) error {
	if m.failSetCycleTotal {
		return fmt.Errorf("injected cycle total failure")
	}
	m.cycleTotals[cycle] = new(big.Int).Set(total)
	return nil
}

func (m *mockState) TotalClaimed() (*big.Int, error) {
	return new(big.Int).Set(m.total), nil
}

func (m *mockState) SetTotalClaimed(total *big.Int) error {
	if m.failSetTotalClaimed {
		return fmt.Errorf("injected total claimed failure")
	}
	m.total = new(big.Int).Set(total)
	return nil
}

// hookLedger wraps the in-memory token so tests can fail or intercept the
// payout call.
type hookLedger struct {
	inner          *token.Token
	beforeTransfer func(from, to [20]byte, amount *big.Int) error
}

func (h *hookLedger) BalanceOf(addr [20]byte) *big.Int {
	return h.inner.BalanceOf(addr)
}

func (h *hookLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	if h.beforeTransfer != nil {
		if err := h.beforeTransfer(from, to, amount); err != nil {
			return err
		}
	}
	return h.inner.Transfer(from, to, amount)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func tokens(n int64) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), unit)
}

type harness struct {
	engine   *Engine
	state    *mockState
	ledger   *hookLedger
	recorder *events.Recorder
	now      int64
	cfg      ProgramConfig
}

func (h *harness) advanceTo(t int64) { h.now = t }

// newHarness builds an engine over a 60-day cycle program starting an hour
// from the real clock, funded with the full pool in the vault.
func newHarness(t *testing.T, pool *big.Int) *harness {
	t.Helper()
	start := time.Now().Unix() + 3600
	cfg := ProgramConfig{
		RootAuthority: newTestAddress(0xA1),
		Vault:         newTestAddress(0xB2),
		Start:         start,
		CycleDuration: 60 * 86400,
		TotalPool:     pool,
	}
	state := newMockState()
	tok, err := token.New("Cycledrop Token", "DROP", 18, cfg.Vault, pool)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	ledger := &hookLedger{inner: tok}
	engine, err := NewEngine(cfg, state, ledger)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h := &harness{engine: engine, state: state, ledger: ledger, recorder: &events.Recorder{}, now: start, cfg: cfg}
	engine.SetEmitter(h.recorder)
	engine.SetNowFunc(func() int64 { return h.now })
	return h
}

func (h *harness) day(n int64) int64 { return h.cfg.Start + n*86400 }

func TestEngineConfigValidation(t *testing.T) {
	now := time.Now().Unix()
	base := ProgramConfig{
		RootAuthority: newTestAddress(0x01),
		Vault:         newTestAddress(0x02),
		Start:         now + 3600,
		CycleDuration: 86400,
		TotalPool:     tokens(100_000),
	}
	cases := []struct {
		name   string
		mutate func(*ProgramConfig)
		want   error
	}{
		{"missing authority", func(c *ProgramConfig) { c.RootAuthority = [20]byte{} }, ErrNilAuthority},
		{"missing vault", func(c *ProgramConfig) { c.Vault = [20]byte{} }, ErrNilVault},
		{"start in the past", func(c *ProgramConfig) { c.Start = now - 1 }, ErrStartNotFuture},
		{"zero duration", func(c *ProgramConfig) { c.CycleDuration = 0 }, ErrInvalidDuration},
		{"pool at floor", func(c *ProgramConfig) { c.TotalPool = MinRemaining() }, ErrPoolBelowFloor},
		{"nil pool", func(c *ProgramConfig) { c.TotalPool = nil }, ErrPoolBelowFloor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(now); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if err := base.Validate(now); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestSetMerkleRootWindowAndAuthority(t *testing.T) {
	h := newHarness(t, tokens(1_000_000))
	root := [32]byte{0x01}

	h.advanceTo(h.cfg.Start - 10)
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, root); !errors.Is(err, ErrCycleNotStarted) {
		t.Fatalf("expected ErrCycleNotStarted, got %v", err)
	}

	h.advanceTo(h.day(1))
	if err := h.engine.SetMerkleRoot(newTestAddress(0xEE), 0, root); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, [32]byte{}); !errors.Is(err, ErrEmptyRoot) {
		t.Fatalf("expected ErrEmptyRoot, got %v", err)
	}
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, root); err != nil {
		t.Fatalf("set root: %v", err)
	}
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, [32]byte{0x02}); !errors.Is(err, ErrRootExists) {
		t.Fatalf("expected ErrRootExists, got %v", err)
	}

	// Cycle 1: accepted exactly at the grace deadline, rejected beyond it.
	h.advanceTo(h.cfg.RootDeadline(1))
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 1, root); err != nil {
		t.Fatalf("set root at deadline: %v", err)
	}
	h.advanceTo(h.cfg.RootDeadline(2) + 1)
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 2, root); !errors.Is(err, ErrRootWindowClosed) {
		t.Fatalf("expected ErrRootWindowClosed, got %v", err)
	}

	if len(h.recorder.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(h.recorder.Events))
	}
	published, ok := h.recorder.Events[0].(events.DistributorRootPublished)
	if !ok {
		t.Fatalf("unexpected event type %T", h.recorder.Events[0])
	}
	if published.Cycle != 0 || published.Root != root || published.Setter != h.cfg.RootAuthority {
		t.Fatalf("unexpected event payload %+v", published)
	}
}

func TestClaimLifecycle(t *testing.T) {
	h := newHarness(t, tokens(1_000_000))
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x22)

	tree, err := NewAllocationTree([]Allocation{
		{Recipient: alice, Amount: tokens(100)},
		{Recipient: bob, Amount: tokens(250)},
	})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	h.advanceTo(h.day(1))
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, tree.Root()); err != nil {
		t.Fatalf("set root: %v", err)
	}

	proof, err := tree.Prove(alice, tokens(100))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	h.advanceTo(h.day(2))
	if err := h.engine.Claim(alice, 0, tokens(100), proof); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if total, _ := h.engine.TotalClaimed(); total.Cmp(tokens(100)) != 0 {
		t.Fatalf("total claimed = %s, want %s", total, tokens(100))
	}
	if cycleTotal, _ := h.engine.CycleTotal(0); cycleTotal.Cmp(tokens(100)) != 0 {
		t.Fatalf("cycle total = %s, want %s", cycleTotal, tokens(100))
	}
	if claimed, _ := h.engine.HasClaimed(0, alice); !claimed {
		t.Fatal("claim flag not set")
	}
	if bal := h.ledger.BalanceOf(alice); bal.Cmp(tokens(100)) != 0 {
		t.Fatalf("alice balance = %s, want %s", bal, tokens(100))
	}
	wantVault := new(big.Int).Sub(tokens(1_000_000), tokens(100))
	if bal := h.engine.Balance(); bal.Cmp(wantVault) != 0 {
		t.Fatalf("vault balance = %s, want %s", bal, wantVault)
	}

	// Second attempt is a state-conflict no-op regardless of proof validity.
	if err := h.engine.Claim(alice, 0, tokens(100), proof); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if total, _ := h.engine.TotalClaimed(); total.Cmp(tokens(100)) != 0 {
		t.Fatalf("total claimed moved on rejected claim: %s", total)
	}

	claimEvents := 0
	for _, evt := range h.recorder.Events {
		if claimed, ok := evt.(events.DistributorClaimed); ok {
			claimEvents++
			if claimed.Recipient != alice || claimed.Amount.Cmp(tokens(100)) != 0 {
				t.Fatalf("unexpected claim event %+v", claimed)
			}
		}
	}
	if claimEvents != 1 {
		t.Fatalf("expected exactly one claim event, got %d", claimEvents)
	}
}

func TestClaimPreconditions(t *testing.T) {
	h := newHarness(t, tokens(1_000_000))
	alice := newTestAddress(0x11)

	if err := h.engine.Claim(alice, 0, big.NewInt(0), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := h.engine.Claim(alice, 0, tokens(1), nil); !errors.Is(err, ErrRootNotSet) {
		t.Fatalf("expected ErrRootNotSet, got %v", err)
	}

	tree, err := NewAllocationTree([]Allocation{
		{Recipient: alice, Amount: tokens(100)},
		{Recipient: newTestAddress(0x22), Amount: tokens(1)},
	})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	h.advanceTo(h.day(1))
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, tree.Root()); err != nil {
		t.Fatalf("set root: %v", err)
	}
	proof, err := tree.Prove(alice, tokens(100))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	// Altered amount must fail proof verification.
	if err := h.engine.Claim(alice, 0, tokens(101), proof); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
	// Another recipient replaying Alice's proof must fail.
	if err := h.engine.Claim(newTestAddress(0x33), 0, tokens(100), proof); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof for replay, got %v", err)
	}

	// Claim accepted exactly at the deadline, rejected a day later with a
	// still-unclaimed valid proof.
	h.advanceTo(h.cfg.ClaimDeadline(0))
	if err := h.engine.Claim(alice, 0, tokens(100), proof); err != nil {
		t.Fatalf("claim at deadline: %v", err)
	}
	bobProof, err := tree.Prove(newTestAddress(0x22), tokens(1))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	h.advanceTo(h.cfg.CycleEnd(0) + 61*86400)
	if err := h.engine.Claim(newTestAddress(0x22), 0, tokens(1), bobProof); !errors.Is(err, ErrClaimWindowClosed) {
		t.Fatalf("expected ErrClaimWindowClosed, got %v", err)
	}
}

func TestClaimProtectedFloor(t *testing.T) {
	// Pool leaves exactly 70 base units of headroom above the floor.
	pool := new(big.Int).Add(MinRemaining(), big.NewInt(70))
	h := newHarness(t, pool)
	alice := newTestAddress(0x11)
	bob := newTestAddress(0x22)
	carol := newTestAddress(0x33)

	tree, err := NewAllocationTree([]Allocation{
		{Recipient: alice, Amount: big.NewInt(40)},
		{Recipient: bob, Amount: big.NewInt(40)},
		{Recipient: carol, Amount: big.NewInt(30)},
	})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	h.advanceTo(h.day(1))
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, tree.Root()); err != nil {
		t.Fatalf("set root: %v", err)
	}

	mustProve := func(addr [20]byte, amount *big.Int) [][32]byte {
		t.Helper()
		proof, err := tree.Prove(addr, amount)
		if err != nil {
			t.Fatalf("prove: %v", err)
		}
		return proof
	}

	if err := h.engine.Claim(alice, 0, big.NewInt(40), mustProve(alice, big.NewInt(40))); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if distributable, _ := h.engine.RemainingDistributable(); distributable.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("distributable = %s, want 30", distributable)
	}

	// 40 > 30 left above the floor: rejected despite the valid proof.
	if err := h.engine.Claim(bob, 0, big.NewInt(40), mustProve(bob, big.NewInt(40))); !errors.Is(err, ErrExceedsDistributable) {
		t.Fatalf("expected ErrExceedsDistributable, got %v", err)
	}
	if err := h.engine.Claim(carol, 0, big.NewInt(30), mustProve(carol, big.NewInt(30))); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if distributable, _ := h.engine.RemainingDistributable(); distributable.Sign() != 0 {
		t.Fatalf("distributable = %s, want 0", distributable)
	}
	exhausted, err := h.engine.Exhausted()
	if err != nil {
		t.Fatalf("exhausted: %v", err)
	}
	if !exhausted {
		t.Fatal("program should be exhausted at the floor")
	}
	if err := h.engine.Claim(bob, 0, big.NewInt(40), mustProve(bob, big.NewInt(40))); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	// The floor itself stays in the pool and in the vault.
	if remaining, _ := h.engine.RemainingPool(); remaining.Cmp(MinRemaining()) != 0 {
		t.Fatalf("remaining pool = %s, want the protected floor", remaining)
	}
}

func TestClaimVaultUnderfunded(t *testing.T) {
	h := newHarness(t, tokens(1_000_000))
	alice := newTestAddress(0x11)

	tree, err := NewAllocationTree([]Allocation{
		{Recipient: alice, Amount: tokens(100)},
		{Recipient: newTestAddress(0x22), Amount: tokens(1)},
	})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	h.advanceTo(h.day(1))
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, tree.Root()); err != nil {
		t.Fatalf("set root: %v", err)
	}
	proof, err := tree.Prove(alice, tokens(100))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	// Drain the vault below the claim amount.
	if err := h.ledger.inner.Transfer(h.cfg.Vault, newTestAddress(0xDD), new(big.Int).Sub(tokens(1_000_000), tokens(50))); err != nil {
		t.Fatalf("drain vault: %v", err)
	}
	if err := h.engine.Claim(alice, 0, tokens(100), proof); !errors.Is(err, ErrInsufficientVault) {
		t.Fatalf("expected ErrInsufficientVault, got %v", err)
	}
	if claimed, _ := h.engine.HasClaimed(0, alice); claimed {
		t.Fatal("claim flag set despite rejection")
	}
}

func TestClaimTransferFailureUnwinds(t *testing.T) {
	h := newHarness(t, tokens(1_000_000))
	alice := newTestAddress(0x11)

	tree, err := NewAllocationTree([]Allocation{
		{Recipient: alice, Amount: tokens(100)},
		{Recipient: newTestAddress(0x22), Amount: tokens(1)},
	})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	h.advanceTo(h.day(1))
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, tree.Root()); err != nil {
		t.Fatalf("set root: %v", err)
	}
	proof, err := tree.Prove(alice, tokens(100))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	transferErr := fmt.Errorf("token halted")
	h.ledger.beforeTransfer = func(from, to [20]byte, amount *big.Int) error {
		return transferErr
	}
	if err := h.engine.Claim(alice, 0, tokens(100), proof); !errors.Is(err, transferErr) {
		t.Fatalf("expected wrapped transfer failure, got %v", err)
	}
	if claimed, _ := h.engine.HasClaimed(0, alice); claimed {
		t.Fatal("claim flag survived failed payout")
	}
	if total, _ := h.engine.TotalClaimed(); total.Sign() != 0 {
		t.Fatalf("total claimed = %s after failed payout", total)
	}
	if cycleTotal, _ := h.engine.CycleTotal(0); cycleTotal.Sign() != 0 {
		t.Fatalf("cycle total = %s after failed payout", cycleTotal)
	}

	// Retrying the identical claim after the fault clears must succeed.
	h.ledger.beforeTransfer = nil
	if err := h.engine.Claim(alice, 0, tokens(100), proof); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if total, _ := h.engine.TotalClaimed(); total.Cmp(tokens(100)) != 0 {
		t.Fatalf("total claimed = %s, want %s", total, tokens(100))
	}
}

func TestClaimReentrancyRejected(t *testing.T) {
	h := newHarness(t, tokens(1_000_000))
	alice := newTestAddress(0x11)

	tree, err := NewAllocationTree([]Allocation{
		{Recipient: alice, Amount: tokens(100)},
		{Recipient: newTestAddress(0x22), Amount: tokens(1)},
	})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	h.advanceTo(h.day(1))
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, tree.Root()); err != nil {
		t.Fatalf("set root: %v", err)
	}
	proof, err := tree.Prove(alice, tokens(100))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	var nestedErr error
	h.ledger.beforeTransfer = func(from, to [20]byte, amount *big.Int) error {
		// A token calling back into the distributor mid-payout.
		nestedErr = h.engine.Claim(alice, 0, tokens(100), proof)
		return nil
	}
	if err := h.engine.Claim(alice, 0, tokens(100), proof); err != nil {
		t.Fatalf("outer claim: %v", err)
	}
	if !errors.Is(nestedErr, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall from nested call, got %v", nestedErr)
	}
	if total, _ := h.engine.TotalClaimed(); total.Cmp(tokens(100)) != 0 {
		t.Fatalf("total claimed = %s, want exactly one settlement", total)
	}
}

func TestClaimStateWriteFailureUnwinds(t *testing.T) {
	h := newHarness(t, tokens(1_000_000))
	alice := newTestAddress(0x11)

	tree, err := NewAllocationTree([]Allocation{
		{Recipient: alice, Amount: tokens(100)},
		{Recipient: newTestAddress(0x22), Amount: tokens(1)},
	})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	h.advanceTo(h.day(1))
	if err := h.engine.SetMerkleRoot(h.cfg.RootAuthority, 0, tree.Root()); err != nil {
		t.Fatalf("set root: %v", err)
	}
	proof, err := tree.Prove(alice, tokens(100))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}

	h.state.failSetTotalClaimed = true
	if err := h.engine.Claim(alice, 0, tokens(100), proof); err == nil {
		t.Fatal("expected failure from injected state fault")
	}
	if claimed, _ := h.engine.HasClaimed(0, alice); claimed {
		t.Fatal("claim flag survived failed ledger write")
	}
	if cycleTotal, _ := h.engine.CycleTotal(0); cycleTotal.Sign() != 0 {
		t.Fatalf("cycle total = %s after failed ledger write", cycleTotal)
	}

	h.state.failSetTotalClaimed = false
	if err := h.engine.Claim(alice, 0, tokens(100), proof); err != nil {
		t.Fatalf("retry claim: %v", err)
	}
}
