package token

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrInvalidSupply       = errors.New("token: initial supply must be positive")
	ErrInvalidHolder       = errors.New("token: initial holder required")
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

// Ledger is the narrow transfer surface the distributor depends on. Concrete
// implementations may be an in-process token or an adapter to an external
// asset ledger; the distributor only ever queries balances and moves value.
type Ledger interface {
	BalanceOf(addr [20]byte) *big.Int
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Token is an in-memory fungible asset ledger. The full supply is minted to a
// single holder at construction and no further issuance path exists.
type Token struct {
	name     string
	symbol   string
	decimals uint8

	mu       sync.RWMutex
	balances map[[20]byte]*big.Int
	supply   *big.Int
}

// New mints the entire supply to holder and returns the ledger.
func New(name, symbol string, decimals uint8, holder [20]byte, supply *big.Int) (*Token, error) {
	if holder == ([20]byte{}) {
		return nil, ErrInvalidHolder
	}
	if supply == nil || supply.Sign() <= 0 {
		return nil, ErrInvalidSupply
	}
	t := &Token{
		name:     strings.TrimSpace(name),
		symbol:   strings.TrimSpace(symbol),
		decimals: decimals,
		balances: make(map[[20]byte]*big.Int),
		supply:   new(big.Int).Set(supply),
	}
	t.balances[holder] = new(big.Int).Set(supply)
	return t, nil
}

// Name returns the token name.
func (t *Token) Name() string { return t.name }

// Symbol returns the token symbol.
func (t *Token) Symbol() string { return t.symbol }

// Decimals returns the number of fractional digits in the base unit.
func (t *Token) Decimals() uint8 { return t.decimals }

// TotalSupply returns the fixed supply minted at construction.
func (t *Token) TotalSupply() *big.Int {
	return new(big.Int).Set(t.supply)
}

// BalanceOf returns the balance held by addr.
func (t *Token) BalanceOf(addr [20]byte) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bal, ok := t.balances[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// Transfer moves amount from one holder to another.
func (t *Token) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fromBal, ok := t.balances[from]
	if !ok || fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, ok := t.balances[to]
	if !ok {
		toBal = big.NewInt(0)
	}
	t.balances[from] = new(big.Int).Sub(fromBal, amount)
	t.balances[to] = new(big.Int).Add(toBal, amount)
	return nil
}
