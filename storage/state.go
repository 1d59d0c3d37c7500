package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// Key prefixes for the distributor's persisted records. Every record is
// write-once or monotonic, so no deletion path exists.
var (
	prefixRoot       = []byte("distributor/root/")
	prefixClaim      = []byte("distributor/claim/")
	prefixCycleTotal = []byte("distributor/cycletotal/")
	keyTotalClaimed  = []byte("distributor/totalclaimed")
)

// DistributorState persists cycle roots, claim flags and the pool ledger on
// a Database. It implements the distributor engine's State interface.
type DistributorState struct {
	db Database
}

// NewDistributorState wraps the given backend.
func NewDistributorState(db Database) (*DistributorState, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: database required")
	}
	return &DistributorState{db: db}, nil
}

func rootKey(cycle uint64) []byte {
	return appendUint64(append([]byte(nil), prefixRoot...), cycle)
}

func claimKey(cycle uint64, recipient [20]byte) []byte {
	key := appendUint64(append([]byte(nil), prefixClaim...), cycle)
	return append(key, recipient[:]...)
}

func cycleTotalKey(cycle uint64) []byte {
	return appendUint64(append([]byte(nil), prefixCycleTotal...), cycle)
}

func appendUint64(key []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(key, buf[:]...)
}

// Root returns the committed root for the cycle, if any.
func (s *DistributorState) Root(cycle uint64) ([32]byte, bool, error) {
	var root [32]byte
	value, err := s.db.Get(rootKey(cycle))
	if errors.Is(err, ErrNotFound) {
		return root, false, nil
	}
	if err != nil {
		return root, false, err
	}
	if len(value) != len(root) {
		return root, false, fmt.Errorf("storage: malformed root record for cycle %d", cycle)
	}
	copy(root[:], value)
	return root, true, nil
}

// SetRoot stores the cycle's root digest.
func (s *DistributorState) SetRoot(cycle uint64, root [32]byte) error {
	return s.db.Put(rootKey(cycle), root[:])
}

// Claimed reports the claim flag for the (cycle, recipient) pair.
func (s *DistributorState) Claimed(cycle uint64, recipient [20]byte) (bool, error) {
	value, err := s.db.Get(claimKey(cycle, recipient))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(value) == 1 && value[0] == 1, nil
}

// SetClaimed writes the claim flag for the (cycle, recipient) pair.
func (s *DistributorState) SetClaimed(cycle uint64, recipient [20]byte, claimed bool) error {
	value := []byte{0}
	if claimed {
		value[0] = 1
	}
	return s.db.Put(claimKey(cycle, recipient), value)
}

// CycleTotal returns the cumulative amount claimed within the cycle.
func (s *DistributorState) CycleTotal(cycle uint64) (*big.Int, error) {
	return s.loadAmount(cycleTotalKey(cycle))
}

// SetCycleTotal stores the cycle's cumulative claimed amount.
func (s *DistributorState) SetCycleTotal(cycle uint64, total *big.Int) error {
	return s.storeAmount(cycleTotalKey(cycle), total)
}

// TotalClaimed returns the program-wide cumulative claimed amount.
func (s *DistributorState) TotalClaimed() (*big.Int, error) {
	return s.loadAmount(keyTotalClaimed)
}

// SetTotalClaimed stores the program-wide cumulative claimed amount.
func (s *DistributorState) SetTotalClaimed(total *big.Int) error {
	return s.storeAmount(keyTotalClaimed, total)
}

func (s *DistributorState) loadAmount(key []byte) (*big.Int, error) {
	value, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(value), nil
}

func (s *DistributorState) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: amount must be non-negative")
	}
	return s.db.Put(key, amount.Bytes())
}
