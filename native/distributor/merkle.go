package distributor

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LeafHash computes the digest of a single allocation entry. The encoding is
// the 20-byte recipient immediately followed by the amount as a 32-byte
// big-endian unsigned integer; off-chain generators must match it exactly.
func LeafHash(recipient [20]byte, amount *big.Int) [32]byte {
	buf := make([]byte, 52)
	copy(buf[:20], recipient[:])
	if amount != nil && amount.Sign() > 0 {
		amount.FillBytes(buf[20:])
	}
	var leaf [32]byte
	copy(leaf[:], ethcrypto.Keccak256(buf))
	return leaf
}

// hashPair combines two digests in ascending byte order. The commutative
// pairing means proofs carry no position bits.
func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(a[:], b[:]))
	return out
}

// VerifyProof folds the sibling path over the leaf and compares the result
// against root. Digest equality is exact.
func VerifyProof(root, leaf [32]byte, proof [][32]byte) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

// Allocation is one row of an off-chain computed allocation table.
type Allocation struct {
	Recipient [20]byte
	Amount    *big.Int
}

// AllocationTree builds the sorted-pair merkle tree over an allocation table.
// It exists for the generator side of the protocol: operator tooling and
// tests use it to derive the cycle root and per-recipient proofs in the
// exact convention VerifyProof expects.
type AllocationTree struct {
	levels  [][][32]byte
	indexes map[[32]byte]int
}

// NewAllocationTree hashes and sorts the table's leaves and builds the tree.
// Odd nodes are promoted to the next level unpaired.
func NewAllocationTree(allocs []Allocation) (*AllocationTree, error) {
	if len(allocs) == 0 {
		return nil, fmt.Errorf("distributor: allocation table is empty")
	}
	leaves := make([][32]byte, 0, len(allocs))
	indexes := make(map[[32]byte]int, len(allocs))
	for _, alloc := range allocs {
		if alloc.Amount == nil || alloc.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("distributor: allocation for %x must be positive", alloc.Recipient)
		}
		leaves = append(leaves, LeafHash(alloc.Recipient, alloc.Amount))
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i][:], leaves[j][:]) < 0
	})
	for i, leaf := range leaves {
		if _, ok := indexes[leaf]; ok {
			return nil, fmt.Errorf("distributor: duplicate allocation leaf %x", leaf)
		}
		indexes[leaf] = i
	}
	levels := [][][32]byte{leaves}
	for len(levels[len(levels)-1]) > 1 {
		current := levels[len(levels)-1]
		next := make([][32]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, hashPair(current[i], current[i+1]))
			} else {
				next = append(next, current[i])
			}
		}
		levels = append(levels, next)
	}
	return &AllocationTree{levels: levels, indexes: indexes}, nil
}

// Root returns the tree's commitment digest.
func (t *AllocationTree) Root() [32]byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Prove returns the sibling path for the given allocation entry.
func (t *AllocationTree) Prove(recipient [20]byte, amount *big.Int) ([][32]byte, error) {
	leaf := LeafHash(recipient, amount)
	idx, ok := t.indexes[leaf]
	if !ok {
		return nil, fmt.Errorf("distributor: allocation not in tree")
	}
	proof := make([][32]byte, 0, len(t.levels))
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		idx /= 2
	}
	return proof, nil
}
