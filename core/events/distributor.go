package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"cycledrop/core/types"
)

const (
	// TypeDistributorRootPublished is emitted when a cycle's merkle root is
	// committed by the root authority.
	TypeDistributorRootPublished = "distributor.root_published"
	// TypeDistributorClaimed is emitted after a claim has been fully settled,
	// including the token payout.
	TypeDistributorClaimed = "distributor.claimed"
)

// DistributorRootPublished captures a committed cycle root.
type DistributorRootPublished struct {
	Cycle  uint64
	Root   [32]byte
	Setter [20]byte
}

func (DistributorRootPublished) EventType() string { return TypeDistributorRootPublished }

// Event converts the payload into the generic event representation.
func (e DistributorRootPublished) Event() *types.Event {
	return &types.Event{
		Type: TypeDistributorRootPublished,
		Attributes: map[string]string{
			"cycle":  strconv.FormatUint(e.Cycle, 10),
			"root":   "0x" + hex.EncodeToString(e.Root[:]),
			"setter": formatAddress(e.Setter),
		},
	}
}

// DistributorClaimed captures a settled reward claim.
type DistributorClaimed struct {
	Cycle     uint64
	Recipient [20]byte
	Amount    *big.Int
}

func (DistributorClaimed) EventType() string { return TypeDistributorClaimed }

// Event converts the payload into the generic event representation.
func (e DistributorClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeDistributorClaimed,
		Attributes: map[string]string{
			"cycle":     strconv.FormatUint(e.Cycle, 10),
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
		},
	}
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
