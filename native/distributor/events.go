package distributor

import (
	"math/big"

	"cycledrop/core/events"
)

func newRootPublishedEvent(cycle uint64, root [32]byte, setter [20]byte) events.DistributorRootPublished {
	return events.DistributorRootPublished{
		Cycle:  cycle,
		Root:   root,
		Setter: setter,
	}
}

func newClaimedEvent(cycle uint64, recipient [20]byte, amount *big.Int) events.DistributorClaimed {
	return events.DistributorClaimed{
		Cycle:     cycle,
		Recipient: recipient,
		Amount:    cloneBigInt(amount),
	}
}
