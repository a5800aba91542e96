package registry

import (
	"fmt"
	"math/big"

	"filamint/native/escrow"
)

// Registry is the deployment-wide factory record. Escrows capture the
// privileged identities and split parameters at creation; later changes only
// affect orders created afterwards.
type Registry struct {
	Address        [20]byte
	Owner          [20]byte
	FeeRecipient   [20]byte
	Arbiter        [20]byte
	ShippingOracle [20]byte
	MinOrderAmount *big.Int
	PremiumBps     uint32
	FeeBps         uint32
	// Nonce counts non-deterministic creations and feeds address derivation.
	Nonce uint64
	// Total is the number of escrows ever created, which is also the next
	// order id.
	Total uint64
}

// Clone returns a deep copy of the registry record.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	clone := *r
	if r.MinOrderAmount != nil {
		clone.MinOrderAmount = new(big.Int).Set(r.MinOrderAmount)
	} else {
		clone.MinOrderAmount = big.NewInt(0)
	}
	return &clone
}

// Validate checks the record is usable for creating orders.
func (r *Registry) Validate() error {
	if r == nil {
		return fmt.Errorf("nil registry")
	}
	if r.Address == ([20]byte{}) {
		return fmt.Errorf("registry address required")
	}
	if r.Owner == ([20]byte{}) {
		return fmt.Errorf("registry owner required")
	}
	if r.FeeRecipient == ([20]byte{}) {
		return fmt.Errorf("registry fee recipient required")
	}
	if r.Arbiter == ([20]byte{}) {
		return fmt.Errorf("registry arbiter required")
	}
	if r.MinOrderAmount != nil && r.MinOrderAmount.Sign() < 0 {
		return fmt.Errorf("minimum order amount must be non-negative")
	}
	if _, err := escrow.SplitDeposit(big.NewInt(1_000_000), r.PremiumBps, r.FeeBps); err != nil {
		return fmt.Errorf("invalid split parameters: %w", err)
	}
	return nil
}
