package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"filamint/native/escrow"
	"filamint/native/registry"
)

var (
	escrowPrefix      = []byte("escrow:")
	escrowIndexPrefix = []byte("escrow-index:")
	registryKey       = prefixedKey([]byte("registry"))
)

// escrowRecord is the persisted form of escrow.Escrow. Timestamps are stored
// unsigned because RLP has no signed integers.
type escrowRecord struct {
	Address      [20]byte
	Registry     [20]byte
	OrderID      uint64
	Buyer        [20]byte
	Seller       [20]byte
	Arbiter      [20]byte
	FeeRecipient [20]byte
	Oracle       [20]byte
	ContentHash  [32]byte
	Salt         [32]byte
	Deposit      *big.Int
	OrderAmount  *big.Int
	GasCushion   *big.Int
	FeeAmount    *big.Int
	GasUsed      *big.Int
	CreatedAt    uint64
	ClaimedAt    uint64
	ShippedAt    uint64
	ArrivedAt    uint64
	DisputeAt    uint64
	ReviewAt     uint64
	ClosedAt     uint64
	Round        uint8
	OfferPercent uint8
	OfferAt      uint64
	OfferedBy    [20]byte
	Status       uint8
	PaidBuyer    *big.Int
	PaidSeller   *big.Int
	PaidFee      *big.Int
}

func escrowKey(addr [20]byte) []byte {
	return prefixedKey(escrowPrefix, addr[:])
}

func escrowIndexKey(index uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return prefixedKey(escrowIndexPrefix, buf[:])
}

func toRecordTime(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func newEscrowRecord(e *escrow.Escrow) *escrowRecord {
	return &escrowRecord{
		Address:      e.Address,
		Registry:     e.Registry,
		OrderID:      e.OrderID,
		Buyer:        e.Buyer,
		Seller:       e.Seller,
		Arbiter:      e.Arbiter,
		FeeRecipient: e.FeeRecipient,
		Oracle:       e.Oracle,
		ContentHash:  e.ContentHash,
		Salt:         e.Salt,
		Deposit:      e.Deposit,
		OrderAmount:  e.OrderAmount,
		GasCushion:   e.GasCushion,
		FeeAmount:    e.FeeAmount,
		GasUsed:      e.GasUsed,
		CreatedAt:    toRecordTime(e.CreatedAt),
		ClaimedAt:    toRecordTime(e.ClaimedAt),
		ShippedAt:    toRecordTime(e.ShippedAt),
		ArrivedAt:    toRecordTime(e.ArrivedAt),
		DisputeAt:    toRecordTime(e.DisputeOpenedAt),
		ReviewAt:     toRecordTime(e.ReviewStartedAt),
		ClosedAt:     toRecordTime(e.ClosedAt),
		Round:        e.DisputeRound,
		OfferPercent: e.LastOffer.BuyerPercent,
		OfferAt:      toRecordTime(e.LastOffer.Timestamp),
		OfferedBy:    e.LastOffer.OfferedBy,
		Status:       uint8(e.Status),
		PaidBuyer:    e.Paid.Buyer,
		PaidSeller:   e.Paid.Seller,
		PaidFee:      e.Paid.FeeRecipient,
	}
}

func (r *escrowRecord) escrow() *escrow.Escrow {
	return &escrow.Escrow{
		Address:         r.Address,
		Registry:        r.Registry,
		OrderID:         r.OrderID,
		Buyer:           r.Buyer,
		Seller:          r.Seller,
		Arbiter:         r.Arbiter,
		FeeRecipient:    r.FeeRecipient,
		Oracle:          r.Oracle,
		ContentHash:     r.ContentHash,
		Salt:            r.Salt,
		Deposit:         r.Deposit,
		OrderAmount:     r.OrderAmount,
		GasCushion:      r.GasCushion,
		FeeAmount:       r.FeeAmount,
		GasUsed:         r.GasUsed,
		CreatedAt:       int64(r.CreatedAt),
		ClaimedAt:       int64(r.ClaimedAt),
		ShippedAt:       int64(r.ShippedAt),
		ArrivedAt:       int64(r.ArrivedAt),
		DisputeOpenedAt: int64(r.DisputeAt),
		ReviewStartedAt: int64(r.ReviewAt),
		ClosedAt:        int64(r.ClosedAt),
		DisputeRound:    r.Round,
		LastOffer: escrow.Offer{
			BuyerPercent: r.OfferPercent,
			Timestamp:    int64(r.OfferAt),
			OfferedBy:    r.OfferedBy,
		},
		Status: escrow.Status(r.Status),
		Paid: escrow.Payouts{
			Buyer:        r.PaidBuyer,
			Seller:       r.PaidSeller,
			FeeRecipient: r.PaidFee,
		},
	}
}

// EscrowPut validates and stores e under its address.
func (tx *Tx) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	return tx.kvPut(escrowKey(sanitized.Address), newEscrowRecord(sanitized))
}

// EscrowGet loads the escrow stored at addr.
func (tx *Tx) EscrowGet(addr [20]byte) (*escrow.Escrow, bool, error) {
	var record escrowRecord
	ok, err := tx.kvGet(escrowKey(addr), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	sanitized, err := escrow.SanitizeEscrow(record.escrow())
	if err != nil {
		return nil, false, fmt.Errorf("state: corrupt escrow %x: %w", addr, err)
	}
	return sanitized, true, nil
}

// EscrowIndexPut records addr as the escrow created at position index.
func (tx *Tx) EscrowIndexPut(index uint64, addr [20]byte) error {
	return tx.kvPut(escrowIndexKey(index), addr)
}

// EscrowIndexGet returns the escrow created at position index.
func (tx *Tx) EscrowIndexGet(index uint64) ([20]byte, bool, error) {
	var addr [20]byte
	ok, err := tx.kvGet(escrowIndexKey(index), &addr)
	return addr, ok, err
}

type registryRecord struct {
	Address        [20]byte
	Owner          [20]byte
	FeeRecipient   [20]byte
	Arbiter        [20]byte
	ShippingOracle [20]byte
	MinOrderAmount *big.Int
	PremiumBps     uint32
	FeeBps         uint32
	Nonce          uint64
	Total          uint64
}

// RegistryPut stores the deployment registry record.
func (tx *Tx) RegistryPut(r *registry.Registry) error {
	if r == nil {
		return fmt.Errorf("nil registry")
	}
	clone := r.Clone()
	return tx.kvPut(registryKey, &registryRecord{
		Address:        clone.Address,
		Owner:          clone.Owner,
		FeeRecipient:   clone.FeeRecipient,
		Arbiter:        clone.Arbiter,
		ShippingOracle: clone.ShippingOracle,
		MinOrderAmount: clone.MinOrderAmount,
		PremiumBps:     clone.PremiumBps,
		FeeBps:         clone.FeeBps,
		Nonce:          clone.Nonce,
		Total:          clone.Total,
	})
}

// RegistryGet loads the deployment registry record.
func (tx *Tx) RegistryGet() (*registry.Registry, bool, error) {
	var record registryRecord
	ok, err := tx.kvGet(registryKey, &record)
	if err != nil || !ok {
		return nil, false, err
	}
	return &registry.Registry{
		Address:        record.Address,
		Owner:          record.Owner,
		FeeRecipient:   record.FeeRecipient,
		Arbiter:        record.Arbiter,
		ShippingOracle: record.ShippingOracle,
		MinOrderAmount: record.MinOrderAmount,
		PremiumBps:     record.PremiumBps,
		FeeBps:         record.FeeBps,
		Nonce:          record.Nonce,
		Total:          record.Total,
	}, true, nil
}
