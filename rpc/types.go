package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"filamint/core/types"
	"filamint/crypto"
	"filamint/native/escrow"
	"filamint/native/registry"
	"filamint/services/indexer"
)

type createOrderRequest struct {
	ContentHash string `json:"contentHash"`
	Deposit     string `json:"deposit"`
	Salt        string `json:"salt,omitempty"`
}

type createOrderResult struct {
	OrderID uint64 `json:"orderId"`
	Escrow  string `json:"escrow"`
}

type actionRequest struct {
	Percent *int `json:"percent,omitempty"`
}

type registryUpdateRequest struct {
	Value string `json:"value"`
}

type offerJSON struct {
	BuyerPercent uint8  `json:"buyerPercent"`
	Timestamp    int64  `json:"timestamp"`
	OfferedBy    string `json:"offeredBy,omitempty"`
}

type payoutsJSON struct {
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	FeeRecipient string `json:"feeRecipient"`
}

type escrowJSON struct {
	Address         string      `json:"address"`
	Registry        string      `json:"registry"`
	OrderID         uint64      `json:"orderId"`
	Buyer           string      `json:"buyer"`
	Seller          string      `json:"seller,omitempty"`
	Arbiter         string      `json:"arbiter"`
	FeeRecipient    string      `json:"feeRecipient"`
	Oracle          string      `json:"oracle,omitempty"`
	ContentHash     string      `json:"contentHash"`
	Salt            string      `json:"salt,omitempty"`
	Deposit         string      `json:"deposit"`
	OrderAmount     string      `json:"orderAmount"`
	GasCushion      string      `json:"gasCushion"`
	FeeAmount       string      `json:"feeAmount"`
	GasUsed         string      `json:"gasUsed"`
	Status          string      `json:"status"`
	CreatedAt       int64       `json:"createdAt"`
	ClaimedAt       int64       `json:"claimedAt,omitempty"`
	ShippedAt       int64       `json:"shippedAt,omitempty"`
	ArrivedAt       int64       `json:"arrivedAt,omitempty"`
	DisputeOpenedAt int64       `json:"disputeOpenedAt,omitempty"`
	ReviewStartedAt int64       `json:"reviewStartedAt,omitempty"`
	ClosedAt        int64       `json:"closedAt,omitempty"`
	DisputeRound    uint8       `json:"disputeRound"`
	BuyerTurn       bool        `json:"buyerTurn"`
	LastOffer       *offerJSON  `json:"lastOffer,omitempty"`
	Paid            payoutsJSON `json:"paid"`
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newEscrowJSON(e *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		Address:         crypto.Format(e.Address),
		Registry:        crypto.Format(e.Registry),
		OrderID:         e.OrderID,
		Buyer:           crypto.Format(e.Buyer),
		Seller:          crypto.Format(e.Seller),
		Arbiter:         crypto.Format(e.Arbiter),
		FeeRecipient:    crypto.Format(e.FeeRecipient),
		Oracle:          crypto.Format(e.Oracle),
		ContentHash:     "0x" + hex.EncodeToString(e.ContentHash[:]),
		Deposit:         formatAmount(e.Deposit),
		OrderAmount:     formatAmount(e.OrderAmount),
		GasCushion:      formatAmount(e.GasCushion),
		FeeAmount:       formatAmount(e.FeeAmount),
		GasUsed:         formatAmount(e.GasUsed),
		Status:          e.Status.String(),
		CreatedAt:       e.CreatedAt,
		ClaimedAt:       e.ClaimedAt,
		ShippedAt:       e.ShippedAt,
		ArrivedAt:       e.ArrivedAt,
		DisputeOpenedAt: e.DisputeOpenedAt,
		ReviewStartedAt: e.ReviewStartedAt,
		ClosedAt:        e.ClosedAt,
		DisputeRound:    e.DisputeRound,
		BuyerTurn:       e.Status == escrow.StatusInDispute && e.IsBuyerTurn(),
		Paid: payoutsJSON{
			Buyer:        formatAmount(e.Paid.Buyer),
			Seller:       formatAmount(e.Paid.Seller),
			FeeRecipient: formatAmount(e.Paid.FeeRecipient),
		},
	}
	if e.Salt != ([32]byte{}) {
		out.Salt = "0x" + hex.EncodeToString(e.Salt[:])
	}
	if e.DisputeRound > 0 {
		out.LastOffer = &offerJSON{
			BuyerPercent: e.LastOffer.BuyerPercent,
			Timestamp:    e.LastOffer.Timestamp,
			OfferedBy:    crypto.Format(e.LastOffer.OfferedBy),
		}
	}
	return out
}

type registryJSON struct {
	Address        string `json:"address"`
	Owner          string `json:"owner"`
	FeeRecipient   string `json:"feeRecipient"`
	Arbiter        string `json:"arbiter"`
	ShippingOracle string `json:"shippingOracle,omitempty"`
	MinOrderAmount string `json:"minOrderAmount"`
	PremiumBps     uint32 `json:"premiumBps"`
	FeeBps         uint32 `json:"feeBps"`
	TotalOrders    uint64 `json:"totalOrders"`
}

func newRegistryJSON(r *registry.Registry) registryJSON {
	return registryJSON{
		Address:        crypto.Format(r.Address),
		Owner:          crypto.Format(r.Owner),
		FeeRecipient:   crypto.Format(r.FeeRecipient),
		Arbiter:        crypto.Format(r.Arbiter),
		ShippingOracle: crypto.Format(r.ShippingOracle),
		MinOrderAmount: formatAmount(r.MinOrderAmount),
		PremiumBps:     r.PremiumBps,
		FeeBps:         r.FeeBps,
		TotalOrders:    r.Total,
	}
}

type accountJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

func newAccountJSON(addr [20]byte, a *types.Account) accountJSON {
	return accountJSON{Address: crypto.Format(addr), Balance: formatAmount(a.Balance), Nonce: a.Nonce}
}

type jobJSON struct {
	Escrow      string `json:"escrow"`
	OrderID     uint64 `json:"orderId"`
	Status      string `json:"status"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller,omitempty"`
	OrderAmount string `json:"orderAmount"`
	Deposit     string `json:"deposit,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func newJobJSON(s indexer.EscrowSummary) jobJSON {
	return jobJSON{
		Escrow:      s.Escrow,
		OrderID:     s.OrderID,
		Status:      s.Status,
		Buyer:       s.Buyer,
		Seller:      s.Seller,
		OrderAmount: s.OrderAmount,
		Deposit:     s.Deposit,
		ContentHash: s.ContentHash,
		UpdatedAt:   s.UpdatedAt.Unix(),
	}
}

// parseAmount accepts a non-negative base-10 amount that fits in 256 bits.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return value.ToBig(), nil
}

// parseBytes32 decodes a 32-byte hex value, with or without 0x.
func parseBytes32(raw string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
