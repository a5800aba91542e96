package escrow_test

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"reflect"
	"testing"

	"filamint/core/types"
	"filamint/crypto"
	escrowpkg "filamint/native/escrow"
)

func repeatAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestEscrowEventsHaveDeterministicPayload(t *testing.T) {
	addr := repeatAddr(0xAA)
	buyer := repeatAddr(0xBB)
	seller := repeatAddr(0xCC)

	escrowDef := &escrowpkg.Escrow{
		Address:     addr,
		OrderID:     7,
		Buyer:       buyer,
		Seller:      seller,
		OrderAmount: big.NewInt(42_000),
		Status:      escrowpkg.StatusShipped,
	}
	expected := map[string]string{
		"escrow":      crypto.Format(addr),
		"orderId":     "7",
		"buyer":       crypto.Format(buyer),
		"seller":      crypto.Format(seller),
		"status":      "shipped",
		"orderAmount": "42000",
	}
	cases := []struct {
		name string
		fn   func(*escrowpkg.Escrow) *types.Event
		typ  string
	}{
		{"claimed", escrowpkg.NewClaimedEvent, escrowpkg.EventTypeEscrowClaimed},
		{"shipped", escrowpkg.NewShippedEvent, escrowpkg.EventTypeEscrowShipped},
		{"disputed", escrowpkg.NewDisputeOpenedEvent, escrowpkg.EventTypeDisputeOpened},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := tc.fn(escrowDef)
			if evt == nil {
				t.Fatalf("event function returned nil")
			}
			if evt.Type != tc.typ {
				t.Fatalf("unexpected event type: %s", evt.Type)
			}
			if !reflect.DeepEqual(evt.Attributes, expected) {
				t.Fatalf("unexpected attributes: %#v", evt.Attributes)
			}
		})
	}
}

func TestCreatedEventOmitsSellerAndEmptySalt(t *testing.T) {
	escrowDef := &escrowpkg.Escrow{
		Address:     repeatAddr(0x11),
		Buyer:       repeatAddr(0x22),
		ContentHash: [32]byte{0x01, 0x02},
		Deposit:     big.NewInt(1_025),
		OrderAmount: big.NewInt(1_000),
		GasCushion:  big.NewInt(20),
		FeeAmount:   big.NewInt(5),
		Status:      escrowpkg.StatusPending,
	}
	evt := escrowpkg.NewCreatedEvent(escrowDef)
	if _, ok := evt.Attributes["seller"]; ok {
		t.Fatalf("seller attribute should be omitted before a claim")
	}
	if _, ok := evt.Attributes["salt"]; ok {
		t.Fatalf("salt attribute should be omitted for non-deterministic escrows")
	}
	if got := evt.Attributes["contentHash"]; got != hex.EncodeToString(escrowDef.ContentHash[:]) {
		t.Fatalf("unexpected content hash %s", got)
	}
	if evt.Attributes["deposit"] != "1025" || evt.Attributes["gasCushion"] != "20" || evt.Attributes["feeAmount"] != "5" {
		t.Fatalf("unexpected amounts: %#v", evt.Attributes)
	}

	escrowDef.Salt = [32]byte{0xFF}
	evt = escrowpkg.NewCreatedEvent(escrowDef)
	if got := evt.Attributes["salt"]; got != hex.EncodeToString(escrowDef.Salt[:]) {
		t.Fatalf("unexpected salt %s", got)
	}
}

func TestOfferEventCarriesRound(t *testing.T) {
	seller := repeatAddr(0x33)
	escrowDef := &escrowpkg.Escrow{
		Address:      repeatAddr(0x11),
		Buyer:        repeatAddr(0x22),
		Seller:       seller,
		OrderAmount:  big.NewInt(10),
		Status:       escrowpkg.StatusInDispute,
		DisputeRound: 2,
		LastOffer:    escrowpkg.Offer{BuyerPercent: 35, OfferedBy: seller},
	}
	evt := escrowpkg.NewOfferSubmittedEvent(escrowDef)
	if evt.Attributes["round"] != "2" || evt.Attributes["buyerPercent"] != "35" {
		t.Fatalf("unexpected offer attributes: %#v", evt.Attributes)
	}
	if evt.Attributes["offeredBy"] != crypto.Format(seller) {
		t.Fatalf("unexpected offeredBy %s", evt.Attributes["offeredBy"])
	}
}

func TestGasReimbursedEvent(t *testing.T) {
	escrowDef := &escrowpkg.Escrow{
		Address: repeatAddr(0x11),
		Buyer:   repeatAddr(0x22),
		GasUsed: big.NewInt(900),
	}
	evt := escrowpkg.NewGasReimbursedEvent(escrowDef, "markShipped", big.NewInt(300))
	if evt.Type != escrowpkg.EventTypeGasReimbursed {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["operation"] != "markShipped" || evt.Attributes["amount"] != "300" || evt.Attributes["gasUsed"] != "900" {
		t.Fatalf("unexpected attributes: %#v", evt.Attributes)
	}
}
