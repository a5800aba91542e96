package escrow

import (
	"math/big"
	"strings"
	"testing"
)

func stubEscrow() *Escrow {
	return &Escrow{
		Address:     newTestAddress(0x01),
		Buyer:       newTestAddress(0x02),
		ContentHash: [32]byte{0x03},
		Deposit:     big.NewInt(1_025),
		OrderAmount: big.NewInt(1_000),
		GasCushion:  big.NewInt(20),
		FeeAmount:   big.NewInt(5),
	}
}

func TestSanitizeEscrowFillsNilAmounts(t *testing.T) {
	esc := stubEscrow()
	esc.GasUsed = nil
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		t.Fatalf("unexpected sanitize error: %v", err)
	}
	if sanitized.GasUsed == nil || sanitized.GasUsed.Sign() != 0 {
		t.Fatalf("expected zero gas used, got %v", sanitized.GasUsed)
	}
	if sanitized.Paid.Buyer == nil || sanitized.Paid.Seller == nil || sanitized.Paid.FeeRecipient == nil {
		t.Fatalf("expected payouts to be initialised")
	}
	if esc.GasUsed != nil {
		t.Fatalf("sanitize must not mutate its input")
	}
}

func TestSanitizeEscrowRejectsInvalid(t *testing.T) {
	cases := map[string]func(*Escrow){
		"address":  func(e *Escrow) { e.Address = [20]byte{} },
		"buyer":    func(e *Escrow) { e.Buyer = [20]byte{} },
		"content":  func(e *Escrow) { e.ContentHash = [32]byte{} },
		"negative": func(e *Escrow) { e.FeeAmount = big.NewInt(-1) },
		"gas used": func(e *Escrow) { e.GasUsed = big.NewInt(21) },
		"rounds":   func(e *Escrow) { e.DisputeRound = MaxDisputeRounds + 1 },
		"percent":  func(e *Escrow) { e.LastOffer.BuyerPercent = 101 },
		"status":   func(e *Escrow) { e.Status = Status(42) },
	}
	for name, mutate := range cases {
		esc := stubEscrow()
		mutate(esc)
		if _, err := SanitizeEscrow(esc); err == nil {
			t.Fatalf("%s: expected sanitize error", name)
		}
	}
}

func TestEscrowCloneIsDeep(t *testing.T) {
	esc := stubEscrow()
	esc.Paid.Seller = big.NewInt(7)
	clone := esc.Clone()
	clone.Deposit.SetInt64(1)
	clone.Paid.Seller.SetInt64(8)
	if esc.Deposit.Int64() != 1_025 || esc.Paid.Seller.Int64() != 7 {
		t.Fatalf("clone shares amount pointers with original")
	}
}

func TestStatusNamesRoundTrip(t *testing.T) {
	for status := StatusPending; status <= StatusSettled; status++ {
		parsed, err := ParseStatus(status.String())
		if err != nil {
			t.Fatalf("parse %s: %v", status, err)
		}
		if parsed != status {
			t.Fatalf("expected %s, got %s", status, parsed)
		}
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Fatalf("expected unknown status error")
	}
	if !strings.HasPrefix(Status(99).String(), "status(") {
		t.Fatalf("unexpected fallback name %s", Status(99))
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[Status]bool{StatusCompleted: true, StatusCancelled: true, StatusSettled: true}
	for status := StatusPending; status <= StatusSettled; status++ {
		if status.Terminal() != terminal[status] {
			t.Fatalf("unexpected terminal flag for %s", status)
		}
	}
}

func TestSplitDeposit(t *testing.T) {
	deposit, _ := new(big.Int).SetString("1025000000000000000", 10)
	split, err := SplitDeposit(deposit, DefaultPremiumBps, DefaultFeeBps)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if got := split.OrderAmount.String(); got != "1000000000000000000" {
		t.Fatalf("unexpected order amount %s", got)
	}
	if got := split.FeeAmount.String(); got != "5000000000000000" {
		t.Fatalf("unexpected fee %s", got)
	}
	if got := split.GasCushion.String(); got != "20000000000000000" {
		t.Fatalf("unexpected cushion %s", got)
	}

	odd := big.NewInt(1_001)
	split, err = SplitDeposit(odd, DefaultPremiumBps, DefaultFeeBps)
	if err != nil {
		t.Fatalf("split odd: %v", err)
	}
	sum := new(big.Int).Add(split.OrderAmount, split.GasCushion)
	sum.Add(sum, split.FeeAmount)
	if sum.Cmp(odd) != 0 {
		t.Fatalf("split parts %s do not add up to %s", sum, odd)
	}

	if _, err := SplitDeposit(big.NewInt(0), DefaultPremiumBps, DefaultFeeBps); err == nil {
		t.Fatalf("expected zero deposit to fail")
	}
	if _, err := SplitDeposit(deposit, 50, 50); err == nil {
		t.Fatalf("expected fee above premium to fail")
	}
}

func TestOfferWindow(t *testing.T) {
	if offerWindow(1) != FirstOfferWindow {
		t.Fatalf("expected first response window after the opening offer")
	}
	if offerWindow(2) != OfferWindow || offerWindow(5) != OfferWindow {
		t.Fatalf("expected short window for later rounds")
	}
}
