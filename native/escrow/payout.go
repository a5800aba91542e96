package escrow

import (
	"log/slog"
	"math/big"

	"filamint/crypto"
)

type payoutPlan struct {
	Buyer        *big.Int
	Seller       *big.Int
	FeeRecipient *big.Int
}

func (p payoutPlan) total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{p.Buyer, p.Seller, p.FeeRecipient} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// cancelPlan: the fee recipient keeps the cancellation penalty plus the
// platform fee, the buyer gets everything else back.
func cancelPlan(esc *Escrow) payoutPlan {
	fee := percentOf(esc.OrderAmount, CancelPenaltyPercent)
	fee.Add(fee, cloneBigInt(esc.FeeAmount))
	buyer := new(big.Int).Sub(cloneBigInt(esc.OrderAmount), percentOf(esc.OrderAmount, CancelPenaltyPercent))
	buyer.Add(buyer, esc.GasRemaining())
	return payoutPlan{Buyer: buyer, Seller: big.NewInt(0), FeeRecipient: fee}
}

// completionPlan: the seller receives the full order amount, gas it was
// reimbursed along the way came out of the cushion, and whatever is left of
// the cushion returns to the buyer.
func completionPlan(esc *Escrow) payoutPlan {
	return payoutPlan{
		Buyer:        esc.GasRemaining(),
		Seller:       cloneBigInt(esc.OrderAmount),
		FeeRecipient: cloneBigInt(esc.FeeAmount),
	}
}

// settlementPlan splits the order amount at buyerPercent for negotiated
// outcomes; the unused cushion goes to the buyer.
func settlementPlan(esc *Escrow, buyerPercent uint8) payoutPlan {
	buyerShare := percentOf(esc.OrderAmount, uint64(buyerPercent))
	seller := new(big.Int).Sub(cloneBigInt(esc.OrderAmount), buyerShare)
	return payoutPlan{
		Buyer:        buyerShare.Add(buyerShare, esc.GasRemaining()),
		Seller:       seller,
		FeeRecipient: cloneBigInt(esc.FeeAmount),
	}
}

// arbitrationPlan takes the arbitration tax off the order amount before
// splitting the rest at buyerPercent.
func arbitrationPlan(esc *Escrow, buyerPercent uint8) payoutPlan {
	tax := percentOf(esc.OrderAmount, ArbitrationTaxPercent)
	net := new(big.Int).Sub(cloneBigInt(esc.OrderAmount), tax)
	buyerShare := percentOf(net, uint64(buyerPercent))
	seller := new(big.Int).Sub(net, buyerShare)
	return payoutPlan{
		Buyer:        buyerShare.Add(buyerShare, esc.GasRemaining()),
		Seller:       seller,
		FeeRecipient: tax.Add(tax, cloneBigInt(esc.FeeAmount)),
	}
}

// payout pushes the plan out of custody. The plan must drain the custody
// balance exactly; anything else is a bookkeeping defect.
func (e *Engine) payout(op string, esc *Escrow, plan payoutPlan) error {
	balance, err := e.state.Balance(esc.Address)
	if err != nil {
		return err
	}
	if total := plan.total(); total.Cmp(balance) != 0 {
		e.logger.Error("escrow payout does not match custody",
			slog.String("op", op),
			slog.String("escrow", formatAddr(esc.Address)),
			slog.String("plan", total.String()),
			slog.String("custody", balance.String()))
		return invariantError(op, "payouts %s do not match custody balance %s", total, balance)
	}
	legs := []struct {
		to     [20]byte
		amount *big.Int
		paid   **big.Int
	}{
		{esc.Buyer, plan.Buyer, &esc.Paid.Buyer},
		{esc.Seller, plan.Seller, &esc.Paid.Seller},
		{esc.FeeRecipient, plan.FeeRecipient, &esc.Paid.FeeRecipient},
	}
	for _, leg := range legs {
		if leg.amount == nil || leg.amount.Sign() == 0 {
			continue
		}
		if leg.amount.Sign() < 0 {
			return invariantError(op, "negative payout %s", leg.amount)
		}
		if leg.to == ([20]byte{}) {
			return invariantError(op, "payout recipient missing")
		}
		if err := e.state.Transfer(esc.Address, leg.to, leg.amount); err != nil {
			return err
		}
		*leg.paid = new(big.Int).Add(cloneBigInt(*leg.paid), leg.amount)
	}
	e.logger.Info("escrow paid out",
		slog.String("op", op),
		slog.String("escrow", formatAddr(esc.Address)),
		slog.String("buyer", formatAmount(plan.Buyer)),
		slog.String("seller", formatAmount(plan.Seller)),
		slog.String("feeRecipient", formatAmount(plan.FeeRecipient)))
	return nil
}

func formatAddr(addr [20]byte) string {
	return crypto.FromRaw(addr).String()
}
