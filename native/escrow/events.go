package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"filamint/core/types"
	"filamint/crypto"
)

const (
	EventTypeEscrowCreated        = "escrow.created"
	EventTypeEscrowClaimed        = "escrow.claimed"
	EventTypeEscrowShipped        = "escrow.shipped"
	EventTypeDeliveryConfirmed    = "escrow.delivery_confirmed"
	EventTypeEscrowCompleted      = "escrow.completed"
	EventTypeEscrowCancelled      = "escrow.cancelled"
	EventTypeDisputeOpened        = "escrow.dispute.opened"
	EventTypeOfferSubmitted       = "escrow.dispute.offer_submitted"
	EventTypeOfferAccepted        = "escrow.dispute.offer_accepted"
	EventTypeOfferAutoAccepted    = "escrow.dispute.offer_auto_accepted"
	EventTypeArbiterReviewStarted = "escrow.arbiter.review_started"
	EventTypeArbiterDecision      = "escrow.arbiter.decision"
	EventTypeGasReimbursed        = "escrow.gas_reimbursed"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowCreated, e)
	if e != nil {
		evt.Attributes["contentHash"] = hex.EncodeToString(e.ContentHash[:])
		evt.Attributes["deposit"] = formatAmount(e.Deposit)
		evt.Attributes["gasCushion"] = formatAmount(e.GasCushion)
		evt.Attributes["feeAmount"] = formatAmount(e.FeeAmount)
		if e.Salt != ([32]byte{}) {
			evt.Attributes["salt"] = hex.EncodeToString(e.Salt[:])
		}
	}
	return evt
}

// NewClaimedEvent is emitted when a seller commits to the order.
func NewClaimedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowClaimed, e) }

// NewShippedEvent is emitted when the seller marks the good as shipped.
func NewShippedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowShipped, e) }

// NewDeliveryConfirmedEvent records who confirmed the delivery ("seller" or
// "oracle").
func NewDeliveryConfirmedEvent(e *Escrow, via string) *types.Event {
	evt := newEscrowEvent(EventTypeDeliveryConfirmed, e)
	evt.Attributes["via"] = via
	return evt
}

// NewCompletedEvent is emitted on the happy-path payout.
func NewCompletedEvent(e *Escrow, plan payoutPlan) *types.Event {
	return withPayouts(newEscrowEvent(EventTypeEscrowCompleted, e), plan)
}

// NewCancelledEvent is emitted when the buyer cancels before a claim.
func NewCancelledEvent(e *Escrow, plan payoutPlan) *types.Event {
	return withPayouts(newEscrowEvent(EventTypeEscrowCancelled, e), plan)
}

// NewDisputeOpenedEvent is emitted when the buyer disputes the delivery.
func NewDisputeOpenedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeDisputeOpened, e)
}

// NewOfferSubmittedEvent carries the offer that was just recorded.
func NewOfferSubmittedEvent(e *Escrow) *types.Event {
	return withOffer(newEscrowEvent(EventTypeOfferSubmitted, e), e)
}

// NewOfferAcceptedEvent is emitted when a party accepts the other side's
// offer.
func NewOfferAcceptedEvent(e *Escrow, plan payoutPlan) *types.Event {
	return withPayouts(withOffer(newEscrowEvent(EventTypeOfferAccepted, e), e), plan)
}

// NewOfferAutoAcceptedEvent is emitted when a response window lapsed and
// the last offer settled on its own.
func NewOfferAutoAcceptedEvent(e *Escrow, plan payoutPlan) *types.Event {
	return withPayouts(withOffer(newEscrowEvent(EventTypeOfferAutoAccepted, e), e), plan)
}

// NewArbiterReviewStartedEvent is emitted when the buyer rejects the final
// counter-offer.
func NewArbiterReviewStartedEvent(e *Escrow) *types.Event {
	return withOffer(newEscrowEvent(EventTypeArbiterReviewStarted, e), e)
}

// NewArbiterDecisionEvent carries the imposed split; defaulted marks the
// arbiter timeout path.
func NewArbiterDecisionEvent(e *Escrow, buyerPercent uint8, defaulted bool, plan payoutPlan) *types.Event {
	evt := withPayouts(newEscrowEvent(EventTypeArbiterDecision, e), plan)
	evt.Attributes["buyerPercent"] = strconv.FormatUint(uint64(buyerPercent), 10)
	evt.Attributes["defaulted"] = strconv.FormatBool(defaulted)
	return evt
}

// NewGasReimbursedEvent reports one reimbursement to the seller.
func NewGasReimbursedEvent(e *Escrow, op string, amount *big.Int) *types.Event {
	evt := newEscrowEvent(EventTypeGasReimbursed, e)
	evt.Attributes["operation"] = op
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["gasUsed"] = formatAmount(e.GasUsed)
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs[types.EscrowAttribute] = crypto.Format(e.Address)
	attrs["orderId"] = strconv.FormatUint(e.OrderID, 10)
	attrs["buyer"] = crypto.Format(e.Buyer)
	attrs["status"] = e.Status.String()
	attrs["orderAmount"] = formatAmount(e.OrderAmount)
	if e.Seller != ([20]byte{}) {
		attrs["seller"] = crypto.Format(e.Seller)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func withOffer(evt *types.Event, e *Escrow) *types.Event {
	if e == nil {
		return evt
	}
	evt.Attributes["round"] = strconv.FormatUint(uint64(e.DisputeRound), 10)
	evt.Attributes["buyerPercent"] = strconv.FormatUint(uint64(e.LastOffer.BuyerPercent), 10)
	if e.LastOffer.OfferedBy != ([20]byte{}) {
		evt.Attributes["offeredBy"] = crypto.Format(e.LastOffer.OfferedBy)
	}
	return evt
}

func withPayouts(evt *types.Event, plan payoutPlan) *types.Event {
	evt.Attributes["buyerPayout"] = formatAmount(plan.Buyer)
	evt.Attributes["sellerPayout"] = formatAmount(plan.Seller)
	evt.Attributes["feePayout"] = formatAmount(plan.FeeRecipient)
	return evt
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
