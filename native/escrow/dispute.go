package escrow

// validatePercent enforces buyerPercent in [0, 100].
func validatePercent(op string, percent int) (uint8, error) {
	if percent < 0 || percent > 100 {
		return 0, validationError(op, "buyer percent %d outside [0,100]", percent)
	}
	return uint8(percent), nil
}

// responseDeadline is the moment the pending move in a dispute times out.
// Before the opening offer the buyer has FirstOfferWindow from the dispute
// opening; afterwards the non-offering party has offerWindow(round) from the
// last offer.
func responseDeadline(esc *Escrow) int64 {
	if esc.DisputeRound == 0 {
		return esc.DisputeOpenedAt + FirstOfferWindow
	}
	return esc.LastOffer.Timestamp + offerWindow(esc.DisputeRound)
}

func (e *Engine) requireOpenWindow(op string, esc *Escrow) error {
	if e.now() >= responseDeadline(esc) {
		return timingError(op, "response window elapsed, call finalizeOffer")
	}
	return nil
}

// SubmitOffer records the buyer's proposal on the buyer's turn.
func (e *Engine) SubmitOffer(addr [20]byte, call Call, buyerPercent int) error {
	const op = "submitOffer"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusInDispute); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Buyer {
		return e.rejected(op, addr, authError(op, "only the buyer may submit an offer"))
	}
	percent, err := validatePercent(op, buyerPercent)
	if err != nil {
		return e.rejected(op, addr, err)
	}
	if esc.DisputeRound >= MaxDisputeRounds {
		return e.rejected(op, addr, stateError(op, "dispute round cap %d reached", MaxDisputeRounds))
	}
	if !esc.IsBuyerTurn() {
		return e.rejected(op, addr, stateError(op, "not the buyer's turn (round %d)", esc.DisputeRound))
	}
	if err := e.requireOpenWindow(op, esc); err != nil {
		return e.rejected(op, addr, err)
	}
	e.recordOffer(esc, esc.Buyer, percent)
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewOfferSubmittedEvent(esc))
	return nil
}

// SubmitCounterOffer records the seller's proposal on the seller's turn.
func (e *Engine) SubmitCounterOffer(addr [20]byte, call Call, buyerPercent int) error {
	const op = "submitCounterOffer"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusInDispute); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Seller {
		return e.rejected(op, addr, authError(op, "only the seller may submit a counter-offer"))
	}
	percent, err := validatePercent(op, buyerPercent)
	if err != nil {
		return e.rejected(op, addr, err)
	}
	if esc.DisputeRound >= MaxDisputeRounds {
		return e.rejected(op, addr, stateError(op, "dispute round cap %d reached", MaxDisputeRounds))
	}
	if esc.IsBuyerTurn() {
		return e.rejected(op, addr, stateError(op, "not the seller's turn (round %d)", esc.DisputeRound))
	}
	if err := e.requireOpenWindow(op, esc); err != nil {
		return e.rejected(op, addr, err)
	}
	e.recordOffer(esc, esc.Seller, percent)
	if err := e.reimburse(op, esc, call); err != nil {
		return err
	}
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewOfferSubmittedEvent(esc))
	return nil
}

func (e *Engine) recordOffer(esc *Escrow, by [20]byte, percent uint8) {
	floor := esc.DisputeOpenedAt
	if esc.LastOffer.Timestamp > floor {
		floor = esc.LastOffer.Timestamp
	}
	esc.LastOffer = Offer{BuyerPercent: percent, Timestamp: e.stamp(floor), OfferedBy: by}
	esc.DisputeRound++
}

// AcceptOffer settles at the seller's last counter-offer.
func (e *Engine) AcceptOffer(addr [20]byte, call Call) error {
	const op = "acceptOffer"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusInDispute); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Buyer {
		return e.rejected(op, addr, authError(op, "only the buyer may accept the seller's offer"))
	}
	if esc.DisputeRound == 0 || esc.LastOffer.OfferedBy != esc.Seller {
		return e.rejected(op, addr, stateError(op, "no seller offer to accept"))
	}
	if err := e.requireOpenWindow(op, esc); err != nil {
		return e.rejected(op, addr, err)
	}
	return e.settleOffer(op, esc, call, false)
}

// AcceptBuyerOffer settles at the buyer's last offer.
func (e *Engine) AcceptBuyerOffer(addr [20]byte, call Call) error {
	const op = "acceptBuyerOffer"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusInDispute); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Seller {
		return e.rejected(op, addr, authError(op, "only the seller may accept the buyer's offer"))
	}
	if esc.DisputeRound == 0 || esc.LastOffer.OfferedBy != esc.Buyer {
		return e.rejected(op, addr, stateError(op, "no buyer offer to accept"))
	}
	if err := e.requireOpenWindow(op, esc); err != nil {
		return e.rejected(op, addr, err)
	}
	return e.settleOffer(op, esc, call, false)
}

// FinalizeOffer enforces the response window. Once it has lapsed anyone may
// settle the dispute at the last offer. If the buyer never made an opening
// offer the order settles fully in the seller's favour.
func (e *Engine) FinalizeOffer(addr [20]byte, call Call) error {
	const op = "finalizeOffer"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusInDispute); err != nil {
		return e.rejected(op, addr, err)
	}
	if remaining := responseDeadline(esc) - e.now(); remaining > 0 {
		return e.rejected(op, addr, timingError(op, "too early, response window open for %ds", remaining))
	}
	if esc.DisputeRound == 0 {
		esc.LastOffer = Offer{BuyerPercent: 0, Timestamp: esc.DisputeOpenedAt}
	}
	return e.settleOffer(op, esc, call, true)
}

func (e *Engine) settleOffer(op string, esc *Escrow, call Call, auto bool) error {
	if err := e.reimburse(op, esc, call); err != nil {
		return err
	}
	plan := settlementPlan(esc, esc.LastOffer.BuyerPercent)
	if err := e.payout(op, esc, plan); err != nil {
		return err
	}
	esc.Status = StatusSettled
	esc.ClosedAt = e.stamp(esc.LastOffer.Timestamp)
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	if auto {
		e.emit(NewOfferAutoAcceptedEvent(esc, plan))
	} else {
		e.emit(NewOfferAcceptedEvent(esc, plan))
	}
	return nil
}

// RejectFinalOffer escalates to the arbiter after the seller's final
// counter-offer.
func (e *Engine) RejectFinalOffer(addr [20]byte, call Call) error {
	const op = "rejectFinalOffer"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusInDispute); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Buyer {
		return e.rejected(op, addr, authError(op, "only the buyer may reject the final offer"))
	}
	if esc.DisputeRound != MaxDisputeRounds {
		return e.rejected(op, addr, stateError(op, "final round not reached (round %d of %d)", esc.DisputeRound, MaxDisputeRounds))
	}
	if err := e.requireOpenWindow(op, esc); err != nil {
		return e.rejected(op, addr, err)
	}
	esc.Status = StatusArbiterReview
	esc.ReviewStartedAt = e.stamp(esc.LastOffer.Timestamp)
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewArbiterReviewStartedEvent(esc))
	return nil
}

// TimeRemaining reports the seconds left in whichever window currently
// gates progress, or 0 when nothing is pending or the window expired.
func (e *Engine) TimeRemaining(addr [20]byte) (int64, error) {
	esc, err := e.loadEscrow("timeRemaining", addr)
	if err != nil {
		return 0, err
	}
	return timeRemaining(esc, e.now()), nil
}

func timeRemaining(esc *Escrow, now int64) int64 {
	var deadline int64
	switch esc.Status {
	case StatusShipped:
		if esc.Oracle == ([20]byte{}) {
			return 0
		}
		deadline = esc.ShippedAt + OracleDelay
	case StatusArrived:
		deadline = esc.ArrivedAt + DisputeWindow
	case StatusInDispute:
		deadline = responseDeadline(esc)
	case StatusArbiterReview:
		deadline = esc.ReviewStartedAt + ArbiterTimeout
	default:
		return 0
	}
	if remaining := deadline - now; remaining > 0 {
		return remaining
	}
	return 0
}
