package escrow

// ArbiterDecide imposes the final split. The arbitration tax is always taken
// before the split.
func (e *Engine) ArbiterDecide(addr [20]byte, call Call, buyerPercent int) error {
	const op = "arbiterDecide"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusArbiterReview); err != nil {
		return e.rejected(op, addr, err)
	}
	if esc.Arbiter == ([20]byte{}) || call.Caller != esc.Arbiter {
		return e.rejected(op, addr, authError(op, "only the arbiter may decide"))
	}
	percent, err := validatePercent(op, buyerPercent)
	if err != nil {
		return e.rejected(op, addr, err)
	}
	return e.settleArbitration(op, esc, percent, false)
}

// FinalizeArbiter defaults to a full post-tax refund to the buyer when the
// arbiter stayed silent for ArbiterTimeout.
func (e *Engine) FinalizeArbiter(addr [20]byte, call Call) error {
	const op = "finalizeArbiter"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusArbiterReview); err != nil {
		return e.rejected(op, addr, err)
	}
	if remaining := esc.ReviewStartedAt + ArbiterTimeout - e.now(); remaining > 0 {
		return e.rejected(op, addr, timingError(op, "too early, arbiter has %ds left", remaining))
	}
	return e.settleArbitration(op, esc, 100, true)
}

func (e *Engine) settleArbitration(op string, esc *Escrow, percent uint8, defaulted bool) error {
	plan := arbitrationPlan(esc, percent)
	if err := e.payout(op, esc, plan); err != nil {
		return err
	}
	esc.Status = StatusSettled
	esc.ClosedAt = e.stamp(esc.ReviewStartedAt)
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewArbiterDecisionEvent(esc, percent, defaulted, plan))
	return nil
}
