package escrow

import (
	"log/slog"
	"math/big"
	"time"

	"filamint/core/events"
	"filamint/core/types"
)

type engineState interface {
	EscrowGet(addr [20]byte) (*Escrow, bool, error)
	EscrowPut(*Escrow) error
	Balance(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Call describes who invoked an operation and what the hosting ledger
// charged them for it. TxCost only matters for seller-initiated calls, which
// are reimbursed out of the gas cushion.
type Call struct {
	Caller [20]byte
	TxCost *big.Int
}

// Engine wires the escrow business logic with external state and event
// emitters. Every operation validates all guards before it mutates anything;
// callers are expected to run each operation inside a state transaction so a
// failure part-way through payouts leaves nothing behind.
type Engine struct {
	state   engineState
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLogger overrides the logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Typed{Payload: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// stamp returns the current time, never earlier than floor, so lifecycle
// timestamps stay ordered even if the host clock steps backwards.
func (e *Engine) stamp(floor int64) int64 {
	now := e.now()
	if now < floor {
		return floor
	}
	return now
}

func (e *Engine) loadEscrow(op string, addr [20]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(KindNotFound, op, "no escrow at this address")
	}
	return esc, nil
}

func (e *Engine) storeEscrow(op string, esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if esc.GasUsed.Cmp(esc.GasCushion) > 0 {
		return invariantError(op, "gas used %s exceeds cushion %s", esc.GasUsed, esc.GasCushion)
	}
	return e.state.EscrowPut(esc)
}

func (e *Engine) rejected(op string, addr [20]byte, err error) error {
	e.logger.Debug("escrow call rejected",
		slog.String("op", op),
		slog.String("escrow", formatAddr(addr)),
		slog.String("kind", KindOf(err).String()),
		slog.String("error", err.Error()))
	return err
}

func requireStatus(op string, esc *Escrow, want Status) error {
	if esc.Status == want {
		return nil
	}
	if esc.Status.Terminal() {
		return stateError(op, "escrow already finalized (%s)", esc.Status)
	}
	return stateError(op, "status is %s, requires %s", esc.Status, want)
}

// Get returns a copy of the escrow stored at addr.
func (e *Engine) Get(addr [20]byte) (*Escrow, error) {
	return e.loadEscrow("get", addr)
}

// Claim lets anyone but the buyer commit to fulfilling a pending order.
func (e *Engine) Claim(addr [20]byte, call Call) error {
	const op = "claim"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusPending); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller == ([20]byte{}) {
		return e.rejected(op, addr, authError(op, "caller identity required"))
	}
	if call.Caller == esc.Buyer {
		return e.rejected(op, addr, authError(op, "buyer cannot claim their own order"))
	}
	esc.Seller = call.Caller
	esc.ClaimedAt = e.stamp(esc.CreatedAt)
	esc.Status = StatusClaimed
	if err := e.reimburse(op, esc, call); err != nil {
		return err
	}
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewClaimedEvent(esc))
	return nil
}

// Cancel refunds a pending order to the buyer minus the cancellation penalty
// and the platform fee. Once a seller has claimed, cancellation is closed.
func (e *Engine) Cancel(addr [20]byte, call Call) error {
	const op = "cancel"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusPending); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Buyer {
		return e.rejected(op, addr, authError(op, "only the buyer may cancel"))
	}
	plan := cancelPlan(esc)
	if err := e.payout(op, esc, plan); err != nil {
		return err
	}
	esc.Status = StatusCancelled
	esc.ClosedAt = e.stamp(esc.CreatedAt)
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc, plan))
	return nil
}

// MarkShipped records that the seller handed the good to a carrier.
func (e *Engine) MarkShipped(addr [20]byte, call Call) error {
	const op = "markShipped"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusClaimed); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Seller {
		return e.rejected(op, addr, authError(op, "only the seller may mark the order shipped"))
	}
	esc.ShippedAt = e.stamp(esc.ClaimedAt)
	esc.Status = StatusShipped
	if err := e.reimburse(op, esc, call); err != nil {
		return err
	}
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewShippedEvent(esc))
	return nil
}

// ClaimDelivery lets the seller assert arrival. With a shipping oracle
// configured the seller must first give the oracle OracleDelay to attest.
func (e *Engine) ClaimDelivery(addr [20]byte, call Call) error {
	const op = "claimDelivery"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusShipped); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Seller {
		return e.rejected(op, addr, authError(op, "only the seller may claim delivery"))
	}
	if esc.Oracle != ([20]byte{}) {
		if remaining := esc.ShippedAt + OracleDelay - e.now(); remaining > 0 {
			return e.rejected(op, addr, timingError(op, "oracle delay not elapsed, %ds remaining", remaining))
		}
	}
	e.markArrived(esc)
	if err := e.reimburse(op, esc, call); err != nil {
		return err
	}
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewDeliveryConfirmedEvent(esc, "seller"))
	return nil
}

// ConfirmDeliveryViaOracle is the entry point for the shipping collaborator.
func (e *Engine) ConfirmDeliveryViaOracle(addr [20]byte, call Call) error {
	const op = "confirmDeliveryViaOracle"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusShipped); err != nil {
		return e.rejected(op, addr, err)
	}
	if esc.Oracle == ([20]byte{}) {
		return e.rejected(op, addr, authError(op, "no shipping oracle configured for this escrow"))
	}
	if call.Caller != esc.Oracle {
		return e.rejected(op, addr, authError(op, "only the shipping oracle may confirm delivery"))
	}
	e.markArrived(esc)
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewDeliveryConfirmedEvent(esc, "oracle"))
	return nil
}

func (e *Engine) markArrived(esc *Escrow) {
	esc.ArrivedAt = e.stamp(esc.ShippedAt)
	esc.Status = StatusArrived
}

// FinalizeOrder pays the seller once the dispute window lapsed. Anyone may
// call it so the seller never depends on the buyer to get paid.
func (e *Engine) FinalizeOrder(addr [20]byte, call Call) error {
	const op = "finalizeOrder"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusArrived); err != nil {
		return e.rejected(op, addr, err)
	}
	if remaining := esc.ArrivedAt + DisputeWindow - e.now(); remaining > 0 {
		return e.rejected(op, addr, timingError(op, "dispute window still open, %ds remaining", remaining))
	}
	plan := completionPlan(esc)
	if err := e.payout(op, esc, plan); err != nil {
		return err
	}
	esc.Status = StatusCompleted
	esc.ClosedAt = e.stamp(esc.ArrivedAt)
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewCompletedEvent(esc, plan))
	return nil
}

// OpenDispute moves an arrived order into negotiation. Only the buyer may
// dispute and only inside the dispute window.
func (e *Engine) OpenDispute(addr [20]byte, call Call) error {
	const op = "openDispute"
	esc, err := e.loadEscrow(op, addr)
	if err != nil {
		return err
	}
	if err := requireStatus(op, esc, StatusArrived); err != nil {
		return e.rejected(op, addr, err)
	}
	if call.Caller != esc.Buyer {
		return e.rejected(op, addr, authError(op, "only the buyer may open a dispute"))
	}
	if e.now() >= esc.ArrivedAt+DisputeWindow {
		return e.rejected(op, addr, timingError(op, "dispute window closed"))
	}
	esc.Status = StatusInDispute
	esc.DisputeRound = 0
	esc.LastOffer = Offer{}
	esc.DisputeOpenedAt = e.stamp(esc.ArrivedAt)
	if err := e.storeEscrow(op, esc); err != nil {
		return err
	}
	e.emit(NewDisputeOpenedEvent(esc))
	return nil
}

// reimburse pays the seller back for the call's transaction cost, capped by
// what is left of the cushion. An exhausted cushion is not an error.
func (e *Engine) reimburse(op string, esc *Escrow, call Call) error {
	if call.Caller != esc.Seller || call.TxCost == nil || call.TxCost.Sign() <= 0 {
		return nil
	}
	amount := esc.GasRemaining()
	if amount.Cmp(call.TxCost) > 0 {
		amount.Set(call.TxCost)
	}
	if amount.Sign() == 0 {
		e.logger.Debug("gas cushion exhausted", slog.String("op", op), slog.String("escrow", formatAddr(esc.Address)))
		return nil
	}
	if err := e.state.Transfer(esc.Address, esc.Seller, amount); err != nil {
		return err
	}
	esc.GasUsed = new(big.Int).Add(esc.GasUsed, amount)
	esc.Paid.Seller = new(big.Int).Add(cloneBigInt(esc.Paid.Seller), amount)
	if esc.GasUsed.Cmp(esc.GasCushion) > 0 {
		return invariantError(op, "gas used %s exceeds cushion %s", esc.GasUsed, esc.GasCushion)
	}
	e.emit(NewGasReimbursedEvent(esc, op, amount))
	return nil
}
