package registry

import (
	"log/slog"
	"math/big"
	"time"

	"filamint/core/events"
	"filamint/core/types"
	"filamint/crypto"
	"filamint/native/escrow"
)

type registryState interface {
	RegistryGet() (*Registry, bool, error)
	RegistryPut(*Registry) error
	EscrowGet(addr [20]byte) (*escrow.Escrow, bool, error)
	EscrowPut(*escrow.Escrow) error
	EscrowIndexPut(index uint64, addr [20]byte) error
	EscrowIndexGet(index uint64) ([20]byte, bool, error)
	Balance(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Engine creates and enumerates escrows and applies owner configuration.
type Engine struct {
	state   registryState
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() int64
}

// NewEngine creates a registry engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state registryState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e.emitter != nil && event != nil {
		e.emitter.Emit(events.Typed{Payload: event})
	}
}

// Bootstrap stores reg when no registry record exists yet. An existing record
// always wins, so restarting with edited configuration never rewrites the
// deployed registry.
func (e *Engine) Bootstrap(reg *Registry) (*Registry, error) {
	current, ok, err := e.state.RegistryGet()
	if err != nil {
		return nil, err
	}
	if ok {
		return current, nil
	}
	if err := reg.Validate(); err != nil {
		return nil, escrow.NewError(escrow.KindValidation, "bootstrap", "%v", err)
	}
	record := reg.Clone()
	record.Nonce, record.Total = 0, 0
	if err := e.state.RegistryPut(record); err != nil {
		return nil, err
	}
	e.logger.Info("registry bootstrapped",
		slog.String("registry", crypto.Format(record.Address)),
		slog.String("owner", crypto.Format(record.Owner)))
	return record.Clone(), nil
}

func (e *Engine) load(op string) (*Registry, error) {
	reg, ok, err := e.state.RegistryGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, escrow.NewError(escrow.KindNotFound, op, "registry not initialised")
	}
	return reg, nil
}

// Registry returns the current registry record.
func (e *Engine) Registry() (*Registry, error) {
	return e.load("registry")
}

// CreateOrder creates an escrow at the next sequential address and moves the
// deposit from buyer into its custody.
func (e *Engine) CreateOrder(buyer [20]byte, contentHash [32]byte, deposit *big.Int) (uint64, [20]byte, error) {
	const op = "createOrder"
	reg, err := e.load(op)
	if err != nil {
		return 0, [20]byte{}, err
	}
	addr := sequentialAddress(reg.Address, reg.Nonce)
	reg.Nonce++
	id, err := e.create(op, reg, buyer, addr, contentHash, [32]byte{}, deposit)
	return id, addr, err
}

// CreateOrderDeterministic creates the escrow at PredictAddress(registry,
// salt). Reusing a salt fails.
func (e *Engine) CreateOrderDeterministic(buyer [20]byte, contentHash, salt [32]byte, deposit *big.Int) (uint64, [20]byte, error) {
	const op = "createOrderDeterministic"
	reg, err := e.load(op)
	if err != nil {
		return 0, [20]byte{}, err
	}
	if salt == ([32]byte{}) {
		return 0, [20]byte{}, escrow.NewError(escrow.KindValidation, op, "salt required")
	}
	addr := PredictAddress(reg.Address, salt)
	id, err := e.create(op, reg, buyer, addr, contentHash, salt, deposit)
	return id, addr, err
}

func (e *Engine) create(op string, reg *Registry, buyer, addr [20]byte, contentHash, salt [32]byte, deposit *big.Int) (uint64, error) {
	if buyer == ([20]byte{}) {
		return 0, escrow.NewError(escrow.KindAuthorization, op, "caller identity required")
	}
	if contentHash == ([32]byte{}) {
		return 0, escrow.NewError(escrow.KindValidation, op, "content hash required")
	}
	if deposit == nil || deposit.Sign() <= 0 {
		return 0, escrow.NewError(escrow.KindValidation, op, "deposit must be positive")
	}
	split, err := escrow.SplitDeposit(deposit, reg.PremiumBps, reg.FeeBps)
	if err != nil {
		return 0, escrow.NewError(escrow.KindValidation, op, "%v", err)
	}
	if reg.MinOrderAmount != nil && split.OrderAmount.Cmp(reg.MinOrderAmount) < 0 {
		return 0, escrow.NewError(escrow.KindValidation, op, "order amount %s below minimum %s", split.OrderAmount, reg.MinOrderAmount)
	}
	if _, exists, err := e.state.EscrowGet(addr); err != nil {
		return 0, err
	} else if exists {
		if salt != ([32]byte{}) {
			return 0, escrow.NewError(escrow.KindValidation, op, "escrow already exists for this salt")
		}
		return 0, escrow.NewError(escrow.KindInvariant, op, "derived address already in use")
	}
	balance, err := e.state.Balance(buyer)
	if err != nil {
		return 0, err
	}
	if balance.Cmp(deposit) < 0 {
		return 0, escrow.NewError(escrow.KindValidation, op, "insufficient balance %s for deposit %s", balance, deposit)
	}

	id := reg.Total
	esc := &escrow.Escrow{
		Address:      addr,
		Registry:     reg.Address,
		OrderID:      id,
		Buyer:        buyer,
		Arbiter:      reg.Arbiter,
		FeeRecipient: reg.FeeRecipient,
		Oracle:       reg.ShippingOracle,
		ContentHash:  contentHash,
		Salt:         salt,
		Deposit:      new(big.Int).Set(deposit),
		OrderAmount:  split.OrderAmount,
		GasCushion:   split.GasCushion,
		FeeAmount:    split.FeeAmount,
		GasUsed:      big.NewInt(0),
		CreatedAt:    e.nowFn(),
		Status:       escrow.StatusPending,
	}
	if err := e.state.Transfer(buyer, addr, deposit); err != nil {
		return 0, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return 0, err
	}
	if err := e.state.EscrowIndexPut(id, addr); err != nil {
		return 0, err
	}
	reg.Total++
	if err := e.state.RegistryPut(reg); err != nil {
		return 0, err
	}
	e.logger.Info("order created",
		slog.Uint64("orderId", id),
		slog.String("escrow", crypto.Format(addr)),
		slog.String("buyer", crypto.Format(buyer)),
		slog.String("deposit", deposit.String()))
	e.emit(escrow.NewCreatedEvent(esc))
	return id, nil
}

// PredictAddress returns the identity CreateOrderDeterministic would assign
// for salt.
func (e *Engine) PredictAddress(salt [32]byte) ([20]byte, error) {
	reg, err := e.load("predictAddress")
	if err != nil {
		return [20]byte{}, err
	}
	return PredictAddress(reg.Address, salt), nil
}

// TotalOrders returns the number of escrows ever created.
func (e *Engine) TotalOrders() (uint64, error) {
	reg, err := e.load("totalOrders")
	if err != nil {
		return 0, err
	}
	return reg.Total, nil
}

// GetEscrows returns escrow identities in creation order. An offset past the
// end yields an empty slice and limit is clamped to what remains.
func (e *Engine) GetEscrows(offset, limit uint64) ([][20]byte, error) {
	reg, err := e.load("getEscrows")
	if err != nil {
		return nil, err
	}
	if offset >= reg.Total || limit == 0 {
		return [][20]byte{}, nil
	}
	if remaining := reg.Total - offset; limit > remaining {
		limit = remaining
	}
	out := make([][20]byte, 0, limit)
	for i := offset; i < offset+limit; i++ {
		addr, ok, err := e.state.EscrowIndexGet(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, escrow.NewError(escrow.KindInvariant, "getEscrows", "escrow index %d missing", i)
		}
		out = append(out, addr)
	}
	return out, nil
}

// SetFeeRecipient changes the fee recipient for future orders.
func (e *Engine) SetFeeRecipient(caller, recipient [20]byte) error {
	return e.update("setFeeRecipient", caller, func(reg *Registry) (string, string, error) {
		if recipient == ([20]byte{}) {
			return "", "", escrow.NewError(escrow.KindValidation, "setFeeRecipient", "fee recipient required")
		}
		reg.FeeRecipient = recipient
		return FieldFeeRecipient, crypto.Format(recipient), nil
	})
}

// SetArbiter changes the arbiter for future orders.
func (e *Engine) SetArbiter(caller, arbiter [20]byte) error {
	return e.update("setArbiter", caller, func(reg *Registry) (string, string, error) {
		if arbiter == ([20]byte{}) {
			return "", "", escrow.NewError(escrow.KindValidation, "setArbiter", "arbiter required")
		}
		reg.Arbiter = arbiter
		return FieldArbiter, crypto.Format(arbiter), nil
	})
}

// SetMinOrderAmount changes the lower bound on the order amount of new
// deposits.
func (e *Engine) SetMinOrderAmount(caller [20]byte, amount *big.Int) error {
	return e.update("setMinOrderAmount", caller, func(reg *Registry) (string, string, error) {
		if amount == nil || amount.Sign() < 0 {
			return "", "", escrow.NewError(escrow.KindValidation, "setMinOrderAmount", "minimum must be non-negative")
		}
		reg.MinOrderAmount = new(big.Int).Set(amount)
		return FieldMinOrderAmount, amount.String(), nil
	})
}

// SetShippingOracle changes the oracle for future orders. The zero identity
// disables oracle confirmation.
func (e *Engine) SetShippingOracle(caller, oracle [20]byte) error {
	return e.update("setShippingOracle", caller, func(reg *Registry) (string, string, error) {
		reg.ShippingOracle = oracle
		return FieldShippingOracle, crypto.Format(oracle), nil
	})
}

// TransferOwnership hands the owner role to next.
func (e *Engine) TransferOwnership(caller, next [20]byte) error {
	return e.update("transferOwnership", caller, func(reg *Registry) (string, string, error) {
		if next == ([20]byte{}) {
			return "", "", escrow.NewError(escrow.KindValidation, "transferOwnership", "new owner required")
		}
		reg.Owner = next
		return FieldOwner, crypto.Format(next), nil
	})
}

func (e *Engine) update(op string, caller [20]byte, apply func(*Registry) (string, string, error)) error {
	reg, err := e.load(op)
	if err != nil {
		return err
	}
	if caller != reg.Owner {
		return escrow.NewError(escrow.KindAuthorization, op, "only the registry owner may change configuration")
	}
	field, value, err := apply(reg)
	if err != nil {
		return err
	}
	if err := e.state.RegistryPut(reg); err != nil {
		return err
	}
	e.logger.Info("registry updated", slog.String("field", field), slog.String("value", value))
	e.emit(NewUpdatedEvent(reg, field, value))
	return nil
}
