package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"filamint/core/events"
	"filamint/core/state"
	"filamint/core/types"
	"filamint/crypto"
	"filamint/native/escrow"
	"filamint/native/registry"
	"filamint/observability"
	telemetry "filamint/observability/otel"
	"filamint/storage"
)

// TxCostSink receives every transaction cost charged by the node. No key
// controls it, so charged costs leave circulation.
var TxCostSink = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("filamint.txcost"))[12:])
	return addr
}()

// Call identifies the originator of an operation. A nil TxCost falls back to
// the node's default.
type Call struct {
	Caller [20]byte
	TxCost *big.Int
}

// Options configures a Node.
type Options struct {
	Logger        *slog.Logger
	Emitter       events.Emitter
	Now           func() int64
	DefaultTxCost *big.Int
	// MaxTxCost rejects calls declaring a higher cost. Nil leaves declared
	// costs unbounded.
	MaxTxCost *big.Int
}

// Node hosts the registry and its escrows on top of the ledger state. All
// mutating calls are serialized and atomic: each runs in one state
// transaction and its events are released only after the commit.
type Node struct {
	mu      sync.RWMutex
	db      storage.Database
	state   *state.Manager
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() int64
	txCost  *big.Int
	maxCost *big.Int
	metrics interface {
		ObserveOperation(operation string, kind string, err error, duration time.Duration)
	}
}

func NewNode(db storage.Database, opts Options) *Node {
	n := &Node{
		db:      db,
		state:   state.NewManager(db),
		emitter: opts.Emitter,
		logger:  opts.Logger,
		nowFn:   opts.Now,
		txCost:  big.NewInt(0),
		metrics: observability.Escrow(),
	}
	if n.emitter == nil {
		n.emitter = events.NoopEmitter{}
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	if n.nowFn == nil {
		n.nowFn = func() int64 { return time.Now().Unix() }
	}
	if opts.DefaultTxCost != nil && opts.DefaultTxCost.Sign() > 0 {
		n.txCost = new(big.Int).Set(opts.DefaultTxCost)
	}
	if opts.MaxTxCost != nil {
		n.maxCost = new(big.Int).Set(opts.MaxTxCost)
	}
	return n
}

// Bootstrap installs the registry and credits the genesis allocations the
// first time the node starts on an empty database. Later starts return the
// stored registry and ignore both arguments.
func (n *Node) Bootstrap(ctx context.Context, reg *registry.Registry, genesis map[[20]byte]*big.Int) (*registry.Registry, error) {
	var out *registry.Registry
	err := n.apply(ctx, "bootstrap", nil, func(tx *state.Tx, env *opEnv) error {
		_, exists, err := tx.RegistryGet()
		if err != nil {
			return err
		}
		if !exists {
			for addr, amount := range genesis {
				if err := tx.Credit(addr, amount); err != nil {
					return fmt.Errorf("genesis credit %s: %w", crypto.Format(addr), err)
				}
				env.buffer.Emit(events.Transfer{Reason: events.TransferReasonGenesis, To: addr, Amount: amount})
			}
		}
		out, err = env.registry.Bootstrap(reg)
		return err
	})
	return out, err
}

type opEnv struct {
	escrow   *escrow.Engine
	registry *registry.Engine
	buffer   *events.Buffer
	call     escrow.Call
}

// apply runs fn inside one state transaction. When call is set, the caller is
// charged its transaction cost before fn runs; a rejected call is rolled back
// together with its charge.
func (n *Node) apply(ctx context.Context, op string, call *Call, fn func(*state.Tx, *opEnv) error) error {
	_, span := telemetry.Tracer().Start(ctx, "node."+op)
	defer span.End()

	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()
	buffer := &events.Buffer{}
	err := n.state.Update(func(tx *state.Tx) error {
		env := n.environment(tx, buffer)
		if call != nil {
			cost, err := n.charge(op, tx, buffer, *call)
			if err != nil {
				return err
			}
			env.call = escrow.Call{Caller: call.Caller, TxCost: cost}
			span.SetAttributes(
				attribute.String("caller", crypto.Format(call.Caller)),
				attribute.String("tx_cost", cost.String()))
		}
		return fn(tx, env)
	})

	kind := ""
	if err != nil {
		buffer.Reset()
		kind = escrow.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	} else {
		buffer.FlushTo(n.emitter)
	}
	n.metrics.ObserveOperation(op, kind, err, time.Since(start))
	return err
}

func (n *Node) environment(tx *state.Tx, buffer *events.Buffer) *opEnv {
	esc := escrow.NewEngine()
	esc.SetState(tx)
	esc.SetEmitter(buffer)
	esc.SetLogger(n.logger)
	esc.SetNowFunc(n.nowFn)

	reg := registry.NewEngine()
	reg.SetState(tx)
	reg.SetEmitter(buffer)
	reg.SetLogger(n.logger)
	reg.SetNowFunc(n.nowFn)

	return &opEnv{escrow: esc, registry: reg, buffer: buffer}
}

func (n *Node) charge(op string, tx *state.Tx, buffer *events.Buffer, call Call) (*big.Int, error) {
	if call.Caller == ([20]byte{}) {
		return nil, escrow.NewError(escrow.KindAuthorization, op, "caller required")
	}
	if err := n.checkExternalCaller(op, tx, call.Caller); err != nil {
		return nil, err
	}
	cost := n.txCost
	if call.TxCost != nil {
		if call.TxCost.Sign() < 0 {
			return nil, escrow.NewError(escrow.KindValidation, op, "negative transaction cost")
		}
		if n.maxCost != nil && call.TxCost.Cmp(n.maxCost) > 0 {
			return nil, escrow.NewError(escrow.KindValidation, op, "transaction cost %s exceeds maximum %s", call.TxCost, n.maxCost)
		}
		cost = call.TxCost
	}
	cost = new(big.Int).Set(cost)
	if _, err := tx.IncrementNonce(call.Caller); err != nil {
		return nil, err
	}
	if cost.Sign() == 0 {
		return cost, nil
	}
	if err := tx.Transfer(call.Caller, TxCostSink, cost); err != nil {
		if errors.Is(err, state.ErrInsufficientBalance) {
			return nil, escrow.NewError(escrow.KindValidation, op, "balance does not cover transaction cost %s", cost)
		}
		return nil, err
	}
	buffer.Emit(events.Transfer{Reason: events.TransferReasonTxCost, From: call.Caller, To: TxCostSink, Amount: cost})
	return cost, nil
}

// checkExternalCaller rejects addresses whose balances the node holds on
// behalf of others. Escrow custody must always equal its payout plan.
func (n *Node) checkExternalCaller(op string, tx *state.Tx, caller [20]byte) error {
	if caller == TxCostSink {
		return escrow.NewError(escrow.KindAuthorization, op, "the transaction cost sink cannot originate calls")
	}
	if _, isEscrow, err := tx.EscrowGet(caller); err != nil {
		return err
	} else if isEscrow {
		return escrow.NewError(escrow.KindAuthorization, op, "escrow %s cannot originate calls", crypto.Format(caller))
	}
	reg, exists, err := tx.RegistryGet()
	if err != nil {
		return err
	}
	if exists && reg.Address == caller {
		return escrow.NewError(escrow.KindAuthorization, op, "the registry cannot originate calls")
	}
	return nil
}

// CreateOrder creates a new escrow funded from the caller's balance. A nil
// salt uses the sequential address; otherwise the address is the one
// PredictAddress returns for that salt.
func (n *Node) CreateOrder(ctx context.Context, call Call, contentHash [32]byte, deposit *big.Int, salt *[32]byte) (uint64, [20]byte, error) {
	var (
		id   uint64
		addr [20]byte
	)
	err := n.apply(ctx, "createOrder", &call, func(_ *state.Tx, env *opEnv) error {
		var err error
		if salt != nil {
			id, addr, err = env.registry.CreateOrderDeterministic(call.Caller, contentHash, *salt, deposit)
		} else {
			id, addr, err = env.registry.CreateOrder(call.Caller, contentHash, deposit)
		}
		return err
	})
	if err != nil {
		return 0, [20]byte{}, err
	}
	return id, addr, nil
}

// Perform applies one escrow action. percent is only read by the actions
// that carry a buyer share.
func (n *Node) Perform(ctx context.Context, addr [20]byte, action Action, call Call, percent int) error {
	handler, ok := actionHandlers[action]
	if !ok {
		return escrow.NewError(escrow.KindValidation, string(action), "unknown escrow action")
	}
	return n.apply(ctx, string(action), &call, func(_ *state.Tx, env *opEnv) error {
		return handler(env.escrow, addr, env.call, percent)
	})
}

// UpdateRegistry applies one owner operation. amount is used by
// RegistrySettingMinOrder, target by the others.
func (n *Node) UpdateRegistry(ctx context.Context, setting RegistrySetting, call Call, target [20]byte, amount *big.Int) error {
	op := "registry." + string(setting)
	return n.apply(ctx, op, &call, func(_ *state.Tx, env *opEnv) error {
		switch setting {
		case RegistrySettingFeeRecipient:
			return env.registry.SetFeeRecipient(call.Caller, target)
		case RegistrySettingArbiter:
			return env.registry.SetArbiter(call.Caller, target)
		case RegistrySettingShippingOracle:
			return env.registry.SetShippingOracle(call.Caller, target)
		case RegistrySettingOwner:
			return env.registry.TransferOwnership(call.Caller, target)
		case RegistrySettingMinOrder:
			return env.registry.SetMinOrderAmount(call.Caller, amount)
		default:
			return escrow.NewError(escrow.KindValidation, op, "unknown registry setting")
		}
	})
}

func (n *Node) view(fn func(*opEnv) error) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state.View(func(tx *state.Tx) error {
		return fn(n.environment(tx, &events.Buffer{}))
	})
}

// Escrow returns a snapshot of the escrow at addr.
func (n *Node) Escrow(addr [20]byte) (*escrow.Escrow, error) {
	var out *escrow.Escrow
	err := n.view(func(env *opEnv) error {
		var err error
		out, err = env.escrow.Get(addr)
		return err
	})
	return out, err
}

// TimeRemaining returns the seconds left in the escrow's current window.
func (n *Node) TimeRemaining(addr [20]byte) (int64, error) {
	var out int64
	err := n.view(func(env *opEnv) error {
		var err error
		out, err = env.escrow.TimeRemaining(addr)
		return err
	})
	return out, err
}

// Registry returns the registry record.
func (n *Node) Registry() (*registry.Registry, error) {
	var out *registry.Registry
	err := n.view(func(env *opEnv) error {
		var err error
		out, err = env.registry.Registry()
		return err
	})
	return out, err
}

// TotalOrders returns the number of escrows ever created.
func (n *Node) TotalOrders() (uint64, error) {
	var out uint64
	err := n.view(func(env *opEnv) error {
		var err error
		out, err = env.registry.TotalOrders()
		return err
	})
	return out, err
}

// Escrows pages through escrow addresses in creation order.
func (n *Node) Escrows(offset, limit uint64) ([][20]byte, error) {
	var out [][20]byte
	err := n.view(func(env *opEnv) error {
		var err error
		out, err = env.registry.GetEscrows(offset, limit)
		return err
	})
	return out, err
}

// PredictAddress returns the address a deterministic order with salt would
// be created at.
func (n *Node) PredictAddress(salt [32]byte) ([20]byte, error) {
	var out [20]byte
	err := n.view(func(env *opEnv) error {
		var err error
		out, err = env.registry.PredictAddress(salt)
		return err
	})
	return out, err
}

// Account returns the ledger account for addr.
func (n *Node) Account(addr [20]byte) (*types.Account, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out *types.Account
	err := n.state.View(func(tx *state.Tx) error {
		var err error
		out, err = tx.GetAccount(addr)
		return err
	})
	return out, err
}

// Close releases the underlying database.
func (n *Node) Close() error {
	if n.db == nil {
		return nil
	}
	n.db.Close()
	return nil
}
