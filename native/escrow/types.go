package escrow

import (
	"fmt"
	"math/big"
)

// Status represents the lifecycle states of a single order escrow.
type Status uint8

const (
	StatusPending Status = iota
	StatusClaimed
	StatusShipped
	StatusArrived
	StatusCompleted
	StatusCancelled
	StatusInDispute
	StatusArbiterReview
	StatusSettled
)

var statusNames = map[Status]string{
	StatusPending:       "pending",
	StatusClaimed:       "claimed",
	StatusShipped:       "shipped",
	StatusArrived:       "arrived",
	StatusCompleted:     "completed",
	StatusCancelled:     "cancelled",
	StatusInDispute:     "in_dispute",
	StatusArbiterReview: "arbiter_review",
	StatusSettled:       "settled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether funds have already been fully paid out.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusSettled:
		return true
	default:
		return false
	}
}

// ParseStatus maps the lower-case status name back to its value.
func ParseStatus(name string) (Status, error) {
	for status, candidate := range statusNames {
		if candidate == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown escrow status %q", name)
}

// Offer is the most recent unaccepted proposal in a dispute. BuyerPercent is
// the share of the order amount the buyer would receive.
type Offer struct {
	BuyerPercent uint8
	Timestamp    int64
	OfferedBy    [20]byte
}

// Payouts accumulates everything pushed out of custody so far.
type Payouts struct {
	Buyer        *big.Int
	Seller       *big.Int
	FeeRecipient *big.Int
}

// Total returns the sum of all recorded payouts.
func (p Payouts) Total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{p.Buyer, p.Seller, p.FeeRecipient} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

func (p Payouts) clone() Payouts {
	return Payouts{
		Buyer:        cloneBigInt(p.Buyer),
		Seller:       cloneBigInt(p.Seller),
		FeeRecipient: cloneBigInt(p.FeeRecipient),
	}
}

// Escrow holds custody, lifecycle and dispute state of one order. The
// identity is the address the registry derived for it; funds owned by the
// escrow are the ledger balance of that address.
type Escrow struct {
	Address  [20]byte
	Registry [20]byte
	OrderID  uint64

	Buyer        [20]byte
	Seller       [20]byte
	Arbiter      [20]byte
	FeeRecipient [20]byte
	Oracle       [20]byte

	ContentHash [32]byte
	Salt        [32]byte

	Deposit     *big.Int
	OrderAmount *big.Int
	GasCushion  *big.Int
	FeeAmount   *big.Int
	GasUsed     *big.Int

	CreatedAt       int64
	ClaimedAt       int64
	ShippedAt       int64
	ArrivedAt       int64
	DisputeOpenedAt int64
	ReviewStartedAt int64
	ClosedAt        int64

	DisputeRound uint8
	LastOffer    Offer

	Status Status
	Paid   Payouts
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Deposit = cloneBigInt(e.Deposit)
	clone.OrderAmount = cloneBigInt(e.OrderAmount)
	clone.GasCushion = cloneBigInt(e.GasCushion)
	clone.FeeAmount = cloneBigInt(e.FeeAmount)
	clone.GasUsed = cloneBigInt(e.GasUsed)
	clone.Paid = e.Paid.clone()
	return &clone
}

// IsBuyerTurn reports whether the next negotiation move belongs to the buyer.
func (e *Escrow) IsBuyerTurn() bool {
	return e.DisputeRound%2 == 0
}

// GasRemaining is the part of the cushion not yet reimbursed.
func (e *Escrow) GasRemaining() *big.Int {
	remaining := new(big.Int).Sub(cloneBigInt(e.GasCushion), cloneBigInt(e.GasUsed))
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// SanitizeEscrow validates and normalises the supplied escrow definition,
// returning a cloned instance with non-nil amount fields. The function does
// not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	if clone.Address == ([20]byte{}) {
		return nil, fmt.Errorf("escrow address required")
	}
	if clone.Buyer == ([20]byte{}) {
		return nil, fmt.Errorf("escrow buyer required")
	}
	if clone.ContentHash == ([32]byte{}) {
		return nil, fmt.Errorf("escrow content hash required")
	}
	for name, v := range map[string]*big.Int{
		"deposit":     clone.Deposit,
		"orderAmount": clone.OrderAmount,
		"gasCushion":  clone.GasCushion,
		"feeAmount":   clone.FeeAmount,
		"gasUsed":     clone.GasUsed,
	} {
		if v.Sign() < 0 {
			return nil, fmt.Errorf("escrow %s must be non-negative", name)
		}
	}
	if clone.GasUsed.Cmp(clone.GasCushion) > 0 {
		return nil, fmt.Errorf("escrow gas used %s exceeds cushion %s", clone.GasUsed, clone.GasCushion)
	}
	if clone.DisputeRound > MaxDisputeRounds {
		return nil, fmt.Errorf("escrow dispute round %d exceeds cap", clone.DisputeRound)
	}
	if clone.LastOffer.BuyerPercent > 100 {
		return nil, fmt.Errorf("escrow offer percent %d out of range", clone.LastOffer.BuyerPercent)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
