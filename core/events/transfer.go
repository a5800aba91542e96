package events

import (
	"math/big"

	"filamint/core/types"
	"filamint/crypto"
)

const (
	// TypeTransfer is emitted for ledger movements made by the host rather
	// than by escrow logic: genesis credits and transaction cost charges.
	TypeTransfer = "ledger.transfer"
)

const (
	TransferReasonGenesis = "genesis"
	TransferReasonTxCost  = "tx_cost"
)

type Transfer struct {
	Reason string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"reason": e.Reason,
		"to":     crypto.Format(e.To),
		"amount": "0",
	}
	if e.From != ([20]byte{}) {
		attrs["from"] = crypto.Format(e.From)
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
