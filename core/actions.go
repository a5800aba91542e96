package core

import (
	"fmt"

	"filamint/native/escrow"
)

// Action names an escrow operation as exposed over RPC.
type Action string

const (
	ActionClaim            Action = "claim"
	ActionCancel           Action = "cancel"
	ActionShip             Action = "ship"
	ActionClaimDelivery    Action = "claim-delivery"
	ActionOracleDelivery   Action = "oracle-delivery"
	ActionFinalize         Action = "finalize"
	ActionDispute          Action = "dispute"
	ActionOffer            Action = "offer"
	ActionCounterOffer     Action = "counter-offer"
	ActionAccept           Action = "accept"
	ActionAcceptBuyerOffer Action = "accept-buyer-offer"
	ActionFinalizeOffer    Action = "finalize-offer"
	ActionRejectFinalOffer Action = "reject-final-offer"
	ActionArbiterDecide    Action = "arbiter-decide"
	ActionFinalizeArbiter  Action = "finalize-arbiter"
)

type actionHandler func(e *escrow.Engine, addr [20]byte, call escrow.Call, percent int) error

func withoutPercent(fn func(*escrow.Engine, [20]byte, escrow.Call) error) actionHandler {
	return func(e *escrow.Engine, addr [20]byte, call escrow.Call, _ int) error {
		return fn(e, addr, call)
	}
}

var actionHandlers = map[Action]actionHandler{
	ActionClaim:            withoutPercent((*escrow.Engine).Claim),
	ActionCancel:           withoutPercent((*escrow.Engine).Cancel),
	ActionShip:             withoutPercent((*escrow.Engine).MarkShipped),
	ActionClaimDelivery:    withoutPercent((*escrow.Engine).ClaimDelivery),
	ActionOracleDelivery:   withoutPercent((*escrow.Engine).ConfirmDeliveryViaOracle),
	ActionFinalize:         withoutPercent((*escrow.Engine).FinalizeOrder),
	ActionDispute:          withoutPercent((*escrow.Engine).OpenDispute),
	ActionOffer:            (*escrow.Engine).SubmitOffer,
	ActionCounterOffer:     (*escrow.Engine).SubmitCounterOffer,
	ActionAccept:           withoutPercent((*escrow.Engine).AcceptOffer),
	ActionAcceptBuyerOffer: withoutPercent((*escrow.Engine).AcceptBuyerOffer),
	ActionFinalizeOffer:    withoutPercent((*escrow.Engine).FinalizeOffer),
	ActionRejectFinalOffer: withoutPercent((*escrow.Engine).RejectFinalOffer),
	ActionArbiterDecide:    (*escrow.Engine).ArbiterDecide,
	ActionFinalizeArbiter:  withoutPercent((*escrow.Engine).FinalizeArbiter),
}

// ParseAction validates an action name.
func ParseAction(name string) (Action, error) {
	action := Action(name)
	if _, ok := actionHandlers[action]; !ok {
		return "", fmt.Errorf("unknown escrow action %q", name)
	}
	return action, nil
}

// TakesPercent reports whether the action carries a buyer percentage.
func (a Action) TakesPercent() bool {
	switch a {
	case ActionOffer, ActionCounterOffer, ActionArbiterDecide:
		return true
	default:
		return false
	}
}

// RegistrySetting names an owner-only registry update.
type RegistrySetting string

const (
	RegistrySettingFeeRecipient   RegistrySetting = "fee-recipient"
	RegistrySettingArbiter        RegistrySetting = "arbiter"
	RegistrySettingMinOrder       RegistrySetting = "min-order"
	RegistrySettingShippingOracle RegistrySetting = "oracle"
	RegistrySettingOwner          RegistrySetting = "owner"
)

// ParseRegistrySetting validates a registry setting name.
func ParseRegistrySetting(name string) (RegistrySetting, error) {
	switch setting := RegistrySetting(name); setting {
	case RegistrySettingFeeRecipient, RegistrySettingArbiter, RegistrySettingMinOrder,
		RegistrySettingShippingOracle, RegistrySettingOwner:
		return setting, nil
	default:
		return "", fmt.Errorf("unknown registry setting %q", name)
	}
}
