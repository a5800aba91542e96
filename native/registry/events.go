package registry

import (
	"filamint/core/types"
	"filamint/crypto"
)

const (
	EventTypeRegistryUpdated = "registry.updated"
)

// Registry fields reported by EventTypeRegistryUpdated.
const (
	FieldFeeRecipient   = "feeRecipient"
	FieldArbiter        = "arbiter"
	FieldMinOrderAmount = "minOrderAmount"
	FieldShippingOracle = "shippingOracle"
	FieldOwner          = "owner"
)

// NewUpdatedEvent reports an owner change to a registry field.
func NewUpdatedEvent(r *Registry, field, value string) *types.Event {
	return &types.Event{
		Type: EventTypeRegistryUpdated,
		Attributes: map[string]string{
			"registry": crypto.Format(r.Address),
			"field":    field,
			"value":    value,
		},
	}
}
