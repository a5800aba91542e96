package types

// EscrowAttribute names the attribute carrying the escrow address on every
// escrow lifecycle event.
const EscrowAttribute = "escrow"

// Event is a committed state change as delivered to emitters.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Escrow returns the escrow the event belongs to, or "" for ledger and
// registry events.
func (e *Event) Escrow() string {
	if e == nil {
		return ""
	}
	return e.Attributes[EscrowAttribute]
}
