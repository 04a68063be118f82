package types

// Event is a structured record of a state change applied by the escrow
// engine. Attributes carry stringified payload fields so downstream
// subscribers do not need the engine's types to decode them.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
