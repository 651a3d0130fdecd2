package types

// Event is the attribute payload emitted by ledger operations. The type name
// is namespaced (for example "collateral.deposited") and the attributes carry
// decimal-string amounts so consumers never parse big integers from JSON
// numbers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
