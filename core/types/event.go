package types

// Event is the externally observable audit record emitted by the
// distributor after a successful state transition.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
