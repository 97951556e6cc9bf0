package bridge

// State is the lifecycle state of a Bridge.
type State int

const (
	StateCreated State = iota
	StateAttached
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
