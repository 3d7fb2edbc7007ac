package store

// ServerState is the persisted lifecycle state of a logical server.
type ServerState string

const (
	// StateOffline means no instance is launched for the server.
	StateOffline ServerState = "OFFLINE"
	// StateOnline means an instance is expected to be serving.
	StateOnline ServerState = "ONLINE"
	// StateUnknown means the last transition may not have completed and the
	// observed state must be re-verified before it can be trusted.
	StateUnknown ServerState = "UNKNOWN"
)

// ParseServerState maps a persisted string onto the closed state set.
// Missing or unrecognized values degrade to StateUnknown, never an error.
func ParseServerState(s string) ServerState {
	switch ServerState(s) {
	case StateOffline:
		return StateOffline
	case StateOnline:
		return StateOnline
	case StateUnknown:
		return StateUnknown
	default:
		return StateUnknown
	}
}

// Valid reports whether the value is one of the three known states.
func (s ServerState) Valid() bool {
	switch s {
	case StateOffline, StateOnline, StateUnknown:
		return true
	}
	return false
}
