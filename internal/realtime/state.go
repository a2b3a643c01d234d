package realtime

// State is the connection state owned by the Manager.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

var stateNames = []string{"disconnected", "connecting", "connected", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// active reports whether a transport is opening or open.
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected
}
