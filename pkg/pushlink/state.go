package pushlink

// State is the connection state of a Link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Backoff:      "backoff",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
