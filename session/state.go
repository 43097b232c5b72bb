package session

// State is the lifecycle stage of a Session
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Stopped
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
