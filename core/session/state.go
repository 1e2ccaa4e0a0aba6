package session

// State of the engine channel.
//
//	Idle -> Connecting -> Open -> Closing -> Idle
//	Connecting|Open -> Error -> Idle
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	}
	return "unknown"
}
