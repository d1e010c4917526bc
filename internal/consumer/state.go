package consumer

// State is the lifecycle position of a Runtime.
type State int32

const (
	Stopped State = iota
	Connecting
	Subscribed
	Consuming
	Rebalancing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Consuming:
		return "consuming"
	case Rebalancing:
		return "rebalancing"
	default:
		return "unknown"
	}
}

// Live reports whether the runtime holds a group membership.
func (s State) Live() bool {
	return s == Subscribed || s == Consuming || s == Rebalancing
}
