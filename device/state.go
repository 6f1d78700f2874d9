package device

// State is the host's model of what the peripheral is doing.
type State uint8

const (
	Start State = iota
	Connecting
	PowerUp
	Idle
	Disabled
	Accepting
	Escrow
	Stacking
	Returning
	Stacked
	Returned
	Rejecting
	StackerOpen
	Jammed
	Failure
	Paused
)

var stateNames = [...]string{
	Start:       "start",
	Connecting:  "connecting",
	PowerUp:     "power-up",
	Idle:        "idle",
	Disabled:    "disabled",
	Accepting:   "accepting",
	Escrow:      "escrow",
	Stacking:    "stacking",
	Returning:   "returning",
	Stacked:     "stacked",
	Returned:    "returned",
	Rejecting:   "rejecting",
	StackerOpen: "stacker-open",
	Jammed:      "jammed",
	Failure:     "failure",
	Paused:      "paused",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "unknown"
}

// InFlight reports whether a bill is physically moving through the device.
func (s State) InFlight() bool {
	switch s {
	case Accepting, Escrow, Stacking, Returning, Rejecting:
		return true
	default:
		return false
	}
}

// Guarded reports whether the state is transient and watched by the stuck guard.
func (s State) Guarded() bool {
	switch s {
	case Accepting, Stacking, Returning, Rejecting:
		return true
	default:
		return false
	}
}

// Fault reports whether the state is a device fault.
func (s State) Fault() bool {
	switch s {
	case StackerOpen, Jammed, Failure:
		return true
	default:
		return false
	}
}

// Ready reports whether the device completed its power-up sequence and can
// take commands.
func (s State) Ready() bool {
	switch s {
	case Start, Connecting, PowerUp:
		return false
	default:
		return true
	}
}
