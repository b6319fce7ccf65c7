// Package session drives the interactive build and run loop: every cycle
// tears down the previous cluster, rebuilds every function, starts them
// again, and waits for the developer to refresh or quit.
package session

// State is a position in the session lifecycle.
type State int

const (
	Idle State = iota
	Building
	Running
	WaitingForInput
	Refreshing
	Quitting
	TornDown
	// Failed marks a cycle that did not produce a running cluster. The
	// session moves on to WaitingForInput so the developer can refresh.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Building:
		return "building"
	case Running:
		return "running"
	case WaitingForInput:
		return "waiting-for-input"
	case Refreshing:
		return "refreshing"
	case Quitting:
		return "quitting"
	case TornDown:
		return "torn-down"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Command is a developer request read from the keyboard.
type Command int

const (
	CommandNone Command = iota
	CommandRefresh
	CommandQuit
)

func (c Command) String() string {
	switch c {
	case CommandRefresh:
		return "refresh"
	case CommandQuit:
		return "quit"
	default:
		return "none"
	}
}

const ctrlC = 0x03

// ParseKey maps a key press onto a command. Unknown keys map to CommandNone.
func ParseKey(b byte) Command {
	switch b {
	case 'r', 'R':
		return CommandRefresh
	case 'q', 'Q', ctrlC:
		return CommandQuit
	default:
		return CommandNone
	}
}
