package run

// State is the run controller's lifecycle state. Exactly one run is current
// (Armed or Running) at a time; Stopped is terminal for that run.
type State int

const (
	// Idle means no run has been requested.
	Idle State = iota
	// Armed means a start was requested and the controller is waiting for
	// the first sign of activity.
	Armed
	// Running means activity was observed and samples are being captured.
	Running
	// Stopped means the run finished and its result was emitted.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason records which condition ended a run.
type StopReason string

const (
	ReasonManual     StopReason = "manual"
	ReasonTarget     StopReason = "target"
	ReasonTimeLimit  StopReason = "time-limit"
	ReasonInactivity StopReason = "inactivity"
)
