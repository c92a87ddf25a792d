package engine

// RunStatus is the disposition of a run. It stays Running until a terminal
// condition fires, then never changes again.
type RunStatus int32

const (
	StatusRunning RunStatus = iota
	StatusCompleted
	StatusMaxStepsReached
	StatusPortfolioFailure
	StatusAborted
)

func (s RunStatus) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusMaxStepsReached:
		return "MaxStepsReached"
	case StatusPortfolioFailure:
		return "PortfolioFailure"
	case StatusAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the status ends the run.
func (s RunStatus) Terminal() bool {
	return s != StatusRunning
}
