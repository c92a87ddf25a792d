package rescue

// BreakerState is the circuit breaker position. Armed means transfers are
// available; Tripped means the current window's budget is gone.
type BreakerState int32

const (
	BreakerArmed BreakerState = iota
	BreakerTripped
)

func (s BreakerState) String() string {
	switch s {
	case BreakerArmed:
		return "Armed"
	case BreakerTripped:
		return "Tripped"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates breaker transitions.
func (s BreakerState) CanTransitionTo(next BreakerState) bool {
	validTransitions := map[BreakerState][]BreakerState{
		BreakerArmed: {
			BreakerTripped, // budget exhausted mid-window
		},
		BreakerTripped: {
			BreakerArmed, // window rollover
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}
	return false
}
