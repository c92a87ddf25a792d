package event

// Kind discriminates the decision a record captures.
type Kind int32

const (
	KindUnknown Kind = iota
	KindRebalance
	KindHedge
	KindHedgeFailed
	KindRescue
	KindRescueDenied
	KindFunding
	KindNoAction
)

func (k Kind) String() string {
	switch k {
	case KindRebalance:
		return "Rebalance"
	case KindHedge:
		return "Hedge"
	case KindHedgeFailed:
		return "HedgeFailed"
	case KindRescue:
		return "Rescue"
	case KindRescueDenied:
		return "RescueDenied"
	case KindFunding:
		return "Funding"
	case KindNoAction:
		return "NoAction"
	default:
		return "Unknown"
	}
}

// ParseKind maps a kind name, as produced by String, back to its value.
// Unrecognized names map to KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "Rebalance":
		return KindRebalance
	case "Hedge":
		return KindHedge
	case "HedgeFailed":
		return KindHedgeFailed
	case "Rescue":
		return KindRescue
	case "RescueDenied":
		return KindRescueDenied
	case "Funding":
		return KindFunding
	case "NoAction":
		return KindNoAction
	default:
		return KindUnknown
	}
}
