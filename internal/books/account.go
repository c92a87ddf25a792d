package books

// Account identifies one cash account in the run's double-entry books.
// The two sub-accounts (lp:cash, hedge:cash) hold the portfolio's margin cash;
// external accounts absorb the other side of every flow so the books stay
// zero-sum.
type Account int32

const (
	AccountUnknown Account = iota
	AccountLpCash
	AccountHedgeCash
	AccountExternalSeed
	AccountExternalFees
	AccountExternalGas
	AccountExternalFunding
	AccountExternalTrading

	accountCount
)

func (a Account) String() string {
	switch a {
	case AccountLpCash:
		return "lp:cash"
	case AccountHedgeCash:
		return "hedge:cash"
	case AccountExternalSeed:
		return "external:seed"
	case AccountExternalFees:
		return "external:fees"
	case AccountExternalGas:
		return "external:gas"
	case AccountExternalFunding:
		return "external:funding"
	case AccountExternalTrading:
		return "external:trading"
	default:
		return "unknown"
	}
}

// IsPortfolio reports whether the account belongs to the portfolio
// (as opposed to an external counterparty).
func (a Account) IsPortfolio() bool {
	return a == AccountLpCash || a == AccountHedgeCash
}
