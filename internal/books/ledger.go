package books

import "fmt"

// Ledger maintains in-memory account balances for one run.
// Runs never share a Ledger.
type Ledger struct {
	balances map[Account]int64
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[Account]int64, int(accountCount)),
	}
}

// ApplyJournal applies a single journal entry to balances
func (l *Ledger) ApplyJournal(j Journal) {
	l.balances[j.Debit] += j.Amount
	l.balances[j.Credit] -= j.Amount
}

// ApplyBatch validates the batch and applies all its journals.
func (l *Ledger) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		l.ApplyJournal(j)
	}

	return nil
}

// Balance returns the current balance for an account
func (l *Ledger) Balance(a Account) int64 {
	return l.balances[a]
}

// LpCash returns the LP sub-account cash balance in micro-USD.
func (l *Ledger) LpCash() int64 {
	return l.balances[AccountLpCash]
}

// HedgeCash returns the hedge sub-account cash balance in micro-USD.
func (l *Ledger) HedgeCash() int64 {
	return l.balances[AccountHedgeCash]
}

// ValidateZeroSum checks that all balances sum to zero. Every journal moves a
// single amount between two accounts, so any nonzero total means corruption.
func (l *Ledger) ValidateZeroSum() error {
	var total int64
	for _, balance := range l.balances {
		total += balance
	}
	if total != 0 {
		return fmt.Errorf("books are not zero-sum: total=%d", total)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (l *Ledger) ValidateNonNegative(a Account) error {
	balance := l.balances[a]
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", a, balance)
	}
	return nil
}

// Snapshot returns a copy of all balances
func (l *Ledger) Snapshot() map[Account]int64 {
	snapshot := make(map[Account]int64, len(l.balances))
	for k, v := range l.balances {
		snapshot[k] = v
	}
	return snapshot
}

// CanonicalBytes serializes balances in account order for state hashing.
func (l *Ledger) CanonicalBytes() []byte {
	buf := make([]byte, 0, int(accountCount)*9)
	for a := AccountLpCash; a < accountCount; a++ {
		buf = append(buf, byte(a))
		buf = appendInt64LE(buf, l.balances[a])
	}
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
