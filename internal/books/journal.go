package books

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeSeed JournalType = iota
	JournalTypeLpEntry
	JournalTypeRescueTransfer
	JournalTypeFundingPayment
	JournalTypeTradeFee
	JournalTypeTradePnl
	JournalTypeLpFeeAccrual
	JournalTypeRebalanceCost
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeSeed:
		return "Seed"
	case JournalTypeLpEntry:
		return "LpEntry"
	case JournalTypeRescueTransfer:
		return "RescueTransfer"
	case JournalTypeFundingPayment:
		return "FundingPayment"
	case JournalTypeTradeFee:
		return "TradeFee"
	case JournalTypeTradePnl:
		return "TradePnl"
	case JournalTypeLpFeeAccrual:
		return "LpFeeAccrual"
	case JournalTypeRebalanceCost:
		return "RebalanceCost"
	default:
		return "Unknown"
	}
}

// Journal represents a single double-entry journal entry.
// A single positive amount moves from the credit account to the debit account,
// so every entry is balanced by construction.
type Journal struct {
	JournalID   uuid.UUID
	BatchID     uuid.UUID
	StepIndex   int64
	Debit       Account // balance increases
	Credit      Account // balance decreases
	Amount      int64   // micro-USD, ALWAYS positive
	JournalType JournalType
}

// Batch groups the journal entries produced by one event (e.g. a hedge fill
// writes a fee entry and a PnL entry under one batch).
type Batch struct {
	BatchID   uuid.UUID
	StepIndex int64
	Journals  []Journal
}

// NewBatch allocates an empty batch for the given step.
func NewBatch(stepIndex int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		StepIndex: stepIndex,
	}
}

// Add appends a journal entry, stamping the batch ID and step index.
func (b *Batch) Add(jt JournalType, debit, credit Account, amount int64) {
	b.Journals = append(b.Journals, Journal{
		JournalID:   uuid.New(),
		BatchID:     b.BatchID,
		StepIndex:   b.StepIndex,
		Debit:       debit,
		Credit:      credit,
		Amount:      amount,
		JournalType: jt,
	})
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.Debit == j.Credit {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.Debit <= AccountUnknown || j.Debit >= accountCount ||
			j.Credit <= AccountUnknown || j.Credit >= accountCount {
			return fmt.Errorf("journal %s references unknown account", j.JournalID)
		}
	}

	return nil
}
