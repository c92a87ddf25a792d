package feed

import (
	"fmt"
	"math"
	"time"
)

// InvalidPriceError reports a non-positive or non-finite price, or a timestamp
// that does not advance. Fatal: the engine aborts the run with it.
type InvalidPriceError struct {
	StepIndex int64
	Price     float64
	Reason    string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price at step %d: %s (price=%v)", e.StepIndex, e.Reason, e.Price)
}

// Validator enforces observation ordering and price sanity for one run.
// Not thread-safe; only accessed from the single-threaded engine.
type Validator struct {
	nominalStep   time.Duration
	lastTimestamp time.Time
	seen          int64
	metrics       *ValidatorMetrics
}

// NewValidator returns a validator expecting observations roughly nominalStep
// apart. Timestamps must strictly increase; larger gaps are tolerated but
// counted.
func NewValidator(nominalStep time.Duration) *Validator {
	return &Validator{
		nominalStep: nominalStep,
		metrics:     &ValidatorMetrics{},
	}
}

// Validate checks one observation, advancing the validator's position on
// success.
func (v *Validator) Validate(obs Observation) error {
	if math.IsNaN(obs.Price) || math.IsInf(obs.Price, 0) {
		return &InvalidPriceError{StepIndex: v.seen, Price: obs.Price, Reason: "price is not finite"}
	}
	if obs.Price <= 0 {
		return &InvalidPriceError{StepIndex: v.seen, Price: obs.Price, Reason: "price is not positive"}
	}

	if v.seen > 0 && !obs.Timestamp.After(v.lastTimestamp) {
		return &InvalidPriceError{
			StepIndex: v.seen,
			Price:     obs.Price,
			Reason: fmt.Sprintf("timestamp does not advance: last=%s, got=%s",
				v.lastTimestamp.Format(time.RFC3339), obs.Timestamp.Format(time.RFC3339)),
		}
	}

	// Gap detected - tolerated but counted, same as a missing candle.
	if v.seen > 0 && v.nominalStep > 0 && obs.Timestamp.Sub(v.lastTimestamp) > 2*v.nominalStep {
		v.metrics.RecordGap()
	}

	v.lastTimestamp = obs.Timestamp
	v.seen++
	return nil
}

// Seen returns the number of validated observations.
func (v *Validator) Seen() int64 { return v.seen }

// Metrics exposes gap counters for end-of-run reporting.
func (v *Validator) Metrics() *ValidatorMetrics { return v.metrics }

// ValidatorMetrics tracks feed anomalies.
// Not thread-safe; only accessed from the single-threaded engine.
type ValidatorMetrics struct {
	gaps int64
}

func (m *ValidatorMetrics) RecordGap() { m.gaps++ }
func (m *ValidatorMetrics) Gaps() int64 { return m.gaps }
