package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"HedgeSim/internal/portfolio"
	"HedgeSim/internal/report"
)

// Sink consumes step outputs as the run produces them. A sink error aborts
// the run; sinks that buffer are responsible for their own flushing.
type Sink interface {
	Consume(StepOutput) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(StepOutput) error

func (f SinkFunc) Consume(out StepOutput) error { return f(out) }

// RunResult is the outcome of a completed (or ended) run.
type RunResult struct {
	RunID      uuid.UUID
	Status     RunStatus
	Steps      int64 // step outputs produced, construction included
	FinalState portfolio.State
	Head       [32]byte // event log chain tip
	Summary    report.Summary
}

// Run steps the engine until a terminal condition, feeding every step output
// to the sinks in order. The context is polled between steps, so
// cancellation lands at a step boundary with the books consistent.
func (e *Engine) Run(ctx context.Context, sinks ...Sink) (RunResult, error) {
	collector := report.NewCollector(e.cfg.StepMinutes)
	var steps int64

	for !e.done {
		select {
		case <-ctx.Done():
			e.finish(StatusAborted)
			return e.result(collector, steps), ctx.Err()
		default:
		}

		stepStart := time.Now()
		out, ok, err := e.Step()
		if e.metrics != nil {
			e.metrics.StepDuration.Observe(time.Since(stepStart).Seconds())
		}
		if err != nil {
			return e.result(collector, steps), err
		}
		if !ok {
			break
		}
		steps++
		collector.Observe(out.State, out.Lp, out.Hedge, out.Events)

		for _, s := range sinks {
			if serr := s.Consume(out); serr != nil {
				e.finish(StatusAborted)
				return e.result(collector, steps), fmt.Errorf("sink: %w", serr)
			}
		}
	}

	return e.result(collector, steps), nil
}

func (e *Engine) result(collector *report.Collector, steps int64) RunResult {
	return RunResult{
		RunID:      e.runID,
		Status:     e.status,
		Steps:      steps,
		FinalState: e.state,
		Head:       e.log.Head(),
		Summary:    collector.Summary(),
	}
}
