package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"HedgeSim/internal/engine"
	"HedgeSim/internal/event"
	"HedgeSim/internal/observability"
)

// Worker drains a run's step outputs and batch-writes them to Postgres.
// It runs in its own goroutine, decoupled from the deterministic engine
// loop; the channel uses blocking sends, so a stalled database applies
// backpressure to the run instead of losing rows.
type Worker struct {
	store        *Store
	runID        uuid.UUID
	in           <-chan engine.StepOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	store *Store,
	runID uuid.UUID,
	in <-chan engine.StepOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	return &Worker{
		store:        store,
		runID:        runID,
		in:           in,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          logger,
	}
}

// Run batches incoming outputs and flushes when the batch fills or the
// flush timeout expires. Returns when the input channel closes (normal end
// of run, after a final flush) or the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]engine.StepOutput, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("batch", len(batch)).Msg("final flush failed, batch lost")
				}
			}
			return ctx.Err()

		case out, ok := <-w.in:
			if !ok {
				if len(batch) > 0 {
					if err := w.flushWithRetry(ctx, batch); err != nil {
						return fmt.Errorf("final flush: %w", err)
					}
				}
				return nil
			}

			batch = append(batch, out)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled. The worker never drops a batch on its own;
// on cancellation it makes one last attempt on a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []engine.StepOutput) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("batch", len(batch)).
				Msg("persistence flush retrying")

			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		w.log.Error().Err(err).Msg("persistence flush failed")
	}
}

// flush writes one batch of events and step rows in a single transaction.
func (w *Worker) flush(ctx context.Context, batch []engine.StepOutput) error {
	start := time.Now()

	var events []event.Record
	for _, out := range batch {
		events = append(events, out.Events...)
	}

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	eventsWritten, err := insertEvents(ctx, tx, w.runID, events)
	if err != nil {
		w.countError("write_events")
		return err
	}

	stepsWritten, err := insertSteps(ctx, tx, w.runID, batch)
	if err != nil {
		w.countError("write_steps")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return fmt.Errorf("commit tx: %w", err)
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistEventsWritten.Add(float64(eventsWritten))
		w.metrics.PersistStepsWritten.Add(float64(stepsWritten))
	}
	return nil
}

func (w *Worker) countError(stage string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
