// Package stream publishes run events to NATS JetStream for live
// consumers. Publishing is best-effort: the event log and the Postgres
// store are the durable records, so a slow or down broker costs messages,
// never correctness. A circuit breaker keeps a dead broker from stalling
// the run on connect timeouts.
package stream

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"HedgeSim/internal/engine"
	"HedgeSim/internal/event"
	"HedgeSim/internal/observability"
)

// StreamName is the JetStream stream capturing all run subjects.
const StreamName = "HEDGESIM_EVENTS"

// Connect dials NATS and opens a JetStream context. The caller owns the
// connection.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url, nats.Name("hedgesim"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"hedgesim.runs.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Subject returns the per-kind subject for one run's events.
func Subject(runID uuid.UUID, kind event.Kind) string {
	return fmt.Sprintf("hedgesim.runs.%s.events.%s", runID, kind)
}

// Message is the JSON wire form of one event record.
type Message struct {
	RunID       string    `json:"run_id"`
	Seq         int64     `json:"seq"`
	StepIndex   int64     `json:"step_index"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	Price       float64   `json:"price"`
	Side        string    `json:"side,omitempty"`
	Size        float64   `json:"size,omitempty"`
	AmountMicro int64     `json:"amount_micro,omitempty"`
	PreDelta    float64   `json:"pre_delta"`
	PostDelta   float64   `json:"post_delta"`
	Reason      string    `json:"reason,omitempty"`
	LpRatio     float64   `json:"lp_margin_ratio"`
	HedgeRatio  float64   `json:"hedge_margin_ratio"`
	StateHash   string    `json:"state_hash"`
}

func newMessage(runID uuid.UUID, rec event.Record) Message {
	return Message{
		RunID:       runID.String(),
		Seq:         rec.Seq,
		StepIndex:   rec.StepIndex,
		Timestamp:   rec.Timestamp,
		Kind:        rec.Kind.String(),
		Price:       rec.Price,
		Side:        rec.Side,
		Size:        rec.Size,
		AmountMicro: rec.Amount,
		PreDelta:    rec.PreDelta,
		PostDelta:   rec.PostDelta,
		Reason:      rec.Reason,
		LpRatio:     rec.Summary.LpMarginRatio,
		HedgeRatio:  rec.Summary.HedgeMarginRatio,
		StateHash:   hex.EncodeToString(rec.StateHash[:]),
	}
}

// Publisher fans one run's events out to JetStream. The sink side enqueues
// without blocking and drops on a full buffer; the Run goroutine drains and
// publishes through the breaker.
type Publisher struct {
	js      jetstream.JetStream
	runID   uuid.UUID
	in      chan engine.StepOutput
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(
	js jetstream.JetStream,
	runID uuid.UUID,
	buffer int,
	timeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Publisher {
	p := &Publisher{
		js:      js,
		runID:   runID,
		in:      make(chan engine.StepOutput, buffer),
		timeout: timeout,
		metrics: metrics,
		log:     logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "nats-publish",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("publish breaker state change")
			if p.metrics != nil {
				if to == gobreaker.StateOpen {
					p.metrics.PublishBreakerOpen.Set(1)
				} else {
					p.metrics.PublishBreakerOpen.Set(0)
				}
			}
		},
	})
	return p
}

// Sink adapts the publisher's queue to the engine sink interface. The send
// never blocks; outputs that do not fit are dropped and counted.
func (p *Publisher) Sink() engine.Sink {
	return engine.SinkFunc(func(out engine.StepOutput) error {
		if len(out.Events) == 0 {
			return nil
		}
		select {
		case p.in <- out:
		default:
			p.drop(len(out.Events))
		}
		return nil
	})
}

// Close marks the end of input. Run drains what is queued and returns.
func (p *Publisher) Close() { close(p.in) }

// Run drains the queue until Close or ctx cancellation. Publish failures
// drop the record, count it, and move on.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-p.in:
			if !ok {
				return nil
			}
			for _, rec := range out.Events {
				if err := p.publish(rec); err != nil {
					p.drop(1)
					p.log.Warn().Err(err).Int64("seq", rec.Seq).Msg("publish failed, event dropped")
					continue
				}
				if p.metrics != nil {
					p.metrics.PublishedEvents.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(rec event.Record) error {
	data, err := json.Marshal(newMessage(p.runID, rec))
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		return p.js.Publish(ctx, Subject(p.runID, rec.Kind), data)
	})
	return err
}

func (p *Publisher) drop(n int) {
	if p.metrics != nil {
		p.metrics.PublishDrops.Add(float64(n))
	}
}
