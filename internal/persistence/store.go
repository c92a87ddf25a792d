// Package persistence streams run output to Postgres. Events and per-step
// state land in append-only tables keyed by (run_id, seq); inserts are
// idempotent, so a retried batch never duplicates rows. The read side
// reconstructs event records well enough to re-verify the hash chain.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"HedgeSim/internal/engine"
	"HedgeSim/internal/event"
)

// Store wraps the Postgres connection pool for one HedgeSim database.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres via lib/pq. The connection is lazy; call Ping
// to verify reachability before starting a run.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewStore(db), nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// RunRow is one row of hedgesim.runs. Summary holds the JSON-encoded
// report.Summary; Head is the final hash-chain tip.
type RunRow struct {
	RunID      uuid.UUID
	Status     string
	Steps      int64
	Head       []byte
	Summary    []byte
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is still going
}

// NewRunRow flattens a finished run into its runs-table row.
func NewRunRow(res engine.RunResult, startedAt, finishedAt time.Time) (RunRow, error) {
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return RunRow{}, fmt.Errorf("marshal summary: %w", err)
	}
	return RunRow{
		RunID:      res.RunID,
		Status:     res.Status.String(),
		Steps:      res.Steps,
		Head:       res.Head[:],
		Summary:    summary,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}

// UpsertRun inserts the run row or, on replay, overwrites its mutable
// fields. started_at keeps its original value.
func (s *Store) UpsertRun(ctx context.Context, row RunRow) error {
	finished := sql.NullTime{Time: row.FinishedAt, Valid: !row.FinishedAt.IsZero()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hedgesim.runs (run_id, status, steps, head, summary, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO UPDATE SET
			status      = EXCLUDED.status,
			steps       = EXCLUDED.steps,
			head        = EXCLUDED.head,
			summary     = EXCLUDED.summary,
			finished_at = EXCLUDED.finished_at
	`, row.RunID, row.Status, row.Steps, row.Head, row.Summary, row.StartedAt, finished)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// LoadRun reads one runs-table row back.
func (s *Store) LoadRun(ctx context.Context, runID uuid.UUID) (RunRow, error) {
	var (
		row      RunRow
		finished sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, status, steps, head, summary, started_at, finished_at
		FROM hedgesim.runs
		WHERE run_id = $1
	`, runID).Scan(&row.RunID, &row.Status, &row.Steps, &row.Head, &row.Summary, &row.StartedAt, &finished)
	if err != nil {
		return RunRow{}, fmt.Errorf("load run: %w", err)
	}
	row.FinishedAt = finished.Time
	return row, nil
}

// querier lets the batch inserts run against either the pool or an open
// transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	eventCols = 21
	stepCols  = 21
)

// WriteEvents inserts event records outside a transaction. The worker
// prefers the transactional path; this is for tools and tests.
func (s *Store) WriteEvents(ctx context.Context, runID uuid.UUID, records []event.Record) (int64, error) {
	return insertEvents(ctx, s.db, runID, records)
}

// WriteSteps inserts per-step state rows outside a transaction.
func (s *Store) WriteSteps(ctx context.Context, runID uuid.UUID, outs []engine.StepOutput) (int64, error) {
	return insertSteps(ctx, s.db, runID, outs)
}

// insertEvents writes a batch of records with one multi-row INSERT.
// ON CONFLICT (run_id, seq) DO NOTHING makes replays a no-op; the returned
// count is rows actually written.
func insertEvents(ctx context.Context, q querier, runID uuid.UUID, records []event.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `INSERT INTO hedgesim.run_events
		(run_id, seq, step_index, ts, kind, price, side, size, amount,
		 pre_delta, post_delta, reason,
		 lp_equity, lp_margin_ratio, lp_cash,
		 hedge_equity, hedge_margin_ratio, hedge_cash, realized_pnl,
		 state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*eventCols)
	for i, r := range records {
		values = append(values, placeholders(i*eventCols, eventCols))
		args = append(args,
			runID, r.Seq, r.StepIndex, r.Timestamp.UnixNano(), r.Kind.String(),
			r.Price, r.Side, r.Size, r.Amount,
			r.PreDelta, r.PostDelta, r.Reason,
			r.Summary.LpEquity, r.Summary.LpMarginRatio, r.Summary.LpCash,
			r.Summary.HedgeEquity, r.Summary.HedgeMarginRatio, r.Summary.HedgeCash, r.Summary.RealizedPnl,
			r.StateHash[:], r.PrevHash[:],
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (run_id, seq) DO NOTHING"

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	return res.RowsAffected()
}

// insertSteps writes a batch of per-step state rows, one per StepOutput.
func insertSteps(ctx context.Context, q querier, runID uuid.UUID, outs []engine.StepOutput) (int64, error) {
	if len(outs) == 0 {
		return 0, nil
	}

	query := `INSERT INTO hedgesim.run_steps
		(run_id, step_index, ts, price,
		 lp_base, lp_quote, lp_liquidity, lp_range_lower, lp_range_upper,
		 hedge_size, hedge_entry_price, lp_cash, hedge_cash,
		 lp_equity, lp_margin_ratio, hedge_equity, hedge_margin_ratio,
		 realized_pnl, funding_paid, rescue_transferred, last_rebalance_step)
		VALUES `

	values := make([]string, 0, len(outs))
	args := make([]interface{}, 0, len(outs)*stepCols)
	for i, out := range outs {
		st := out.State
		values = append(values, placeholders(i*stepCols, stepCols))
		args = append(args,
			runID, st.StepIndex, st.Timestamp.UnixNano(), st.Price,
			st.LpQuantityBase, st.LpQuantityQuote, st.LpLiquidity, st.LpRangeLower, st.LpRangeUpper,
			st.HedgeSize, st.HedgeEntryPrice, st.LpMargin, st.HedgeMargin,
			out.Lp.Equity, out.Lp.MarginRatio, out.Hedge.Equity, out.Hedge.MarginRatio,
			st.RealizedPnl, st.CumulativeFundingPaid, st.CumulativeRescueTransferred, st.LastRebalanceStep,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (run_id, step_index) DO NOTHING"

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert steps: %w", err)
	}
	return res.RowsAffected()
}

func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}

// Events reloads records for a run in sequence order, starting at fromSeq,
// at most limit rows. The reconstruction is digest-complete: VerifyChain
// over the result re-derives the stored hashes.
func (s *Store) Events(ctx context.Context, runID uuid.UUID, fromSeq int64, limit int) ([]event.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, step_index, ts, kind, price, side, size, amount,
		       pre_delta, post_delta, reason,
		       lp_equity, lp_margin_ratio, lp_cash,
		       hedge_equity, hedge_margin_ratio, hedge_cash, realized_pnl,
		       state_hash, prev_hash
		FROM hedgesim.run_events
		WHERE run_id = $1 AND seq >= $2
		ORDER BY seq ASC
		LIMIT $3
	`, runID, fromSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		var (
			r           event.Record
			ts          int64
			kind        string
			state, prev []byte
		)
		if err := rows.Scan(
			&r.Seq, &r.StepIndex, &ts, &kind, &r.Price, &r.Side, &r.Size, &r.Amount,
			&r.PreDelta, &r.PostDelta, &r.Reason,
			&r.Summary.LpEquity, &r.Summary.LpMarginRatio, &r.Summary.LpCash,
			&r.Summary.HedgeEquity, &r.Summary.HedgeMarginRatio, &r.Summary.HedgeCash, &r.Summary.RealizedPnl,
			&state, &prev,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		r.Kind = event.ParseKind(kind)
		copy(r.StateHash[:], state)
		copy(r.PrevHash[:], prev)
		records = append(records, r)
	}
	return records, rows.Err()
}

// LastSeq returns the highest persisted sequence for the run, -1 when the
// run has no rows yet.
func (s *Store) LastSeq(ctx context.Context, runID uuid.UUID) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM hedgesim.run_events WHERE run_id = $1`, runID,
	).Scan(&seq)
	if err != nil {
		return -1, fmt.Errorf("last seq: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// VerifyRun re-walks the persisted hash chain for a run and returns how
// many records checked out. Pages keep memory flat on long runs; the tail
// record of each page is carried forward so the cross-page link is checked
// as well.
func (s *Store) VerifyRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	const pageSize = 5000

	var (
		verified int64
		tail     []event.Record
		from     int64
	)
	for {
		page, err := s.Events(ctx, runID, from, pageSize)
		if err != nil {
			return verified, err
		}
		if len(page) == 0 {
			return verified, nil
		}
		if err := event.VerifyChain(append(tail, page...)); err != nil {
			return verified, err
		}
		verified += int64(len(page))

		last := page[len(page)-1]
		tail = []event.Record{last}
		from = last.Seq + 1
		if len(page) < pageSize {
			return verified, nil
		}
	}
}
