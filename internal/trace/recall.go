package trace

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/lotline-io/lotline/internal/config"
	"github.com/lotline-io/lotline/internal/ledger"
	"github.com/lotline-io/lotline/internal/storage"
)

type (
	// RecallReport is the read-only recall picture for one lot: where its
	// material came from, where it went, and who bought any of it.
	RecallReport struct {
		LotID             int        `json:"lot_id"`
		BackwardLotIDs    []int      `json:"backward_lot_ids"`
		ForwardLotIDs     []int      `json:"forward_lot_ids"`
		AffectedCustomers []Customer `json:"affected_customers"`
	}

	// QuarantineForwardInput quarantines every lot derived from the root.
	QuarantineForwardInput struct {
		LotID       int        `json:"lot_id"`
		Reason      string     `json:"reason"`
		PerformedAt *time.Time `json:"performed_at,omitempty"`
	}

	// QuarantineForwardResult reports what the bulk quarantine touched. The
	// root lot itself is left unchanged.
	QuarantineForwardResult struct {
		RootLotID               int   `json:"root_lot_id"`
		ForwardLotIDs           []int `json:"forward_lot_ids"`
		QuarantinedCount        int   `json:"quarantined_count"`
		AlreadyQuarantinedCount int   `json:"already_quarantined_count"`
		LotEventIDs             []int `json:"lot_event_ids"`
	}
)

// Report builds the recall report for a lot. Affected customers are computed
// over the forward closure plus the root lot itself.
func Report(ctx context.Context, q storage.Querier, lotID int) (*RecallReport, error) {
	exists, err := lotExists(ctx, q, lotID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, ledger.Errf(ledger.CodeNotFound, "Lot not found")
	}

	backward, err := BackwardLotIDs(ctx, q, lotID)
	if err != nil {
		return nil, err
	}

	forward, err := ForwardLotIDs(ctx, q, lotID)
	if err != nil {
		return nil, err
	}

	customers, err := AffectedCustomers(ctx, q, append(append([]int{}, forward...), lotID))
	if err != nil {
		return nil, err
	}

	return &RecallReport{
		LotID:             lotID,
		BackwardLotIDs:    backward,
		ForwardLotIDs:     forward,
		AffectedCustomers: customers,
	}, nil
}

// QuarantineForward transitions every lot in the root's forward closure to
// quarantined, emitting a quarantined_bulk event per transition. Lots already
// quarantined are counted but untouched; the root lot's state never changes.
func QuarantineForward(ctx context.Context, q storage.Querier, in QuarantineForwardInput, performedBy int) (*QuarantineForwardResult, error) {
	exists, err := lotExists(ctx, q, in.LotID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, ledger.Errf(ledger.CodeNotFound, "Lot not found")
	}

	if len(in.Reason) < 2 {
		return nil, ledger.Errf(ledger.CodeBadRequest, "Reason is required to quarantine forward")
	}

	performedAt := time.Now().UTC()
	if in.PerformedAt != nil {
		performedAt = in.PerformedAt.UTC()
	}

	forward, err := ForwardLotIDs(ctx, q, in.LotID)
	if err != nil {
		return nil, err
	}

	result := &QuarantineForwardResult{RootLotID: in.LotID, ForwardLotIDs: forward}

	if len(forward) == 0 {
		return result, nil
	}

	// Lock the closure so concurrent production cannot race the transition.
	states, err := lockLotStates(ctx, q, forward)
	if err != nil {
		return nil, err
	}

	for _, lotID := range forward {
		state, ok := states[lotID]
		if !ok {
			continue
		}

		if state == string(ledger.StateQuarantined) {
			result.AlreadyQuarantinedCount++

			continue
		}

		var eventID int

		err := q.QueryRowContext(ctx, `
			INSERT INTO lot_events (lot_id, event_type, reason, performed_by, performed_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			lotID, ledger.EventQuarantinedBulk, in.Reason, performedBy, performedAt,
		).Scan(&eventID)
		if err != nil {
			return nil, fmt.Errorf("insert quarantined_bulk event for lot %d: %w", lotID, err)
		}

		result.LotEventIDs = append(result.LotEventIDs, eventID)

		if _, err := q.ExecContext(ctx,
			`UPDATE lots SET state = $1 WHERE id = $2`,
			ledger.StateQuarantined, lotID); err != nil {
			return nil, fmt.Errorf("quarantine lot %d: %w", lotID, err)
		}

		result.QuarantinedCount++
	}

	return result, nil
}

// Tracer is the online recall surface; each method is one transaction.
type Tracer struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// New creates a Tracer bound to the given connection.
func New(conn *storage.Connection) *Tracer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "trace"))

	return &Tracer{conn: conn, logger: logger}
}

func (t *Tracer) Report(ctx context.Context, lotID int) (*RecallReport, error) {
	return Report(ctx, t.conn, lotID)
}

func (t *Tracer) QuarantineForward(ctx context.Context, in QuarantineForwardInput, performedBy int) (*QuarantineForwardResult, error) {
	var out *QuarantineForwardResult

	err := storage.WithinTx(ctx, t.conn, func(tx *sql.Tx) error {
		res, err := QuarantineForward(ctx, tx, in, performedBy)
		if err != nil {
			return err
		}

		out = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.WarnContext(ctx, "Forward quarantine executed",
		slog.Int("root_lot_id", out.RootLotID),
		slog.Int("quarantined", out.QuarantinedCount),
		slog.Int("already_quarantined", out.AlreadyQuarantinedCount))

	return out, nil
}

func lotExists(ctx context.Context, q storage.Querier, lotID int) (bool, error) {
	var exists bool

	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM lots WHERE id = $1)`, lotID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check lot %d: %w", lotID, err)
	}

	return exists, nil
}

func lockLotStates(ctx context.Context, q storage.Querier, lotIDs []int) (map[int]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, state FROM lots WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(lotIDs))
	if err != nil {
		return nil, fmt.Errorf("lock forward lots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := make(map[int]string, len(lotIDs))

	for rows.Next() {
		var (
			id    int
			state string
		)

		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("scan forward lot state: %w", err)
		}

		states[id] = state
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forward lots: %w", err)
	}

	return states, nil
}
