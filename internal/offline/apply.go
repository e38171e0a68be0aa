package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lotline-io/lotline/internal/ledger"
	"github.com/lotline-io/lotline/internal/storage"
)

// Apply replays queued actions for one client. Rows are fetched in submit
// order and grouped into client transactions by contiguous client_txn_id;
// each group runs under a savepoint so a failing group rolls back whole while
// the pass keeps going. Status updates and conflict records for a failed
// group are written after rolling back to its savepoint, inside the same
// outer transaction, so an apply pass is itself atomic.
func (r *Reconciler) Apply(ctx context.Context, clientID string, limit int) (*ApplyResponse, error) {
	if limit <= 0 {
		limit = 200
	}

	runID := uuid.NewString()
	resp := &ApplyResponse{}

	err := storage.WithinTx(ctx, r.conn, func(tx *sql.Tx) error {
		rows, err := fetchQueuedForUpdate(ctx, tx, clientID, limit)
		if err != nil {
			return err
		}

		for i, group := range groupByClientTxn(rows) {
			if err := r.applyGroup(ctx, tx, fmt.Sprintf("txn_group_%d", i), group, resp); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "Apply pass finished",
		slog.String("run_id", runID),
		slog.String("client_id", clientID),
		slog.Int("applied", resp.Applied),
		slog.Int("conflicts", resp.Conflicts),
		slog.Int("rejected", resp.Rejected))

	return resp, nil
}

// applyGroup attempts one client transaction under a savepoint and converts
// any failure into durable conflict/rejected outcomes.
func (r *Reconciler) applyGroup(ctx context.Context, tx *sql.Tx, savepoint string, group []QueueRow, resp *ApplyResponse) error {
	if err := storage.Savepoint(ctx, tx, savepoint); err != nil {
		return err
	}

	refsByRow, applyErr := applyActions(ctx, tx, group)
	if applyErr == nil {
		applyErr = markApplied(ctx, tx, group)
	}

	if applyErr == nil {
		if err := storage.ReleaseSavepoint(ctx, tx, savepoint); err != nil {
			return err
		}

		for _, row := range group {
			resp.Applied++
			resp.Results = append(resp.Results, ApplyResult{
				OfflineQueueID: row.ID,
				ClientTxnID:    row.ClientTxnID,
				Status:         StatusApplied,
				ServerRefs:     refsByRow[row.ID],
			})
		}

		return nil
	}

	// The group failed: discard its writes but keep the pass alive.
	if err := storage.RollbackToSavepoint(ctx, tx, savepoint); err != nil {
		return err
	}

	reason := applyErr.Error()
	txnID := group[0].ClientTxnID

	status := StatusRejected
	conflictType := ""

	switch {
	case !ledger.IsBusiness(applyErr):
		// Unexpected runtime failure: needs human review regardless of message.
		status = StatusConflict
		conflictType = ConflictTypeException
	case IsConflict(applyErr):
		status = StatusConflict
		conflictType = ConflictTypeTxn
	}

	details, err := conflictDetails(txnID, reason, group)
	if err != nil {
		return err
	}

	for _, row := range group {
		if _, err := tx.ExecContext(ctx, `
			UPDATE offline_queue SET status = $1, conflict_reason = $2 WHERE id = $3`,
			status, "txn:"+txnID+" | "+reason, row.ID); err != nil {
			return fmt.Errorf("mark offline row %d %s: %w", row.ID, status, err)
		}

		if status == StatusConflict {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO offline_conflicts (offline_queue_id, conflict_type, details, created_at)
				VALUES ($1, $2, $3, $4)`,
				row.ID, conflictType, details, time.Now().UTC()); err != nil {
				return fmt.Errorf("record conflict for offline row %d: %w", row.ID, err)
			}

			resp.Conflicts++
		} else {
			resp.Rejected++
		}

		resp.Results = append(resp.Results, ApplyResult{
			OfflineQueueID: row.ID,
			ClientTxnID:    row.ClientTxnID,
			Status:         status,
			Reason:         reason,
		})
	}

	return nil
}

// applyActions dispatches each row of a group to the ledger with the same
// validation used online. The first failure aborts the group.
func applyActions(ctx context.Context, tx *sql.Tx, group []QueueRow) (map[int64]map[string]any, error) {
	refsByRow := make(map[int64]map[string]any, len(group))

	for _, row := range group {
		refs, err := applyOne(ctx, tx, row)
		if err != nil {
			return nil, err
		}

		if refs != nil {
			refsByRow[row.ID] = refs
		}
	}

	return refsByRow, nil
}

func applyOne(ctx context.Context, tx *sql.Tx, row QueueRow) (map[string]any, error) {
	switch row.ActionType {
	case ActionReceiving:
		var in ledger.ReceivingInput
		if err := json.Unmarshal(row.Payload, &in); err != nil {
			return nil, ledger.Errf(ledger.CodeBadRequest, "malformed receiving payload: %v", err)
		}

		res, err := ledger.Receive(ctx, tx, in, row.SubmittedBy)
		if err != nil {
			return nil, err
		}

		return map[string]any{"lot_id": res.LotID}, nil

	case ActionBreakdown:
		var in ledger.BreakdownInput
		if err := json.Unmarshal(row.Payload, &in); err != nil {
			return nil, ledger.Errf(ledger.CodeBadRequest, "malformed breakdown payload: %v", err)
		}

		res, err := ledger.Breakdown(ctx, tx, in, row.SubmittedBy)
		if err != nil {
			return nil, err
		}

		return map[string]any{"production_order_id": res.ProductionOrderID}, nil

	case ActionSale:
		var in ledger.SaleInput
		if err := json.Unmarshal(row.Payload, &in); err != nil {
			return nil, ledger.Errf(ledger.CodeBadRequest, "malformed sale payload: %v", err)
		}

		res, err := ledger.Sell(ctx, tx, in, row.SubmittedBy)
		if err != nil {
			return nil, err
		}

		return map[string]any{"sale_id": res.SaleID}, nil

	default:
		return nil, ledger.Errf(ledger.CodeBadRequest, "Unknown action_type")
	}
}

func markApplied(ctx context.Context, tx *sql.Tx, group []QueueRow) error {
	now := time.Now().UTC()

	for _, row := range group {
		if _, err := tx.ExecContext(ctx, `
			UPDATE offline_queue
			SET status = 'applied', applied_at = $1, conflict_reason = NULL
			WHERE id = $2`, now, row.ID); err != nil {
			return fmt.Errorf("mark offline row %d applied: %w", row.ID, err)
		}
	}

	return nil
}

// fetchQueuedForUpdate locks the client's queued rows for this pass so
// concurrent apply calls for the same client serialize.
func fetchQueuedForUpdate(ctx context.Context, tx *sql.Tx, clientID string, limit int) ([]QueueRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, client_id, client_txn_id, action_type, payload, created_at, submitted_by, status
		FROM offline_queue
		WHERE client_id = $1 AND status = 'queued'
		ORDER BY created_at ASC, id ASC
		LIMIT $2
		FOR UPDATE`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch queued rows for client %s: %w", clientID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueueRow

	for rows.Next() {
		var row QueueRow

		if err := rows.Scan(&row.ID, &row.ClientID, &row.ClientTxnID, &row.ActionType,
			&row.Payload, &row.CreatedAt, &row.SubmittedBy, &row.Status); err != nil {
			return nil, fmt.Errorf("scan queued row: %w", err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued rows: %w", err)
	}

	return out, nil
}

// groupByClientTxn groups contiguous rows sharing a client_txn_id, preserving
// submit order.
func groupByClientTxn(rows []QueueRow) [][]QueueRow {
	var groups [][]QueueRow

	for _, row := range rows {
		n := len(groups)
		if n > 0 && groups[n-1][0].ClientTxnID == row.ClientTxnID {
			groups[n-1] = append(groups[n-1], row)

			continue
		}

		groups = append(groups, []QueueRow{row})
	}

	return groups
}

func conflictDetails(txnID, reason string, group []QueueRow) ([]byte, error) {
	actions := make([]map[string]any, 0, len(group))
	for _, row := range group {
		actions = append(actions, map[string]any{
			"offline_queue_id": row.ID,
			"action_type":      row.ActionType,
			"payload":          row.Payload,
		})
	}

	details, err := json.Marshal(map[string]any{
		"client_txn_id":      txnID,
		"reason":             reason,
		"failed_action_type": group[0].ActionType,
		"actions_in_txn":     actions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal conflict details: %w", err)
	}

	return details, nil
}
