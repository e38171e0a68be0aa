package offline

import (
	"context"
	"fmt"
)

// ListQueue returns queue rows in the given status, newest first, for
// supervisor review.
func (r *Reconciler) ListQueue(ctx context.Context, status string, limit int) ([]QueueRow, error) {
	if status == "" {
		status = StatusConflict
	}

	if limit <= 0 || limit > 200 {
		limit = 200
	}

	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, client_id, client_txn_id, action_type, payload, created_at,
		       submitted_by, status, applied_at, conflict_reason
		FROM offline_queue
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list offline queue (%s): %w", status, err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueueRow

	for rows.Next() {
		var row QueueRow

		if err := rows.Scan(&row.ID, &row.ClientID, &row.ClientTxnID, &row.ActionType,
			&row.Payload, &row.CreatedAt, &row.SubmittedBy, &row.Status,
			&row.AppliedAt, &row.ConflictReason); err != nil {
			return nil, fmt.Errorf("scan offline queue row: %w", err)
		}

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offline queue rows: %w", err)
	}

	return out, nil
}

// QueuedClientIDs returns the distinct client ids with queued work, oldest
// backlog first. The sync worker feeds these into Apply.
func (r *Reconciler) QueuedClientIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.QueryContext(ctx, `
		SELECT client_id
		FROM offline_queue
		WHERE status = 'queued'
		GROUP BY client_id
		ORDER BY MIN(created_at) ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued client ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string

	for rows.Next() {
		var id string

		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan client id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client ids: %w", err)
	}

	return ids, nil
}
