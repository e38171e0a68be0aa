package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lotline-io/lotline/internal/ledger"
	"github.com/lotline-io/lotline/internal/storage"
)

// ResolveInput moves one conflict row to rejected after supervisor review.
// No automatic retry exists on purpose: diverged inventory needs a human.
type ResolveInput struct {
	OfflineQueueID int64  `json:"offline_queue_id"`
	ResolvedBy     int    `json:"resolved_by"`
	Reason         string `json:"reason"`
}

// Resolve marks a conflict row rejected and stamps its conflict records with
// the resolver's identity.
func (r *Reconciler) Resolve(ctx context.Context, in ResolveInput) error {
	reason := strings.TrimSpace(in.Reason)
	if len(reason) < 2 {
		return ledger.Errf(ledger.CodeBadRequest, "Reason is required to resolve a conflict")
	}

	err := storage.WithinTx(ctx, r.conn, func(tx *sql.Tx) error {
		var status string

		err := tx.QueryRowContext(ctx,
			`SELECT status FROM offline_queue WHERE id = $1 FOR UPDATE`,
			in.OfflineQueueID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Errf(ledger.CodeNotFound, "offline_queue_id not found")
		}

		if err != nil {
			return fmt.Errorf("load offline row %d: %w", in.OfflineQueueID, err)
		}

		if status != StatusConflict {
			return ledger.Errf(ledger.CodeBadRequest, "Only conflict items can be resolved")
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE offline_queue SET status = 'rejected', conflict_reason = $1 WHERE id = $2`,
			"Resolved: "+reason, in.OfflineQueueID); err != nil {
			return fmt.Errorf("resolve offline row %d: %w", in.OfflineQueueID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE offline_conflicts
			SET resolved_by = $1, resolved_at = $2, resolution = 'rejected'
			WHERE offline_queue_id = $3`,
			in.ResolvedBy, time.Now().UTC(), in.OfflineQueueID); err != nil {
			return fmt.Errorf("stamp conflicts for offline row %d: %w", in.OfflineQueueID, err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Conflict resolved",
		slog.Int64("offline_queue_id", in.OfflineQueueID),
		slog.Int("resolved_by", in.ResolvedBy))

	return nil
}
