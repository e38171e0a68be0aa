package offline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lotline-io/lotline/internal/config"
	"github.com/lotline-io/lotline/internal/ledger"
	"github.com/lotline-io/lotline/internal/storage"
)

// Reconciler is the offline sync surface: durable submit, transactional
// apply, conflict listing and resolution.
type Reconciler struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// New creates a Reconciler bound to the given connection.
func New(conn *storage.Connection) *Reconciler {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	})).With(slog.String("component", "offline"))

	return &Reconciler{conn: conn, logger: logger}
}

// Submit durably enqueues a client batch. Each action is inserted on its own
// so a duplicate (client_id, client_txn_id) pair — a device resending after a
// lost ack — is absorbed by the unique constraint and reported as duplicate
// without failing the rest of the batch.
func (r *Reconciler) Submit(ctx context.Context, req SubmitRequest) ([]SubmitResult, error) {
	if req.ClientID == "" {
		return nil, ledger.Errf(ledger.CodeBadRequest, "client_id is required")
	}

	if len(req.Actions) == 0 {
		return nil, ledger.Errf(ledger.CodeBadRequest, "actions must not be empty")
	}

	results := make([]SubmitResult, 0, len(req.Actions))

	// action_seq is the action's position within its client transaction, so a
	// resent batch collides per action instead of per transaction.
	seqByTxn := make(map[string]int)

	for _, action := range req.Actions {
		if len(action.ClientTxnID) < 3 {
			return nil, ledger.Errf(ledger.CodeBadRequest, "client_txn_id must be at least 3 characters")
		}

		seq := seqByTxn[action.ClientTxnID]
		seqByTxn[action.ClientTxnID] = seq + 1

		var queueID int64

		err := r.conn.QueryRowContext(ctx, `
			INSERT INTO offline_queue (client_id, client_txn_id, action_seq, action_type, payload, created_at, submitted_by, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'queued')
			RETURNING id`,
			req.ClientID, action.ClientTxnID, seq, action.ActionType, []byte(action.Payload),
			time.Now().UTC(), req.SubmittedBy,
		).Scan(&queueID)

		switch {
		case err == nil:
			results = append(results, SubmitResult{
				ClientTxnID:    action.ClientTxnID,
				Status:         StatusQueued,
				OfflineQueueID: &queueID,
			})
		case storage.IsUniqueViolation(err, "uq_offline_client_txn"):
			results = append(results, SubmitResult{
				ClientTxnID: action.ClientTxnID,
				Status:      StatusDuplicate,
			})
		default:
			return nil, fmt.Errorf("enqueue offline action %s: %w", action.ClientTxnID, err)
		}
	}

	r.logger.InfoContext(ctx, "Offline batch submitted",
		slog.String("client_id", req.ClientID),
		slog.Int("actions", len(req.Actions)))

	return results, nil
}
