// Package offline implements the store-and-forward reconciler: field devices
// batch actions while disconnected, submit them for durable queueing, and a
// later apply pass replays each client transaction against the live ledger
// under the same validation used online.
package offline

import (
	"encoding/json"
	"time"
)

// Queue row statuses.
const (
	StatusQueued    = "queued"
	StatusApplied   = "applied"
	StatusConflict  = "conflict"
	StatusRejected  = "rejected"
	StatusDuplicate = "duplicate"
)

// Supported action types. Payloads are the online command shapes.
const (
	ActionReceiving = "receiving"
	ActionBreakdown = "breakdown"
	ActionSale      = "sale"
)

// Conflict record types.
const (
	ConflictTypeTxn       = "txn_conflict"
	ConflictTypeException = "txn_exception"
)

type (
	// Action is one client-recorded operation inside a submit batch. Actions
	// sharing a client_txn_id form one client transaction: they apply or fail
	// together.
	Action struct {
		ClientTxnID string          `json:"client_txn_id"`
		ActionType  string          `json:"action_type"`
		Payload     json.RawMessage `json:"payload"`
	}

	// SubmitRequest is a batch of actions from one device.
	SubmitRequest struct {
		ClientID    string   `json:"client_id"`
		SubmittedBy int      `json:"submitted_by"`
		Actions     []Action `json:"actions"`
	}

	// SubmitResult reports the queueing outcome for one action. Replays of an
	// already-queued (client_id, client_txn_id) pair come back as duplicate.
	SubmitResult struct {
		ClientTxnID    string `json:"client_txn_id"`
		Status         string `json:"status"`
		OfflineQueueID *int64 `json:"offline_queue_id,omitempty"`
	}

	// ApplyResult reports the outcome of one queue row during an apply pass.
	ApplyResult struct {
		OfflineQueueID int64          `json:"offline_queue_id"`
		ClientTxnID    string         `json:"client_txn_id"`
		Status         string         `json:"status"`
		ServerRefs     map[string]any `json:"server_refs,omitempty"`
		Reason         string         `json:"reason,omitempty"`
	}

	// ApplyResponse summarizes one apply pass for a client.
	ApplyResponse struct {
		Applied   int           `json:"applied"`
		Conflicts int           `json:"conflicts"`
		Rejected  int           `json:"rejected"`
		Results   []ApplyResult `json:"results"`
	}

	// QueueRow mirrors an offline_queue row for listings and apply.
	QueueRow struct {
		ID             int64           `json:"id"`
		ClientID       string          `json:"client_id"`
		ClientTxnID    string          `json:"client_txn_id"`
		ActionType     string          `json:"action_type"`
		Payload        json.RawMessage `json:"payload"`
		CreatedAt      time.Time       `json:"created_at"`
		SubmittedBy    int             `json:"submitted_by"`
		Status         string          `json:"status"`
		AppliedAt      *time.Time      `json:"applied_at,omitempty"`
		ConflictReason *string         `json:"conflict_reason,omitempty"`
	}
)
